package gateway

import (
	"context"
	"time"

	"github.com/gitdeck/gitdeck/internal/vcs"
)

// transfer describes how a network operation is measured
type transfer struct {
	op     string
	upload bool
	// estimate is the assumed size in bytes when the backend reports none
	estimate int64
}

var (
	fetchTransfer = transfer{op: "fetch", estimate: 100 * 1024}
	pullTransfer  = transfer{op: "pull", estimate: 300 * 1024}
	pushTransfer  = transfer{op: "push", upload: true, estimate: 100 * 1024}
)

// Fetch downloads objects and refs from a remote
func (g *Gateway) Fetch(ctx context.Context, path string, opts vcs.FetchOptions) (Result[vcs.TransferStats], error) {
	return g.transfer(ctx, fetchTransfer, path, func(ctx context.Context, b vcs.Backend) (vcs.TransferStats, error) {
		return b.Fetch(ctx, opts)
	})
}

// Pull fetches and integrates a remote branch into the current branch
func (g *Gateway) Pull(ctx context.Context, path string, opts vcs.PullOptions) (Result[vcs.TransferStats], error) {
	return g.transfer(ctx, pullTransfer, path, func(ctx context.Context, b vcs.Backend) (vcs.TransferStats, error) {
		return b.Pull(ctx, opts)
	})
}

// Push uploads the current branch to a remote
func (g *Gateway) Push(ctx context.Context, path string, opts vcs.PushOptions) (Result[vcs.TransferStats], error) {
	return g.transfer(ctx, pushTransfer, path, func(ctx context.Context, b vcs.Backend) (vcs.TransferStats, error) {
		return b.Push(ctx, opts)
	})
}

// transfer runs a network operation and records its speed and latency on
// the metrics sink. The result is returned unchanged whether or not the
// operation succeeded.
func (g *Gateway) transfer(ctx context.Context, t transfer, path string, fn func(context.Context, vcs.Backend) (vcs.TransferStats, error)) (Result[vcs.TransferStats], error) {
	return call(ctx, g, t.op, path, g.networkTimeout, func(ctx context.Context, b vcs.Backend) (vcs.TransferStats, error) {
		g.startTransfer(t)
		start := g.now()

		stats, err := fn(ctx, b)

		g.finishTransfer(t, g.now().Sub(start), stats.Bytes, err)
		return stats, err
	})
}

func (g *Gateway) startTransfer(t transfer) {
	if g.metrics == nil {
		return
	}
	if t.upload {
		g.metrics.StartUpload(t.op, t.estimate)
	} else {
		g.metrics.StartDownload(t.op, t.estimate)
	}
}

func (g *Gateway) finishTransfer(t transfer, elapsed time.Duration, measured int64, err error) {
	size := measured
	if size <= 0 {
		size = t.estimate
	}

	var speed float64
	if elapsed > 0 {
		speed = float64(size) / 1024 / elapsed.Seconds()
	}
	latency := float64(elapsed) / float64(time.Millisecond)

	if err != nil {
		g.logger.Printf("%s failed after %.0fms: %v", t.op, latency, err)
	} else {
		g.logger.Printf("%s: %d bytes in %.0fms (%.1f KB/s)", t.op, size, latency, speed)
	}

	g.prom.observeTransfer(t.upload, speed)

	if g.metrics == nil {
		return
	}
	if elapsed > 0 {
		if t.upload {
			g.metrics.SetUploadSpeed(speed)
		} else {
			g.metrics.SetDownloadSpeed(speed)
		}
	}
	g.metrics.SetLatency(latency)
	g.metrics.Finish()
}
