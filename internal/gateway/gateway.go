// Package gateway turns each logical repository operation into one backend
// request and reports the outcome in a uniform Result.
//
// Backend failures are returned inside the Result. The Go error of every
// method is reserved for transport failures (no backend transport, missing
// or unsupported git binary), which fail before any request is issued:
//
//	res, err := gw.Status(ctx, repo.Path)
//	if err != nil {
//	    return err // transport unavailable
//	}
//	if !res.Success {
//	    log.Printf("status failed: %s", res.Error)
//	}
//
// The gateway never retries.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gitdeck/gitdeck/internal/netmetrics"
	"github.com/gitdeck/gitdeck/internal/vcs"
)

// Result is the uniform outcome of a backend operation
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`

	// Retryable marks a failure that may succeed when attempted again
	Retryable bool `json:"retryable,omitempty"`
}

// OK wraps a successful value
func OK[T any](v T) Result[T] {
	return Result[T]{Success: true, Data: v}
}

// Fail wraps a backend failure
func Fail[T any](err error) Result[T] {
	return Result[T]{Error: err.Error(), Retryable: vcs.IsRetryable(err)}
}

// Err returns the failure as an error, or nil on success
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return errors.New("unknown backend error")
	}
	return errors.New(r.Error)
}

// Transport opens repositories and runs repository-less operations.
// *vcs.Factory implements it.
type Transport interface {
	Open(path string) (vcs.Backend, error)
	Clone(ctx context.Context, opts vcs.CloneOptions) error
	Init(ctx context.Context, path string, opts vcs.InitOptions) error
}

// Default timeouts
const (
	DefaultCallTimeout    = 30 * time.Second
	DefaultNetworkTimeout = 5 * time.Minute
)

// Gateway issues backend requests
type Gateway struct {
	transport      Transport
	metrics        netmetrics.Sink
	prom           *promMetrics
	logger         *log.Logger
	now            func() time.Time
	callTimeout    time.Duration
	networkTimeout time.Duration
}

// Option configures a Gateway
type Option func(*Gateway)

// WithMetricsSink sets where transfer speed and latency are recorded
func WithMetricsSink(s netmetrics.Sink) Option {
	return func(g *Gateway) { g.metrics = s }
}

// WithRegisterer registers the Prometheus collectors on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(g *Gateway) { g.prom = newPromMetrics(reg) }
}

// WithLogger sets the logger
func WithLogger(l *log.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock replaces time.Now for transfer timing
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithCallTimeout bounds local operations. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.callTimeout = d }
}

// WithNetworkTimeout bounds fetch, pull, push and clone. Zero disables the bound.
func WithNetworkTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.networkTimeout = d }
}

// New creates a Gateway over transport. A nil transport makes every
// repository operation fail with vcs.ErrTransportUnavailable.
func New(transport Transport, opts ...Option) *Gateway {
	g := &Gateway{
		transport:      transport,
		logger:         log.New(os.Stderr, "[gateway] ", log.LstdFlags),
		now:            time.Now,
		callTimeout:    DefaultCallTimeout,
		networkTimeout: DefaultNetworkTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.prom == nil {
		g.prom = newPromMetrics(nil)
	}
	return g
}

// call opens the repository at path and runs fn against it with the given
// timeout. It is the single path every repository operation goes through.
func call[T any](ctx context.Context, g *Gateway, op, path string, timeout time.Duration, fn func(context.Context, vcs.Backend) (T, error)) (Result[T], error) {
	if g.transport == nil {
		g.prom.observe(op, outcomeUnavailable, 0)
		return Result[T]{}, fmt.Errorf("%s: %w", op, vcs.ErrTransportUnavailable)
	}

	b, err := g.transport.Open(path)
	if err != nil {
		if errors.Is(err, vcs.ErrTransportUnavailable) {
			g.prom.observe(op, outcomeUnavailable, 0)
			return Result[T]{}, fmt.Errorf("%s: %w", op, err)
		}
		g.prom.observe(op, outcomeFailure, 0)
		return Fail[T](err), nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := fn(ctx, b)
	elapsed := time.Since(start)
	if err != nil {
		g.prom.observe(op, outcomeFailure, elapsed)
		return Fail[T](err), nil
	}
	g.prom.observe(op, outcomeSuccess, elapsed)
	return OK(data), nil
}

// noData adapts an operation without a payload
func noData(fn func(context.Context, vcs.Backend) error) func(context.Context, vcs.Backend) (struct{}, error) {
	return func(ctx context.Context, b vcs.Backend) (struct{}, error) {
		return struct{}{}, fn(ctx, b)
	}
}

// ===================
// Repository
// ===================

// Open checks that path is an openable repository and returns its root
func (g *Gateway) Open(ctx context.Context, path string) (Result[string], error) {
	return call(ctx, g, "open", path, g.callTimeout, func(_ context.Context, b vcs.Backend) (string, error) {
		return b.Root(), nil
	})
}

// Clone clones a remote repository
func (g *Gateway) Clone(ctx context.Context, opts vcs.CloneOptions) (Result[string], error) {
	if g.transport == nil {
		return Result[string]{}, fmt.Errorf("clone: %w", vcs.ErrTransportUnavailable)
	}
	if g.networkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.networkTimeout)
		defer cancel()
	}
	if err := g.transport.Clone(ctx, opts); err != nil {
		if errors.Is(err, vcs.ErrTransportUnavailable) {
			return Result[string]{}, err
		}
		return Fail[string](err), nil
	}
	return OK(opts.Path), nil
}

// Init creates a new repository at path
func (g *Gateway) Init(ctx context.Context, path string, opts vcs.InitOptions) (Result[string], error) {
	if g.transport == nil {
		return Result[string]{}, fmt.Errorf("init: %w", vcs.ErrTransportUnavailable)
	}
	if err := g.transport.Init(ctx, path, opts); err != nil {
		if errors.Is(err, vcs.ErrTransportUnavailable) {
			return Result[string]{}, err
		}
		return Fail[string](err), nil
	}
	return OK(path), nil
}

// DetectProjectType reports the project ecosystem of dir. It does not
// need a backend.
func (g *Gateway) DetectProjectType(dir string) Result[vcs.ProjectType] {
	if _, err := os.Stat(dir); err != nil {
		return Fail[vcs.ProjectType](err)
	}
	return OK(vcs.DetectProjectType(dir))
}

// ===================
// Working Tree
// ===================

func (g *Gateway) Status(ctx context.Context, path string) (Result[[]vcs.FileChange], error) {
	return call(ctx, g, "status", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) ([]vcs.FileChange, error) {
		return b.Status(ctx)
	})
}

func (g *Gateway) Stage(ctx context.Context, path, file string) (Result[struct{}], error) {
	return call(ctx, g, "stage", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.Stage(ctx, file)
	}))
}

func (g *Gateway) Unstage(ctx context.Context, path, file string) (Result[struct{}], error) {
	return call(ctx, g, "unstage", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.Unstage(ctx, file)
	}))
}

func (g *Gateway) Discard(ctx context.Context, path, file string) (Result[struct{}], error) {
	return call(ctx, g, "discard", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.Discard(ctx, file)
	}))
}

// FileDiff returns the unified diff of file, of the index when staged
func (g *Gateway) FileDiff(ctx context.Context, path, file string, staged bool) (Result[string], error) {
	return call(ctx, g, "diff", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) (string, error) {
		return b.Diff(ctx, file, staged)
	})
}

// ===================
// History
// ===================

// Commit records the index and returns the new commit hash
func (g *Gateway) Commit(ctx context.Context, path, message string) (Result[string], error) {
	return call(ctx, g, "commit", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) (string, error) {
		return b.Commit(ctx, message)
	})
}

// Commits returns up to maxCount commits starting offset commits back from HEAD
func (g *Gateway) Commits(ctx context.Context, path string, maxCount, offset int) (Result[[]vcs.Commit], error) {
	return call(ctx, g, "commits", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) ([]vcs.Commit, error) {
		return b.Log(ctx, maxCount, offset)
	})
}

func (g *Gateway) Blame(ctx context.Context, path, file string) (Result[[]vcs.BlameLine], error) {
	return call(ctx, g, "blame", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) ([]vcs.BlameLine, error) {
		return b.Blame(ctx, file)
	})
}

func (g *Gateway) CherryPick(ctx context.Context, path, hash string) (Result[struct{}], error) {
	return call(ctx, g, "cherry_pick", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.CherryPick(ctx, hash)
	}))
}

// CherryPickBatch applies hashes in order and stops at the first failure.
// The data lists the hashes applied before the failure.
func (g *Gateway) CherryPickBatch(ctx context.Context, path string, hashes []string) (Result[[]string], error) {
	applied := make([]string, 0, len(hashes))
	res, err := call(ctx, g, "cherry_pick_batch", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) ([]string, error) {
		for _, h := range hashes {
			if err := b.CherryPick(ctx, h); err != nil {
				return applied, fmt.Errorf("cherry-pick %s: %w", h, err)
			}
			applied = append(applied, h)
		}
		return applied, nil
	})
	if err == nil && !res.Success {
		res.Data = applied
	}
	return res, err
}

// ===================
// Branches
// ===================

func (g *Gateway) Branches(ctx context.Context, path string) (Result[[]vcs.Branch], error) {
	return call(ctx, g, "branches", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) ([]vcs.Branch, error) {
		return b.Branches(ctx)
	})
}

func (g *Gateway) CurrentBranch(ctx context.Context, path string) (Result[string], error) {
	return call(ctx, g, "current_branch", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) (string, error) {
		return b.CurrentBranch(ctx)
	})
}

func (g *Gateway) CreateBranch(ctx context.Context, path, name, base string) (Result[struct{}], error) {
	return call(ctx, g, "create_branch", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.CreateBranch(ctx, name, base)
	}))
}

func (g *Gateway) DeleteBranch(ctx context.Context, path, name string, force bool) (Result[struct{}], error) {
	return call(ctx, g, "delete_branch", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.DeleteBranch(ctx, name, force)
	}))
}

func (g *Gateway) CheckoutBranch(ctx context.Context, path, name string) (Result[struct{}], error) {
	return call(ctx, g, "checkout", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.Checkout(ctx, name)
	}))
}

// Merge merges branch into the current branch
func (g *Gateway) Merge(ctx context.Context, path, branch string) (Result[string], error) {
	return call(ctx, g, "merge", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) (string, error) {
		return b.Merge(ctx, branch)
	})
}

// ===================
// Remotes
// ===================

func (g *Gateway) Remotes(ctx context.Context, path string) (Result[[]vcs.Remote], error) {
	return call(ctx, g, "remotes", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) ([]vcs.Remote, error) {
		return b.Remotes(ctx)
	})
}

func (g *Gateway) AddRemote(ctx context.Context, path, name, url string) (Result[struct{}], error) {
	return call(ctx, g, "add_remote", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.AddRemote(ctx, name, url)
	}))
}

func (g *Gateway) RemoveRemote(ctx context.Context, path, name string) (Result[struct{}], error) {
	return call(ctx, g, "remove_remote", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.RemoveRemote(ctx, name)
	}))
}

// ===================
// Conflicts
// ===================

func (g *Gateway) Conflicts(ctx context.Context, path string) (Result[[]vcs.Conflict], error) {
	return call(ctx, g, "conflicts", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) ([]vcs.Conflict, error) {
		return b.Conflicts(ctx)
	})
}

func (g *Gateway) ResolveConflict(ctx context.Context, path, file string, resolution vcs.Resolution, content string) (Result[struct{}], error) {
	return call(ctx, g, "resolve_conflict", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.ResolveConflict(ctx, file, resolution, content)
	}))
}

func (g *Gateway) AbortMerge(ctx context.Context, path string) (Result[struct{}], error) {
	return call(ctx, g, "abort_merge", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.AbortMerge(ctx)
	}))
}

// ===================
// Stash & Tags
// ===================

func (g *Gateway) StashSave(ctx context.Context, path, message string) (Result[struct{}], error) {
	return call(ctx, g, "stash_save", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.StashSave(ctx, message)
	}))
}

func (g *Gateway) StashList(ctx context.Context, path string) (Result[[]vcs.Stash], error) {
	return call(ctx, g, "stash_list", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) ([]vcs.Stash, error) {
		return b.Stashes(ctx)
	})
}

func (g *Gateway) StashPop(ctx context.Context, path string, index int) (Result[struct{}], error) {
	return call(ctx, g, "stash_pop", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.StashPop(ctx, index)
	}))
}

func (g *Gateway) StashDrop(ctx context.Context, path string, index int) (Result[struct{}], error) {
	return call(ctx, g, "stash_drop", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.StashDrop(ctx, index)
	}))
}

func (g *Gateway) Tags(ctx context.Context, path string) (Result[[]vcs.Tag], error) {
	return call(ctx, g, "tags", path, g.callTimeout, func(ctx context.Context, b vcs.Backend) ([]vcs.Tag, error) {
		return b.Tags(ctx)
	})
}

func (g *Gateway) CreateTag(ctx context.Context, path, name, message string) (Result[struct{}], error) {
	return call(ctx, g, "create_tag", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.CreateTag(ctx, name, message)
	}))
}

func (g *Gateway) DeleteTag(ctx context.Context, path, name string) (Result[struct{}], error) {
	return call(ctx, g, "delete_tag", path, g.callTimeout, noData(func(ctx context.Context, b vcs.Backend) error {
		return b.DeleteTag(ctx, name)
	}))
}
