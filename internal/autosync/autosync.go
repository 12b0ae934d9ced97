// Package autosync keeps the engine's mirrored state fresh in the background.
//
// The daemon:
// 1. Watches the active repository's .git metadata and top-level files
// 2. Debounces changes into status, branch and current-branch refreshes
// 3. Periodically refreshes the status and, when enabled, fetches
// 4. Periodically sweeps expired cache entries
// 5. Re-targets the watcher when another repository is loaded
package autosync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/gitdeck/gitdeck/internal/config"
	"github.com/gitdeck/gitdeck/internal/engine"
)

// Engine is the subset of the sync engine the daemon drives.
type Engine interface {
	Snapshot() engine.State
	Settings() config.Settings
	RefreshStatus(ctx context.Context) error
	RefreshBranches(ctx context.Context) error
	RefreshCurrentBranch(ctx context.Context)
	Fetch(ctx context.Context, remote string) error
}

// Sweeper drops expired cache entries every interval until ctx is done.
// *cache.Cache implements it.
type Sweeper interface {
	Run(ctx context.Context, interval time.Duration)
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a change must settle before it is processed
	DebounceInterval time.Duration

	// SweepInterval is how often expired cache entries are dropped
	SweepInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 300 * time.Millisecond,
		SweepInterval:    5 * time.Minute,
		Logger:           log.New(os.Stderr, "[autosync] ", log.LstdFlags),
	}
}

// Daemon runs the background refresh loops.
type Daemon struct {
	engine  Engine
	sweeper Sweeper
	config  *Config
	now     func() time.Time

	watcher   *Watcher
	target    string
	pending   map[Kind]time.Time
	pendingMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a daemon driving eng. sweeper may be nil.
func New(eng Engine, sweeper Sweeper, config *Config) (*Daemon, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	d := DefaultConfig()
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = d.DebounceInterval
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = d.SweepInterval
	}
	if config.Logger == nil {
		config.Logger = d.Logger
	}

	return &Daemon{
		engine:  eng,
		sweeper: sweeper,
		config:  config,
		now:     time.Now,
		pending: make(map[Kind]time.Time),
	}, nil
}

// Run starts the watcher and the periodic loops and blocks until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	w, err := NewWatcher()
	if err != nil {
		return err
	}
	d.watcher = w
	d.config.Logger.Println("Starting auto-sync")

	d.retarget()

	d.wg.Add(4)
	go d.watchEvents(ctx)
	go d.processQueue(ctx)
	go d.refreshLoop(ctx)
	go d.sweepLoop(ctx)

	<-ctx.Done()
	d.config.Logger.Println("Shutdown signal received")

	if err := w.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Println("Auto-sync stopped")
	return nil
}

// activePath returns the path of the repository loaded in the engine
func (d *Daemon) activePath() string {
	s := d.engine.Snapshot()
	if s.Active == nil {
		return ""
	}
	return s.Active.Path
}

// retarget points the watcher at the active repository if it changed
func (d *Daemon) retarget() {
	path := d.activePath()
	if path == d.target {
		return
	}
	d.target = path
	if err := d.watcher.Watch(path); err != nil {
		d.config.Logger.Printf("Cannot watch %s: %v", path, err)
		return
	}
	if path != "" {
		d.config.Logger.Printf("Watching: %s", path)
	}

	d.pendingMu.Lock()
	clear(d.pending)
	d.pendingMu.Unlock()
}

func (d *Daemon) watchEvents(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.queue(ev.Kind)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queue records a change; repeated changes push the deadline back
func (d *Daemon) queue(k Kind) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pending[k] = d.now()
}

func (d *Daemon) processQueue(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.retarget()
			d.processPending(ctx)
		}
	}
}

// due removes and returns the kinds that have settled
func (d *Daemon) due() map[Kind]bool {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	now := d.now()
	out := make(map[Kind]bool)
	for k, at := range d.pending {
		if now.Sub(at) < d.config.DebounceInterval {
			continue
		}
		out[k] = true
		delete(d.pending, k)
	}
	return out
}

// processPending runs the refreshes the settled changes call for
func (d *Daemon) processPending(ctx context.Context) {
	kinds := d.due()
	if len(kinds) == 0 {
		return
	}

	if kinds[KindHead] {
		d.engine.RefreshCurrentBranch(ctx)
	}
	if kinds[KindHead] || kinds[KindRefs] {
		if err := d.engine.RefreshBranches(ctx); err != nil {
			d.config.Logger.Printf("Error refreshing branches: %v", err)
		}
	}
	if kinds[KindWorktree] || kinds[KindIndex] || kinds[KindHead] {
		if err := d.engine.RefreshStatus(ctx); err != nil {
			d.config.Logger.Printf("Error refreshing status: %v", err)
		}
	}
}

// refreshLoop refreshes the status and fetches on the intervals from the
// engine's settings. Intervals are re-read on every tick.
func (d *Daemon) refreshLoop(ctx context.Context) {
	defer d.wg.Done()

	lastRefresh := d.now()
	lastFetch := lastRefresh

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.activePath() == "" {
				continue
			}
			s := d.engine.Settings()
			now := d.now()

			if s.Sync.AutoRefresh && now.Sub(lastRefresh) >= s.AutoRefreshInterval() {
				lastRefresh = now
				if err := d.engine.RefreshStatus(ctx); err != nil {
					d.config.Logger.Printf("Error refreshing status: %v", err)
				}
			}

			if s.GitBehavior.AutoFetch && now.Sub(lastFetch) >= s.AutoFetchInterval() {
				lastFetch = now
				d.config.Logger.Println("Auto-fetching")
				if err := d.engine.Fetch(ctx, ""); err != nil {
					d.config.Logger.Printf("Error fetching: %v", err)
				}
			}
		}
	}
}

func (d *Daemon) sweepLoop(ctx context.Context) {
	defer d.wg.Done()
	if d.sweeper == nil {
		return
	}
	d.sweeper.Run(ctx, d.config.SweepInterval)
}
