// Package engine keeps a local mirror of the active repository's state in
// sync with the backend.
//
// The Engine owns one State: the active repository, its branches, file
// changes, commits and conflicts. Every operation issues one or more
// gateway requests and writes the results into the State. Independent
// refreshes run concurrently and the composite operation waits for all of
// them before reporting the first error. Results already applied are not
// rolled back.
//
// Switching repositories starts a new session. Refresh results carry the
// session they were issued for and are dropped if another repository was
// loaded in the meantime.
//
// Commit history is the only cached read. Every operation that can move
// history invalidates the active repository's cache entries first.
package engine

import (
	"context"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/gitdeck/gitdeck/internal/config"
	"github.com/gitdeck/gitdeck/internal/gateway"
	"github.com/gitdeck/gitdeck/internal/types"
	"github.com/gitdeck/gitdeck/internal/vcs"
)

// DefaultPageSize is the number of commits loaded by a full refresh
const DefaultPageSize = 50

// Gateway is the set of backend operations the engine issues
type Gateway interface {
	Status(ctx context.Context, path string) (gateway.Result[[]vcs.FileChange], error)
	Stage(ctx context.Context, path, file string) (gateway.Result[struct{}], error)
	Unstage(ctx context.Context, path, file string) (gateway.Result[struct{}], error)
	Discard(ctx context.Context, path, file string) (gateway.Result[struct{}], error)
	Commit(ctx context.Context, path, message string) (gateway.Result[string], error)
	Commits(ctx context.Context, path string, maxCount, offset int) (gateway.Result[[]vcs.Commit], error)
	Branches(ctx context.Context, path string) (gateway.Result[[]vcs.Branch], error)
	CurrentBranch(ctx context.Context, path string) (gateway.Result[string], error)
	CreateBranch(ctx context.Context, path, name, base string) (gateway.Result[struct{}], error)
	DeleteBranch(ctx context.Context, path, name string, force bool) (gateway.Result[struct{}], error)
	CheckoutBranch(ctx context.Context, path, name string) (gateway.Result[struct{}], error)
	Fetch(ctx context.Context, path string, opts vcs.FetchOptions) (gateway.Result[vcs.TransferStats], error)
	Pull(ctx context.Context, path string, opts vcs.PullOptions) (gateway.Result[vcs.TransferStats], error)
	Push(ctx context.Context, path string, opts vcs.PushOptions) (gateway.Result[vcs.TransferStats], error)
	Merge(ctx context.Context, path, branch string) (gateway.Result[string], error)
	CherryPickBatch(ctx context.Context, path string, hashes []string) (gateway.Result[[]string], error)
	Conflicts(ctx context.Context, path string) (gateway.Result[[]vcs.Conflict], error)
	ResolveConflict(ctx context.Context, path, file string, resolution vcs.Resolution, content string) (gateway.Result[struct{}], error)
	AbortMerge(ctx context.Context, path string) (gateway.Result[struct{}], error)
	StashSave(ctx context.Context, path, message string) (gateway.Result[struct{}], error)
	StashPop(ctx context.Context, path string, index int) (gateway.Result[struct{}], error)
}

// CommitCache stores commit pages. *cache.Cache[[]vcs.Commit] implements it.
type CommitCache interface {
	Get(key string) ([]vcs.Commit, bool)
	SetWithTTL(key string, value []vcs.Commit, ttl time.Duration)
	InvalidatePattern(re *regexp.Regexp) int
	Clear()
}

// RepositoryStore persists the repository list
type RepositoryStore interface {
	LoadRepositories(ctx context.Context) ([]*types.Repository, error)
	SaveRepositories(ctx context.Context, repos []*types.Repository) error
}

// Phase is the coarse state of the mirror
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseError   Phase = "error"
)

// State is the mirrored state of the active repository
type State struct {
	Active        *types.Repository `json:"active,omitempty"`
	CurrentBranch string            `json:"currentBranch"`
	Branches      []vcs.Branch      `json:"branches"`
	FileChanges   []vcs.FileChange  `json:"fileChanges"`
	Commits       []vcs.Commit      `json:"commits"`
	Conflicts     []vcs.Conflict    `json:"conflicts"`
	HasConflicts  bool              `json:"hasConflicts"`
	Loading       bool              `json:"loading"`
	Error         string            `json:"error,omitempty"`
	Phase         Phase             `json:"phase"`
	Session       uint64            `json:"session"`
}

// clone returns a deep copy
func (s *State) clone() State {
	c := *s
	c.Active = s.Active.Clone()
	c.Branches = cloneSlice(s.Branches)
	c.FileChanges = cloneSlice(s.FileChanges)
	c.Commits = cloneSlice(s.Commits)
	c.Conflicts = cloneSlice(s.Conflicts)
	return c
}

// cloneSlice copies s, keeping an empty slice distinct from nil
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// Engine synchronizes State with the backend
type Engine struct {
	gw     Gateway
	cache  CommitCache
	store  RepositoryStore
	logger *log.Logger

	// reposMu serializes edits of the repository list across the save
	reposMu sync.Mutex

	mu        sync.Mutex
	state     State
	settings  config.Settings
	repos     []*types.Repository
	listeners []func(State)
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSettings sets the initial settings
func WithSettings(s config.Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// New creates an idle Engine
func New(gw Gateway, cache CommitCache, store RepositoryStore, opts ...Option) *Engine {
	e := &Engine{
		gw:       gw,
		cache:    cache,
		store:    store,
		logger:   log.New(os.Stderr, "[engine] ", log.LstdFlags),
		settings: config.DefaultSettings(),
		state:    State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetSettings replaces the settings used by later operations
func (e *Engine) SetSettings(s config.Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
}

// Settings returns the current settings
func (e *Engine) Settings() config.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Snapshot returns a deep copy of the current state
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// OnChange registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that changed the state and must not block.
func (e *Engine) OnChange(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// ClearCache drops every cached commit page
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// ===================
// Session plumbing
// ===================

// target is the repository an operation runs against
type target struct {
	path    string
	session uint64
}

// current returns the active repository target
func (e *Engine) current() (target, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Active == nil {
		return target{}, ErrNoActiveRepository
	}
	return target{path: e.state.Active.Path, session: e.state.Session}, nil
}

// apply runs fn on the state if t's session is still current and notifies
// listeners. A stale result is dropped and reported false.
func (e *Engine) apply(t target, what string, fn func(s *State)) bool {
	e.mu.Lock()
	if e.state.Session != t.session {
		e.mu.Unlock()
		e.logger.Printf("discarding stale %s result for %s (session %d)", what, t.path, t.session)
		return false
	}
	fn(&e.state)
	snap := e.state.clone()
	listeners := e.listeners
	e.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return true
}

// run executes an operation against the active repository and records its
// outcome. With loading set, the Loading flag is raised for the duration.
func (e *Engine) run(op string, loading bool, fn func(t target) error) error {
	t, err := e.current()
	if err != nil {
		return err
	}

	if loading {
		e.apply(t, op, func(s *State) {
			s.Loading = true
			s.Phase = PhaseLoading
			s.Error = ""
		})
	}

	err = fn(t)
	e.settle(t, op, loading, err)
	return err
}

// settle records the outcome of an operation
func (e *Engine) settle(t target, op string, loading bool, err error) {
	if err != nil {
		e.logger.Printf("%s failed for %s: %v", op, t.path, err)
	}
	e.apply(t, op, func(s *State) {
		if loading {
			s.Loading = false
		}
		switch {
		case err != nil:
			s.Error = err.Error()
			s.Phase = PhaseError
		case loading || s.Phase == PhaseError:
			s.Error = ""
			s.Phase = PhaseReady
		}
	})
}

// invalidateCommits drops the cached history of path
func (e *Engine) invalidateCommits(path string) {
	e.cache.InvalidatePattern(commitPattern(path))
}

// authFor returns the credentials of the active repository
func (e *Engine) authFor() *vcs.AuthConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Active == nil {
		return nil
	}
	return e.state.Active.AuthConfig(&e.settings.Proxy)
}
