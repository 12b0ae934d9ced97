package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gitdeck/gitdeck/internal/types"
)

// LoadRepositories reads the persisted repository list into memory
func (e *Engine) LoadRepositories(ctx context.Context) error {
	e.reposMu.Lock()
	defer e.reposMu.Unlock()

	repos, err := e.store.LoadRepositories(ctx)
	if err != nil {
		return fmt.Errorf("failed to load repositories: %w", err)
	}

	e.mu.Lock()
	e.repos = repos
	e.mu.Unlock()
	return nil
}

// Repositories returns copies of the managed repositories
func (e *Engine) Repositories() []*types.Repository {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.Repository, len(e.repos))
	for i, r := range e.repos {
		out[i] = r.Clone()
	}
	return out
}

// Repository returns the repository with id
func (e *Engine) Repository(id string) (*types.Repository, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.indexOf(id); i >= 0 {
		return e.repos[i].Clone(), nil
	}
	return nil, fmt.Errorf("%s: %w", id, ErrRepositoryNotFound)
}

// indexOf must be called with the lock held
func (e *Engine) indexOf(id string) int {
	for i, r := range e.repos {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// persist writes repos and, on success, makes them the in-memory list.
// Must be called with reposMu held and mu released.
func (e *Engine) persist(ctx context.Context, repos []*types.Repository) error {
	if err := e.store.SaveRepositories(ctx, repos); err != nil {
		return fmt.Errorf("failed to save repositories: %w", err)
	}
	e.mu.Lock()
	e.repos = repos
	e.mu.Unlock()
	return nil
}

// snapshotRepos copies the list so it can be edited without the lock
func (e *Engine) snapshotRepos() []*types.Repository {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*types.Repository(nil), e.repos...)
}

// AddRepository validates repo and appends it to the persisted list
func (e *Engine) AddRepository(ctx context.Context, repo *types.Repository) error {
	if err := repo.Validate(); err != nil {
		return err
	}

	e.reposMu.Lock()
	defer e.reposMu.Unlock()

	repos := e.snapshotRepos()
	clean := filepath.Clean(repo.Path)
	for _, r := range repos {
		if r.ID == repo.ID || filepath.Clean(r.Path) == clean {
			return fmt.Errorf("%s: %w", repo.Path, ErrDuplicateRepository)
		}
	}

	if err := e.persist(ctx, append(repos, repo.Clone())); err != nil {
		return err
	}
	e.logger.Printf("added repository %s (%s)", repo.Name, repo.Path)
	return nil
}

// UpdateRepository replaces the stored repository with the same ID. When
// the path changes, cached entries of the old path are dropped.
func (e *Engine) UpdateRepository(ctx context.Context, repo *types.Repository) error {
	if err := repo.Validate(); err != nil {
		return err
	}

	e.reposMu.Lock()
	defer e.reposMu.Unlock()

	repos := e.snapshotRepos()
	idx := -1
	for i, r := range repos {
		if r.ID == repo.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%s: %w", repo.ID, ErrRepositoryNotFound)
	}

	old := repos[idx]
	repos[idx] = repo.Clone()
	if err := e.persist(ctx, repos); err != nil {
		return err
	}

	if old.Path != repo.Path {
		e.invalidateCommits(old.Path)
	}

	e.mu.Lock()
	active := e.state.Active != nil && e.state.Active.ID == repo.ID
	t := target{path: old.Path, session: e.state.Session}
	e.mu.Unlock()
	switch {
	case !active:
	case old.Path != repo.Path:
		// results for the old path must not land in the new mirror
		e.reset(repo.Clone())
	default:
		e.apply(t, "update repository", func(s *State) { s.Active = repo.Clone() })
	}
	return nil
}

// RemoveRepository deletes the repository with id from the persisted list
// and drops every cache entry of its path. Removing the active repository
// returns the engine to idle.
func (e *Engine) RemoveRepository(ctx context.Context, id string) error {
	e.reposMu.Lock()
	defer e.reposMu.Unlock()

	repos := e.snapshotRepos()
	var removed *types.Repository
	kept := make([]*types.Repository, 0, len(repos))
	for _, r := range repos {
		if r.ID == id {
			removed = r
			continue
		}
		kept = append(kept, r)
	}
	if removed == nil {
		return fmt.Errorf("%s: %w", id, ErrRepositoryNotFound)
	}

	if err := e.persist(ctx, kept); err != nil {
		return err
	}

	n := e.cache.InvalidatePattern(commitPattern(removed.Path))
	e.logger.Printf("removed repository %s (%s), dropped %d cache entries", removed.Name, removed.Path, n)

	e.mu.Lock()
	active := e.state.Active != nil && e.state.Active.ID == id
	e.mu.Unlock()
	if active {
		e.reset(nil)
	}
	return nil
}

// reset clears the state, keeping active as the active repository, and
// starts a new session so in-flight results for the previous one are dropped
func (e *Engine) reset(active *types.Repository) {
	e.mu.Lock()
	e.state = State{Active: active, Phase: PhaseIdle, Session: e.state.Session + 1}
	snap := e.state.clone()
	listeners := e.listeners
	e.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}
