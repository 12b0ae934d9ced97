package engine

import (
	"context"
	"regexp"

	"golang.org/x/sync/errgroup"

	"github.com/gitdeck/gitdeck/internal/cache"
	"github.com/gitdeck/gitdeck/internal/types"
	"github.com/gitdeck/gitdeck/internal/vcs"
)

const commitsOp = "commits"

// commitKey is the cache key of one commit page
func commitKey(path string, maxCount, offset int) string {
	return cache.Key(commitsOp, path, maxCount, offset)
}

// commitPattern matches every cached entry of path
func commitPattern(path string) *regexp.Regexp {
	return cache.PathPattern(path)
}

// LoadRepository makes repo the active repository and loads its state.
//
// Status and branches are loaded first, concurrently; both must succeed.
// Commits and the current branch follow. A repository without commits is
// not an error: its commit list is empty and its current branch falls back
// to the configured default branch name.
func (e *Engine) LoadRepository(ctx context.Context, repo *types.Repository) error {
	e.mu.Lock()
	e.state = State{
		Active:  repo.Clone(),
		Loading: true,
		Phase:   PhaseLoading,
		Session: e.state.Session + 1,
	}
	t := target{path: repo.Path, session: e.state.Session}
	defaultBranch := e.settings.GitBehavior.DefaultBranchName
	e.mu.Unlock()

	e.logger.Printf("loading %s (session %d)", t.path, t.session)

	err := e.load(ctx, t, defaultBranch)
	e.settle(t, "load", true, err)
	return err
}

func (e *Engine) load(ctx context.Context, t target, defaultBranch string) error {
	var g errgroup.Group
	g.Go(func() error { return e.refreshStatus(ctx, t) })
	g.Go(func() error { return e.refreshBranches(ctx, t) })
	if err := g.Wait(); err != nil {
		return err
	}

	var (
		g2          errgroup.Group
		emptyCommit bool
		emptyBranch bool
	)
	g2.Go(func() error {
		err := e.refreshCommits(ctx, t, DefaultPageSize, 0)
		if IsEmptyRepository(err) {
			emptyCommit = true
			return nil
		}
		return err
	})
	g2.Go(func() error {
		err := e.refreshCurrentBranch(ctx, t)
		if IsEmptyRepository(err) {
			emptyBranch = true
			return nil
		}
		return err
	})
	if err := g2.Wait(); err != nil {
		return err
	}

	if emptyCommit || emptyBranch {
		e.logger.Printf("%s has no commits yet", t.path)
		e.apply(t, "empty repository", func(s *State) {
			if emptyCommit {
				s.Commits = []vcs.Commit{}
			}
			if emptyBranch || s.CurrentBranch == "" {
				s.CurrentBranch = defaultBranch
			}
		})
	}
	return nil
}

// RefreshStatus reloads the file changes and then the conflict list. On
// failure the previous file changes are kept.
func (e *Engine) RefreshStatus(ctx context.Context) error {
	return e.run("status", false, func(t target) error {
		return e.refreshStatus(ctx, t)
	})
}

func (e *Engine) refreshStatus(ctx context.Context, t target) error {
	res, err := e.gw.Status(ctx, t.path)
	changes, err := unwrap("status", res, err)
	if err != nil {
		return err
	}
	e.apply(t, "status", func(s *State) { s.FileChanges = changes })

	e.checkConflicts(ctx, t)
	return nil
}

// CheckConflicts reloads the conflict list. A failing check is treated as
// no conflicts.
func (e *Engine) CheckConflicts(ctx context.Context) {
	t, err := e.current()
	if err != nil {
		return
	}
	e.checkConflicts(ctx, t)
}

func (e *Engine) checkConflicts(ctx context.Context, t target) {
	res, err := e.gw.Conflicts(ctx, t.path)
	conflicts, err := unwrap("conflicts", res, err)
	if err != nil {
		e.logger.Printf("conflict check failed for %s: %v", t.path, err)
		conflicts = nil
	}
	e.apply(t, "conflicts", func(s *State) {
		s.Conflicts = conflicts
		s.HasConflicts = len(conflicts) > 0
	})
}

// RefreshBranches reloads the branch list
func (e *Engine) RefreshBranches(ctx context.Context) error {
	return e.run("branches", false, func(t target) error {
		return e.refreshBranches(ctx, t)
	})
}

func (e *Engine) refreshBranches(ctx context.Context, t target) error {
	res, err := e.gw.Branches(ctx, t.path)
	branches, err := unwrap("branches", res, err)
	if err != nil {
		return err
	}
	e.apply(t, "branches", func(s *State) { s.Branches = branches })
	return nil
}

// RefreshCurrentBranch reloads the current branch name. A failure keeps
// the previous value and is only logged.
func (e *Engine) RefreshCurrentBranch(ctx context.Context) {
	t, err := e.current()
	if err != nil {
		return
	}
	e.refreshCurrentBranchQuiet(ctx, t)
}

func (e *Engine) refreshCurrentBranchQuiet(ctx context.Context, t target) {
	if err := e.refreshCurrentBranch(ctx, t); err != nil {
		e.logger.Printf("current branch refresh failed for %s: %v", t.path, err)
	}
}

func (e *Engine) refreshCurrentBranch(ctx context.Context, t target) error {
	res, err := e.gw.CurrentBranch(ctx, t.path)
	name, err := unwrap("current branch", res, err)
	if err != nil {
		return err
	}
	e.apply(t, "current branch", func(s *State) { s.CurrentBranch = name })
	return nil
}

// RefreshCommits loads maxCount commits starting offset commits back from
// HEAD. Offset 0 replaces the commit list and a positive offset appends to
// it. Pages are served from the cache while fresh.
func (e *Engine) RefreshCommits(ctx context.Context, maxCount, offset int) error {
	return e.run("commits", false, func(t target) error {
		return e.refreshCommits(ctx, t, maxCount, offset)
	})
}

func (e *Engine) refreshCommits(ctx context.Context, t target, maxCount, offset int) error {
	key := commitKey(t.path, maxCount, offset)

	commits, ok := e.cache.Get(key)
	if !ok {
		res, err := e.gw.Commits(ctx, t.path, maxCount, offset)
		commits, err = unwrap(commitsOp, res, err)
		if err != nil {
			return err
		}
		e.mu.Lock()
		ttl := e.settings.CommitCacheTTL()
		e.mu.Unlock()
		e.cache.SetWithTTL(key, commits, ttl)
	}

	e.apply(t, "commits", func(s *State) {
		if offset == 0 {
			s.Commits = append([]vcs.Commit{}, commits...)
		} else {
			s.Commits = append(s.Commits, commits...)
		}
	})
	return nil
}

// resync refreshes branches, status, commits and the current branch
// concurrently. The commit cache of the repository is dropped first.
func (e *Engine) resync(ctx context.Context, t target) error {
	e.invalidateCommits(t.path)

	var g errgroup.Group
	g.Go(func() error { return e.refreshBranches(ctx, t) })
	g.Go(func() error { return e.refreshStatus(ctx, t) })
	g.Go(func() error { return e.refreshCommits(ctx, t, DefaultPageSize, 0) })
	g.Go(func() error {
		e.refreshCurrentBranchQuiet(ctx, t)
		return nil
	})
	return g.Wait()
}
