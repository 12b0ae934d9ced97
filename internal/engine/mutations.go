package engine

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/gitdeck/gitdeck/internal/vcs"
)

// ===================
// Working tree
// ===================

// StageFile adds file to the index and refreshes the status
func (e *Engine) StageFile(ctx context.Context, file string) error {
	return e.run("stage", false, func(t target) error {
		res, err := e.gw.Stage(ctx, t.path, file)
		if _, err := unwrap("stage", res, err); err != nil {
			return err
		}
		return e.refreshStatus(ctx, t)
	})
}

// UnstageFile removes file from the index and refreshes the status
func (e *Engine) UnstageFile(ctx context.Context, file string) error {
	return e.run("unstage", false, func(t target) error {
		res, err := e.gw.Unstage(ctx, t.path, file)
		if _, err := unwrap("unstage", res, err); err != nil {
			return err
		}
		return e.refreshStatus(ctx, t)
	})
}

// DiscardFile drops the working tree changes of file and refreshes the status
func (e *Engine) DiscardFile(ctx context.Context, file string) error {
	return e.run("discard", false, func(t target) error {
		res, err := e.gw.Discard(ctx, t.path, file)
		if _, err := unwrap("discard", res, err); err != nil {
			return err
		}
		return e.refreshStatus(ctx, t)
	})
}

// Commit records the index and returns the new commit hash. Status and
// commits are refreshed concurrently afterwards, bypassing the cache.
func (e *Engine) Commit(ctx context.Context, message string) (string, error) {
	var hash string
	err := e.run("commit", false, func(t target) error {
		res, err := e.gw.Commit(ctx, t.path, message)
		hash, err = unwrap("commit", res, err)
		if err != nil {
			return err
		}

		e.invalidateCommits(t.path)

		var g errgroup.Group
		g.Go(func() error { return e.refreshStatus(ctx, t) })
		g.Go(func() error { return e.refreshCommits(ctx, t, DefaultPageSize, 0) })
		return g.Wait()
	})
	return hash, err
}

// ===================
// Branches
// ===================

// CreateBranch creates name at base (HEAD when empty) and refreshes branches
func (e *Engine) CreateBranch(ctx context.Context, name, base string) error {
	return e.run("create branch", false, func(t target) error {
		res, err := e.gw.CreateBranch(ctx, t.path, name, base)
		if _, err := unwrap("create branch", res, err); err != nil {
			return err
		}
		return e.refreshBranches(ctx, t)
	})
}

// DeleteBranch deletes a local branch and refreshes branches
func (e *Engine) DeleteBranch(ctx context.Context, name string, force bool) error {
	return e.run("delete branch", false, func(t target) error {
		res, err := e.gw.DeleteBranch(ctx, t.path, name, force)
		if _, err := unwrap("delete branch", res, err); err != nil {
			return err
		}
		return e.refreshBranches(ctx, t)
	})
}

// CheckoutBranch switches to name and resynchronizes branches, status,
// commits and the current branch. Every refresh runs to completion even
// when another fails; the first failure is returned.
func (e *Engine) CheckoutBranch(ctx context.Context, name string) error {
	return e.run("checkout", true, func(t target) error {
		res, err := e.gw.CheckoutBranch(ctx, t.path, name)
		if _, err := unwrap("checkout", res, err); err != nil {
			return err
		}
		return e.resync(ctx, t)
	})
}

// ===================
// Remotes
// ===================

// upstreamOf returns the upstream of branch in the mirrored branch list
func (e *Engine) upstreamOf(branch string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.state.Branches {
		if b.Name == branch && !b.IsRemote {
			return b.Upstream
		}
	}
	return ""
}

func (e *Engine) currentBranchName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.CurrentBranch
}

// Fetch downloads from remote (the branch's remote when empty) and
// refreshes branches
func (e *Engine) Fetch(ctx context.Context, remote string) error {
	return e.run("fetch", false, func(t target) error {
		res, err := e.gw.Fetch(ctx, t.path, vcs.FetchOptions{Remote: remote, Auth: e.authFor()})
		if _, err := unwrap("fetch", res, err); err != nil {
			return err
		}
		return e.refreshBranches(ctx, t)
	})
}

// Pull integrates the current branch's remote counterpart and
// resynchronizes the whole state
func (e *Engine) Pull(ctx context.Context, remote string) error {
	rebase := e.Settings().GitBehavior.PullRebase
	return e.run("pull", true, func(t target) error {
		opts := vcs.PullOptions{
			Remote: remote,
			Branch: e.currentBranchName(),
			Rebase: rebase,
			Auth:   e.authFor(),
		}
		res, err := e.gw.Pull(ctx, t.path, opts)
		if _, err := unwrap("pull", res, err); err != nil {
			// A conflicting pull leaves the tree half merged.
			e.checkConflicts(ctx, t)
			return err
		}
		return e.resync(ctx, t)
	})
}

// Push uploads the current branch, setting its upstream when it has none,
// and refreshes branches
func (e *Engine) Push(ctx context.Context, remote string, force bool) error {
	return e.run("push", false, func(t target) error {
		branch := e.currentBranchName()
		opts := vcs.PushOptions{
			Remote:      remote,
			Branch:      branch,
			SetUpstream: e.upstreamOf(branch) == "",
			Force:       force,
			Auth:        e.authFor(),
		}
		res, err := e.gw.Push(ctx, t.path, opts)
		if _, err := unwrap("push", res, err); err != nil {
			return err
		}
		return e.refreshBranches(ctx, t)
	})
}

// ===================
// Merge & conflicts
// ===================

// Merge merges branch into the current branch. Status and conflicts are
// refreshed whatever the outcome; history only when the merge succeeded.
func (e *Engine) Merge(ctx context.Context, branch string) (string, error) {
	var summary string
	err := e.run("merge", false, func(t target) error {
		res, err := e.gw.Merge(ctx, t.path, branch)
		summary, err = unwrap("merge", res, err)
		if err != nil {
			return errors.Join(err, e.refreshStatus(ctx, t))
		}
		e.invalidateCommits(t.path)

		var g errgroup.Group
		g.Go(func() error { return e.refreshStatus(ctx, t) })
		g.Go(func() error { return e.refreshCommits(ctx, t, DefaultPageSize, 0) })
		return g.Wait()
	})
	return summary, err
}

// CherryPick applies hashes in order, stopping at the first failure, and
// returns the hashes applied
func (e *Engine) CherryPick(ctx context.Context, hashes ...string) ([]string, error) {
	var applied []string
	err := e.run("cherry-pick", false, func(t target) error {
		res, err := e.gw.CherryPickBatch(ctx, t.path, hashes)
		if err != nil {
			return err
		}
		applied = res.Data
		_, pickErr := unwrap("cherry-pick", res, err)

		if len(applied) > 0 {
			e.invalidateCommits(t.path)
		}
		var g errgroup.Group
		g.Go(func() error { return e.refreshStatus(ctx, t) })
		g.Go(func() error { return e.refreshCommits(ctx, t, DefaultPageSize, 0) })
		return errors.Join(pickErr, g.Wait())
	})
	return applied, err
}

// ResolveConflict resolves file with the given side, or with content for
// a manual resolution, then refreshes the status
func (e *Engine) ResolveConflict(ctx context.Context, file string, resolution vcs.Resolution, content string) error {
	return e.run("resolve conflict", false, func(t target) error {
		res, err := e.gw.ResolveConflict(ctx, t.path, file, resolution, content)
		if _, err := unwrap("resolve conflict", res, err); err != nil {
			return err
		}
		return e.refreshStatus(ctx, t)
	})
}

// AbortMerge abandons an in-progress merge or cherry-pick
func (e *Engine) AbortMerge(ctx context.Context) error {
	return e.run("abort merge", false, func(t target) error {
		res, err := e.gw.AbortMerge(ctx, t.path)
		if _, err := unwrap("abort merge", res, err); err != nil {
			return err
		}
		return e.refreshStatus(ctx, t)
	})
}

// ===================
// Stash
// ===================

// StashSave stashes the working tree changes and refreshes the status
func (e *Engine) StashSave(ctx context.Context, message string) error {
	return e.run("stash save", false, func(t target) error {
		res, err := e.gw.StashSave(ctx, t.path, message)
		if _, err := unwrap("stash save", res, err); err != nil {
			return err
		}
		return e.refreshStatus(ctx, t)
	})
}

// StashPop applies and drops stash index and refreshes the status
func (e *Engine) StashPop(ctx context.Context, index int) error {
	return e.run("stash pop", false, func(t target) error {
		res, err := e.gw.StashPop(ctx, t.path, index)
		if _, err := unwrap("stash pop", res, err); err != nil {
			return err
		}
		return e.refreshStatus(ctx, t)
	})
}
