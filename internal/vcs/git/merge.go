package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gitdeck/gitdeck/internal/vcs"
)

// Merge merges branch into the current branch
func (g *Git) Merge(ctx context.Context, branch string) (string, error) {
	out, err := g.exec(ctx, nil, "merge", "--no-edit", branch)
	if err != nil {
		return "", classify("merge", out, err)
	}
	return lastLine(string(out.Stdout)), nil
}

// CherryPick applies hash on top of HEAD
func (g *Git) CherryPick(ctx context.Context, hash string) error {
	_, err := g.run(ctx, "cherry-pick", hash)
	return err
}

// Conflicts lists unmerged paths with the content of each stage.
// Stage 1 is the merge base, 2 is ours and 3 is theirs; a missing stage
// (e.g. a file added on one side) reads as empty.
func (g *Git) Conflicts(ctx context.Context) ([]vcs.Conflict, error) {
	out, err := g.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}

	conflicts := []vcs.Conflict{}
	for _, path := range vcs.ParseLines([]byte(out)) {
		conflicts = append(conflicts, vcs.Conflict{
			Path:   path,
			Base:   g.stage(ctx, 1, path),
			Ours:   g.stage(ctx, 2, path),
			Theirs: g.stage(ctx, 3, path),
		})
	}
	return conflicts, nil
}

func (g *Git) stage(ctx context.Context, n int, path string) string {
	out, err := g.exec(ctx, nil, "show", fmt.Sprintf(":%d:%s", n, path))
	if err != nil {
		return ""
	}
	return string(out.Stdout)
}

// ResolveConflict resolves path with one side, or with content for a
// manual resolution, and stages the result
func (g *Git) ResolveConflict(ctx context.Context, path string, resolution vcs.Resolution, content string) error {
	switch resolution {
	case vcs.ResolveOurs, vcs.ResolveTheirs:
		if _, err := g.run(ctx, "checkout", "--"+string(resolution), "--", path); err != nil {
			return err
		}
	case vcs.ResolveManual:
		target := filepath.Join(g.repoRoot, path)
		if !vcs.IsSubPath(g.repoRoot, target) {
			return fmt.Errorf("path %s is outside the repository", path)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write resolution: %w", err)
		}
	default:
		return fmt.Errorf("unknown conflict resolution %q", resolution)
	}

	_, err := g.run(ctx, "add", "--", path)
	return err
}

// errNothingToAbort is returned by AbortMerge when no operation is in progress
var errNothingToAbort = errors.New("no merge, cherry-pick or rebase in progress")

// AbortMerge abandons whichever history operation is in progress
func (g *Git) AbortMerge(ctx context.Context) error {
	var err error
	switch {
	case g.inProgress("MERGE_HEAD"):
		_, err = g.run(ctx, "merge", "--abort")
	case g.inProgress("CHERRY_PICK_HEAD"):
		_, err = g.run(ctx, "cherry-pick", "--abort")
	case g.inProgress("rebase-merge"), g.inProgress("rebase-apply"):
		_, err = g.run(ctx, "rebase", "--abort")
	default:
		err = errNothingToAbort
	}
	return err
}
