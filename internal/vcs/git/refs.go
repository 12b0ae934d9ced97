package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gitdeck/gitdeck/internal/vcs"
)

// CurrentBranch returns the current branch name.
// Returns empty string if in detached HEAD state. An unborn branch in an
// empty repository still has a name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.exec(ctx, nil, "symbolic-ref", "-q", "--short", "HEAD")
	if err != nil {
		// -q exits 1 without output when HEAD is detached
		if vcs.GetExitCode(err) == 1 {
			return "", nil
		}
		return "", classify("symbolic-ref", out, err)
	}
	return strings.TrimSpace(string(out.Stdout)), nil
}

// refExists returns true if the fully qualified reference exists
func (g *Git) refExists(ctx context.Context, ref string) bool {
	_, err := g.exec(ctx, nil, "show-ref", "--verify", "--quiet", ref)
	return err == nil
}

// CreateBranch creates a new branch at the specified base
// If base is empty, creates at current HEAD
func (g *Git) CreateBranch(ctx context.Context, name, base string) error {
	if g.refExists(ctx, "refs/heads/"+name) {
		return fmt.Errorf("branch %s: %w", name, vcs.ErrRefExists)
	}

	args := []string{"branch", name}
	if base != "" {
		args = append(args, base)
	}
	_, err := g.run(ctx, args...)
	return err
}

// DeleteBranch deletes the named branch. Without force, unmerged
// branches are refused by git.
func (g *Git) DeleteBranch(ctx context.Context, name string, force bool) error {
	if !g.refExists(ctx, "refs/heads/"+name) {
		return fmt.Errorf("branch %s: %w", name, vcs.ErrRefNotFound)
	}

	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run(ctx, "branch", flag, name)
	return err
}

// Checkout switches to name. A remote-tracking name such as origin/feature
// without a local counterpart creates a tracking branch.
func (g *Git) Checkout(ctx context.Context, name string) error {
	if !g.refExists(ctx, "refs/heads/"+name) && g.refExists(ctx, "refs/remotes/"+name) {
		_, err := g.run(ctx, "checkout", "-q", "--track", name)
		return err
	}
	_, err := g.run(ctx, "checkout", "-q", name)
	return err
}

// branchFormat yields refname, object, upstream and the HEAD marker
var branchFormat = "--format=%(refname)%1f%(objectname)%1f%(upstream:short)%1f%(HEAD)"

// Branches returns all local and remote-tracking branches
func (g *Git) Branches(ctx context.Context) ([]vcs.Branch, error) {
	out, err := g.run(ctx, "for-each-ref", branchFormat, "refs/heads", "refs/remotes")
	if err != nil {
		return nil, err
	}
	return parseBranches(out), nil
}

func parseBranches(out string) []vcs.Branch {
	branches := []vcs.Branch{}

	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, fieldSep)
		if len(parts) != 4 {
			continue
		}

		refName := parts[0]
		b := vcs.Branch{
			LastCommit: parts[1],
			Upstream:   parts[2],
			IsHead:     parts[3] == "*",
		}

		switch {
		case strings.HasPrefix(refName, "refs/heads/"):
			b.Name = strings.TrimPrefix(refName, "refs/heads/")
		case strings.HasPrefix(refName, "refs/remotes/"):
			b.Name = strings.TrimPrefix(refName, "refs/remotes/")
			b.IsRemote = true
			// Skip symbolic origin/HEAD
			if strings.HasSuffix(b.Name, "/HEAD") {
				continue
			}
		default:
			continue
		}

		branches = append(branches, b)
	}

	return branches
}

// ===================
// Tags
// ===================

var tagFormat = "--format=%(refname:short)%1f%(objectname)%1f%(*objectname)%1f%(contents:subject)%1f%(creatordate:unix)"

// Tags returns tags, newest first
func (g *Git) Tags(ctx context.Context) ([]vcs.Tag, error) {
	out, err := g.run(ctx, "for-each-ref", "--sort=-creatordate", tagFormat, "refs/tags")
	if err != nil {
		return nil, err
	}
	return parseTags(out), nil
}

func parseTags(out string) []vcs.Tag {
	tags := []vcs.Tag{}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, fieldSep)
		if len(parts) != 5 {
			continue
		}

		t := vcs.Tag{Name: parts[0], Hash: parts[1]}
		if parts[2] != "" {
			// Annotated tag: report the tagged commit and keep the message
			t.Hash = parts[2]
			t.Message = parts[3]
		}
		if sec, err := strconv.ParseInt(parts[4], 10, 64); err == nil {
			t.Date = time.Unix(sec, 0).UTC()
		}
		tags = append(tags, t)
	}
	return tags
}

// CreateTag creates a lightweight tag at HEAD, annotated when message is set
func (g *Git) CreateTag(ctx context.Context, name, message string) error {
	if g.refExists(ctx, "refs/tags/"+name) {
		return fmt.Errorf("tag %s: %w", name, vcs.ErrRefExists)
	}

	args := []string{"tag", name}
	if message != "" {
		args = []string{"tag", "-a", name, "-m", message}
	}
	_, err := g.run(ctx, args...)
	return err
}

// DeleteTag deletes a local tag
func (g *Git) DeleteTag(ctx context.Context, name string) error {
	if !g.refExists(ctx, "refs/tags/"+name) {
		return fmt.Errorf("tag %s: %w", name, vcs.ErrRefNotFound)
	}
	_, err := g.run(ctx, "tag", "-d", name)
	return err
}

// ===================
// Stash
// ===================

// StashSave stashes tracked and untracked changes
func (g *Git) StashSave(ctx context.Context, message string) error {
	args := []string{"stash", "push", "--include-untracked"}
	if message != "" {
		args = append(args, "-m", message)
	}
	_, err := g.run(ctx, args...)
	return err
}

// Stashes lists stash entries, most recent first
func (g *Git) Stashes(ctx context.Context) ([]vcs.Stash, error) {
	out, err := g.run(ctx, "stash", "list", "--format=%H%x1f%gs")
	if err != nil {
		return nil, err
	}

	stashes := []vcs.Stash{}
	for i, line := range vcs.ParseLines([]byte(out)) {
		parts := strings.SplitN(line, fieldSep, 2)
		if len(parts) != 2 {
			continue
		}
		stashes = append(stashes, vcs.Stash{Index: i, Hash: parts[0], Message: parts[1]})
	}
	return stashes, nil
}

// StashPop applies and removes the stash entry at index
func (g *Git) StashPop(ctx context.Context, index int) error {
	_, err := g.run(ctx, "stash", "pop", stashRef(index))
	return err
}

// StashDrop removes the stash entry at index
func (g *Git) StashDrop(ctx context.Context, index int) error {
	_, err := g.run(ctx, "stash", "drop", stashRef(index))
	return err
}

func stashRef(index int) string {
	return fmt.Sprintf("stash@{%d}", index)
}
