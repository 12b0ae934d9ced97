package git

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gitdeck/gitdeck/internal/vcs"
)

// detect populates git repository information
func (g *Git) detect(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Use git rev-parse to get all info in one call
	out, err := vcs.Exec(context.Background(), vcs.Command{
		Dir:  absPath,
		Name: g.binary,
		Args: []string{"rev-parse", "--git-dir", "--show-toplevel"},
		Env:  baseEnv,
	})
	if err != nil {
		if vcs.IsFatal(err) {
			return err
		}
		return vcs.ErrNotInVCS
	}

	lines := strings.Split(strings.TrimSpace(string(out.Stdout)), "\n")
	if len(lines) < 2 {
		return fmt.Errorf("unexpected git rev-parse output: got %d lines, expected 2", len(lines))
	}

	gitDir := strings.TrimSpace(lines[0])
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(absPath, gitDir)
	}

	g.vcsDir = gitDir
	g.repoRoot = normalizeRepoRoot(strings.TrimSpace(lines[1]))
	return nil
}

// normalizeRepoRoot normalizes the repository root path
// Resolves symlinks and converts slashes on Windows
func normalizeRepoRoot(path string) string {
	path = filepath.FromSlash(path)

	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	return path
}

// Remotes returns the configured remotes with their fetch URLs
func (g *Git) Remotes(ctx context.Context) ([]vcs.Remote, error) {
	out, err := g.run(ctx, "remote", "-v")
	if err != nil {
		return nil, err
	}

	// Parse output: "origin url (fetch)"
	var remotes []vcs.Remote
	seen := make(map[string]int)

	for _, line := range vcs.ParseLines([]byte(out)) {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		name, url := parts[0], parts[1]
		idx, exists := seen[name]
		switch {
		case !exists:
			seen[name] = len(remotes)
			remotes = append(remotes, vcs.Remote{Name: name, URL: url})
		case len(parts) >= 3 && strings.Contains(parts[2], "fetch"):
			// Prefer fetch URLs over push URLs
			remotes[idx].URL = url
		}
	}

	return remotes, nil
}

// AddRemote configures a new remote
func (g *Git) AddRemote(ctx context.Context, name, url string) error {
	if name == "" || url == "" {
		return fmt.Errorf("remote name and url are required")
	}
	_, err := g.run(ctx, "remote", "add", name, url)
	return err
}

// RemoveRemote deletes a remote and its tracking branches
func (g *Git) RemoveRemote(ctx context.Context, name string) error {
	_, err := g.run(ctx, "remote", "remove", name)
	return err
}

// hasRemote returns true if any remote is configured
func (g *Git) hasRemote(ctx context.Context) bool {
	out, err := g.run(ctx, "remote")
	return err == nil && strings.TrimSpace(out) != ""
}
