package vcs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestDetect(t *testing.T) {
	dir := makeRepoDir(t)
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := Detect(sub)
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}
	if result.Type != TypeGit || result.RepoRoot != dir || result.IsWorktree {
		t.Errorf("Detect() = %+v", result)
	}
	if result.VCSDir != filepath.Join(dir, ".git") {
		t.Errorf("VCSDir = %s", result.VCSDir)
	}
}

func TestDetectWorktree(t *testing.T) {
	main := makeRepoDir(t)
	wtGitDir := filepath.Join(main, ".git", "worktrees", "wt")
	if err := os.MkdirAll(wtGitDir, 0o755); err != nil {
		t.Fatal(err)
	}

	wt := t.TempDir()
	if err := os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: "+wtGitDir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Detect(wt)
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}
	if !result.IsWorktree || result.MainRepoRoot != main || result.VCSDir != wtGitDir {
		t.Errorf("Detect() = %+v, want worktree of %s", result, main)
	}
}

func TestDetectNotInVCS(t *testing.T) {
	_, err := Detect(t.TempDir())
	if !errors.Is(err, ErrNotInVCS) {
		t.Errorf("Detect() error = %v, want ErrNotInVCS", err)
	}
}

func TestDetectProjectType(t *testing.T) {
	tests := []struct {
		file string
		want ProjectType
	}{
		{"go.mod", ProjectGo},
		{"package.json", ProjectNode},
		{"Cargo.toml", ProjectRust},
		{"requirements.txt", ProjectPython},
		{"pom.xml", ProjectJava},
		{"App.csproj", ProjectDotNet},
		{"README.md", ProjectUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, tt.file), nil, 0o644); err != nil {
				t.Fatal(err)
			}
			if got := DetectProjectType(dir); got != tt.want {
				t.Errorf("DetectProjectType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrorClassifiers(t *testing.T) {
	wrapped := func(err error) error { return fmt.Errorf("op: %w", err) }

	tests := []struct {
		err       error
		retryable bool
		fatal     bool
	}{
		{wrapped(ErrTimeout), true, false},
		{wrapped(ErrPushRejected), true, false},
		{wrapped(ErrMergeRequired), true, false},
		{wrapped(ErrConflicts), false, false},
		{wrapped(ErrAuthFailed), false, false},
		{wrapped(ErrTransportUnavailable), false, true},
		{wrapped(ErrVCSNotAvailable), false, true},
		{nil, false, false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.retryable {
			t.Errorf("IsRetryable(%v) = %v", tt.err, got)
		}
		if got := IsFatal(tt.err); got != tt.fatal {
			t.Errorf("IsFatal(%v) = %v", tt.err, got)
		}
	}
}

func TestProxyURL(t *testing.T) {
	p := ProxyConfig{Type: "socks5", Host: "127.0.0.1", Port: 1080, Username: "u", Password: "p"}
	if got := p.URL(); got != "socks5://u:p@127.0.0.1:1080" {
		t.Errorf("URL() = %s", got)
	}
}
