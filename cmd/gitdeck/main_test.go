package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/gitdeck/gitdeck/internal/config"
	"github.com/gitdeck/gitdeck/internal/engine"
	"github.com/gitdeck/gitdeck/internal/types"
	"github.com/gitdeck/gitdeck/internal/vcs"
)

type memStore struct {
	repos []*types.Repository
}

func (m *memStore) LoadRepositories(ctx context.Context) ([]*types.Repository, error) {
	return m.repos, nil
}

func (m *memStore) SaveRepositories(ctx context.Context, repos []*types.Repository) error {
	m.repos = repos
	return nil
}

func testApp(t *testing.T, repos ...*types.Repository) *app {
	t.Helper()
	eng := engine.New(nil, nil, &memStore{}, engine.WithLogger(log.New(io.Discard, "", 0)))
	for _, r := range repos {
		if err := eng.AddRepository(context.Background(), r); err != nil {
			t.Fatalf("AddRepository(%s) failed: %v", r.Path, err)
		}
	}
	return &app{engine: eng, settings: config.DefaultSettings()}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	alpha := types.NewRepository(filepath.Join(root, "alpha"), "")
	nested := types.NewRepository(filepath.Join(root, "alpha", "vendor", "lib"), "lib")
	twinA := types.NewRepository(filepath.Join(root, "a", "twin"), "")
	twinB := types.NewRepository(filepath.Join(root, "b", "twin"), "")
	a := testApp(t, alpha, nested, twinA, twinB)

	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{alpha.ID, alpha.ID, false},
		{alpha.ID[:8], alpha.ID, false},
		{"alpha", alpha.ID, false},
		{"lib", nested.ID, false},
		{filepath.Join(root, "alpha"), alpha.ID, false},
		{"twin", "", true},
		{"missing", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := a.resolve(tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Errorf("resolve(%q) = %s, want error", tt.ref, got.Path)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve(%q) failed: %v", tt.ref, err)
			}
			if got.ID != tt.want {
				t.Errorf("resolve(%q) = %s", tt.ref, got.Path)
			}
		})
	}
}

func TestResolveFromWorkingDirectory(t *testing.T) {
	root := t.TempDir()
	outer := types.NewRepository(root, "outer")
	innerPath := filepath.Join(root, "sub", "inner")
	inner := types.NewRepository(innerPath, "inner")
	if err := os.MkdirAll(filepath.Join(innerPath, "pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	a := testApp(t, outer, inner)

	wd, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if err := os.Chdir(filepath.Join(innerPath, "pkg")); err != nil {
		t.Fatal(err)
	}
	got, err := a.resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != inner.ID {
		t.Errorf("resolve() = %s, want the innermost repository", got.Path)
	}

	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if _, err := a.resolve(""); err == nil {
		t.Error("resolve() outside every repository should fail")
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		dir, root string
		want      bool
	}{
		{"/tmp/r1", "/tmp/r1", true},
		{"/tmp/r1/src", "/tmp/r1", true},
		{"/tmp/r10", "/tmp/r1", false},
		{"/tmp", "/tmp/r1", false},
		{"/tmp/..r1", "/tmp", true},
	}
	for _, tt := range tests {
		if got := within(tt.dir, tt.root); got != tt.want {
			t.Errorf("within(%q, %q) = %v, want %v", tt.dir, tt.root, got, tt.want)
		}
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2024-05-01", now)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseSince(date) = %v", got)
	}

	got, err = parseSince("2 days ago", now)
	if err != nil {
		t.Fatal(err)
	}
	if got.After(now) || now.Sub(got) < 47*time.Hour || now.Sub(got) > 49*time.Hour {
		t.Errorf("parseSince(2 days ago) = %v", got)
	}

	if _, err := parseSince("no time here", now); err == nil {
		t.Error("parseSince should reject text without a time")
	}
}

func TestFilters(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	commits := []vcs.Commit{
		{Hash: "c3", Author: "Ada", Email: "ada@example.com", Date: base.Add(48 * time.Hour)},
		{Hash: "c2", Author: "Linus", Email: "linus@example.org", Date: base.Add(24 * time.Hour)},
		{Hash: "c1", Author: "Ada", Email: "ada@example.com", Date: base},
	}

	if got := filterSince(commits, base.Add(24*time.Hour)); len(got) != 2 || got[1].Hash != "c2" {
		t.Errorf("filterSince = %+v", got)
	}
	if got := filterAuthor(commits, "ADA"); len(got) != 2 {
		t.Errorf("filterAuthor(name) = %+v", got)
	}
	if got := filterAuthor(commits, "example.org"); len(got) != 1 || got[0].Hash != "c2" {
		t.Errorf("filterAuthor(email) = %+v", got)
	}
	if len(commits) != 3 || commits[0].Hash != "c3" {
		t.Error("filters modified their input")
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		flag, file string
		want       config.Format
		wantErr    bool
	}{
		{"", "settings.toml", config.FormatTOML, false},
		{"", "settings.yml", config.FormatYAML, false},
		{"", "", config.FormatJSON, false},
		{"yaml", "settings.json", config.FormatYAML, false},
		{"", "settings.ini", "", true},
	}
	for _, tt := range tests {
		cmd := &cobra.Command{}
		cmd.Flags().String("format", "", "")
		if tt.flag != "" {
			_ = cmd.Flags().Set("format", tt.flag)
		}
		got, err := formatFor(cmd, tt.file)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("formatFor(%q, %q) = %q, %v", tt.flag, tt.file, got, err)
		}
	}
}

func TestDescribe(t *testing.T) {
	plain := errors.New("--limit must be positive")
	if got := describe(plain); got != plain.Error() {
		t.Errorf("describe(plain) = %q", got)
	}

	backend := &engine.BackendError{Op: "push", Message: "Authentication failed for 'https://example.com'"}
	if got := describe(backend); !strings.HasPrefix(got, "[AUTH_FAILED]") || !strings.Contains(got, "example.com") {
		t.Errorf("describe(auth) = %q", got)
	}

	transport := fmt.Errorf("status: %w", vcs.ErrTransportUnavailable)
	if got := describe(transport); !strings.HasPrefix(got, "[TRANSPORT_UNAVAILABLE]") {
		t.Errorf("describe(transport) = %q", got)
	}
}

func TestRotateOnHangup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hup := make(chan os.Signal)
	rotated := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		rotateOnHangup(ctx, hup, func() error {
			rotated <- struct{}{}
			return errors.New("reopen failed")
		}, log.New(io.Discard, "", 0))
		close(done)
	}()

	hup <- syscall.SIGHUP
	select {
	case <-rotated:
	case <-time.After(2 * time.Second):
		t.Fatal("SIGHUP did not rotate the log")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rotateOnHangup did not return after cancel")
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{
		"serve", "open", "status", "log", "stage", "unstage", "discard", "commit",
		"conflicts", "fetch", "pull", "push", "merge", "cherry-pick",
		"repo add", "repo list", "repo remove", "repo update",
		"branch list", "branch create", "branch delete", "branch checkout",
		"stash save", "stash pop",
		"settings show", "settings export", "settings import",
		"platform login", "platform create",
	}
	for _, path := range want {
		cmd, rest, err := rootCmd.Find(strings.Fields(path))
		if err != nil || len(rest) != 0 || cmd.Name() != strings.Fields(path)[len(strings.Fields(path))-1] {
			t.Errorf("command %q not registered", path)
		}
	}
}
