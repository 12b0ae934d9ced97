package vcs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

// makeRepoDir creates a directory that Detect recognizes as a git repository
func makeRepoDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatalf("failed to create .git: %v", err)
	}
	return dir
}

func TestFactoryOpen(t *testing.T) {
	typeName := uniqueTestType("factory-open")
	var opens int64
	Register(typeName, newMockDriver(typeName, &opens))

	dir := makeRepoDir(t)
	sub := filepath.Join(dir, "pkg", "deep")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	f := NewFactory(WithPreferredType(typeName))
	b, err := f.Open(sub)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if b.Root() != dir {
		t.Errorf("Root() = %s, want %s", b.Root(), dir)
	}

	// Second open of the same path is served from the cache
	if _, err := f.Open(sub); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if opens != 1 {
		t.Errorf("driver opened %d times, want 1", opens)
	}

	f.Forget(sub)
	if _, err := f.Open(sub); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if opens != 2 {
		t.Errorf("driver opened %d times after Forget, want 2", opens)
	}
}

func TestFactoryWithoutCache(t *testing.T) {
	typeName := uniqueTestType("factory-nocache")
	var opens int64
	Register(typeName, newMockDriver(typeName, &opens))

	dir := makeRepoDir(t)
	f := NewFactory(WithPreferredType(typeName), WithCache(false))
	for i := 0; i < 3; i++ {
		if _, err := f.Open(dir); err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
	}
	if atomic.LoadInt64(&opens) != 3 {
		t.Errorf("driver opened %d times, want 3", opens)
	}
}

func TestFactoryUnregisteredIsTransportUnavailable(t *testing.T) {
	f := NewFactory(WithPreferredType("definitely-not-registered"))

	_, err := f.Open(makeRepoDir(t))
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Open() error = %v, want ErrTransportUnavailable", err)
	}
	if !IsFatal(err) {
		t.Error("IsFatal() = false for transport failure")
	}
}

func TestFactoryUnavailableDriver(t *testing.T) {
	typeName := uniqueTestType("factory-unavailable")
	d := newMockDriver(typeName, nil)
	d.Available = func(OpenOptions) error { return ErrVCSNotAvailable }
	Register(typeName, d)

	f := NewFactory(WithPreferredType(typeName))
	_, err := f.Open(makeRepoDir(t))
	if !errors.Is(err, ErrTransportUnavailable) || !errors.Is(err, ErrVCSNotAvailable) {
		t.Errorf("Open() error = %v, want transport unavailable wrapping binary missing", err)
	}
}

func TestFactoryNotARepository(t *testing.T) {
	typeName := uniqueTestType("factory-norepo")
	Register(typeName, newMockDriver(typeName, nil))

	f := NewFactory(WithPreferredType(typeName))
	_, err := f.Open(t.TempDir())

	// A plain directory is a backend failure, not an unreachable transport
	if errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Open() error = %v, must not be transport unavailable", err)
	}
}

func TestFactoryCloneInitNotSupported(t *testing.T) {
	typeName := uniqueTestType("factory-clone")
	Register(typeName, newMockDriver(typeName, nil))

	f := NewFactory(WithPreferredType(typeName))
	if err := f.Clone(context.Background(), CloneOptions{URL: "x", Path: "y"}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Clone() error = %v, want ErrNotSupported", err)
	}
	if err := f.Init(context.Background(), "y", InitOptions{}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Init() error = %v, want ErrNotSupported", err)
	}
}
