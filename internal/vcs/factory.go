package vcs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// Factory opens Backend instances for repository paths.
//
// The factory supports caching to avoid repeated detection for the same
// path. Each factory owns its cache; there is no process-wide instance.
type Factory struct {
	// preferredType is the driver used when detection finds a repository
	preferredType Type

	// binary overrides the VCS executable passed to drivers
	binary string

	// enableCache enables caching of opened backends
	enableCache bool

	cache sync.Map // root path -> Backend
}

// NewFactory creates a new VCS factory with the specified options.
//
// Default behavior:
//   - Caching enabled
//   - git driver
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		preferredType: TypeGit,
		enableCache:   true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FactoryOption configures the factory
type FactoryOption func(*Factory)

// WithPreferredType sets the driver used for detected repositories
func WithPreferredType(t Type) FactoryOption {
	return func(f *Factory) {
		f.preferredType = t
	}
}

// WithBinary overrides the VCS executable. Empty keeps the default lookup.
func WithBinary(path string) FactoryOption {
	return func(f *Factory) {
		f.binary = path
	}
}

// WithCache enables or disables instance caching
func WithCache(enabled bool) FactoryOption {
	return func(f *Factory) {
		f.enableCache = enabled
	}
}

// Open returns a Backend for the repository containing path.
//
// The factory will:
//  1. Resolve the driver; a missing driver or binary wraps ErrTransportUnavailable
//  2. Check the cache for an existing instance (if caching enabled)
//  3. Detect the repository root at the path
//  4. Open the backend and cache it
func (f *Factory) Open(path string) (Backend, error) {
	d, err := f.driver()
	if err != nil {
		return nil, err
	}

	key := filepath.Clean(path)
	if f.enableCache {
		if cached, ok := f.cache.Load(key); ok {
			return cached.(Backend), nil
		}
	}

	result, err := Detect(path)
	if err != nil {
		return nil, err
	}

	b, err := d.Open(result.RepoRoot, f.openOptions())
	if err != nil {
		if errors.Is(err, ErrVCSNotAvailable) || errors.Is(err, ErrUnsupportedVersion) {
			return nil, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
		}
		return nil, fmt.Errorf("failed to open %s repository: %w", f.preferredType, err)
	}

	if f.enableCache {
		f.cache.Store(key, b)
	}
	return b, nil
}

// Clone clones a remote repository with the preferred driver
func (f *Factory) Clone(ctx context.Context, opts CloneOptions) error {
	d, err := f.driver()
	if err != nil {
		return err
	}
	if d.Clone == nil {
		return fmt.Errorf("%s clone: %w", f.preferredType, ErrNotSupported)
	}
	return d.Clone(ctx, opts)
}

// Init creates an empty repository with the preferred driver
func (f *Factory) Init(ctx context.Context, path string, opts InitOptions) error {
	d, err := f.driver()
	if err != nil {
		return err
	}
	if d.Init == nil {
		return fmt.Errorf("%s init: %w", f.preferredType, ErrNotSupported)
	}
	return d.Init(ctx, path, opts)
}

// Forget drops the cached backend for path, if any
func (f *Factory) Forget(path string) {
	f.cache.Delete(filepath.Clean(path))
}

// ResetCache clears the backend instance cache.
func (f *Factory) ResetCache() {
	f.cache.Range(func(k, _ any) bool {
		f.cache.Delete(k)
		return true
	})
}

func (f *Factory) driver() (Driver, error) {
	d, ok := getDriver(f.preferredType)
	if !ok {
		return Driver{}, fmt.Errorf("%w: no registered driver for VCS type %s (available: %v)",
			ErrTransportUnavailable, f.preferredType, RegisteredTypes())
	}
	if d.Available != nil {
		if err := d.Available(f.openOptions()); err != nil {
			return Driver{}, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
		}
	}
	return d, nil
}

func (f *Factory) openOptions() OpenOptions {
	return OpenOptions{Binary: f.binary}
}
