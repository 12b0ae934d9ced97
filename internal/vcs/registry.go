package vcs

import (
	"context"
	"fmt"
	"sync"
)

// OpenOptions is passed to a driver when opening a repository
type OpenOptions struct {
	// Binary overrides the VCS executable (e.g. a custom git path)
	Binary string
}

// Driver bundles the entry points of one VCS implementation.
// Implementations register themselves with the registry using Register().
type Driver struct {
	// Open creates a Backend for the repository rooted at root
	Open func(root string, opts OpenOptions) (Backend, error)

	// Clone creates a new working copy from a remote
	Clone func(ctx context.Context, opts CloneOptions) error

	// Init creates an empty repository
	Init func(ctx context.Context, path string, opts InitOptions) error

	// Available reports whether the driver can run on this system
	Available func(opts OpenOptions) error
}

// registry maps VCS types to their drivers
var (
	registry      = make(map[Type]Driver)
	registryMutex sync.RWMutex
)

// Register registers a VCS driver.
// This is called from init() functions in implementation packages.
//
// Example:
//
//	func init() {
//	    vcs.Register(vcs.TypeGit, vcs.Driver{Open: open, Clone: Clone, Init: Init})
//	}
func Register(t Type, d Driver) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if d.Open == nil {
		panic(fmt.Sprintf("vcs: Register driver without Open for type %s", t))
	}

	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for type %s", t))
	}

	registry[t] = d
}

// getDriver retrieves the driver for a VCS type.
func getDriver(t Type) (Driver, bool) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	d, ok := registry[t]
	return d, ok
}

// IsRegistered returns true if a driver is registered for the given type.
func IsRegistered(t Type) bool {
	_, ok := getDriver(t)
	return ok
}

// RegisteredTypes returns all registered VCS types.
func RegisteredTypes() []Type {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}

// UnregisterAll clears all registered drivers.
// This is primarily useful for testing.
func UnregisterAll() {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	registry = make(map[Type]Driver)
}
