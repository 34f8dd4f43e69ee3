// Package loader is the narrow surface of the external bundle loader: a
// registry mapping bundle symbolic names to activator factories. The
// real loader resolves a well-known symbol from a dynamically loaded
// binary; in-process bundles register their factory here instead,
// typically from an init function, the way database/sql drivers register
// themselves.
package loader

import (
	"sort"
	"sync"

	"github.com/xru192/gosgi"
)

// Registry maps bundle symbolic names to activator factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]gosgi.ActivatorFactory
}

// NewRegistry creates an empty activator registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]gosgi.ActivatorFactory)}
}

// Register associates a symbolic name with an activator factory,
// replacing any previous association.
func (r *Registry) Register(symbolicName string, factory gosgi.ActivatorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[symbolicName] = factory
}

// Lookup resolves the factory for a symbolic name.
func (r *Registry) Lookup(symbolicName string) (gosgi.ActivatorFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[symbolicName]
	return f, ok
}

// Names returns the registered symbolic names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defaultRegistry backs the package-level convenience functions.
var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(symbolicName string, factory gosgi.ActivatorFactory) {
	defaultRegistry.Register(symbolicName, factory)
}

// Lookup resolves a factory from the default registry.
func Lookup(symbolicName string) (gosgi.ActivatorFactory, bool) {
	return defaultRegistry.Lookup(symbolicName)
}

// Default returns the default registry.
func Default() *Registry {
	return defaultRegistry
}
