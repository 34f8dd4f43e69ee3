package gosgi

import (
	"sync"
)

// ServiceHandle is the scoped ownership wrapper handed out by GetService.
// Releasing the handle performs the matching unget exactly once, which
// decouples consumer lifetimes from unget discipline: drop the handle
// (via Release or the owning context's invalidation) and the use count,
// factory destroy hooks, and registry bookkeeping all settle themselves.
type ServiceHandle struct {
	instance Any
	ref      ServiceReference
	owner    *BundleContext

	once    sync.Once
	release func()
}

// Instance returns the service object. It stays usable until Release;
// using it afterwards is a consumer bug.
func (h *ServiceHandle) Instance() Any {
	return h.instance
}

// Reference returns the reference this handle was obtained from.
func (h *ServiceHandle) Reference() ServiceReference {
	return h.ref
}

// Release performs the matching unget. Safe to call more than once; only
// the first call has effect. Handles not released explicitly are released
// when their owning bundle context is invalidated.
func (h *ServiceHandle) Release() {
	h.once.Do(func() {
		if h.owner != nil {
			h.owner.forgetHandle(h)
		}
		if h.release != nil {
			h.release()
		}
	})
}

// releaseWithoutUntrack is the context-invalidation path: the context is
// already dropping its handle table, so only the unget runs.
func (h *ServiceHandle) releaseWithoutUntrack() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

// ServiceObjects allows obtaining multiple, independently released
// instances of a service. For a prototype-scope service every GetService
// call produces a fresh instance with its own use slot; for singleton and
// bundle scope it behaves like BundleContext.GetService.
type ServiceObjects struct {
	ctx *BundleContext
	ref ServiceReference
}

// Reference returns the reference these service objects draw from.
func (so *ServiceObjects) Reference() ServiceReference {
	return so.ref
}

// GetService returns a fresh scoped handle. It returns an error when the
// owning context is invalid, the registration is gone, or the factory
// failed to produce an instance.
func (so *ServiceObjects) GetService() (*ServiceHandle, error) {
	return so.ctx.GetService(so.ref)
}
