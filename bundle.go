package gosgi

import (
	"fmt"
	"sync"
)

// Bundle manifest keys the framework requires at install time. The
// manifest may carry arbitrary additional user keys.
const (
	PropBundleSymbolicName = "bundle.symbolic_name"
	PropBundleVersion      = "bundle.version"

	// PropBundleAutoStart marks a bundle for automatic start when the
	// framework starts.
	PropBundleAutoStart = "bundle.auto_start"
)

// BundleState enumerates the lifecycle states of a bundle.
type BundleState int

const (
	StateInstalled BundleState = iota
	StateResolved
	StateStarting
	StateActive
	StateStopping
	StateUninstalled
)

// String returns the lowercase name of the state.
func (s BundleState) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateResolved:
		return "resolved"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateUninstalled:
		return "uninstalled"
	default:
		return "unknown"
	}
}

// Bundle is a dynamically installable unit of code and metadata hosted by
// the framework. The framework bundle always has id 0; installed bundles
// get monotonically assigned ids starting at 1. A Bundle value stays
// queryable (identity, manifest, final state) after uninstall.
type Bundle struct {
	fw               *Framework
	id               int64
	location         string
	symbolicName     string
	version          string
	manifest         AnyMap
	activatorFactory ActivatorFactory

	// stateMu serializes lifecycle transitions: a bundle cannot start and
	// stop concurrently. It is the outermost lock in the framework's lock
	// order and stays held across the activator call, so an activator
	// that never returns blocks the bundle permanently in STARTING. Event
	// listeners run under it too; re-entering lifecycle operations on the
	// same bundle from a listener deadlocks.
	stateMu sync.Mutex

	// mu guards state and ctx for cheap concurrent reads.
	mu        sync.Mutex
	state     BundleState
	ctx       *BundleContext
	activator Activator
}

// ID returns the framework-assigned bundle id.
func (b *Bundle) ID() int64 {
	return b.id
}

// SymbolicName returns the bundle's symbolic name from its manifest.
func (b *Bundle) SymbolicName() string {
	return b.symbolicName
}

// Version returns the bundle's version string from its manifest.
func (b *Bundle) Version() string {
	return b.version
}

// Location returns the opaque location string used at install time.
func (b *Bundle) Location() string {
	return b.location
}

// Manifest returns a copy of the bundle's immutable manifest.
func (b *Bundle) Manifest() AnyMap {
	return copyAnyMap(b.manifest)
}

// State returns the bundle's current lifecycle state.
func (b *Bundle) State() BundleState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Context returns the bundle's context, or nil outside of
// STARTING/ACTIVE/STOPPING.
func (b *Bundle) Context() *BundleContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil && b.ctx.isValid() {
		return b.ctx
	}
	return nil
}

func (b *Bundle) setState(s BundleState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Start drives the bundle to ACTIVE. Starting an ACTIVE bundle is a
// no-op. An activator Start failure is contained: the bundle falls back
// to RESOLVED, a FrameworkEvent(error) is broadcast, and the wrapped
// error is returned.
func (b *Bundle) Start() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	switch b.State() {
	case StateActive:
		return nil
	case StateUninstalled:
		return fmt.Errorf("%w: start: %v", ErrIllegalState, ErrBundleUninstalled)
	case StateInstalled, StateResolved:
		// legal
	default:
		return fmt.Errorf("%w: start from %s", ErrIllegalState, b.State())
	}

	ctx := newBundleContext(b)
	b.mu.Lock()
	b.state = StateStarting
	b.ctx = ctx
	b.mu.Unlock()

	if b.activatorFactory != nil {
		b.activator = b.activatorFactory()
	}
	if err := b.invokeActivator("start", ctx); err != nil {
		// STARTING -> RESOLVED; the context dies with the failed start.
		b.teardownContext(ctx)
		b.setState(StateResolved)
		wrapped := newBundleError(b, "activator start", err)
		b.fw.hub.dispatchFrameworkEvent(FrameworkEvent{
			Type:    FrameworkEventError,
			Message: "bundle activator start failed",
			Bundle:  b,
			Err:     wrapped,
		})
		return wrapped
	}

	b.setState(StateActive)
	b.fw.logger.Info("bundle started", "bundle", b.symbolicName, "id", b.id)
	b.fw.hub.dispatchBundleEvent(BundleEvent{Type: BundleEventStarted, Bundle: b})
	return nil
}

// Stop drives the bundle from ACTIVE back to RESOLVED. The bundle's
// context is invalidated on exit from STOPPING: listeners registered
// through it are removed, outstanding service handles released, and its
// service registrations unregistered. An activator Stop failure is
// reported as FrameworkEvent(error); the transition completes regardless.
func (b *Bundle) Stop() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.stopLocked()
}

func (b *Bundle) stopLocked() error {
	switch b.State() {
	case StateResolved, StateInstalled:
		return nil
	case StateUninstalled:
		return fmt.Errorf("%w: stop: %v", ErrIllegalState, ErrBundleUninstalled)
	case StateActive:
		// legal
	default:
		return fmt.Errorf("%w: stop from %s", ErrIllegalState, b.State())
	}

	b.setState(StateStopping)
	b.fw.hub.dispatchBundleEvent(BundleEvent{Type: BundleEventStopping, Bundle: b})

	ctx := b.ctx
	var actErr error
	if err := b.invokeActivator("stop", ctx); err != nil {
		actErr = newBundleError(b, "activator stop", err)
		b.fw.hub.dispatchFrameworkEvent(FrameworkEvent{
			Type:    FrameworkEventError,
			Message: "bundle activator stop failed",
			Bundle:  b,
			Err:     actErr,
		})
	}

	b.teardownContext(ctx)
	b.activator = nil
	b.setState(StateResolved)
	b.fw.logger.Info("bundle stopped", "bundle", b.symbolicName, "id", b.id)
	b.fw.hub.dispatchBundleEvent(BundleEvent{Type: BundleEventStopped, Bundle: b})
	return actErr
}

// Uninstall is terminal. An ACTIVE bundle is stopped first, then moved to
// UNINSTALLED. The bundle id and record are retained so late queries
// still resolve identity.
func (b *Bundle) Uninstall() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	switch b.State() {
	case StateUninstalled:
		return fmt.Errorf("%w: uninstall: %v", ErrIllegalState, ErrBundleUninstalled)
	case StateActive, StateStarting, StateStopping:
		if err := b.stopLocked(); err != nil {
			b.fw.logger.Warn("stop during uninstall reported an error",
				"bundle", b.symbolicName, "error", err)
		}
	}

	b.setState(StateUninstalled)
	b.fw.logger.Info("bundle uninstalled", "bundle", b.symbolicName, "id", b.id)
	b.fw.hub.dispatchBundleEvent(BundleEvent{Type: BundleEventUninstalled, Bundle: b})
	return nil
}

// invokeActivator calls into the bundle's activator, containing panics.
func (b *Bundle) invokeActivator(op string, ctx *BundleContext) (err error) {
	if b.activator == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activator %s panicked: %v", op, r)
		}
	}()
	if op == "start" {
		return b.activator.Start(ctx)
	}
	return b.activator.Stop(ctx)
}

// teardownContext invalidates ctx and releases everything attributed to
// it: listeners, gotten services, and service registrations.
func (b *Bundle) teardownContext(ctx *BundleContext) {
	if ctx == nil {
		return
	}
	ctx.invalidate()
	b.fw.hub.removeContext(ctx)
	ctx.releaseHandles()
	b.fw.registry.unregisterAll(b)
	b.mu.Lock()
	if b.ctx == ctx {
		b.ctx = nil
	}
	b.mu.Unlock()
}

// GetRegisteredServices returns references to the services this bundle
// has registered and not yet unregistered.
func (b *Bundle) GetRegisteredServices() []ServiceReference {
	return b.fw.registry.registeredBy(b)
}

// GetServicesInUse returns references to the services this bundle
// currently holds uses of.
func (b *Bundle) GetServicesInUse() []ServiceReference {
	return b.fw.registry.servicesInUse(b)
}
