package gosgi

// Activator is the entry point user code a bundle may supply. Start is
// invoked during the STARTING transition with the bundle's fresh context;
// Stop during STOPPING with the same context. Absence of an activator is
// legal; transitions still fire events.
//
// Errors and panics raised by either method never propagate past the
// lifecycle controller: they are wrapped into a FrameworkEvent(error) and
// the transition completes in its fallback state.
type Activator interface {
	Start(ctx *BundleContext) error
	Stop(ctx *BundleContext) error
}

// ActivatorFactory produces a bundle's activator. The external bundle
// loader resolves it from a well-known symbol; the framework only sees
// the callable. A nil factory means the bundle has no activator.
type ActivatorFactory func() Activator

// ActivatorFunc adapts plain functions to the Activator interface.
// Either field may be nil.
type ActivatorFunc struct {
	OnStart func(ctx *BundleContext) error
	OnStop  func(ctx *BundleContext) error
}

func (a *ActivatorFunc) Start(ctx *BundleContext) error {
	if a.OnStart == nil {
		return nil
	}
	return a.OnStart(ctx)
}

func (a *ActivatorFunc) Stop(ctx *BundleContext) error {
	if a.OnStop == nil {
		return nil
	}
	return a.OnStop(ctx)
}
