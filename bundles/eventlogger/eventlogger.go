// Package eventlogger ships a bundle that subscribes to all framework
// activity and logs it through the framework's structured log sink. It
// is a plain client of the core: everything goes through its bundle
// context, and stopping the bundle detaches it automatically.
package eventlogger

import (
	"github.com/xru192/gosgi"
)

// SymbolicName is the bundle's identity in manifests and the loader
// registry.
const SymbolicName = "org.gosgi.bundles.eventlogger"

// Manifest returns the install manifest for the event logger bundle.
func Manifest() gosgi.AnyMap {
	return gosgi.AnyMap{
		gosgi.PropBundleSymbolicName: SymbolicName,
		gosgi.PropBundleVersion:      "1.0.0",
	}
}

// Activator wires the event listeners on start and lets context
// invalidation remove them on stop.
type Activator struct {
	logger gosgi.Logger
}

// NewActivator returns the bundle's activator factory.
func NewActivator() gosgi.ActivatorFactory {
	return func() gosgi.Activator { return &Activator{} }
}

func (a *Activator) Start(ctx *gosgi.BundleContext) error {
	a.logger = ctx.Framework().Logger()

	if _, err := ctx.AddBundleListener(a.onBundleEvent); err != nil {
		return err
	}
	if _, err := ctx.AddServiceListener(a.onServiceEvent, ""); err != nil {
		return err
	}
	if _, err := ctx.AddFrameworkListener(a.onFrameworkEvent); err != nil {
		return err
	}
	return nil
}

func (a *Activator) Stop(*gosgi.BundleContext) error {
	// Listeners registered through the context are removed when the
	// context is invalidated.
	return nil
}

func (a *Activator) onBundleEvent(ev gosgi.BundleEvent) {
	args := []any{"event", ev.Type.String()}
	if ev.Bundle != nil {
		args = append(args, "bundle", ev.Bundle.SymbolicName(), "id", ev.Bundle.ID(), "state", ev.Bundle.State().String())
	}
	a.logger.Info("bundle event", args...)
}

func (a *Activator) onServiceEvent(ev gosgi.ServiceEvent) {
	a.logger.Info("service event",
		"event", ev.Type.String(),
		"service.id", ev.Reference.ID(),
		"objectclass", ev.Properties().StringSliceValue(gosgi.PropObjectClass))
}

func (a *Activator) onFrameworkEvent(ev gosgi.FrameworkEvent) {
	args := []any{"event", ev.Type.String(), "message", ev.Message}
	if ev.Err != nil {
		args = append(args, "error", ev.Err)
	}
	switch ev.Type {
	case gosgi.FrameworkEventError:
		a.logger.Error("framework event", args...)
	case gosgi.FrameworkEventWarning:
		a.logger.Warn("framework event", args...)
	default:
		a.logger.Info("framework event", args...)
	}
}
