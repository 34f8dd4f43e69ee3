package gosgi

import (
	"fmt"
)

// Hook service interface names. Hooks are ordinary services registered
// under these names; the registry consults the currently registered hook
// services on every relevant operation, so hooks are orderable by
// service.ranking and fully dynamic. A hook deregistered concurrently is
// simply skipped.
const (
	FindHookInterface          = "org.gosgi.hooks.FindHook"
	EventListenerHookInterface = "org.gosgi.hooks.EventListenerHook"
	BundleFindHookInterface    = "org.gosgi.hooks.BundleFindHook"
	BundleEventHookInterface   = "org.gosgi.hooks.BundleEventHook"
)

// Shrinkable is the mutable view handed to hook callbacks: hooks may
// remove elements to hide them from the operation's outcome, but cannot
// add elements.
type Shrinkable[T comparable] struct {
	items []T
}

// Items returns the current view contents in order.
func (s *Shrinkable[T]) Items() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of remaining elements.
func (s *Shrinkable[T]) Len() int {
	return len(s.items)
}

// Remove hides the first occurrence of v. Unknown values are a no-op.
func (s *Shrinkable[T]) Remove(v T) {
	for i, item := range s.items {
		if item == v {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// Retain keeps only the elements for which keep returns true.
func (s *Shrinkable[T]) Retain(keep func(T) bool) {
	kept := s.items[:0]
	for _, item := range s.items {
		if keep(item) {
			kept = append(kept, item)
		}
	}
	s.items = kept
}

// FindHook lets a privileged bundle censor the references returned from
// service lookups. The requesting context and the original query are
// provided; the hook removes references it wants hidden.
type FindHook interface {
	Find(requester *BundleContext, name, filterExpr string, refs *Shrinkable[ServiceReference])
}

// EventListenerHook lets a privileged bundle hide a service event from
// specific listeners, identified by their owning bundle contexts.
type EventListenerHook interface {
	Event(event ServiceEvent, contexts *Shrinkable[*BundleContext])
}

// BundleFindHook lets a privileged bundle hide bundles from GetBundles.
type BundleFindHook interface {
	Find(requester *BundleContext, bundles *Shrinkable[*Bundle])
}

// BundleEventHook lets a privileged bundle hide a bundle event from
// specific listeners, identified by their owning bundle contexts.
type BundleEventHook interface {
	Event(event BundleEvent, contexts *Shrinkable[*BundleContext])
}

// hookRegistrations snapshots the hook services registered under name,
// best-first. The snapshot is taken before any hook is invoked, so a
// hook that mutates the registry mid-consultation cannot recurse the
// walk.
func (sr *serviceRegistry) hookRegistrations(name string) []ServiceReference {
	return sr.find(nil, name, nil)
}

// invokeHook resolves the hook instance behind ref and runs fn on it
// with no registry lock held. Panics from hook code are contained and
// reported as FrameworkEvent(error).
func invokeHook[H any](sr *serviceRegistry, ref ServiceReference, fn func(hook H)) {
	instance, release, err := sr.getService(sr.fw.systemBundle, ref)
	if err != nil {
		return // deregistered concurrently; skip
	}
	defer release()
	hook, ok := instance.(H)
	if !ok {
		sr.fw.logger.Warn("registered hook does not implement hook interface",
			"service.id", ref.ID(), "interface", ref.InterfaceName())
		return
	}
	defer func() {
		if r := recover(); r != nil {
			sr.fw.hub.dispatchFrameworkEvent(FrameworkEvent{
				Type:    FrameworkEventError,
				Message: "hook failure",
				Bundle:  ref.Bundle(),
				Err:     fmt.Errorf("hook panicked: %v", r),
			})
		}
	}()
	fn(hook)
}

// consultFindHooks runs the registered find hooks over a lookup result.
func (sr *serviceRegistry) consultFindHooks(requester *BundleContext, name string, filter *Filter, refs []ServiceReference) []ServiceReference {
	hooks := sr.hookRegistrations(FindHookInterface)
	if len(hooks) == 0 {
		return refs
	}
	view := &Shrinkable[ServiceReference]{items: refs}
	filterExpr := ""
	if filter != nil {
		filterExpr = filter.String()
	}
	for _, hookRef := range hooks {
		invokeHook(sr, hookRef, func(hook FindHook) {
			hook.Find(requester, name, filterExpr, view)
		})
	}
	return view.items
}

// consultBundleFindHooks runs the registered bundle find hooks over a
// GetBundles result.
func (sr *serviceRegistry) consultBundleFindHooks(requester *BundleContext, bundles []*Bundle) []*Bundle {
	hooks := sr.hookRegistrations(BundleFindHookInterface)
	if len(hooks) == 0 {
		return bundles
	}
	view := &Shrinkable[*Bundle]{items: bundles}
	for _, hookRef := range hooks {
		invokeHook(sr, hookRef, func(hook BundleFindHook) {
			hook.Find(requester, view)
		})
	}
	return view.items
}

// consultEventListenerHooks returns the set of listener contexts the
// registered event listener hooks chose to hide the event from.
func (sr *serviceRegistry) consultEventListenerHooks(ev ServiceEvent, contexts []*BundleContext) map[*BundleContext]bool {
	hooks := sr.hookRegistrations(EventListenerHookInterface)
	if len(hooks) == 0 {
		return nil
	}
	view := &Shrinkable[*BundleContext]{items: append([]*BundleContext(nil), contexts...)}
	for _, hookRef := range hooks {
		invokeHook(sr, hookRef, func(hook EventListenerHook) {
			hook.Event(ev, view)
		})
	}
	return hiddenSet(contexts, view.items)
}

// consultBundleEventHooks returns the set of listener contexts the
// registered bundle event hooks chose to hide the event from.
func (sr *serviceRegistry) consultBundleEventHooks(ev BundleEvent, contexts []*BundleContext) map[*BundleContext]bool {
	hooks := sr.hookRegistrations(BundleEventHookInterface)
	if len(hooks) == 0 {
		return nil
	}
	view := &Shrinkable[*BundleContext]{items: append([]*BundleContext(nil), contexts...)}
	for _, hookRef := range hooks {
		invokeHook(sr, hookRef, func(hook BundleEventHook) {
			hook.Event(ev, view)
		})
	}
	return hiddenSet(contexts, view.items)
}

// hiddenSet computes which of the original contexts were removed from
// the surviving view.
func hiddenSet(original, surviving []*BundleContext) map[*BundleContext]bool {
	kept := make(map[*BundleContext]bool, len(surviving))
	for _, ctx := range surviving {
		kept[ctx] = true
	}
	hidden := make(map[*BundleContext]bool)
	for _, ctx := range original {
		if !kept[ctx] {
			hidden[ctx] = true
		}
	}
	return hidden
}
