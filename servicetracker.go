package gosgi

import (
	"sort"
	"sync"
)

// ServiceTrackerCustomizer customizes the objects a ServiceTracker
// holds. AddingService returns the value to associate with a newly
// tracked reference; returning nil skips tracking it. Callbacks run on
// the thread delivering the triggering event, with no tracker lock held,
// so they may call back into the framework.
type ServiceTrackerCustomizer interface {
	AddingService(ref ServiceReference) Any
	ModifiedService(ref ServiceReference, object Any)
	RemovedService(ref ServiceReference, object Any)
}

// defaultServiceCustomizer tracks the service instance itself: Adding
// gets the service through the tracker's context and Removed releases
// the handle.
type defaultServiceCustomizer struct {
	ctx     *BundleContext
	mu      sync.Mutex
	handles map[int64]*ServiceHandle
}

func (d *defaultServiceCustomizer) AddingService(ref ServiceReference) Any {
	handle, err := d.ctx.GetService(ref)
	if err != nil {
		return nil
	}
	d.mu.Lock()
	d.handles[ref.ID()] = handle
	d.mu.Unlock()
	return handle.Instance()
}

func (d *defaultServiceCustomizer) ModifiedService(ServiceReference, Any) {}

func (d *defaultServiceCustomizer) RemovedService(ref ServiceReference, _ Any) {
	d.mu.Lock()
	handle := d.handles[ref.ID()]
	delete(d.handles, ref.ID())
	d.mu.Unlock()
	if handle != nil {
		handle.Release()
	}
}

// ServiceTracker mirrors the subset of the service registry matching an
// interface name or filter, reconciling an initial snapshot with live
// service events. It presents a consistent view under concurrent
// registry mutation.
type ServiceTracker struct {
	ctx        *BundleContext
	iface      string
	filter     *Filter
	customizer ServiceTrackerCustomizer

	core *trackedCore[ServiceReference, Any]

	mu     sync.Mutex
	opened bool
	token  ListenerToken
}

// NewServiceTracker tracks every service registered under the given
// interface name. A nil customizer tracks the service instances
// themselves, getting and releasing them as registrations come and go.
func NewServiceTracker(ctx *BundleContext, iface string, customizer ServiceTrackerCustomizer) *ServiceTracker {
	return &ServiceTracker{
		ctx:        ctx,
		iface:      iface,
		customizer: customizer,
	}
}

// NewServiceTrackerFilter tracks every service matching the filter.
func NewServiceTrackerFilter(ctx *BundleContext, filter *Filter, customizer ServiceTrackerCustomizer) *ServiceTracker {
	return &ServiceTracker{
		ctx:        ctx,
		filter:     filter,
		customizer: customizer,
	}
}

func (st *ServiceTracker) filterExpr() string {
	if st.filter != nil {
		return st.filter.String()
	}
	return "(" + PropObjectClass + "=" + st.iface + ")"
}

// Open arms the tracker: it registers the service listener, then
// iterates the current snapshot of matching references and dispatches
// each through AddingService. Events arriving between the two steps are
// reconciled by classification against the tracked map.
func (st *ServiceTracker) Open() error {
	st.mu.Lock()
	if st.opened {
		st.mu.Unlock()
		return nil
	}
	st.core = newTrackedCore[ServiceReference, Any]()
	if st.customizer == nil {
		st.customizer = &defaultServiceCustomizer{ctx: st.ctx, handles: make(map[int64]*ServiceHandle)}
	}
	token, err := st.ctx.AddServiceListenerWithData(st.serviceChanged, st, st.filterExpr())
	if err != nil {
		st.mu.Unlock()
		return err
	}
	st.token = token
	st.opened = true
	st.mu.Unlock()

	refs, err := st.ctx.GetServiceReferences(st.iface, st.filterExprForLookup())
	if err != nil {
		return err
	}
	for _, ref := range refs {
		st.core.track(ref,
			func() (Any, bool) { v := st.customizer.AddingService(ref); return v, v != nil },
			func(v Any) { st.customizer.ModifiedService(ref, v) })
	}
	return nil
}

// filterExprForLookup returns the filter to use for the initial
// snapshot; when tracking by interface the objectclass containment is
// already applied by the lookup itself.
func (st *ServiceTracker) filterExprForLookup() string {
	if st.filter != nil {
		return st.filter.String()
	}
	return ""
}

// serviceChanged is the listener connected to service events. It must
// not hold the tracker lock while invoking customizer callbacks.
func (st *ServiceTracker) serviceChanged(ev ServiceEvent) {
	if st.core == nil {
		return
	}
	ref := ev.Reference
	switch ev.Type {
	case ServiceEventRegistered, ServiceEventModified:
		st.core.track(ref,
			func() (Any, bool) { v := st.customizer.AddingService(ref); return v, v != nil },
			func(v Any) { st.customizer.ModifiedService(ref, v) })
	case ServiceEventModifiedEndmatch, ServiceEventUnregistering:
		st.core.untrack(ref, func(v Any) { st.customizer.RemovedService(ref, v) })
	}
}

// Close disconnects the tracker from events, drains in-flight
// customizer calls and invokes RemovedService for each remaining entry.
func (st *ServiceTracker) Close() {
	st.mu.Lock()
	if !st.opened {
		st.mu.Unlock()
		return
	}
	st.opened = false
	token := st.token
	st.mu.Unlock()

	st.ctx.RemoveListener(token)
	remaining := st.core.close()
	// Removed callbacks run in a deterministic order for reproducibility.
	refs := make([]ServiceReference, 0, len(remaining))
	for ref := range remaining {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID() < refs[j].ID() })
	for _, ref := range refs {
		st.customizer.RemovedService(ref, remaining[ref])
	}
}

// GetServiceReferences returns the tracked references, best-first.
func (st *ServiceTracker) GetServiceReferences() []ServiceReference {
	if st.core == nil {
		return nil
	}
	refs := st.core.items()
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	return refs
}

// GetService returns the customized value for the best tracked
// reference, or nil when nothing is tracked.
func (st *ServiceTracker) GetService() Any {
	refs := st.GetServiceReferences()
	if len(refs) == 0 {
		return nil
	}
	v, _ := st.core.value(refs[0])
	return v
}

// GetServiceFor returns the customized value for a specific reference.
func (st *ServiceTracker) GetServiceFor(ref ServiceReference) (Any, bool) {
	if st.core == nil {
		return nil, false
	}
	return st.core.value(ref)
}

// GetServices returns the customized values for all tracked references,
// best-first.
func (st *ServiceTracker) GetServices() []Any {
	refs := st.GetServiceReferences()
	out := make([]Any, 0, len(refs))
	for _, ref := range refs {
		if v, ok := st.core.value(ref); ok {
			out = append(out, v)
		}
	}
	return out
}

// Size returns the number of tracked services.
func (st *ServiceTracker) Size() int {
	if st.core == nil {
		return 0
	}
	return st.core.size()
}

// IsEmpty reports whether nothing is tracked.
func (st *ServiceTracker) IsEmpty() bool {
	return st.Size() == 0
}

// GetTrackingCount returns the tracker's modification counter: it
// increments on every add, modify and remove, never decreases, and is -1
// before Open. Comparing two observations answers "has anything changed
// since I last looked?".
func (st *ServiceTracker) GetTrackingCount() int64 {
	if st.core == nil {
		return -1
	}
	return st.core.count()
}

// WaitForCustomizersToFinish blocks until no customizer call is in
// flight.
func (st *ServiceTracker) WaitForCustomizersToFinish() {
	if st.core != nil {
		st.core.waitForCustomizers()
	}
}
