package gosgi

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// listenerHub owns the per-kind listener tables and performs synchronous
// event dispatch. Dispatch takes a snapshot of the matching listeners
// under the table lock, releases the lock, then invokes each listener in
// registration order, so listeners may re-enter the framework freely.
type listenerHub struct {
	fw *Framework

	nextToken atomic.Int64

	bundleMu        sync.Mutex
	bundleListeners []*bundleListenerEntry

	serviceMu        sync.Mutex
	serviceListeners []*serviceListenerEntry

	frameworkMu        sync.Mutex
	frameworkListeners []*frameworkListenerEntry
}

type bundleListenerEntry struct {
	token ListenerToken
	owner *BundleContext
	fn    BundleListener
	fnPtr uintptr
	data  any
}

type serviceListenerEntry struct {
	token  ListenerToken
	owner  *BundleContext
	fn     ServiceListener
	fnPtr  uintptr
	data   any
	filter *Filter
}

type frameworkListenerEntry struct {
	token ListenerToken
	owner *BundleContext
	fn    FrameworkListener
	fnPtr uintptr
	data  any
}

func newListenerHub(fw *Framework) *listenerHub {
	return &listenerHub{fw: fw}
}

func (h *listenerHub) allocToken() ListenerToken {
	return ListenerToken(h.nextToken.Add(1))
}

func funcPointer(fn any) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// sameData compares listener data values: comparable types (pointers,
// strings, numbers) compare directly, so two distinct pointers are two
// distinct listeners even when they point at equal values.
func sameData(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// addBundleListener registers fn on the owner context. Re-adding the same
// (callable, data) pair on one context is idempotent and returns the
// existing token.
func (h *listenerHub) addBundleListener(owner *BundleContext, fn BundleListener, data any) ListenerToken {
	ptr := funcPointer(fn)
	h.bundleMu.Lock()
	defer h.bundleMu.Unlock()
	for _, e := range h.bundleListeners {
		if e.owner == owner && e.fnPtr == ptr && sameData(e.data, data) {
			return e.token
		}
	}
	entry := &bundleListenerEntry{token: h.allocToken(), owner: owner, fn: fn, fnPtr: ptr, data: data}
	h.bundleListeners = append(h.bundleListeners, entry)
	return entry.token
}

// addServiceListener registers fn with an optional filter. Re-adding the
// same (callable, data) pair replaces the filter and keeps the token.
func (h *listenerHub) addServiceListener(owner *BundleContext, fn ServiceListener, data any, filter *Filter) ListenerToken {
	ptr := funcPointer(fn)
	h.serviceMu.Lock()
	defer h.serviceMu.Unlock()
	for _, e := range h.serviceListeners {
		if e.owner == owner && e.fnPtr == ptr && sameData(e.data, data) {
			e.filter = filter
			return e.token
		}
	}
	entry := &serviceListenerEntry{token: h.allocToken(), owner: owner, fn: fn, fnPtr: ptr, data: data, filter: filter}
	h.serviceListeners = append(h.serviceListeners, entry)
	return entry.token
}

func (h *listenerHub) addFrameworkListener(owner *BundleContext, fn FrameworkListener, data any) ListenerToken {
	ptr := funcPointer(fn)
	h.frameworkMu.Lock()
	defer h.frameworkMu.Unlock()
	for _, e := range h.frameworkListeners {
		if e.owner == owner && e.fnPtr == ptr && sameData(e.data, data) {
			return e.token
		}
	}
	entry := &frameworkListenerEntry{token: h.allocToken(), owner: owner, fn: fn, fnPtr: ptr, data: data}
	h.frameworkListeners = append(h.frameworkListeners, entry)
	return entry.token
}

// removeBundleListener removes by (callable, data) pair. Removing an
// unknown listener is a no-op.
func (h *listenerHub) removeBundleListener(owner *BundleContext, fn BundleListener, data any) {
	ptr := funcPointer(fn)
	h.bundleMu.Lock()
	defer h.bundleMu.Unlock()
	for i, e := range h.bundleListeners {
		if e.owner == owner && e.fnPtr == ptr && sameData(e.data, data) {
			h.bundleListeners = append(h.bundleListeners[:i], h.bundleListeners[i+1:]...)
			return
		}
	}
}

func (h *listenerHub) removeServiceListener(owner *BundleContext, fn ServiceListener, data any) {
	ptr := funcPointer(fn)
	h.serviceMu.Lock()
	defer h.serviceMu.Unlock()
	for i, e := range h.serviceListeners {
		if e.owner == owner && e.fnPtr == ptr && sameData(e.data, data) {
			h.serviceListeners = append(h.serviceListeners[:i], h.serviceListeners[i+1:]...)
			return
		}
	}
}

func (h *listenerHub) removeFrameworkListener(owner *BundleContext, fn FrameworkListener, data any) {
	ptr := funcPointer(fn)
	h.frameworkMu.Lock()
	defer h.frameworkMu.Unlock()
	for i, e := range h.frameworkListeners {
		if e.owner == owner && e.fnPtr == ptr && sameData(e.data, data) {
			h.frameworkListeners = append(h.frameworkListeners[:i], h.frameworkListeners[i+1:]...)
			return
		}
	}
}

// removeToken removes a listener of any kind by its token. Unknown tokens
// are ignored.
func (h *listenerHub) removeToken(token ListenerToken) {
	h.bundleMu.Lock()
	for i, e := range h.bundleListeners {
		if e.token == token {
			h.bundleListeners = append(h.bundleListeners[:i], h.bundleListeners[i+1:]...)
			h.bundleMu.Unlock()
			return
		}
	}
	h.bundleMu.Unlock()

	h.serviceMu.Lock()
	for i, e := range h.serviceListeners {
		if e.token == token {
			h.serviceListeners = append(h.serviceListeners[:i], h.serviceListeners[i+1:]...)
			h.serviceMu.Unlock()
			return
		}
	}
	h.serviceMu.Unlock()

	h.frameworkMu.Lock()
	for i, e := range h.frameworkListeners {
		if e.token == token {
			h.frameworkListeners = append(h.frameworkListeners[:i], h.frameworkListeners[i+1:]...)
			h.frameworkMu.Unlock()
			return
		}
	}
	h.frameworkMu.Unlock()
}

// removeContext drops every listener registered through the given
// context. Called when a bundle context is invalidated.
func (h *listenerHub) removeContext(ctx *BundleContext) {
	h.bundleMu.Lock()
	kept := h.bundleListeners[:0]
	for _, e := range h.bundleListeners {
		if e.owner != ctx {
			kept = append(kept, e)
		}
	}
	h.bundleListeners = kept
	h.bundleMu.Unlock()

	h.serviceMu.Lock()
	keptS := h.serviceListeners[:0]
	for _, e := range h.serviceListeners {
		if e.owner != ctx {
			keptS = append(keptS, e)
		}
	}
	h.serviceListeners = keptS
	h.serviceMu.Unlock()

	h.frameworkMu.Lock()
	keptF := h.frameworkListeners[:0]
	for _, e := range h.frameworkListeners {
		if e.owner != ctx {
			keptF = append(keptF, e)
		}
	}
	h.frameworkListeners = keptF
	h.frameworkMu.Unlock()
}

// dispatchBundleEvent delivers ev to every bundle listener, after letting
// registered bundle event hooks hide the event from specific contexts.
func (h *listenerHub) dispatchBundleEvent(ev BundleEvent) {
	h.bundleMu.Lock()
	snapshot := make([]*bundleListenerEntry, len(h.bundleListeners))
	copy(snapshot, h.bundleListeners)
	h.bundleMu.Unlock()

	hidden := h.fw.registry.consultBundleEventHooks(ev, listenerContexts(snapshot))
	for _, e := range snapshot {
		if hidden[e.owner] {
			continue
		}
		h.invokeBundleListener(e, ev)
	}
}

func listenerContexts[E interface{ context() *BundleContext }](entries []E) []*BundleContext {
	seen := make(map[*BundleContext]bool, len(entries))
	out := make([]*BundleContext, 0, len(entries))
	for _, e := range entries {
		ctx := e.context()
		if ctx != nil && !seen[ctx] {
			seen[ctx] = true
			out = append(out, ctx)
		}
	}
	return out
}

func (e *bundleListenerEntry) context() *BundleContext    { return e.owner }
func (e *serviceListenerEntry) context() *BundleContext   { return e.owner }
func (e *frameworkListenerEntry) context() *BundleContext { return e.owner }

// dispatchServiceEvent delivers ev to service listeners whose filter
// matches the event's property snapshot. For modified events, oldProps
// carries the pre-mutation snapshot: listeners whose filter matched the
// old properties but not the new ones receive modified-endmatch instead.
func (h *listenerHub) dispatchServiceEvent(ev ServiceEvent, oldProps AnyMap) {
	h.serviceMu.Lock()
	snapshot := make([]*serviceListenerEntry, len(h.serviceListeners))
	copy(snapshot, h.serviceListeners)
	h.serviceMu.Unlock()

	hidden := h.fw.registry.consultEventListenerHooks(ev, listenerContexts(snapshot))
	for _, e := range snapshot {
		if hidden[e.owner] {
			continue
		}
		matchesNew := e.filter == nil || e.filter.Match(ev.props)
		switch {
		case matchesNew:
			h.invokeServiceListener(e, ev)
		case ev.Type == ServiceEventModified && oldProps != nil && e.filter.Match(oldProps):
			endmatch := ServiceEvent{
				Type:      ServiceEventModifiedEndmatch,
				Reference: ev.Reference,
				props:     oldProps,
			}
			h.invokeServiceListener(e, endmatch)
		}
	}
}

// dispatchFrameworkEvent delivers ev to every framework listener.
func (h *listenerHub) dispatchFrameworkEvent(ev FrameworkEvent) {
	h.frameworkMu.Lock()
	snapshot := make([]*frameworkListenerEntry, len(h.frameworkListeners))
	copy(snapshot, h.frameworkListeners)
	h.frameworkMu.Unlock()

	for _, e := range snapshot {
		h.invokeFrameworkListener(e, ev)
	}
}

func (h *listenerHub) invokeBundleListener(e *bundleListenerEntry, ev BundleEvent) {
	defer h.recoverListenerPanic("bundle", false)
	e.fn(ev)
}

func (h *listenerHub) invokeServiceListener(e *serviceListenerEntry, ev ServiceEvent) {
	defer h.recoverListenerPanic("service", false)
	e.fn(ev)
}

func (h *listenerHub) invokeFrameworkListener(e *frameworkListenerEntry, ev FrameworkEvent) {
	// A panic here must not trigger another framework event: that would
	// recurse straight back into this dispatch path.
	defer h.recoverListenerPanic("framework", true)
	e.fn(ev)
}

// recoverListenerPanic contains a listener panic: it is logged and, unless
// logOnly is set, reported as a FrameworkEvent(error); it must not prevent
// subsequent listeners from running.
func (h *listenerHub) recoverListenerPanic(kind string, logOnly bool) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("%s listener panicked: %v", kind, r)
	h.fw.logger.Error("listener failure contained", "kind", kind, "error", err)
	if !logOnly {
		h.dispatchFrameworkEvent(FrameworkEvent{
			Type:    FrameworkEventError,
			Message: "listener failure",
			Err:     err,
		})
	}
}
