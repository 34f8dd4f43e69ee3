package gosgi

import (
	"sort"
	"sync"
)

// BundleStateMask selects the bundle states a BundleTracker is
// interested in.
type BundleStateMask uint32

// StateMask builds a mask from the given states.
func StateMask(states ...BundleState) BundleStateMask {
	var mask BundleStateMask
	for _, s := range states {
		mask |= 1 << uint(s)
	}
	return mask
}

// Contains reports whether the mask selects the state.
func (m BundleStateMask) Contains(s BundleState) bool {
	return m&(1<<uint(s)) != 0
}

// BundleTrackerCustomizer customizes the objects a BundleTracker holds.
// AddingBundle returns the value to associate with a newly tracked
// bundle; returning nil skips tracking it. Callbacks run with no tracker
// lock held.
type BundleTrackerCustomizer interface {
	AddingBundle(bundle *Bundle, event BundleEvent) Any
	ModifiedBundle(bundle *Bundle, event BundleEvent, object Any)
	RemovedBundle(bundle *Bundle, event BundleEvent, object Any)
}

// BundleTracker mirrors the set of bundles whose state matches a mask,
// reconciling an initial snapshot with live bundle events.
type BundleTracker struct {
	ctx        *BundleContext
	mask       BundleStateMask
	customizer BundleTrackerCustomizer

	core *trackedCore[*Bundle, Any]

	mu     sync.Mutex
	opened bool
	token  ListenerToken
}

// NewBundleTracker tracks bundles whose state is selected by the mask.
// A nil customizer tracks the bundles themselves.
func NewBundleTracker(ctx *BundleContext, mask BundleStateMask, customizer BundleTrackerCustomizer) *BundleTracker {
	return &BundleTracker{ctx: ctx, mask: mask, customizer: customizer}
}

// trackBundles is the nil-customizer default: the tracked value is the
// bundle itself.
type trackBundles struct{}

func (trackBundles) AddingBundle(b *Bundle, _ BundleEvent) Any { return b }
func (trackBundles) ModifiedBundle(*Bundle, BundleEvent, Any)  {}
func (trackBundles) RemovedBundle(*Bundle, BundleEvent, Any)   {}

// Open arms the tracker: it registers the bundle listener, then seeds
// the map from the current bundle snapshot.
func (bt *BundleTracker) Open() error {
	bt.mu.Lock()
	if bt.opened {
		bt.mu.Unlock()
		return nil
	}
	bt.core = newTrackedCore[*Bundle, Any]()
	if bt.customizer == nil {
		bt.customizer = trackBundles{}
	}
	token, err := bt.ctx.AddBundleListenerWithData(bt.bundleChanged, bt)
	if err != nil {
		bt.mu.Unlock()
		return err
	}
	bt.token = token
	bt.opened = true
	bt.mu.Unlock()

	for _, b := range bt.ctx.Framework().GetBundles() {
		if !bt.mask.Contains(b.State()) {
			continue
		}
		ev := BundleEvent{Type: BundleEventInstalled, Bundle: b}
		bt.track(b, ev)
	}
	return nil
}

// bundleChanged classifies a bundle event against the mask and the
// current map: still-matching bundles are added or modified, the rest
// removed.
func (bt *BundleTracker) bundleChanged(ev BundleEvent) {
	if bt.core == nil || ev.Bundle == nil {
		return
	}
	if bt.mask.Contains(ev.Bundle.State()) {
		bt.track(ev.Bundle, ev)
	} else {
		bt.core.untrack(ev.Bundle, func(v Any) { bt.customizer.RemovedBundle(ev.Bundle, ev, v) })
	}
}

func (bt *BundleTracker) track(b *Bundle, ev BundleEvent) {
	bt.core.track(b,
		func() (Any, bool) { v := bt.customizer.AddingBundle(b, ev); return v, v != nil },
		func(v Any) { bt.customizer.ModifiedBundle(b, ev, v) })
}

// Close disconnects the tracker from events, drains in-flight
// customizer calls and invokes RemovedBundle for each remaining entry.
func (bt *BundleTracker) Close() {
	bt.mu.Lock()
	if !bt.opened {
		bt.mu.Unlock()
		return
	}
	bt.opened = false
	token := bt.token
	bt.mu.Unlock()

	bt.ctx.RemoveListener(token)
	remaining := bt.core.close()
	bundles := make([]*Bundle, 0, len(remaining))
	for b := range remaining {
		bundles = append(bundles, b)
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].ID() < bundles[j].ID() })
	for _, b := range bundles {
		bt.customizer.RemovedBundle(b, BundleEvent{Type: BundleEventUnresolved, Bundle: b}, remaining[b])
	}
}

// GetBundles returns the tracked bundles ordered by id.
func (bt *BundleTracker) GetBundles() []*Bundle {
	if bt.core == nil {
		return nil
	}
	bundles := bt.core.items()
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].ID() < bundles[j].ID() })
	return bundles
}

// GetObject returns the customized value for a tracked bundle.
func (bt *BundleTracker) GetObject(b *Bundle) (Any, bool) {
	if bt.core == nil {
		return nil, false
	}
	return bt.core.value(b)
}

// Size returns the number of tracked bundles.
func (bt *BundleTracker) Size() int {
	if bt.core == nil {
		return 0
	}
	return bt.core.size()
}

// GetTrackingCount returns the tracker's modification counter, -1
// before Open.
func (bt *BundleTracker) GetTrackingCount() int64 {
	if bt.core == nil {
		return -1
	}
	return bt.core.count()
}

// WaitForCustomizersToFinish blocks until no customizer call is in
// flight.
func (bt *BundleTracker) WaitForCustomizersToFinish() {
	if bt.core != nil {
		bt.core.waitForCustomizers()
	}
}
