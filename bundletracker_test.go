package gosgi

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bundleTally struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (b *bundleTally) AddingBundle(bundle *Bundle, _ BundleEvent) Any {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.added = append(b.added, bundle.SymbolicName())
	return bundle.SymbolicName()
}

func (b *bundleTally) ModifiedBundle(*Bundle, BundleEvent, Any) {}

func (b *bundleTally) RemovedBundle(bundle *Bundle, _ BundleEvent, _ Any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, bundle.SymbolicName())
}

func (b *bundleTally) snapshot() ([]string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.added...), append([]string(nil), b.removed...)
}

func TestBundleTracker_TracksActiveBundles(t *testing.T) {
	fw := newTestFramework(t)
	observer := startBundle(t, fw, "observer")

	tally := &bundleTally{}
	tracker := NewBundleTracker(observer, StateMask(StateActive), tally)
	require.NoError(t, tracker.Open())
	defer tracker.Close()

	// The observer bundle and the system bundle are already active.
	baseline := tracker.Size()
	require.GreaterOrEqual(t, baseline, 2)

	worker := installBundle(t, fw, "worker", nil)
	assert.Equal(t, baseline, tracker.Size(), "resolved bundles do not match the mask")

	require.NoError(t, worker.Start())
	assert.Equal(t, baseline+1, tracker.Size())
	v, ok := tracker.GetObject(worker)
	require.True(t, ok)
	assert.Equal(t, "worker", v)

	require.NoError(t, worker.Stop())
	assert.Equal(t, baseline, tracker.Size())
	_, removed := tally.snapshot()
	assert.Contains(t, removed, "worker")
}

func TestBundleTracker_MaskSpansStates(t *testing.T) {
	fw := newTestFramework(t)
	observer := startBundle(t, fw, "observer")

	tracker := NewBundleTracker(observer, StateMask(StateInstalled, StateResolved, StateActive), nil)
	require.NoError(t, tracker.Open())
	defer tracker.Close()

	before := tracker.Size()
	worker := installBundle(t, fw, "worker", nil)
	assert.Equal(t, before+1, tracker.Size())

	require.NoError(t, worker.Start())
	require.NoError(t, worker.Stop())
	assert.Equal(t, before+1, tracker.Size(), "the bundle stays tracked across matching states")

	require.NoError(t, worker.Uninstall())
	assert.Equal(t, before, tracker.Size(), "uninstall leaves the mask")

	bundles := tracker.GetBundles()
	for _, b := range bundles {
		assert.NotEqual(t, worker.ID(), b.ID())
	}
}

func TestBundleTracker_TrackingCountGrows(t *testing.T) {
	fw := newTestFramework(t)
	observer := startBundle(t, fw, "observer")

	tracker := NewBundleTracker(observer, StateMask(StateActive), nil)
	assert.Equal(t, int64(-1), tracker.GetTrackingCount())
	require.NoError(t, tracker.Open())
	defer tracker.Close()

	before := tracker.GetTrackingCount()
	worker := installBundle(t, fw, "worker", nil)
	require.NoError(t, worker.Start())
	afterStart := tracker.GetTrackingCount()
	assert.Greater(t, afterStart, before)

	require.NoError(t, worker.Stop())
	assert.Greater(t, tracker.GetTrackingCount(), afterStart)
	tracker.WaitForCustomizersToFinish()
}
