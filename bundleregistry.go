package gosgi

import (
	"sort"
	"sync"
)

// bundleRegistry owns the bundle table: install-order id assignment,
// identity lookup, and the installed/uninstalled split. Guarded by its
// own mutex, acquired after any bundle-state mutex and before the
// service-registry mutex.
type bundleRegistry struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*Bundle
}

func newBundleRegistry() *bundleRegistry {
	return &bundleRegistry{byID: make(map[int64]*Bundle)}
}

// addSystemBundle stores the system bundle under its fixed id 0.
func (br *bundleRegistry) addSystemBundle(b *Bundle) {
	br.mu.Lock()
	defer br.mu.Unlock()
	br.byID[0] = b
}

// install assigns the next bundle id and stores the bundle.
func (br *bundleRegistry) install(b *Bundle) int64 {
	br.mu.Lock()
	defer br.mu.Unlock()
	br.nextID++
	b.id = br.nextID
	br.byID[b.id] = b
	return b.id
}

// get resolves a bundle by id, including uninstalled ones so late
// queries still resolve identity.
func (br *bundleRegistry) get(id int64) *Bundle {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.byID[id]
}

// findByLocation returns the installed bundle with the given location,
// or nil. Install is idempotent per location.
func (br *bundleRegistry) findByLocation(location string) *Bundle {
	br.mu.Lock()
	defer br.mu.Unlock()
	for _, b := range br.byID {
		if b.location == location && b.State() != StateUninstalled {
			return b
		}
	}
	return nil
}

// list returns the non-uninstalled bundles ordered by id.
func (br *bundleRegistry) list() []*Bundle {
	br.mu.Lock()
	out := make([]*Bundle, 0, len(br.byID))
	for _, b := range br.byID {
		out = append(out, b)
	}
	br.mu.Unlock()

	filtered := out[:0]
	for _, b := range out {
		if b.State() != StateUninstalled {
			filtered = append(filtered, b)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].id < filtered[j].id })
	return filtered
}
