package gosgi

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

// BundleContext is a bundle's capability handle into the framework,
// valid only while the bundle is STARTING, ACTIVE or STOPPING. Operations
// that register, look up, get or install are guarded by a validity check
// and fail with ErrContextInvalid on an invalidated context (GetBundles
// returns nil instead). Bundle, Framework, GetBundle and the Remove*
// listener calls are not checked.
//
// The context holds a non-owning back-reference to its bundle and tracks
// the listeners and service handles obtained through it, so invalidation
// can release everything attributable to the bundle.
type BundleContext struct {
	bundle *Bundle
	valid  atomic.Bool

	handleMu sync.Mutex
	handles  map[*ServiceHandle]struct{}
}

func newBundleContext(b *Bundle) *BundleContext {
	ctx := &BundleContext{
		bundle:  b,
		handles: make(map[*ServiceHandle]struct{}),
	}
	ctx.valid.Store(true)
	return ctx
}

func (c *BundleContext) isValid() bool {
	return c.valid.Load()
}

func (c *BundleContext) invalidate() {
	c.valid.Store(false)
}

func (c *BundleContext) checkValid() error {
	if !c.valid.Load() {
		return ErrContextInvalid
	}
	return nil
}

// Bundle returns the bundle this context belongs to. Unlike the other
// accessors this stays usable after invalidation, for identity purposes.
func (c *BundleContext) Bundle() *Bundle {
	return c.bundle
}

// Framework returns the hosting framework.
func (c *BundleContext) Framework() *Framework {
	return c.bundle.fw
}

// RegisterService registers object under the given interface names with
// singleton semantics unless props carries a different service.scope.
// The same object backs every declared interface.
func (c *BundleContext) RegisterService(interfaces []string, object Any, props AnyMap) (*ServiceRegistration, error) {
	if err := c.checkValid(); err != nil {
		return nil, err
	}
	if object == nil {
		return nil, ErrNilService
	}
	objects := make(InterfaceMap, len(interfaces))
	for _, name := range interfaces {
		objects[name] = object
	}
	return c.bundle.fw.registry.register(c.bundle, interfaces, objects, nil, props)
}

// RegisterServiceMap registers one object per interface name. Every key
// of the map becomes a declared interface.
func (c *BundleContext) RegisterServiceMap(objects InterfaceMap, props AnyMap) (*ServiceRegistration, error) {
	if err := c.checkValid(); err != nil {
		return nil, err
	}
	interfaces := make([]string, 0, len(objects))
	for name := range objects {
		interfaces = append(interfaces, name)
	}
	sort.Strings(interfaces)
	return c.bundle.fw.registry.register(c.bundle, interfaces, objects, nil, props)
}

// RegisterServiceFactory registers a factory-backed service. The
// registration's scope (service.scope in props, default singleton)
// governs how often the factory runs.
func (c *BundleContext) RegisterServiceFactory(interfaces []string, factory ServiceFactory, props AnyMap) (*ServiceRegistration, error) {
	if err := c.checkValid(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, ErrNilService
	}
	return c.bundle.fw.registry.register(c.bundle, interfaces, nil, factory, props)
}

// GetServiceReferences returns all references exposing the interface
// name (every service when name is empty) that match the filter
// expression, best-first. Registered find hooks may hide references.
func (c *BundleContext) GetServiceReferences(name, filterExpr string) ([]ServiceReference, error) {
	if err := c.checkValid(); err != nil {
		return nil, err
	}
	var filter *Filter
	if filterExpr != "" {
		parsed, err := ParseFilter(filterExpr)
		if err != nil {
			return nil, err
		}
		filter = parsed
	}
	return c.bundle.fw.registry.find(c, name, filter), nil
}

// GetServiceReference returns the best reference for the interface name:
// highest service.ranking, ties broken by lowest service.id.
func (c *BundleContext) GetServiceReference(name string) (ServiceReference, error) {
	refs, err := c.GetServiceReferences(name, "")
	if err != nil {
		return ServiceReference{}, err
	}
	if len(refs) == 0 {
		return ServiceReference{}, fmt.Errorf("%w: interface %q", ErrServiceNotFound, name)
	}
	return refs[0], nil
}

// GetService obtains the service named by ref as a scoped handle whose
// Release performs the matching unget. Handles left unreleased are
// released when this context is invalidated.
func (c *BundleContext) GetService(ref ServiceReference) (*ServiceHandle, error) {
	if err := c.checkValid(); err != nil {
		return nil, err
	}
	if ref.IsNil() {
		return nil, ErrInvalidReference
	}
	instance, release, err := c.bundle.fw.registry.getService(c.bundle, ref)
	if err != nil {
		return nil, err
	}
	handle := &ServiceHandle{instance: instance, ref: ref, owner: c, release: release}
	c.handleMu.Lock()
	if c.handles != nil {
		c.handles[handle] = struct{}{}
	}
	c.handleMu.Unlock()
	return handle, nil
}

// GetServiceObjects returns an accessor for obtaining multiple,
// independently released instances of the referenced service.
func (c *BundleContext) GetServiceObjects(ref ServiceReference) (*ServiceObjects, error) {
	if err := c.checkValid(); err != nil {
		return nil, err
	}
	if ref.IsNil() {
		return nil, ErrInvalidReference
	}
	return &ServiceObjects{ctx: c, ref: ref}, nil
}

func (c *BundleContext) forgetHandle(h *ServiceHandle) {
	c.handleMu.Lock()
	delete(c.handles, h)
	c.handleMu.Unlock()
}

// releaseHandles performs the unget for every handle still outstanding.
// Called during context teardown.
func (c *BundleContext) releaseHandles() {
	c.handleMu.Lock()
	outstanding := make([]*ServiceHandle, 0, len(c.handles))
	for h := range c.handles {
		outstanding = append(outstanding, h)
	}
	c.handles = make(map[*ServiceHandle]struct{})
	c.handleMu.Unlock()
	for _, h := range outstanding {
		h.releaseWithoutUntrack()
	}
}

// AddBundleListener registers a bundle listener. Returns a token usable
// with RemoveListener.
func (c *BundleContext) AddBundleListener(fn BundleListener) (ListenerToken, error) {
	return c.AddBundleListenerWithData(fn, nil)
}

// AddBundleListenerWithData registers a bundle listener keyed by the
// (callable, data) pair. Re-adding the same pair is idempotent.
func (c *BundleContext) AddBundleListenerWithData(fn BundleListener, data any) (ListenerToken, error) {
	if err := c.checkValid(); err != nil {
		return 0, err
	}
	return c.bundle.fw.hub.addBundleListener(c, fn, data), nil
}

// AddServiceListener registers a service listener with an optional LDAP
// filter expression ("" for no filter). Re-adding the same callable
// replaces the filter.
func (c *BundleContext) AddServiceListener(fn ServiceListener, filterExpr string) (ListenerToken, error) {
	return c.AddServiceListenerWithData(fn, nil, filterExpr)
}

// AddServiceListenerWithData registers a service listener keyed by the
// (callable, data) pair. Callable identity is the function's code
// pointer, so method values of the same method need distinct data values
// to register independently.
func (c *BundleContext) AddServiceListenerWithData(fn ServiceListener, data any, filterExpr string) (ListenerToken, error) {
	if err := c.checkValid(); err != nil {
		return 0, err
	}
	var filter *Filter
	if filterExpr != "" {
		parsed, err := ParseFilter(filterExpr)
		if err != nil {
			return 0, err
		}
		filter = parsed
	}
	return c.bundle.fw.hub.addServiceListener(c, fn, data, filter), nil
}

// AddFrameworkListener registers a framework listener.
func (c *BundleContext) AddFrameworkListener(fn FrameworkListener) (ListenerToken, error) {
	return c.AddFrameworkListenerWithData(fn, nil)
}

// AddFrameworkListenerWithData registers a framework listener keyed by
// the (callable, data) pair.
func (c *BundleContext) AddFrameworkListenerWithData(fn FrameworkListener, data any) (ListenerToken, error) {
	if err := c.checkValid(); err != nil {
		return 0, err
	}
	return c.bundle.fw.hub.addFrameworkListener(c, fn, data), nil
}

// RemoveBundleListener removes by callable. Unknown listeners are a
// no-op.
func (c *BundleContext) RemoveBundleListener(fn BundleListener) {
	c.bundle.fw.hub.removeBundleListener(c, fn, nil)
}

// RemoveBundleListenerWithData removes by (callable, data) pair.
func (c *BundleContext) RemoveBundleListenerWithData(fn BundleListener, data any) {
	c.bundle.fw.hub.removeBundleListener(c, fn, data)
}

// RemoveServiceListener removes by callable. Unknown listeners are a
// no-op.
func (c *BundleContext) RemoveServiceListener(fn ServiceListener) {
	c.bundle.fw.hub.removeServiceListener(c, fn, nil)
}

// RemoveServiceListenerWithData removes by (callable, data) pair.
func (c *BundleContext) RemoveServiceListenerWithData(fn ServiceListener, data any) {
	c.bundle.fw.hub.removeServiceListener(c, fn, data)
}

// RemoveFrameworkListener removes by callable. Unknown listeners are a
// no-op.
func (c *BundleContext) RemoveFrameworkListener(fn FrameworkListener) {
	c.bundle.fw.hub.removeFrameworkListener(c, fn, nil)
}

// RemoveListener removes a listener of any kind by its token. Unknown
// tokens are a no-op.
func (c *BundleContext) RemoveListener(token ListenerToken) {
	c.bundle.fw.hub.removeToken(token)
}

// GetBundle returns the installed bundle with the given id, or nil.
// Uninstalled bundles still resolve for identity queries.
func (c *BundleContext) GetBundle(id int64) *Bundle {
	return c.bundle.fw.bundles.get(id)
}

// GetBundles returns all bundles that are not uninstalled, ordered by
// id. Registered bundle find hooks may hide bundles; they cannot reorder
// them.
func (c *BundleContext) GetBundles() []*Bundle {
	if err := c.checkValid(); err != nil {
		return nil
	}
	bundles := c.bundle.fw.bundles.list()
	return c.bundle.fw.registry.consultBundleFindHooks(c, bundles)
}

// InstallBundle installs a new bundle from its location, manifest and
// activator factory.
func (c *BundleContext) InstallBundle(location string, manifest AnyMap, factory ActivatorFactory) (*Bundle, error) {
	if err := c.checkValid(); err != nil {
		return nil, err
	}
	return c.bundle.fw.InstallBundle(location, manifest, factory)
}

// GetDataFile returns a path inside the bundle's private data directory,
// creating the directory on first use. An empty name returns the
// directory itself.
func (c *BundleContext) GetDataFile(name string) (string, error) {
	if err := c.checkValid(); err != nil {
		return "", err
	}
	dir := filepath.Join(c.bundle.fw.storageDir, fmt.Sprintf("bundle%d", c.bundle.id), "data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating bundle data directory: %w", err)
	}
	if name == "" {
		return dir, nil
	}
	return filepath.Join(dir, name), nil
}
