package gosgi

// regState tracks the registration lifecycle. Once unregistered a
// registration never re-enters the registered state.
type regState int

const (
	stateRegistered regState = iota
	stateUnregistering
	stateUnregistered
)

// ServiceRegistration is the producer-side handle to a registered
// service. The owning bundle uses it to update properties and to
// unregister. The service id and interface set are immutable.
type ServiceRegistration struct {
	fw         *Framework
	id         int64
	interfaces []string
	owner      *Bundle
	scope      ServiceScope

	// objects maps each declared interface to the registered instance;
	// nil when the registration is factory-backed.
	objects InterfaceMap
	factory ServiceFactory

	// Mutable state below is guarded by the registry mutex.
	props     *CaseInsensitiveAnyMap
	state     regState
	uses      map[int64]*bundleUses
	singleton Any // lazily created product of a singleton-scope factory
}

// bundleUses tracks one consuming bundle's holds on a registration.
type bundleUses struct {
	bundle   *Bundle
	count    int // gets minus ungets for singleton/bundle scope
	instance Any // bundle-scope cached product
	protos   []*protoSlot
}

// protoSlot is the use slot of a single prototype-scope instance.
type protoSlot struct {
	instance Any
}

// ID returns the framework-assigned service id.
func (r *ServiceRegistration) ID() int64 {
	return r.id
}

// Interfaces returns the immutable set of interface names the service was
// registered under.
func (r *ServiceRegistration) Interfaces() []string {
	out := make([]string, len(r.interfaces))
	copy(out, r.interfaces)
	return out
}

// Bundle returns the bundle that owns this registration.
func (r *ServiceRegistration) Bundle() *Bundle {
	return r.owner
}

// Scope returns the registration's sharing policy.
func (r *ServiceRegistration) Scope() ServiceScope {
	return r.scope
}

// Reference returns a reference naming this registration, bound to the
// first declared interface.
func (r *ServiceRegistration) Reference() ServiceReference {
	return ServiceReference{reg: r, iface: r.interfaces[0]}
}

// SetProperties atomically replaces the user properties of the
// registration. service.id and objectclass keep their assigned values,
// service.scope cannot be changed, and service.ranking is taken from the
// new properties. A
// ServiceEvent(modified) is broadcast; listeners whose filter matched the
// previous properties but not the new ones additionally receive
// modified-endmatch with the pre-mutation snapshot.
func (r *ServiceRegistration) SetProperties(props AnyMap) error {
	return r.fw.registry.setProperties(r, props)
}

// Unregister removes the registration from the registry. The
// unregistering event is broadcast synchronously so listeners may release
// their uses; afterwards every get on references to this registration
// fails. Unregistering twice returns ErrServiceUnregistered.
func (r *ServiceRegistration) Unregister() error {
	return r.fw.registry.unregister(r)
}

// Internal accessors, each taking the registry lock for a consistent view.

func (r *ServiceRegistration) property(key string) (Any, bool) {
	r.fw.registry.mu.Lock()
	defer r.fw.registry.mu.Unlock()
	return r.props.Value(key)
}

func (r *ServiceRegistration) propertySnapshot() AnyMap {
	r.fw.registry.mu.Lock()
	defer r.fw.registry.mu.Unlock()
	return r.props.Snapshot()
}

func (r *ServiceRegistration) isRegistered() bool {
	r.fw.registry.mu.Lock()
	defer r.fw.registry.mu.Unlock()
	return r.state == stateRegistered
}

func (r *ServiceRegistration) usingBundles() []*Bundle {
	r.fw.registry.mu.Lock()
	defer r.fw.registry.mu.Unlock()
	var out []*Bundle
	for _, use := range r.uses {
		if use.count > 0 || len(use.protos) > 0 {
			out = append(out, use.bundle)
		}
	}
	return out
}
