package gosgi

import (
	"fmt"
	"sort"
	"sync"
)

// serviceRegistry is the concurrent, filter-queryable store of service
// registrations. A single coarse mutex guards the registration table and
// property maps; event broadcast and every factory or hook invocation
// happen with the mutex released.
type serviceRegistry struct {
	fw *Framework

	mu          sync.Mutex
	nextID      int64
	regs        map[int64]*ServiceRegistration
	byInterface map[string][]*ServiceRegistration
}

func newServiceRegistry(fw *Framework) *serviceRegistry {
	return &serviceRegistry{
		fw:          fw,
		regs:        make(map[int64]*ServiceRegistration),
		byInterface: make(map[string][]*ServiceRegistration),
	}
}

// register stores a new registration and broadcasts
// ServiceEvent(registered). Exactly one of objects and factory is set:
// objects maps every declared interface to its instance, factory defers
// production to get time.
func (sr *serviceRegistry) register(owner *Bundle, interfaces []string, objects InterfaceMap, factory ServiceFactory, props AnyMap) (*ServiceRegistration, error) {
	if len(interfaces) == 0 {
		return nil, ErrEmptyInterfaces
	}
	if objects == nil && factory == nil {
		return nil, ErrNilService
	}
	if objects != nil {
		for _, name := range interfaces {
			if _, ok := objects[name]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrInterfaceNotFound, name)
			}
		}
	}

	scope, ranking, err := validateReservedProperties(props)
	if err != nil {
		return nil, err
	}
	if scope != ScopeSingleton && factory == nil {
		return nil, fmt.Errorf("%w: scope %q requires a service factory", ErrInvalidScope, scope)
	}

	reg := &ServiceRegistration{
		fw:         sr.fw,
		interfaces: append([]string(nil), interfaces...),
		owner:      owner,
		scope:      scope,
		objects:    objects,
		factory:    factory,
		uses:       make(map[int64]*bundleUses),
	}

	sr.mu.Lock()
	sr.nextID++
	reg.id = sr.nextID
	reg.props = sealProperties(props, reg.id, ranking, scope, interfaces)
	reg.state = stateRegistered
	sr.regs[reg.id] = reg
	for _, name := range interfaces {
		sr.byInterface[name] = append(sr.byInterface[name], reg)
	}
	snapshot := reg.props.Snapshot()
	sr.mu.Unlock()

	sr.fw.logger.Debug("service registered",
		"service.id", reg.id, "objectclass", interfaces, "bundle", owner.SymbolicName())
	sr.fw.hub.dispatchServiceEvent(ServiceEvent{
		Type:      ServiceEventRegistered,
		Reference: reg.Reference(),
		props:     snapshot,
	}, nil)
	return reg, nil
}

// validateReservedProperties rejects reserved keys supplied with an
// incompatible type and extracts the scope and ranking.
func validateReservedProperties(props AnyMap) (ServiceScope, int, error) {
	scope := DefaultServiceScope()
	ranking := 0
	if props == nil {
		return scope, ranking, nil
	}
	ci := NewCaseInsensitiveAnyMap(props)
	if v, ok := ci.Value(PropServiceID); ok {
		switch v.(type) {
		case int, int32, int64:
			// framework-assigned; user value replaced
		default:
			return "", 0, fmt.Errorf("%w: %s", ErrReservedProperty, PropServiceID)
		}
	}
	if v, ok := ci.Value(PropServiceRanking); ok {
		switch n := v.(type) {
		case int:
			ranking = n
		case int32:
			ranking = int(n)
		case int64:
			ranking = int(n)
		default:
			return "", 0, fmt.Errorf("%w: %s", ErrReservedProperty, PropServiceRanking)
		}
	}
	if v, ok := ci.Value(PropServiceScope); ok {
		s, isString := v.(string)
		if !isString {
			return "", 0, fmt.Errorf("%w: %s", ErrReservedProperty, PropServiceScope)
		}
		parsed, err := ParseServiceScope(s)
		if err != nil {
			return "", 0, err
		}
		scope = parsed
	}
	if v, ok := ci.Value(PropObjectClass); ok {
		switch v.(type) {
		case []string, []Any:
			// framework-assigned; user value replaced
		default:
			return "", 0, fmt.Errorf("%w: %s", ErrReservedProperty, PropObjectClass)
		}
	}
	return scope, ranking, nil
}

// sealProperties merges user properties with the framework-reserved keys.
func sealProperties(props AnyMap, id int64, ranking int, scope ServiceScope, interfaces []string) *CaseInsensitiveAnyMap {
	sealed := NewCaseInsensitiveAnyMap(props)
	sealed.Set(PropServiceID, id)
	sealed.Set(PropServiceRanking, ranking)
	sealed.Set(PropServiceScope, scope.String())
	sealed.Set(PropObjectClass, append([]string(nil), interfaces...))
	return sealed
}

// setProperties atomically swaps the registration's properties and
// broadcasts modified (and, per listener, modified-endmatch).
func (sr *serviceRegistry) setProperties(reg *ServiceRegistration, props AnyMap) error {
	_, ranking, err := validateReservedProperties(props)
	if err != nil {
		return err
	}
	if props != nil {
		ci := NewCaseInsensitiveAnyMap(props)
		if v, ok := ci.Value(PropServiceScope); ok {
			if s, isString := v.(string); !isString || s != reg.scope.String() {
				return fmt.Errorf("%w: %s is immutable", ErrReservedProperty, PropServiceScope)
			}
		}
	}

	sr.mu.Lock()
	if reg.state != stateRegistered {
		sr.mu.Unlock()
		return ErrServiceUnregistered
	}
	oldProps := reg.props.Snapshot()
	reg.props = sealProperties(props, reg.id, ranking, reg.scope, reg.interfaces)
	newProps := reg.props.Snapshot()
	sr.mu.Unlock()

	sr.fw.hub.dispatchServiceEvent(ServiceEvent{
		Type:      ServiceEventModified,
		Reference: reg.Reference(),
		props:     newProps,
	}, oldProps)
	return nil
}

// unregister transitions REGISTERED -> UNREGISTERING, broadcasts the
// unregistering event synchronously so listeners may release their uses,
// then completes the transition to UNREGISTERED. Instances still held by
// consumers are destroyed as their handles are released.
func (sr *serviceRegistry) unregister(reg *ServiceRegistration) error {
	sr.mu.Lock()
	if reg.state != stateRegistered {
		sr.mu.Unlock()
		return ErrServiceUnregistered
	}
	reg.state = stateUnregistering
	snapshot := reg.props.Snapshot()
	sr.mu.Unlock()

	sr.fw.hub.dispatchServiceEvent(ServiceEvent{
		Type:      ServiceEventUnregistering,
		Reference: reg.Reference(),
		props:     snapshot,
	}, nil)

	sr.mu.Lock()
	reg.state = stateUnregistered
	delete(sr.regs, reg.id)
	for _, name := range reg.interfaces {
		entries := sr.byInterface[name]
		for i, e := range entries {
			if e == reg {
				sr.byInterface[name] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if len(sr.byInterface[name]) == 0 {
			delete(sr.byInterface, name)
		}
	}
	destroy := sr.takeSingletonDestroyLocked(reg)
	sr.mu.Unlock()

	if destroy != nil {
		destroy()
	}
	sr.fw.logger.Debug("service unregistered", "service.id", reg.id)
	return nil
}

// takeSingletonDestroyLocked returns the destroy job for a factory-backed
// singleton product once the registration is unregistered and no uses
// remain. Caller holds the registry mutex and runs the job after release.
func (sr *serviceRegistry) takeSingletonDestroyLocked(reg *ServiceRegistration) func() {
	if reg.state != stateUnregistered || reg.factory == nil || reg.singleton == nil {
		return nil
	}
	for _, use := range reg.uses {
		if use.count > 0 || len(use.protos) > 0 {
			return nil
		}
	}
	product := reg.singleton
	reg.singleton = nil
	factory := reg.factory
	owner := reg.owner
	return func() {
		sr.safeUnget(factory, owner, reg, product)
	}
}

// safeUnget invokes a factory destroy hook, containing panics.
// Destruction paths never propagate errors; they log and swallow.
func (sr *serviceRegistry) safeUnget(factory ServiceFactory, bundle *Bundle, reg *ServiceRegistration, instance Any) {
	defer func() {
		if r := recover(); r != nil {
			sr.fw.logger.Error("service factory destroy panicked",
				"service.id", reg.id, "panic", fmt.Sprintf("%v", r))
		}
	}()
	factory.UngetService(bundle, reg, instance)
}

// unregisterAll removes every registration owned by the given bundle.
// Used by the lifecycle controller when a bundle stops.
func (sr *serviceRegistry) unregisterAll(owner *Bundle) {
	sr.mu.Lock()
	var owned []*ServiceRegistration
	for _, reg := range sr.regs {
		if reg.owner == owner {
			owned = append(owned, reg)
		}
	}
	sr.mu.Unlock()
	// Deterministic order keeps event sequences reproducible.
	sort.Slice(owned, func(i, j int) bool { return owned[i].id < owned[j].id })
	for _, reg := range owned {
		if err := sr.unregister(reg); err != nil {
			sr.fw.logger.Debug("registration already gone during cleanup", "service.id", reg.id)
		}
	}
}

// find returns references for registrations exposing the interface name
// (all interfaces when name is empty) whose properties match the filter,
// sorted best-first (ranking desc, id asc). Producers in the UNINSTALLED
// state are excluded. When requester is non-nil, registered find hooks
// may hide references from the result.
func (sr *serviceRegistry) find(requester *BundleContext, name string, filter *Filter) []ServiceReference {
	sr.mu.Lock()
	var candidates []*ServiceRegistration
	if name == "" {
		candidates = make([]*ServiceRegistration, 0, len(sr.regs))
		for _, reg := range sr.regs {
			candidates = append(candidates, reg)
		}
	} else {
		candidates = append(candidates, sr.byInterface[name]...)
	}
	refs := make([]ServiceReference, 0, len(candidates))
	for _, reg := range candidates {
		if reg.state != stateRegistered {
			continue
		}
		if reg.owner != nil && reg.owner.State() == StateUninstalled {
			continue
		}
		if filter != nil && !filter.Match(reg.props.Snapshot()) {
			continue
		}
		iface := name
		if iface == "" {
			iface = reg.interfaces[0]
		}
		refs = append(refs, ServiceReference{reg: reg, iface: iface})
	}
	sr.mu.Unlock()

	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })

	if requester != nil {
		refs = sr.consultFindHooks(requester, name, filter, refs)
	}
	return refs
}

// registeredBy returns references to the live registrations owned by b.
func (sr *serviceRegistry) registeredBy(b *Bundle) []ServiceReference {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	var out []ServiceReference
	for _, reg := range sr.regs {
		if reg.owner == b && reg.state == stateRegistered {
			out = append(out, ServiceReference{reg: reg, iface: reg.interfaces[0]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// servicesInUse returns references to services the bundle holds uses of.
func (sr *serviceRegistry) servicesInUse(b *Bundle) []ServiceReference {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	var out []ServiceReference
	for _, reg := range sr.regs {
		if use, ok := reg.uses[b.ID()]; ok && (use.count > 0 || len(use.protos) > 0) {
			out = append(out, ServiceReference{reg: reg, iface: reg.interfaces[0]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// getService performs a scope-aware get for the consuming bundle. The
// returned release function performs the matching unget; it is invoked by
// ServiceHandle.Release. Factory calls run with the registry mutex
// released; the use counter is incremented first so a concurrent
// unregister observes the in-flight get.
func (sr *serviceRegistry) getService(consumer *Bundle, ref ServiceReference) (Any, func(), error) {
	if ref.reg == nil {
		return nil, nil, ErrInvalidReference
	}
	reg := ref.reg
	switch reg.scope {
	case ScopeSingleton:
		return sr.getSingleton(consumer, reg, ref.iface)
	case ScopeBundle:
		return sr.getBundleScoped(consumer, reg)
	case ScopePrototype:
		return sr.getPrototype(consumer, reg)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidScope, reg.scope)
	}
}

func (sr *serviceRegistry) usesFor(reg *ServiceRegistration, consumer *Bundle) *bundleUses {
	use, ok := reg.uses[consumer.ID()]
	if !ok {
		use = &bundleUses{bundle: consumer}
		reg.uses[consumer.ID()] = use
	}
	return use
}

func (sr *serviceRegistry) getSingleton(consumer *Bundle, reg *ServiceRegistration, iface string) (Any, func(), error) {
	sr.mu.Lock()
	if reg.state != stateRegistered {
		sr.mu.Unlock()
		return nil, nil, ErrServiceUnregistered
	}
	use := sr.usesFor(reg, consumer)
	use.count++

	if reg.objects != nil {
		instance := reg.objects[iface]
		if instance == nil {
			instance = reg.objects[reg.interfaces[0]]
		}
		sr.mu.Unlock()
		return instance, sr.singletonRelease(consumer, reg), nil
	}
	if reg.singleton != nil {
		instance := reg.singleton
		sr.mu.Unlock()
		return instance, sr.singletonRelease(consumer, reg), nil
	}
	sr.mu.Unlock()

	product, err := sr.invokeFactory(reg, consumer)
	if err != nil {
		sr.mu.Lock()
		use.count--
		sr.mu.Unlock()
		return nil, nil, err
	}

	sr.mu.Lock()
	var duplicate Any
	if reg.singleton == nil {
		reg.singleton = product
	} else {
		// Another get won the race; keep the first product.
		duplicate = product
		product = reg.singleton
	}
	sr.mu.Unlock()
	if duplicate != nil {
		sr.safeUnget(reg.factory, consumer, reg, duplicate)
	}
	return product, sr.singletonRelease(consumer, reg), nil
}

func (sr *serviceRegistry) singletonRelease(consumer *Bundle, reg *ServiceRegistration) func() {
	return func() {
		sr.mu.Lock()
		if use, ok := reg.uses[consumer.ID()]; ok && use.count > 0 {
			use.count--
		}
		destroy := sr.takeSingletonDestroyLocked(reg)
		sr.mu.Unlock()
		if destroy != nil {
			destroy()
		}
	}
}

func (sr *serviceRegistry) getBundleScoped(consumer *Bundle, reg *ServiceRegistration) (Any, func(), error) {
	sr.mu.Lock()
	if reg.state != stateRegistered {
		sr.mu.Unlock()
		return nil, nil, ErrServiceUnregistered
	}
	use := sr.usesFor(reg, consumer)
	use.count++
	if use.instance != nil {
		instance := use.instance
		sr.mu.Unlock()
		return instance, sr.bundleRelease(consumer, reg), nil
	}
	sr.mu.Unlock()

	product, err := sr.invokeFactory(reg, consumer)
	if err != nil {
		sr.mu.Lock()
		use.count--
		sr.mu.Unlock()
		return nil, nil, err
	}

	sr.mu.Lock()
	var duplicate Any
	if use.instance == nil {
		use.instance = product
	} else {
		duplicate = product
		product = use.instance
	}
	sr.mu.Unlock()
	if duplicate != nil {
		sr.safeUnget(reg.factory, consumer, reg, duplicate)
	}
	return product, sr.bundleRelease(consumer, reg), nil
}

func (sr *serviceRegistry) bundleRelease(consumer *Bundle, reg *ServiceRegistration) func() {
	return func() {
		sr.mu.Lock()
		use, ok := reg.uses[consumer.ID()]
		if !ok || use.count == 0 {
			sr.mu.Unlock()
			return
		}
		use.count--
		var instance Any
		if use.count == 0 && use.instance != nil {
			instance = use.instance
			use.instance = nil
		}
		destroy := sr.takeSingletonDestroyLocked(reg)
		sr.mu.Unlock()
		if instance != nil {
			sr.safeUnget(reg.factory, consumer, reg, instance)
		}
		if destroy != nil {
			destroy()
		}
	}
}

func (sr *serviceRegistry) getPrototype(consumer *Bundle, reg *ServiceRegistration) (Any, func(), error) {
	sr.mu.Lock()
	if reg.state != stateRegistered {
		sr.mu.Unlock()
		return nil, nil, ErrServiceUnregistered
	}
	use := sr.usesFor(reg, consumer)
	slot := &protoSlot{}
	use.protos = append(use.protos, slot)
	sr.mu.Unlock()

	product, err := sr.invokeFactory(reg, consumer)
	if err != nil {
		sr.mu.Lock()
		sr.dropProtoSlotLocked(use, slot)
		sr.mu.Unlock()
		return nil, nil, err
	}

	sr.mu.Lock()
	slot.instance = product
	sr.mu.Unlock()
	release := func() {
		sr.mu.Lock()
		removed := sr.dropProtoSlotLocked(use, slot)
		sr.mu.Unlock()
		if removed {
			sr.safeUnget(reg.factory, consumer, reg, product)
		}
	}
	return product, release, nil
}

func (sr *serviceRegistry) dropProtoSlotLocked(use *bundleUses, slot *protoSlot) bool {
	for i, s := range use.protos {
		if s == slot {
			use.protos = append(use.protos[:i], use.protos[i+1:]...)
			return true
		}
	}
	return false
}

// invokeFactory calls the producer factory with no lock held. Errors and
// panics are contained and reported as FrameworkEvent(error); the get
// fails without aborting the surrounding registry operation.
func (sr *serviceRegistry) invokeFactory(reg *ServiceRegistration, consumer *Bundle) (product Any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service factory panicked: %v", r)
		}
		if err != nil {
			sr.fw.hub.dispatchFrameworkEvent(FrameworkEvent{
				Type:    FrameworkEventError,
				Message: fmt.Sprintf("service factory failure for service.id %d", reg.id),
				Bundle:  reg.owner,
				Err:     err,
			})
		}
	}()
	product, err = reg.factory.GetService(consumer, reg)
	if err == nil && product == nil {
		err = ErrNilService
	}
	if err != nil {
		product = nil
	}
	return product, err
}
