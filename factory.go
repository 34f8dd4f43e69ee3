package gosgi

// InterfaceMap associates fully-qualified interface names with the object
// implementing each of them. A service registered under several names may
// supply one object per name; the framework treats the map as opaque but
// requires that every declared name be a key.
type InterfaceMap = map[string]Any

// ServiceFactory produces service instances on demand. A registration
// backed by a factory defers instance creation to the first matching get;
// how products are shared is governed by the registration's scope:
//
//   - singleton: GetService is invoked once, the product is shared by all
//     consumers, and UngetService runs when the registration is gone and
//     the last use is released.
//   - bundle: GetService is invoked once per consuming bundle and the
//     product cached for that bundle; UngetService runs when the bundle's
//     use count drops to zero.
//   - prototype: GetService is invoked for every get and UngetService for
//     every release.
//
// Factory methods are user code of arbitrary complexity; the framework
// always invokes them with no internal lock held. An error (or panic)
// from GetService is contained, reported as a FrameworkEvent(error) and
// surfaced to the caller as a failed get.
type ServiceFactory interface {
	GetService(bundle *Bundle, reg *ServiceRegistration) (Any, error)
	UngetService(bundle *Bundle, reg *ServiceRegistration, service Any)
}

// ServiceFactoryFunc adapts a pair of functions to the ServiceFactory
// interface. Unget may be nil.
type ServiceFactoryFunc struct {
	Get   func(bundle *Bundle, reg *ServiceRegistration) (Any, error)
	Unget func(bundle *Bundle, reg *ServiceRegistration, service Any)
}

func (f ServiceFactoryFunc) GetService(bundle *Bundle, reg *ServiceRegistration) (Any, error) {
	return f.Get(bundle, reg)
}

func (f ServiceFactoryFunc) UngetService(bundle *Bundle, reg *ServiceRegistration, service Any) {
	if f.Unget != nil {
		f.Unget(bundle, reg, service)
	}
}
