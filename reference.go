package gosgi

// Reserved service property keys. User-supplied values for these keys are
// validated for type compatibility; service.id and objectclass are always
// framework-assigned.
const (
	PropServiceID      = "service.id"
	PropServiceRanking = "service.ranking"
	PropServiceScope   = "service.scope"
	PropObjectClass    = "objectclass"
)

// ServiceReference is a lightweight, copyable handle naming a service
// registration. The zero value is invalid. Two references compare equal
// iff they name the same registration, regardless of the interface they
// were looked up under.
type ServiceReference struct {
	reg   *ServiceRegistration
	iface string
}

// IsNil reports whether this is a default-constructed reference.
func (r ServiceReference) IsNil() bool {
	return r.reg == nil
}

// ID returns the framework-assigned service id, or -1 for a nil
// reference. Service ids are strictly increasing and never reused.
func (r ServiceReference) ID() int64 {
	if r.reg == nil {
		return -1
	}
	return r.reg.id
}

// InterfaceName returns the interface this reference was obtained under.
func (r ServiceReference) InterfaceName() string {
	return r.iface
}

// Bundle returns the bundle that registered the service, or nil for a nil
// reference.
func (r ServiceReference) Bundle() *Bundle {
	if r.reg == nil {
		return nil
	}
	return r.reg.owner
}

// Property returns a snapshot of a single service property, looked up
// case-insensitively.
func (r ServiceReference) Property(key string) (Any, bool) {
	if r.reg == nil {
		return nil, false
	}
	return r.reg.property(key)
}

// Properties returns a consistent snapshot of all service properties.
func (r ServiceReference) Properties() AnyMap {
	if r.reg == nil {
		return nil
	}
	return r.reg.propertySnapshot()
}

// Ranking returns the service.ranking property, defaulting to 0.
func (r ServiceReference) Ranking() int {
	return r.Properties().IntValue(PropServiceRanking, 0)
}

// Scope returns the service.scope property.
func (r ServiceReference) Scope() ServiceScope {
	v, ok := r.Property(PropServiceScope)
	if !ok {
		return DefaultServiceScope()
	}
	s, _ := v.(string)
	scope := ServiceScope(s)
	if !scope.IsValid() {
		return DefaultServiceScope()
	}
	return scope
}

// IsRegistered reports whether the named registration is still in the
// REGISTERED state. After Unregister completes this returns false forever.
func (r ServiceReference) IsRegistered() bool {
	if r.reg == nil {
		return false
	}
	return r.reg.isRegistered()
}

// Equal reports whether both references name the same registration.
func (r ServiceReference) Equal(other ServiceReference) bool {
	return r.reg == other.reg
}

// Less orders references for "best" selection: higher service.ranking
// first, ties broken by lower service.id. References to the same
// registration are never ordered before each other, so the comparison is
// total.
func (r ServiceReference) Less(other ServiceReference) bool {
	if r.reg == nil || other.reg == nil {
		return other.reg == nil && r.reg != nil
	}
	rRank, oRank := r.Ranking(), other.Ranking()
	if rRank != oRank {
		return rRank > oRank
	}
	return r.reg.id < other.reg.id
}

// UsingBundles returns the bundles currently holding uses of this
// service, in unspecified order.
func (r ServiceReference) UsingBundles() []*Bundle {
	if r.reg == nil {
		return nil
	}
	return r.reg.usingBundles()
}
