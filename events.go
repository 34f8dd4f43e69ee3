package gosgi

// BundleEventType enumerates bundle lifecycle event kinds.
type BundleEventType int

const (
	BundleEventInstalled BundleEventType = iota
	BundleEventStarted
	BundleEventStopping
	BundleEventStopped
	BundleEventUninstalled
	BundleEventResolved
	BundleEventUnresolved
)

// String returns the lowercase name of the event type.
func (t BundleEventType) String() string {
	switch t {
	case BundleEventInstalled:
		return "installed"
	case BundleEventStarted:
		return "started"
	case BundleEventStopping:
		return "stopping"
	case BundleEventStopped:
		return "stopped"
	case BundleEventUninstalled:
		return "uninstalled"
	case BundleEventResolved:
		return "resolved"
	case BundleEventUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// BundleEvent describes a lifecycle change of its origin bundle.
// Events are delivered synchronously in the order transitions complete.
type BundleEvent struct {
	Type   BundleEventType
	Bundle *Bundle
}

// ServiceEventType enumerates service registry event kinds.
type ServiceEventType int

const (
	ServiceEventRegistered ServiceEventType = iota
	ServiceEventModified
	// ServiceEventModifiedEndmatch is delivered to a listener whose filter
	// matched the service before a property change but no longer does. The
	// event carries the pre-mutation property snapshot.
	ServiceEventModifiedEndmatch
	ServiceEventUnregistering
)

// String returns the lowercase name of the event type.
func (t ServiceEventType) String() string {
	switch t {
	case ServiceEventRegistered:
		return "registered"
	case ServiceEventModified:
		return "modified"
	case ServiceEventModifiedEndmatch:
		return "modified-endmatch"
	case ServiceEventUnregistering:
		return "unregistering"
	default:
		return "unknown"
	}
}

// ServiceEvent describes a change to a service registration.
type ServiceEvent struct {
	Type      ServiceEventType
	Reference ServiceReference

	// props is the property snapshot listener filters are evaluated
	// against: post-mutation for registered/modified/unregistering,
	// pre-mutation for modified-endmatch.
	props AnyMap
}

// Properties returns the property snapshot the event was dispatched with.
func (e ServiceEvent) Properties() AnyMap {
	return e.props
}

// FrameworkEventType enumerates framework-level event kinds.
type FrameworkEventType int

const (
	FrameworkEventStarted FrameworkEventType = iota
	FrameworkEventError
	FrameworkEventWarning
	FrameworkEventInfo
)

// String returns the lowercase name of the event type.
func (t FrameworkEventType) String() string {
	switch t {
	case FrameworkEventStarted:
		return "started"
	case FrameworkEventError:
		return "error"
	case FrameworkEventWarning:
		return "warning"
	case FrameworkEventInfo:
		return "info"
	default:
		return "unknown"
	}
}

// FrameworkEvent reports a framework-level condition: startup completion,
// or an error/warning/info raised while containing user-code failures.
type FrameworkEvent struct {
	Type    FrameworkEventType
	Message string
	Bundle  *Bundle
	Err     error
}

// Listener callables. A listener is attached through a BundleContext and
// automatically removed when that context is invalidated.
type (
	BundleListener    func(BundleEvent)
	ServiceListener   func(ServiceEvent)
	FrameworkListener func(FrameworkEvent)
)

// ListenerToken identifies a listener registration for token-based
// removal. Tokens are unique and monotonically allocated.
type ListenerToken int64
