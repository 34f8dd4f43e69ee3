package gosgi

import (
	"errors"
	"fmt"
)

// Framework errors
var (
	// Argument errors
	ErrInvalidFilter     = errors.New("invalid filter expression")
	ErrEmptyInterfaces   = errors.New("at least one interface name is required")
	ErrNilService        = errors.New("service object is nil")
	ErrInvalidReference  = errors.New("service reference is invalid")
	ErrReservedProperty  = errors.New("reserved service property has incompatible type")
	ErrInvalidScope      = errors.New("invalid service scope")
	ErrMissingSymbolic   = errors.New("manifest is missing bundle.symbolic_name")
	ErrMissingVersion    = errors.New("manifest is missing bundle.version")
	ErrInterfaceNotFound = errors.New("object does not provide declared interface")

	// State errors
	ErrContextInvalid      = errors.New("bundle context is no longer valid")
	ErrIllegalState        = errors.New("operation not allowed in current bundle state")
	ErrBundleUninstalled   = errors.New("bundle is uninstalled")
	ErrServiceUnregistered = errors.New("service has been unregistered")
	ErrFrameworkStopped    = errors.New("framework is not active")

	// Lookup errors
	ErrServiceNotFound = errors.New("no service matches the request")
	ErrBundleNotFound  = errors.New("bundle not found")

	// Tracker errors
	ErrTrackerClosed = errors.New("tracker is closed")
)

// BundleError wraps a failure attributable to a specific bundle, typically
// an activator that returned an error or panicked during Start or Stop.
type BundleError struct {
	BundleID     int64
	SymbolicName string
	Op           string
	Err          error
}

func (e *BundleError) Error() string {
	return fmt.Sprintf("bundle %q (id %d): %s: %v", e.SymbolicName, e.BundleID, e.Op, e.Err)
}

func (e *BundleError) Unwrap() error {
	return e.Err
}

func newBundleError(b *Bundle, op string, err error) *BundleError {
	return &BundleError{
		BundleID:     b.ID(),
		SymbolicName: b.SymbolicName(),
		Op:           op,
		Err:          err,
	}
}
