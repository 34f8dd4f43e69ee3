// Package gosgi implements an in-process service-oriented runtime. A
// Framework hosts dynamically installable bundles, lets them publish and
// discover services by interface name and LDAP-style filter, and drives
// their lifecycles through a fixed state machine.
//
// The three load-bearing subsystems are the service registry (scope-aware
// registration, reference counting, ranking-based selection), the bundle
// lifecycle controller (state transitions, activator invocation, crash
// containment), and the event/tracker subsystem (filtered listener
// dispatch plus BundleTracker and ServiceTracker, which mirror registry
// state under concurrent mutation).
//
// All service publication and lookup is mediated through a BundleContext,
// so every action is attributable to a bundle. User callbacks (activators,
// factories, listeners, customizers, hooks) are invoked with no registry
// or listener-table lock held, so they may reenter the framework. A
// bundle's lifecycle lock is not released around callbacks: its activator
// and the events its Start, Stop or Uninstall emits run while that lock is
// held, and calling Start, Stop or Uninstall on the same bundle from such
// a callback deadlocks.
package gosgi
