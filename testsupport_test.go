package gosgi

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// testLogger captures log output for assertions.
type testLogger struct {
	mu      sync.Mutex
	entries []testLogEntry
}

type testLogEntry struct {
	level string
	msg   string
	args  []any
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (l *testLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, testLogEntry{level: level, msg: msg, args: args})
}

func (l *testLogger) Info(msg string, args ...any)  { l.log("info", msg, args...) }
func (l *testLogger) Error(msg string, args ...any) { l.log("error", msg, args...) }
func (l *testLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args...) }
func (l *testLogger) Debug(msg string, args ...any) { l.log("debug", msg, args...) }

func (l *testLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

// newTestFramework builds a started framework with temp storage and
// registers cleanup.
func newTestFramework(t *testing.T) *Framework {
	t.Helper()
	fw := New(WithLogger(newTestLogger()), WithStorageDir(t.TempDir()))
	require.NoError(t, fw.Start())
	t.Cleanup(func() {
		if fw.systemBundle.State() == StateActive {
			require.NoError(t, fw.Stop())
		}
	})
	return fw
}

// startBundle installs and starts a plain bundle, returning its context.
func startBundle(t *testing.T, fw *Framework, symbolicName string) *BundleContext {
	t.Helper()
	b := installBundle(t, fw, symbolicName, nil)
	require.NoError(t, b.Start())
	ctx := b.Context()
	require.NotNil(t, ctx)
	return ctx
}

// installBundle installs a bundle with a minimal manifest.
func installBundle(t *testing.T, fw *Framework, symbolicName string, factory ActivatorFactory) *Bundle {
	t.Helper()
	b, err := fw.InstallBundle("test:"+symbolicName, AnyMap{
		PropBundleSymbolicName: symbolicName,
		PropBundleVersion:      "1.0.0",
	}, factory)
	require.NoError(t, err)
	return b
}

// serviceEventRecorder collects service events for assertions.
type serviceEventRecorder struct {
	mu     sync.Mutex
	events []ServiceEvent
}

func (r *serviceEventRecorder) listener(ev ServiceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *serviceEventRecorder) snapshot() []ServiceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServiceEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *serviceEventRecorder) types() []ServiceEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServiceEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// bundleEventRecorder collects bundle events for assertions.
type bundleEventRecorder struct {
	mu     sync.Mutex
	events []BundleEvent
}

func (r *bundleEventRecorder) listener(ev BundleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *bundleEventRecorder) types() []BundleEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BundleEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// frameworkEventRecorder collects framework events for assertions.
type frameworkEventRecorder struct {
	mu     sync.Mutex
	events []FrameworkEvent
}

func (r *frameworkEventRecorder) listener(ev FrameworkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *frameworkEventRecorder) types() []FrameworkEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FrameworkEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
