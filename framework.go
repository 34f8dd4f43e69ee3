package gosgi

import (
	"sort"
)

// Framework is the core context: the long-lived hub owning the service
// registry, the bundle registry, the listener tables and shared
// facilities. The framework itself is the bundle with id 0; its
// "started" framework event signals that all auto-started bundles have
// had their activator Start invoked.
type Framework struct {
	logger     Logger
	storageDir string

	bundles  *bundleRegistry
	registry *serviceRegistry
	hub      *listenerHub

	systemBundle *Bundle
}

// FrameworkOption configures a Framework under construction.
type FrameworkOption func(*Framework)

// WithLogger sets the framework's diagnostic log sink. The default
// discards all output.
func WithLogger(logger Logger) FrameworkOption {
	return func(f *Framework) {
		f.logger = logger
	}
}

// WithStorageDir sets the root directory for per-bundle data
// directories. The default is a "storage" directory under the process
// working directory; it is only created when a bundle first requests a
// data file.
func WithStorageDir(dir string) FrameworkOption {
	return func(f *Framework) {
		f.storageDir = dir
	}
}

// New constructs a framework. The framework bundle (id 0) is created in
// RESOLVED state; call Start to activate it.
func New(opts ...FrameworkOption) *Framework {
	f := &Framework{
		logger:     NoopLogger{},
		storageDir: "storage",
		bundles:    newBundleRegistry(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.registry = newServiceRegistry(f)
	f.hub = newListenerHub(f)

	f.systemBundle = &Bundle{
		fw:           f,
		id:           0,
		location:     "system",
		symbolicName: "system.bundle",
		version:      "1.0.0",
		manifest: AnyMap{
			PropBundleSymbolicName: "system.bundle",
			PropBundleVersion:      "1.0.0",
		},
		state: StateResolved,
	}
	f.bundles.addSystemBundle(f.systemBundle)
	return f
}

// Logger returns the framework's log sink.
func (f *Framework) Logger() Logger {
	return f.logger
}

// SystemBundle returns the framework bundle (id 0).
func (f *Framework) SystemBundle() *Bundle {
	return f.systemBundle
}

// Context returns the framework bundle's context, valid while the
// framework is active.
func (f *Framework) Context() *BundleContext {
	return f.systemBundle.Context()
}

// Start activates the framework bundle, then starts every installed
// bundle whose manifest sets bundle.auto_start. Auto-start failures are
// contained per bundle. Completion is announced with a
// FrameworkEvent(started) originating from bundle 0.
func (f *Framework) Start() error {
	if err := f.systemBundle.Start(); err != nil {
		return err
	}
	for _, b := range f.bundles.list() {
		if b.id == 0 || !b.Manifest().BoolValue(PropBundleAutoStart, false) {
			continue
		}
		if err := b.Start(); err != nil {
			f.logger.Error("auto-start failed", "bundle", b.SymbolicName(), "error", err)
		}
	}
	f.hub.dispatchFrameworkEvent(FrameworkEvent{
		Type:    FrameworkEventStarted,
		Message: "framework started",
		Bundle:  f.systemBundle,
	})
	return nil
}

// Stop stops every active bundle in reverse install order, then the
// framework bundle itself. After Stop returns, the framework context is
// invalid.
func (f *Framework) Stop() error {
	bundles := f.bundles.list()
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].id > bundles[j].id })
	for _, b := range bundles {
		if b.id == 0 || b.State() != StateActive {
			continue
		}
		if err := b.Stop(); err != nil {
			f.logger.Error("stop failed during shutdown", "bundle", b.SymbolicName(), "error", err)
		}
	}
	return f.systemBundle.Stop()
}

// InstallBundle installs a bundle from its opaque location string, its
// manifest and an activator factory (nil for no activator). The manifest
// must carry bundle.symbolic_name and bundle.version; it is treated as
// immutable afterwards. Installing the same location twice returns the
// existing bundle.
//
// The new bundle is resolved immediately: installed and resolved events
// fire back to back.
func (f *Framework) InstallBundle(location string, manifest AnyMap, factory ActivatorFactory) (*Bundle, error) {
	symbolic := manifest.StringValue(PropBundleSymbolicName, "")
	if symbolic == "" {
		return nil, ErrMissingSymbolic
	}
	version := manifest.StringValue(PropBundleVersion, "")
	if version == "" {
		return nil, ErrMissingVersion
	}

	if existing := f.bundles.findByLocation(location); existing != nil {
		return existing, nil
	}

	b := &Bundle{
		fw:               f,
		location:         location,
		symbolicName:     symbolic,
		version:          version,
		manifest:         copyAnyMap(manifest),
		activatorFactory: factory,
		state:            StateInstalled,
	}
	f.bundles.install(b)
	f.logger.Info("bundle installed", "bundle", symbolic, "id", b.id, "location", location)
	f.hub.dispatchBundleEvent(BundleEvent{Type: BundleEventInstalled, Bundle: b})

	// Resolution has no dependency graph to walk; it always succeeds.
	b.setState(StateResolved)
	f.hub.dispatchBundleEvent(BundleEvent{Type: BundleEventResolved, Bundle: b})
	return b, nil
}

// GetBundle resolves a bundle by id, including uninstalled bundles.
func (f *Framework) GetBundle(id int64) *Bundle {
	return f.bundles.get(id)
}

// GetBundles returns the non-uninstalled bundles ordered by id, without
// hook filtering. Use BundleContext.GetBundles for the hook-aware view.
func (f *Framework) GetBundles() []*Bundle {
	return f.bundles.list()
}

// StorageDir returns the root of the per-bundle data directories.
func (f *Framework) StorageDir() string {
	return f.storageDir
}
