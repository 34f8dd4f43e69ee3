// Package dirwatcher ships a bundle that watches an install directory
// for manifest files and keeps the framework's bundle set in sync:
// a manifest appearing installs the bundle (resolving its activator from
// the loader registry), a manifest disappearing uninstalls it.
package dirwatcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/xru192/gosgi"
	"github.com/xru192/gosgi/loader"
	"github.com/xru192/gosgi/manifest"
)

// SymbolicName is the bundle's identity in manifests and the loader
// registry.
const SymbolicName = "org.gosgi.bundles.dirwatcher"

// PropWatchDir is the manifest key naming the directory to watch.
const PropWatchDir = "dirwatcher.path"

// ErrNoWatchDir is returned when the bundle's manifest does not name a
// directory to watch.
var ErrNoWatchDir = errors.New("dirwatcher manifest is missing dirwatcher.path")

// Manifest returns an install manifest watching the given directory.
func Manifest(dir string) gosgi.AnyMap {
	return gosgi.AnyMap{
		gosgi.PropBundleSymbolicName: SymbolicName,
		gosgi.PropBundleVersion:      "1.0.0",
		PropWatchDir:                 dir,
	}
}

// Activator runs the directory watcher between Start and Stop.
type Activator struct {
	registry *loader.Registry
	logger   gosgi.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	installed map[string]*gosgi.Bundle // manifest path -> bundle
}

// NewActivator returns the bundle's activator factory. A nil registry
// uses the loader package's default registry.
func NewActivator(registry *loader.Registry) gosgi.ActivatorFactory {
	return func() gosgi.Activator {
		if registry == nil {
			registry = loader.Default()
		}
		return &Activator{registry: registry, installed: make(map[string]*gosgi.Bundle)}
	}
}

func (a *Activator) Start(ctx *gosgi.BundleContext) error {
	a.logger = ctx.Framework().Logger()
	dir := ctx.Bundle().Manifest().StringValue(PropWatchDir, "")
	if dir == "" {
		return ErrNoWatchDir
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	a.watcher = watcher
	a.done = make(chan struct{})

	// Pick up manifests already present before the watch was armed.
	entries, err := os.ReadDir(dir)
	if err != nil {
		watcher.Close()
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			a.installFrom(ctx, filepath.Join(dir, entry.Name()))
		}
	}

	a.wg.Add(1)
	go a.watch(ctx)
	return nil
}

func (a *Activator) Stop(*gosgi.BundleContext) error {
	close(a.done)
	err := a.watcher.Close()
	a.wg.Wait()
	return err
}

func (a *Activator) watch(ctx *gosgi.BundleContext) {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			switch {
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
				a.installFrom(ctx, ev.Name)
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				a.uninstallFrom(ev.Name)
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn("install directory watch error", "error", err)
		}
	}
}

func (a *Activator) installFrom(ctx *gosgi.BundleContext, path string) {
	if _, err := manifest.FormatForPath(path); err != nil {
		return // not a manifest file
	}
	a.mu.Lock()
	_, already := a.installed[path]
	a.mu.Unlock()
	if already {
		return
	}

	m, err := manifest.ParseFile(path)
	if err != nil {
		a.logger.Warn("ignoring unparsable manifest", "path", path, "error", err)
		return
	}
	symbolic := m.StringValue(gosgi.PropBundleSymbolicName, "")
	factory, ok := a.registry.Lookup(symbolic)
	if !ok {
		a.logger.Warn("no activator registered for bundle", "bundle", symbolic, "path", path)
		return
	}

	bundle, err := ctx.InstallBundle(path, m, factory)
	if err != nil {
		a.logger.Error("install from watched directory failed", "path", path, "error", err)
		return
	}
	a.mu.Lock()
	a.installed[path] = bundle
	a.mu.Unlock()
	a.logger.Info("installed bundle from watched directory", "bundle", symbolic, "path", path)

	if m.BoolValue(gosgi.PropBundleAutoStart, false) {
		if err := bundle.Start(); err != nil {
			a.logger.Error("auto-start of watched bundle failed", "bundle", symbolic, "error", err)
		}
	}
}

func (a *Activator) uninstallFrom(path string) {
	a.mu.Lock()
	bundle, ok := a.installed[path]
	delete(a.installed, path)
	a.mu.Unlock()
	if !ok {
		return
	}
	if err := bundle.Uninstall(); err != nil {
		a.logger.Error("uninstall of watched bundle failed", "bundle", bundle.SymbolicName(), "error", err)
		return
	}
	a.logger.Info("uninstalled bundle removed from watched directory", "bundle", bundle.SymbolicName(), "path", path)
}
