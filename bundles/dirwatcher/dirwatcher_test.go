package dirwatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xru192/gosgi"
	"github.com/xru192/gosgi/loader"
)

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func findBundle(fw *gosgi.Framework, symbolic string) *gosgi.Bundle {
	for _, b := range fw.GetBundles() {
		if b.SymbolicName() == symbolic {
			return b
		}
	}
	return nil
}

func TestDirwatcher_InstallsAndUninstallsFromDirectory(t *testing.T) {
	watchDir := t.TempDir()

	registry := loader.NewRegistry()
	registry.Register("org.example.watched", func() gosgi.Activator { return &gosgi.ActivatorFunc{} })

	fw := gosgi.New(gosgi.WithStorageDir(t.TempDir()))
	require.NoError(t, fw.Start())
	defer func() { require.NoError(t, fw.Stop()) }()

	watcher, err := fw.InstallBundle("test:dirwatcher", Manifest(watchDir), NewActivator(registry))
	require.NoError(t, err)
	require.NoError(t, watcher.Start())

	// A manifest dropped into the directory installs and auto-starts the
	// bundle it names.
	path := writeManifest(t, watchDir, "watched.yaml", `
bundle.symbolic_name: org.example.watched
bundle.version: "1.0.0"
bundle.auto_start: true
`)

	require.Eventually(t, func() bool {
		b := findBundle(fw, "org.example.watched")
		return b != nil && b.State() == gosgi.StateActive
	}, 5*time.Second, 10*time.Millisecond, "manifest file should install the bundle")

	// Removing the manifest uninstalls the bundle.
	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return findBundle(fw, "org.example.watched") == nil
	}, 5*time.Second, 10*time.Millisecond, "removing the manifest should uninstall the bundle")
}

func TestDirwatcher_SeedsFromExistingManifests(t *testing.T) {
	watchDir := t.TempDir()
	writeManifest(t, watchDir, "early.json",
		`{"bundle.symbolic_name": "org.example.early", "bundle.version": "1.0.0"}`)

	registry := loader.NewRegistry()
	registry.Register("org.example.early", func() gosgi.Activator { return &gosgi.ActivatorFunc{} })

	fw := gosgi.New(gosgi.WithStorageDir(t.TempDir()))
	require.NoError(t, fw.Start())
	defer func() { require.NoError(t, fw.Stop()) }()

	watcher, err := fw.InstallBundle("test:dirwatcher", Manifest(watchDir), NewActivator(registry))
	require.NoError(t, err)
	require.NoError(t, watcher.Start())

	b := findBundle(fw, "org.example.early")
	require.NotNil(t, b, "manifests present before start are picked up synchronously")
	assert.Equal(t, gosgi.StateResolved, b.State(), "no auto_start key, so the bundle stays resolved")
}

func TestDirwatcher_IgnoresUnknownAndUnparsable(t *testing.T) {
	watchDir := t.TempDir()
	writeManifest(t, watchDir, "broken.yaml", "::: not yaml")
	writeManifest(t, watchDir, "unknown.yaml", `
bundle.symbolic_name: org.example.unregistered
bundle.version: "1.0.0"
`)
	writeManifest(t, watchDir, "notes.txt", "not a manifest at all")

	fw := gosgi.New(gosgi.WithStorageDir(t.TempDir()))
	require.NoError(t, fw.Start())
	defer func() { require.NoError(t, fw.Stop()) }()

	watcher, err := fw.InstallBundle("test:dirwatcher", Manifest(watchDir), NewActivator(loader.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, watcher.Start())

	// Only the framework and the watcher itself are installed.
	assert.Len(t, fw.GetBundles(), 2)
}

func TestDirwatcher_RequiresWatchDir(t *testing.T) {
	fw := gosgi.New(gosgi.WithStorageDir(t.TempDir()))
	require.NoError(t, fw.Start())
	defer func() { require.NoError(t, fw.Stop()) }()

	b, err := fw.InstallBundle("test:dirwatcher", gosgi.AnyMap{
		gosgi.PropBundleSymbolicName: SymbolicName,
		gosgi.PropBundleVersion:      "1.0.0",
	}, NewActivator(nil))
	require.NoError(t, err)

	err = b.Start()
	require.ErrorIs(t, err, ErrNoWatchDir)
	assert.Equal(t, gosgi.StateResolved, b.State())
}
