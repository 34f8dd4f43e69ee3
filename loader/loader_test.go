package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xru192/gosgi"
)

func TestRegistry_RegisterLookup(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Lookup("org.example.missing")
	assert.False(t, ok)

	factory := func() gosgi.Activator { return &gosgi.ActivatorFunc{} }
	reg.Register("org.example.worker", factory)
	reg.Register("org.example.cache", factory)

	got, ok := reg.Lookup("org.example.worker")
	require.True(t, ok)
	require.NotNil(t, got())

	assert.Equal(t, []string{"org.example.cache", "org.example.worker"}, reg.Names())
}

func TestRegistry_ReplaceKeepsLatest(t *testing.T) {
	reg := NewRegistry()
	reg.Register("org.example.worker", func() gosgi.Activator { return nil })
	replacement := &gosgi.ActivatorFunc{}
	reg.Register("org.example.worker", func() gosgi.Activator { return replacement })

	factory, ok := reg.Lookup("org.example.worker")
	require.True(t, ok)
	assert.Same(t, replacement, factory())
}

func TestDefaultRegistry(t *testing.T) {
	Register("org.example.default-test", func() gosgi.Activator { return &gosgi.ActivatorFunc{} })
	_, ok := Lookup("org.example.default-test")
	assert.True(t, ok)
	assert.Same(t, Default(), Default())
}
