package gosgi

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIface = "org.example.Greeter"

type greeter struct{ name string }

func TestRegisterService_Validation(t *testing.T) {
	fw := newTestFramework(t)
	ctx := startBundle(t, fw, "producer")

	_, err := ctx.RegisterService(nil, &greeter{}, nil)
	require.ErrorIs(t, err, ErrEmptyInterfaces)

	_, err = ctx.RegisterService([]string{testIface}, nil, nil)
	require.ErrorIs(t, err, ErrNilService)

	_, err = ctx.RegisterService([]string{testIface}, &greeter{}, AnyMap{PropServiceRanking: "high"})
	require.ErrorIs(t, err, ErrReservedProperty)

	_, err = ctx.RegisterService([]string{testIface}, &greeter{}, AnyMap{PropServiceScope: 7})
	require.ErrorIs(t, err, ErrReservedProperty)

	_, err = ctx.RegisterService([]string{testIface}, &greeter{}, AnyMap{PropServiceScope: "session"})
	require.ErrorIs(t, err, ErrInvalidScope)

	_, err = ctx.RegisterService([]string{testIface}, &greeter{}, AnyMap{PropObjectClass: "notalist"})
	require.ErrorIs(t, err, ErrReservedProperty)

	// Non-singleton scope needs a factory to produce per-consumer
	// instances.
	_, err = ctx.RegisterService([]string{testIface}, &greeter{}, AnyMap{PropServiceScope: "prototype"})
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestRegisterServiceMap_RequiresEveryInterface(t *testing.T) {
	fw := newTestFramework(t)
	ctx := startBundle(t, fw, "producer")

	reg, err := ctx.RegisterServiceMap(InterfaceMap{
		"org.example.A": &greeter{name: "a"},
		"org.example.B": &greeter{name: "b"},
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"org.example.A", "org.example.B"}, reg.Interfaces())

	refA, err := ctx.GetServiceReference("org.example.A")
	require.NoError(t, err)
	refB, err := ctx.GetServiceReference("org.example.B")
	require.NoError(t, err)
	assert.True(t, refA.Equal(refB), "both interfaces name the same registration")

	ha, err := ctx.GetService(refA)
	require.NoError(t, err)
	defer ha.Release()
	hb, err := ctx.GetService(refB)
	require.NoError(t, err)
	defer hb.Release()
	assert.Equal(t, "a", ha.Instance().(*greeter).name)
	assert.Equal(t, "b", hb.Instance().(*greeter).name)
}

func TestServiceIDs_StrictlyIncreasingNeverReused(t *testing.T) {
	fw := newTestFramework(t)
	ctx := startBundle(t, fw, "producer")

	var last int64 = -1
	for i := 0; i < 5; i++ {
		reg, err := ctx.RegisterService([]string{testIface}, &greeter{}, nil)
		require.NoError(t, err)
		require.Greater(t, reg.ID(), last)
		last = reg.ID()
		require.NoError(t, reg.Unregister())
	}

	reg, err := ctx.RegisterService([]string{testIface}, &greeter{}, nil)
	require.NoError(t, err)
	assert.Greater(t, reg.ID(), last, "ids are never reused, even across unregister")
}

func TestFind_SortsByRankingThenID(t *testing.T) {
	fw := newTestFramework(t)
	ctx := startBundle(t, fw, "producer")

	regLow, err := ctx.RegisterService([]string{testIface}, &greeter{name: "low"}, AnyMap{PropServiceRanking: 1})
	require.NoError(t, err)
	regA, err := ctx.RegisterService([]string{testIface}, &greeter{name: "a"}, AnyMap{PropServiceRanking: 5})
	require.NoError(t, err)
	regB, err := ctx.RegisterService([]string{testIface}, &greeter{name: "b"}, AnyMap{PropServiceRanking: 5})
	require.NoError(t, err)

	refs, err := ctx.GetServiceReferences(testIface, "")
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, regA.ID(), refs[0].ID(), "equal ranking ties break toward the lower id")
	assert.Equal(t, regB.ID(), refs[1].ID())
	assert.Equal(t, regLow.ID(), refs[2].ID())

	best, err := ctx.GetServiceReference(testIface)
	require.NoError(t, err)
	assert.Equal(t, regA.ID(), best.ID())
}

func TestFind_FilterAndInterfaceContainment(t *testing.T) {
	fw := newTestFramework(t)
	ctx := startBundle(t, fw, "producer")

	_, err := ctx.RegisterService([]string{testIface}, &greeter{}, AnyMap{"color": "red"})
	require.NoError(t, err)
	_, err = ctx.RegisterService([]string{testIface}, &greeter{}, AnyMap{"color": "blue"})
	require.NoError(t, err)
	_, err = ctx.RegisterService([]string{"org.example.Other"}, &greeter{}, AnyMap{"color": "red"})
	require.NoError(t, err)

	refs, err := ctx.GetServiceReferences(testIface, "(color=red)")
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	refs, err = ctx.GetServiceReferences("", "(color=red)")
	require.NoError(t, err)
	assert.Len(t, refs, 2, "empty interface name matches every service")

	_, err = ctx.GetServiceReferences(testIface, "(color=red")
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = ctx.GetServiceReference("org.example.Missing")
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func TestFind_ExcludesUninstalledProducer(t *testing.T) {
	fw := newTestFramework(t)
	consumer := startBundle(t, fw, "consumer")

	producer := installBundle(t, fw, "producer", nil)
	require.NoError(t, producer.Start())
	_, err := producer.Context().RegisterService([]string{testIface}, &greeter{}, nil)
	require.NoError(t, err)

	refs, err := consumer.GetServiceReferences(testIface, "")
	require.NoError(t, err)
	require.Len(t, refs, 1)

	require.NoError(t, producer.Uninstall())
	refs, err = consumer.GetServiceReferences(testIface, "")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestGetService_SingletonSharedAcrossConsumers(t *testing.T) {
	fw := newTestFramework(t)
	producer := startBundle(t, fw, "producer")
	c1 := startBundle(t, fw, "consumer1")
	c2 := startBundle(t, fw, "consumer2")

	instance := &greeter{name: "shared"}
	_, err := producer.RegisterService([]string{testIface}, instance, nil)
	require.NoError(t, err)

	ref1, err := c1.GetServiceReference(testIface)
	require.NoError(t, err)
	h1, err := c1.GetService(ref1)
	require.NoError(t, err)
	defer h1.Release()

	ref2, err := c2.GetServiceReference(testIface)
	require.NoError(t, err)
	h2, err := c2.GetService(ref2)
	require.NoError(t, err)
	defer h2.Release()

	assert.Same(t, instance, h1.Instance())
	assert.Same(t, instance, h2.Instance())
}

// countingFactory produces sequenced instances and records destroys.
type countingFactory struct {
	mu       sync.Mutex
	produced int
	destroys []Any
}

func (f *countingFactory) GetService(*Bundle, *ServiceRegistration) (Any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.produced++
	return f.produced, nil
}

func (f *countingFactory) UngetService(_ *Bundle, _ *ServiceRegistration, service Any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys = append(f.destroys, service)
}

func (f *countingFactory) destroyed() []Any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Any, len(f.destroys))
	copy(out, f.destroys)
	return out
}

func TestGetService_BundleScopeOneInstancePerBundle(t *testing.T) {
	fw := newTestFramework(t)
	producer := startBundle(t, fw, "producer")
	c1 := startBundle(t, fw, "consumer1")
	c2 := startBundle(t, fw, "consumer2")

	factory := &countingFactory{}
	_, err := producer.RegisterServiceFactory([]string{testIface}, factory,
		AnyMap{PropServiceScope: "bundle"})
	require.NoError(t, err)

	ref, err := c1.GetServiceReference(testIface)
	require.NoError(t, err)

	h1a, err := c1.GetService(ref)
	require.NoError(t, err)
	h1b, err := c1.GetService(ref)
	require.NoError(t, err)
	h2, err := c2.GetService(ref)
	require.NoError(t, err)

	assert.Equal(t, h1a.Instance(), h1b.Instance(), "same bundle shares its cached instance")
	assert.NotEqual(t, h1a.Instance(), h2.Instance(), "different bundles get different instances")

	// The factory destroy hook fires when a bundle's use count drains.
	h1a.Release()
	assert.Empty(t, factory.destroyed())
	h1b.Release()
	assert.Equal(t, []Any{h1a.Instance()}, factory.destroyed())
	h2.Release()
	assert.Len(t, factory.destroyed(), 2)
}

func TestGetService_PrototypeFreshInstancePerGet(t *testing.T) {
	fw := newTestFramework(t)
	producer := startBundle(t, fw, "producer")
	consumer := startBundle(t, fw, "consumer")

	factory := &countingFactory{}
	_, err := producer.RegisterServiceFactory([]string{testIface}, factory,
		AnyMap{PropServiceScope: "prototype"})
	require.NoError(t, err)

	ref, err := consumer.GetServiceReference(testIface)
	require.NoError(t, err)

	h1, err := consumer.GetService(ref)
	require.NoError(t, err)
	h2, err := consumer.GetService(ref)
	require.NoError(t, err)

	assert.Equal(t, 1, h1.Instance())
	assert.Equal(t, 2, h2.Instance())

	h1.Release()
	h2.Release()
	assert.ElementsMatch(t, []Any{1, 2}, factory.destroyed(),
		"dropping both handles triggers two factory destroys")
}

func TestServiceHandle_ReleaseIsIdempotent(t *testing.T) {
	fw := newTestFramework(t)
	producer := startBundle(t, fw, "producer")
	consumer := startBundle(t, fw, "consumer")

	factory := &countingFactory{}
	_, err := producer.RegisterServiceFactory([]string{testIface}, factory,
		AnyMap{PropServiceScope: "prototype"})
	require.NoError(t, err)

	ref, err := consumer.GetServiceReference(testIface)
	require.NoError(t, err)
	h, err := consumer.GetService(ref)
	require.NoError(t, err)

	h.Release()
	h.Release()
	assert.Len(t, factory.destroyed(), 1, "exactly one unget per get")
}

func TestUnregister_GetsFailAndEventsStop(t *testing.T) {
	fw := newTestFramework(t)
	ctx := startBundle(t, fw, "producer")

	reg, err := ctx.RegisterService([]string{testIface}, &greeter{}, nil)
	require.NoError(t, err)
	ref := reg.Reference()

	recorder := &serviceEventRecorder{}
	_, err = ctx.AddServiceListener(recorder.listener, "")
	require.NoError(t, err)

	require.NoError(t, reg.Unregister())
	require.Equal(t, []ServiceEventType{ServiceEventUnregistering}, recorder.types())

	_, err = ctx.GetService(ref)
	require.ErrorIs(t, err, ErrServiceUnregistered)
	assert.False(t, ref.IsRegistered())

	require.ErrorIs(t, reg.Unregister(), ErrServiceUnregistered)

	// Property mutation on a dead registration fails and emits nothing.
	require.ErrorIs(t, reg.SetProperties(AnyMap{"color": "red"}), ErrServiceUnregistered)
	assert.Equal(t, []ServiceEventType{ServiceEventUnregistering}, recorder.types(),
		"no further events for an unregistered reference")
}

func TestRegisterUnregister_RoundTripLeavesRegistryClean(t *testing.T) {
	fw := newTestFramework(t)
	ctx := startBundle(t, fw, "producer")

	before, err := ctx.GetServiceReferences("", "")
	require.NoError(t, err)

	reg, err := ctx.RegisterService([]string{testIface}, &greeter{}, AnyMap{"color": "red"})
	require.NoError(t, err)
	require.NoError(t, reg.Unregister())

	after, err := ctx.GetServiceReferences("", "")
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestSetProperties_ModifiedAndEndmatch(t *testing.T) {
	fw := newTestFramework(t)
	ctx := startBundle(t, fw, "producer")

	reg, err := ctx.RegisterService([]string{testIface}, &greeter{}, AnyMap{"color": "red"})
	require.NoError(t, err)

	matched := &serviceEventRecorder{}
	_, err = ctx.AddServiceListenerWithData(matched.listener, "matched", "(color=red)")
	require.NoError(t, err)

	require.NoError(t, reg.SetProperties(AnyMap{"color": "blue"}))

	events := matched.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, ServiceEventModifiedEndmatch, events[0].Type)
	assert.Equal(t, "red", events[0].Properties().StringValue("color", ""),
		"endmatch carries the pre-mutation snapshot")

	// A listener matching the new value sees a plain modified event with
	// the post-mutation snapshot.
	blue := &serviceEventRecorder{}
	_, err = ctx.AddServiceListenerWithData(blue.listener, "blue", "(color=blue)")
	require.NoError(t, err)
	require.NoError(t, reg.SetProperties(AnyMap{"color": "blue", "size": 1}))
	events = blue.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, ServiceEventModified, events[0].Type)
	assert.Equal(t, "blue", events[0].Properties().StringValue("color", ""))
}

func TestSetProperties_PreservesReservedKeys(t *testing.T) {
	fw := newTestFramework(t)
	ctx := startBundle(t, fw, "producer")

	reg, err := ctx.RegisterService([]string{testIface}, &greeter{}, AnyMap{PropServiceRanking: 3})
	require.NoError(t, err)
	ref := reg.Reference()

	require.NoError(t, reg.SetProperties(AnyMap{"color": "green", PropServiceRanking: 9}))

	id, ok := ref.Property(PropServiceID)
	require.True(t, ok)
	assert.Equal(t, reg.ID(), id)
	assert.Equal(t, 9, ref.Ranking())
	assert.Equal(t, []string{testIface}, ref.Properties().StringSliceValue(PropObjectClass))

	// Scope is immutable after registration.
	err = reg.SetProperties(AnyMap{PropServiceScope: "prototype"})
	require.ErrorIs(t, err, ErrReservedProperty)
}

func TestGetService_FactoryFailureIsContained(t *testing.T) {
	fw := newTestFramework(t)
	producer := startBundle(t, fw, "producer")
	consumer := startBundle(t, fw, "consumer")

	recorder := &frameworkEventRecorder{}
	_, err := consumer.AddFrameworkListener(recorder.listener)
	require.NoError(t, err)

	boom := fmt.Errorf("cannot construct")
	_, err = producer.RegisterServiceFactory([]string{testIface}, ServiceFactoryFunc{
		Get: func(*Bundle, *ServiceRegistration) (Any, error) { return nil, boom },
	}, AnyMap{PropServiceScope: "bundle"})
	require.NoError(t, err)

	ref, err := consumer.GetServiceReference(testIface)
	require.NoError(t, err)
	_, err = consumer.GetService(ref)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, recorder.types(), FrameworkEventError)

	// The failed get leaves no use behind.
	assert.Empty(t, consumer.Bundle().GetServicesInUse())
}

func TestGetService_PanickingFactoryIsContained(t *testing.T) {
	fw := newTestFramework(t)
	producer := startBundle(t, fw, "producer")
	consumer := startBundle(t, fw, "consumer")

	_, err := producer.RegisterServiceFactory([]string{testIface}, ServiceFactoryFunc{
		Get: func(*Bundle, *ServiceRegistration) (Any, error) { panic("constructor exploded") },
	}, AnyMap{PropServiceScope: "prototype"})
	require.NoError(t, err)

	ref, err := consumer.GetServiceReference(testIface)
	require.NoError(t, err)
	_, err = consumer.GetService(ref)
	require.Error(t, err)
}

func TestServicesInUseAndRegisteredServices(t *testing.T) {
	fw := newTestFramework(t)
	producer := startBundle(t, fw, "producer")
	consumer := startBundle(t, fw, "consumer")

	reg, err := producer.RegisterService([]string{testIface}, &greeter{}, nil)
	require.NoError(t, err)

	registered := producer.Bundle().GetRegisteredServices()
	require.Len(t, registered, 1)
	assert.Equal(t, reg.ID(), registered[0].ID())

	ref := reg.Reference()
	h, err := consumer.GetService(ref)
	require.NoError(t, err)

	inUse := consumer.Bundle().GetServicesInUse()
	require.Len(t, inUse, 1)
	assert.Equal(t, reg.ID(), inUse[0].ID())
	assert.Equal(t, []*Bundle{consumer.Bundle()}, ref.UsingBundles())

	h.Release()
	assert.Empty(t, consumer.Bundle().GetServicesInUse())
}

func TestServiceReference_NilAndEquality(t *testing.T) {
	fw := newTestFramework(t)
	ctx := startBundle(t, fw, "producer")

	var nilRef ServiceReference
	assert.True(t, nilRef.IsNil())
	assert.Equal(t, int64(-1), nilRef.ID())
	_, err := ctx.GetService(nilRef)
	require.ErrorIs(t, err, ErrInvalidReference)

	reg, err := ctx.RegisterService([]string{testIface}, &greeter{}, nil)
	require.NoError(t, err)
	refs, err := ctx.GetServiceReferences(testIface, "")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.True(t, refs[0].Equal(reg.Reference()))
	assert.False(t, refs[0].Less(reg.Reference()))
	assert.False(t, reg.Reference().Less(refs[0]))
}
