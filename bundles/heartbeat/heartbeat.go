// Package heartbeat ships a bundle that registers a heartbeat service
// and refreshes its properties on a cron schedule. Consumers observe the
// beat either by getting the service or by listening for the modified
// events its property updates broadcast.
package heartbeat

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xru192/gosgi"
)

// SymbolicName is the bundle's identity in manifests and the loader
// registry.
const SymbolicName = "org.gosgi.bundles.heartbeat"

// ServiceInterface is the interface name the heartbeat service is
// registered under.
const ServiceInterface = "org.gosgi.heartbeat.Heartbeat"

// Manifest keys and service property keys.
const (
	PropSchedule = "heartbeat.schedule"
	PropCount    = "heartbeat.count"
	PropLastBeat = "heartbeat.last_beat"

	defaultSchedule = "@every 30s"
)

// Manifest returns the install manifest for the heartbeat bundle.
func Manifest(schedule string) gosgi.AnyMap {
	if schedule == "" {
		schedule = defaultSchedule
	}
	return gosgi.AnyMap{
		gosgi.PropBundleSymbolicName: SymbolicName,
		gosgi.PropBundleVersion:      "1.0.0",
		PropSchedule:                 schedule,
	}
}

// Heartbeat is the service instance consumers get. Count is the number
// of beats since the bundle started.
type Heartbeat struct {
	count atomic.Int64
}

// Count returns the number of beats so far.
func (h *Heartbeat) Count() int64 {
	return h.count.Load()
}

// Activator registers the heartbeat service and drives its property
// refresh from a cron scheduler.
type Activator struct {
	cron    *cron.Cron
	service *Heartbeat
	reg     *gosgi.ServiceRegistration
}

// NewActivator returns the bundle's activator factory.
func NewActivator() gosgi.ActivatorFactory {
	return func() gosgi.Activator { return &Activator{} }
}

func (a *Activator) Start(ctx *gosgi.BundleContext) error {
	schedule := ctx.Bundle().Manifest().StringValue(PropSchedule, defaultSchedule)

	a.service = &Heartbeat{}
	reg, err := ctx.RegisterService([]string{ServiceInterface}, a.service, gosgi.AnyMap{
		PropCount: int64(0),
	})
	if err != nil {
		return err
	}
	a.reg = reg

	a.cron = cron.New()
	_, err = a.cron.AddFunc(schedule, a.beat)
	if err != nil {
		_ = reg.Unregister()
		return err
	}
	a.cron.Start()
	return nil
}

func (a *Activator) Stop(*gosgi.BundleContext) error {
	stopCtx := a.cron.Stop()
	<-stopCtx.Done()
	// The registration is cleaned up by context teardown; unregister
	// eagerly anyway so consumers see the service go before Stop returns.
	_ = a.reg.Unregister()
	return nil
}

// beat advances the counter and republishes the service properties,
// which broadcasts a ServiceEvent(modified) to interested listeners.
func (a *Activator) beat() {
	count := a.service.count.Add(1)
	_ = a.reg.SetProperties(gosgi.AnyMap{
		PropCount:    count,
		PropLastBeat: time.Now().UTC().Format(time.RFC3339),
	})
}
