// CloudEvents integration for framework events. Bundle, service and
// framework events can be exported as CloudEvents for interoperability
// with external systems (event buses, audit logs, monitoring).
package gosgi

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// CloudEvent type constants, using reverse domain notation per the
// CloudEvents specification.
const (
	CloudEventTypeBundle    = "org.gosgi.bundle"
	CloudEventTypeService   = "org.gosgi.service"
	CloudEventTypeFramework = "org.gosgi.framework"
)

// CloudEventExporter receives framework activity converted to
// CloudEvents. Exporters run on the dispatching goroutine; they should
// return quickly.
type CloudEventExporter interface {
	Export(ctx context.Context, event cloudevents.Event) error
}

// generateEventID produces a unique CloudEvent identifier using UUIDv7,
// which embeds timestamp information for time-ordered uniqueness.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails for any reason
		id = uuid.New()
	}
	return id.String()
}

func newFrameworkCloudEvent(eventType, subtype, source string, data any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType + "." + subtype)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// NewBundleCloudEvent converts a BundleEvent into a CloudEvent.
func NewBundleCloudEvent(ev BundleEvent) cloudevents.Event {
	source := "/"
	if ev.Bundle != nil {
		source = fmt.Sprintf("/bundle/%d", ev.Bundle.ID())
	}
	data := map[string]any{
		"type": ev.Type.String(),
	}
	if ev.Bundle != nil {
		data["bundle.id"] = ev.Bundle.ID()
		data["bundle.symbolic_name"] = ev.Bundle.SymbolicName()
	}
	return newFrameworkCloudEvent(CloudEventTypeBundle, ev.Type.String(), source, data)
}

// NewServiceCloudEvent converts a ServiceEvent into a CloudEvent carrying
// the event's property snapshot as data.
func NewServiceCloudEvent(ev ServiceEvent) cloudevents.Event {
	source := fmt.Sprintf("/service/%d", ev.Reference.ID())
	data := map[string]any{
		"type":       ev.Type.String(),
		"properties": ev.Properties(),
	}
	return newFrameworkCloudEvent(CloudEventTypeService, ev.Type.String(), source, data)
}

// NewFrameworkCloudEvent converts a FrameworkEvent into a CloudEvent.
func NewFrameworkCloudEvent(ev FrameworkEvent) cloudevents.Event {
	source := "/framework"
	if ev.Bundle != nil {
		source = fmt.Sprintf("/bundle/%d", ev.Bundle.ID())
	}
	data := map[string]any{
		"type":    ev.Type.String(),
		"message": ev.Message,
	}
	if ev.Err != nil {
		data["error"] = ev.Err.Error()
	}
	return newFrameworkCloudEvent(CloudEventTypeFramework, ev.Type.String(), source, data)
}

// AddCloudEventExporter attaches an exporter to the framework bundle's
// context, forwarding every bundle, service and framework event as a
// CloudEvent. The returned tokens can be passed to RemoveListener on the
// framework bundle's context; they are also released automatically when
// the framework stops.
func (f *Framework) AddCloudEventExporter(exporter CloudEventExporter) ([]ListenerToken, error) {
	ctx := f.systemBundle.Context()
	if ctx == nil {
		return nil, ErrFrameworkStopped
	}
	export := func(event cloudevents.Event) {
		if err := exporter.Export(context.Background(), event); err != nil {
			f.logger.Debug("cloudevent export failed", "type", event.Type(), "error", err)
		}
	}
	// The exporter doubles as the listener data so several exporters can
	// coexist on the framework context.
	bt, err := ctx.AddBundleListenerWithData(func(ev BundleEvent) {
		export(NewBundleCloudEvent(ev))
	}, exporter)
	if err != nil {
		return nil, err
	}
	st, err := ctx.AddServiceListenerWithData(func(ev ServiceEvent) {
		export(NewServiceCloudEvent(ev))
	}, exporter, "")
	if err != nil {
		return nil, err
	}
	ft, err := ctx.AddFrameworkListenerWithData(func(ev FrameworkEvent) {
		export(NewFrameworkCloudEvent(ev))
	}, exporter)
	if err != nil {
		return nil, err
	}
	return []ListenerToken{bt, st, ft}, nil
}
