// internal/obs/metrics.go
package obs

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// EventMetrics counts inventory events on both sides of the channel.
type EventMetrics struct {
	Published       metric.Int64Counter
	PublishFailures metric.Int64Counter
	Applied         metric.Int64Counter
	Malformed       metric.Int64Counter
}

// NewEventMetrics registers the event counters on the global meter provider.
func NewEventMetrics() *EventMetrics {
	m := otel.Meter("bookstore/events")
	return &EventMetrics{
		Published:       counter(m, "bookstore.events.published", "inventory events confirmed by the broker"),
		PublishFailures: counter(m, "bookstore.events.publish_failures", "inventory events that could not be published"),
		Applied:         counter(m, "bookstore.events.applied", "inventory events applied to the replica"),
		Malformed:       counter(m, "bookstore.events.malformed", "deliveries skipped because they could not be decoded"),
	}
}

func counter(m metric.Meter, name, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		Logger.Warn("metric registration failed", "metric", name, "error", err)
		return noop.Int64Counter{}
	}
	return c
}
