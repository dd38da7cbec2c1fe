package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/stagesim/pioneer/internal/dispatcher"

// instruments are the dispatcher's OTel metrics. They come from the global
// meter provider and are no-ops until one is installed.
type instruments struct {
	queueSize   metric.Int64ObservableGauge
	processed   metric.Int64Counter
	dropped     metric.Int64Counter
	unsupported metric.Int64Counter
}

func (d *Dispatcher) initMetrics() error {
	m := otel.Meter(instrumentationName)

	var err error
	if d.queueSize, err = m.Int64ObservableGauge(
		"pioneer.dispatcher.queue.size",
		metric.WithDescription("Events waiting in a buffered handler queue"),
	); err != nil {
		return fmt.Errorf("creating queue size gauge: %w", err)
	}
	if _, err = m.RegisterCallback(d.observeQueues, d.queueSize); err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&d.processed, "pioneer.dispatcher.events.processed", "Commands handled"},
		{&d.dropped, "pioneer.dispatcher.events.dropped", "Commands dropped on a full queue"},
		{&d.unsupported, "pioneer.dispatcher.events.unsupported", "Commands with no registered handler"},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}
	return nil
}

func (d *Dispatcher) observeQueues(_ context.Context, o metric.Observer) error {
	for cmd, n := range d.QueueLengths() {
		o.ObserveInt64(d.queueSize, int64(n), metric.WithAttributes(attribute.String("command", cmd)))
	}
	return nil
}
