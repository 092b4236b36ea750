package observability

import (
	"context"

	"shipsanity/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueueCounter reports the job queue snapshot.
type QueueCounter interface {
	Counts(ctx context.Context) (store.JobCounts, error)
}

// RegisterQueueDepth exposes the queue counts as the shipsanity.queue.depth gauge,
// one series per job state. Counts are read on every collection.
func RegisterQueueDepth(q QueueCounter) (metric.Registration, error) {
	meter := otel.Meter("shipsanity/queue")
	gauge, err := meter.Int64ObservableGauge(
		"shipsanity.queue.depth",
		metric.WithDescription("Jobs in the queue by state"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		counts, err := q.Counts(ctx)
		if err != nil {
			return err
		}
		for state, n := range map[string]int64{
			"waiting":   counts.Waiting,
			"active":    counts.Active,
			"completed": counts.Completed,
			"failed":    counts.Failed,
			"delayed":   counts.Delayed,
		} {
			o.ObserveInt64(gauge, n, metric.WithAttributes(attribute.String("state", state)))
		}
		return nil
	}, gauge)
}
