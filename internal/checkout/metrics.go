package checkout

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	placed   metric.Int64Counter
	rejected metric.Int64Counter
	lockWait metric.Float64Histogram
}

func newMetrics() *metrics {
	meter := otel.Meter("checkout")

	placed, err := meter.Int64Counter("checkout.orders.placed",
		metric.WithDescription("Quick orders committed"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		otel.Handle(err)
	}

	rejected, err := meter.Int64Counter("checkout.orders.rejected",
		metric.WithDescription("Quick orders refused, by reason"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		otel.Handle(err)
	}

	lockWait, err := meter.Float64Histogram("checkout.lock.wait",
		metric.WithDescription("Time spent acquiring the product row lock"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &metrics{placed: placed, rejected: rejected, lockWait: lockWait}
}

func (m *metrics) recordPlaced(ctx context.Context, productID string) {
	m.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("product.id", productID)))
}

func (m *metrics) recordRejected(ctx context.Context, err error) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectionReason(err))))
}

func (m *metrics) recordLockWait(ctx context.Context, d time.Duration) {
	m.lockWait.Record(ctx, d.Seconds())
}
