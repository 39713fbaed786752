package job

import (
	"context"

	"github.com/Darkness4/tsremux/telemetry/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// setStatusMetrics demuxes the status to the metrics.
func setStatusMetrics(ctx context.Context, status Status) {
	m := metrics.Jobs.State
	m.Record(ctx, 1, metric.WithAttributes(attribute.String("state", status.String())))
	// Remove the rest of the states from the metrics.
	for i := StatusIdle; i <= StatusFailed; i++ {
		if i != status {
			m.Record(ctx, 0, metric.WithAttributes(attribute.String("state", i.String())))
		}
	}
}
