package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// TimeStartRecording starts a timer and returns a function that records the
// elapsed seconds to the given histogram when called.
//
// Options passed to the returned function are appended to the ones given at
// start, so that outcome attributes can be attached late.
func TimeStartRecording(
	ctx context.Context,
	m metric.Float64Histogram,
	opts ...metric.RecordOption,
) func(...metric.RecordOption) {
	start := time.Now()
	return func(extra ...metric.RecordOption) {
		m.Record(ctx, time.Since(start).Seconds(), append(opts, extra...)...)
	}
}
