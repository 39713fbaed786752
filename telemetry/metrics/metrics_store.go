// Package metrics provides a way to record metrics.
package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Darkness4/tsremux"

var (
	// Engine metrics
	Engine struct {
		// LoadTime is the time taken to load the engine.
		LoadTime metric.Float64Histogram
		// Loads is the number of load attempts.
		Loads metric.Int64Counter
		// LoadErrors is the number of failed load attempts.
		LoadErrors metric.Int64Counter
		// ExecTime is the time taken by one engine command.
		ExecTime metric.Float64Histogram
	}

	// Jobs metrics
	Jobs struct {
		// CompletionTime is the time taken to complete a job.
		CompletionTime metric.Float64Histogram
		// StageTime is the time taken by one stage of a job.
		StageTime metric.Float64Histogram
		// Runs is the number of jobs started.
		Runs metric.Int64Counter
		// Errors is the number of failed jobs.
		Errors metric.Int64Counter
		// Rejected is the number of runs rejected because a job was active.
		Rejected metric.Int64Counter
		// State is the current state of the orchestrator.
		State metric.Int64Gauge
	}

	// Results metrics
	Results struct {
		// Published is the number of published results.
		Published metric.Int64Counter
		// Revoked is the number of revoked results.
		Revoked metric.Int64Counter
		// Bytes is the size of the published results.
		Bytes metric.Int64Histogram
	}
)

func init() {
	// Instruments are usable before InitMetrics is called, e.g. in tests.
	InitMetrics(noop.NewMeterProvider())
}

// InitMetrics initializes the metrics. Must be called as soon as possible.
func InitMetrics(provider metric.MeterProvider) {
	meter := provider.Meter(meterName)

	var err error
	// Engine
	Engine.LoadTime, err = meter.Float64Histogram(
		"engine.load.time",
		metric.WithDescription("Time taken to load the engine"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}
	Engine.Loads, err = meter.Int64Counter(
		"engine.loads",
		metric.WithDescription("Number of engine load attempts"),
	)
	if err != nil {
		panic(err)
	}
	Engine.LoadErrors, err = meter.Int64Counter(
		"engine.load.errors",
		metric.WithDescription("Number of failed engine load attempts"),
	)
	if err != nil {
		panic(err)
	}
	Engine.ExecTime, err = meter.Float64Histogram(
		"engine.exec.time",
		metric.WithDescription("Time taken by one engine command"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}

	// Jobs
	Jobs.CompletionTime, err = meter.Float64Histogram(
		"jobs.time_to_complete",
		metric.WithDescription("Time taken to complete a job"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}
	Jobs.StageTime, err = meter.Float64Histogram(
		"jobs.stage.time",
		metric.WithDescription("Time taken by one stage of a job"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}
	Jobs.Runs, err = meter.Int64Counter(
		"jobs.runs",
		metric.WithDescription("Number of jobs started"),
	)
	if err != nil {
		panic(err)
	}
	Jobs.Errors, err = meter.Int64Counter(
		"jobs.errors",
		metric.WithDescription("Number of failed jobs"),
	)
	if err != nil {
		panic(err)
	}
	Jobs.Rejected, err = meter.Int64Counter(
		"jobs.rejected",
		metric.WithDescription("Number of runs rejected because a job was already running"),
	)
	if err != nil {
		panic(err)
	}
	Jobs.State, err = meter.Int64Gauge(
		"jobs.state",
		metric.WithDescription("Current state of the orchestrator"),
	)
	if err != nil {
		panic(err)
	}

	// Results
	Results.Published, err = meter.Int64Counter(
		"results.published",
		metric.WithDescription("Number of published results"),
	)
	if err != nil {
		panic(err)
	}
	Results.Revoked, err = meter.Int64Counter(
		"results.revoked",
		metric.WithDescription("Number of revoked results"),
	)
	if err != nil {
		panic(err)
	}
	Results.Bytes, err = meter.Int64Histogram(
		"results.bytes",
		metric.WithDescription("Size of the published results"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(err)
	}
}
