package engine

import (
	"context"
	"errors"
	"os/exec"
	"sync"

	"github.com/Darkness4/tsremux/telemetry/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "engine"

// Handle owns one engine instance.
//
// A process must build exactly one Handle and share it: the engine's virtual
// filesystem is a process-wide resource. Once ready, the engine is never
// reloaded nor disposed.
type Handle struct {
	engine Engine
	sink   Sink
	log    *zerolog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	state   State
	loadErr error
}

// NewHandle wraps an engine. Notifications emitted during Exec go to sink.
func NewHandle(engine Engine, sink Sink) *Handle {
	logger := log.With().Str("component", "engine").Logger()
	return &Handle{
		engine: engine,
		sink:   sink,
		log:    &logger,
	}
}

// State returns the lifecycle state and, when it is StateLoadFailed, the error
// of the last load attempt.
func (h *Handle) State() (State, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state, h.loadErr
}

func (h *Handle) setState(state State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.loadErr = err
}

// EnsureLoaded loads the engine if it is not loaded yet.
//
// Concurrent callers share a single load attempt and all observe its outcome.
// A caller whose context ends stops waiting; the shared load keeps running.
func (h *Handle) EnsureLoaded(ctx context.Context, coreLocation string) error {
	if state, _ := h.State(); state == StateReady {
		return nil
	}

	ch := h.group.DoChan("load", func() (any, error) {
		if state, _ := h.State(); state == StateReady {
			return nil, nil
		}
		return nil, h.load(context.WithoutCancel(ctx), coreLocation)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) load(ctx context.Context, coreLocation string) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.Load", trace.WithAttributes(
		attribute.String("core_location", coreLocation),
	))
	defer span.End()

	h.setState(StateLoading, nil)
	h.log.Info().Str("coreLocation", coreLocation).Msg("loading engine")
	metrics.Engine.Loads.Add(ctx, 1)
	end := metrics.TimeStartRecording(ctx, metrics.Engine.LoadTime)

	if err := h.engine.Load(ctx, coreLocation); err != nil {
		end(metric.WithAttributes(attribute.Bool("success", false)))
		err = &LoadError{CoreLocation: coreLocation, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.Engine.LoadErrors.Add(ctx, 1)
		h.setState(StateLoadFailed, err)
		h.log.Error().Err(err).Msg("engine failed to load")
		return err
	}

	end(metric.WithAttributes(attribute.Bool("success", true)))
	h.setState(StateReady, nil)
	h.log.Info().Msg("engine loaded")
	return nil
}

func (h *Handle) ready() bool {
	state, _ := h.State()
	return state == StateReady
}

// WriteFile stores data in the engine's virtual filesystem.
func (h *Handle) WriteFile(ctx context.Context, name string, data []byte) error {
	if !h.ready() {
		return &IOError{Op: "write", Name: name, Err: ErrNotReady}
	}
	if err := h.engine.WriteFile(ctx, name, data); err != nil {
		return &IOError{Op: "write", Name: name, Err: err}
	}
	return nil
}

// ReadFile reads a file from the engine's virtual filesystem.
func (h *Handle) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if !h.ready() {
		return nil, &IOError{Op: "read", Name: name, Err: ErrNotReady}
	}
	data, err := h.engine.ReadFile(ctx, name)
	if err != nil {
		return nil, &IOError{Op: "read", Name: name, Err: err}
	}
	return data, nil
}

// DeleteFile removes a file from the engine's virtual filesystem.
func (h *Handle) DeleteFile(ctx context.Context, name string) error {
	if !h.ready() {
		return &IOError{Op: "delete", Name: name, Err: ErrNotReady}
	}
	if err := h.engine.DeleteFile(ctx, name); err != nil {
		return &IOError{Op: "delete", Name: name, Err: err}
	}
	return nil
}

// Exec runs one command to completion.
func (h *Handle) Exec(ctx context.Context, args []string) error {
	if !h.ready() {
		return &ExecError{Args: args, ExitCode: -1, Err: ErrNotReady}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.Exec", trace.WithAttributes(
		attribute.StringSlice("args", args),
	))
	defer span.End()
	end := metrics.TimeStartRecording(ctx, metrics.Engine.ExecTime)

	h.log.Debug().Strs("args", args).Msg("engine exec start")
	code, err := h.engine.Exec(ctx, args, h.sink)
	if err != nil || code != 0 {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		err = &ExecError{Args: args, ExitCode: code, Err: err}
		end(metric.WithAttributes(attribute.Bool("success", false)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.log.Error().Err(err).Strs("args", args).Msg("engine exec failed")
		return err
	}
	end(metric.WithAttributes(attribute.Bool("success", true)))
	h.log.Debug().Strs("args", args).Msg("engine exec finished")
	return nil
}
