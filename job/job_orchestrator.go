package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"sync"
	"time"

	"github.com/Darkness4/tsremux/engine"
	"github.com/Darkness4/tsremux/event"
	"github.com/Darkness4/tsremux/telemetry/metrics"
	"github.com/Darkness4/tsremux/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "job"

// Virtual file names used by a job.
const (
	InputFile  = "input.ts"
	AudioFile  = "audio.m4a"
	VideoFile  = "video.mp4"
	OutputFile = "output.mp4"
)

type stage struct {
	name   string
	status Status
	start  string
	done   string
	args   func(threads string) []string
}

// stages are executed strictly in order; each one consumes the outputs of the
// previous ones.
var stages = []stage{
	{
		name:   "extract audio",
		status: StatusExtractingAudio,
		start:  "extracting audio...",
		done:   "audio extracted",
		args: func(threads string) []string {
			return []string{"-i", InputFile, "-vn", "-c:a", "copy", "-threads", threads, AudioFile}
		},
	},
	{
		name:   "extract video",
		status: StatusExtractingVideo,
		start:  "extracting video-only track...",
		done:   "video extracted",
		args: func(threads string) []string {
			return []string{
				"-i", InputFile,
				"-an", "-c:v", "copy",
				"-movflags", "faststart",
				"-threads", threads,
				VideoFile,
			}
		},
	},
	{
		name:   "mux",
		status: StatusMuxing,
		start:  "muxing audio and video into MP4...",
		done:   "mux finished",
		args: func(threads string) []string {
			return []string{
				"-i", VideoFile,
				"-i", AudioFile,
				"-c:v", "copy", "-c:a", "copy",
				"-movflags", "faststart",
				"-shortest",
				"-threads", threads,
				OutputFile,
			}
		},
	},
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	coreLocation string
	stageTimeout time.Duration
}

// WithCoreLocation sets the location the engine is loaded from.
func WithCoreLocation(coreLocation string) Option {
	return func(o *options) {
		o.coreLocation = coreLocation
	}
}

// WithStageTimeout bounds each engine command. Zero, the default, waits forever.
func WithStageTimeout(d time.Duration) Option {
	return func(o *options) {
		o.stageTimeout = d
	}
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Orchestrator runs at most one MediaJob at a time against an engine.
type Orchestrator struct {
	engine *engine.Handle
	bridge *event.Bridge
	opts   *options
	log    *zerolog.Logger

	mu      sync.Mutex
	current *MediaJob
}

// New creates an orchestrator owning the given engine handle. The bridge must
// be the sink the handle was built with.
func New(h *engine.Handle, bridge *event.Bridge, opts ...Option) *Orchestrator {
	logger := log.With().Str("component", "job").Logger()
	o := &Orchestrator{
		engine:  h,
		bridge:  bridge,
		opts:    applyOptions(opts),
		log:     &logger,
		current: &MediaJob{Status: StatusIdle, Log: []string{}},
	}
	bridge.OnLog(o.appendLog)
	bridge.OnProgress(o.setProgress)
	return o
}

func (o *Orchestrator) appendLog(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active() {
		o.current.Log = append(o.current.Log, line)
	}
}

func (o *Orchestrator) setProgress(p event.Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active() {
		o.current.Progress = &p
	}
}

// Current returns a snapshot of the current (or last) job.
func (o *Orchestrator) Current() MediaJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.clone()
}

// Running reports whether a job is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active()
}

// active must be called with mu held.
func (o *Orchestrator) active() bool {
	return !o.current.Status.Terminal()
}

// Run executes the pipeline on input and blocks until it ends.
//
// It returns ErrAlreadyRunning without touching the active job if one is
// running. On failure the returned snapshot is in StatusFailed and carries the
// error.
func (o *Orchestrator) Run(
	ctx context.Context,
	name string,
	input []byte,
	threadHint float64,
) (MediaJob, error) {
	j, err := o.claim(ctx, name, input, threadHint)
	if err != nil {
		return MediaJob{}, err
	}
	return o.execute(ctx, j, input)
}

// Start is Run without blocking: the job is claimed synchronously, then runs
// in a new goroutine. done, if not nil, receives the final snapshot.
func (o *Orchestrator) Start(
	ctx context.Context,
	name string,
	input []byte,
	threadHint float64,
	done func(MediaJob, error),
) (MediaJob, error) {
	j, err := o.claim(ctx, name, input, threadHint)
	if err != nil {
		return MediaJob{}, err
	}
	go func() {
		final, err := o.execute(ctx, j, input)
		if done != nil {
			done(final, err)
		}
	}()
	return j, nil
}

func (o *Orchestrator) claim(
	ctx context.Context,
	name string,
	input []byte,
	threadHint float64,
) (MediaJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active() {
		metrics.Jobs.Rejected.Add(ctx, 1)
		return MediaJob{}, ErrAlreadyRunning
	}
	o.current = &MediaJob{
		ID:        utils.RandomID(12),
		InputName: name,
		InputSize: len(input),
		Threads:   ClampThreads(threadHint),
		Status:    StatusLoading,
		Log:       []string{},
		StartedAt: time.Now(),
	}
	return o.current.clone(), nil
}

func (o *Orchestrator) execute(ctx context.Context, j MediaJob, input []byte) (MediaJob, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "job.Run", trace.WithAttributes(
		attribute.String("job_id", j.ID),
		attribute.String("input_name", j.InputName),
		attribute.Int("input_size", len(input)),
		attribute.Int("threads", j.Threads),
	))
	defer span.End()

	logger := o.log.With().Str("jobID", j.ID).Str("input", j.InputName).Int("threads", j.Threads).Logger()
	logger.Info().Int("size", len(input)).Msg("job started")
	metrics.Jobs.Runs.Add(ctx, 1)
	end := metrics.TimeStartRecording(ctx, metrics.Jobs.CompletionTime)

	data, err := o.pipeline(ctx, input, j.Threads)
	if err != nil {
		o.bridge.EmitLog("error: " + err.Error())
		end(metric.WithAttributes(attribute.Bool("success", false)))
		metrics.Jobs.Errors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("job failed")
		return o.finish(ctx, StatusFailed, nil, err), err
	}

	o.bridge.EmitLog("done")
	end(metric.WithAttributes(attribute.Bool("success", true)))
	logger.Info().Int("outputSize", len(data)).Msg("job finished")
	return o.finish(ctx, StatusDone, data, nil), nil
}

func (o *Orchestrator) finish(ctx context.Context, status Status, data []byte, err error) MediaJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current.Status = status
	o.current.Result = data
	o.current.Err = err
	o.current.FinishedAt = time.Now()
	setStatusMetrics(ctx, status)
	return o.current.clone()
}

func (o *Orchestrator) transition(ctx context.Context, status Status, stageIndex int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current.Status = status
	if stageIndex > o.current.StageIndex {
		o.current.StageIndex = stageIndex
	}
	setStatusMetrics(ctx, status)
}

func (o *Orchestrator) pipeline(ctx context.Context, input []byte, threads int) ([]byte, error) {
	o.transition(ctx, StatusLoading, 0)
	o.bridge.EmitLog("loading engine...")
	if err := o.engine.EnsureLoaded(ctx, o.opts.coreLocation); err != nil {
		return nil, err
	}

	o.removeIntermediates(ctx)
	o.bridge.EmitLog("writing input file...")
	if err := o.engine.WriteFile(ctx, InputFile, input); err != nil {
		return nil, err
	}

	t := strconv.Itoa(threads)
	for i, s := range stages {
		o.transition(ctx, s.status, i)
		o.bridge.EmitLog(s.start)
		if err := o.runStage(ctx, s, t); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		o.bridge.EmitLog(s.done)
	}

	o.bridge.EmitLog("reading output file...")
	return o.engine.ReadFile(ctx, OutputFile)
}

func (o *Orchestrator) runStage(ctx context.Context, s stage, threads string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "job.Stage", trace.WithAttributes(
		attribute.String("stage", s.name),
	))
	defer span.End()
	end := metrics.TimeStartRecording(
		ctx,
		metrics.Jobs.StageTime,
		metric.WithAttributes(attribute.String("stage", s.name)),
	)

	if o.opts.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.stageTimeout)
		defer cancel()
	}

	if err := o.engine.Exec(ctx, s.args(threads)); err != nil {
		end(metric.WithAttributes(attribute.Bool("success", false)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	end(metric.WithAttributes(attribute.Bool("success", true)))
	return nil
}

// removeIntermediates deletes what a previous job may have left behind.
func (o *Orchestrator) removeIntermediates(ctx context.Context) {
	for _, name := range []string{InputFile, AudioFile, VideoFile, OutputFile} {
		if err := o.engine.DeleteFile(ctx, name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			o.log.Warn().Err(err).Str("file", name).Msg("failed to remove stale file")
		}
	}
}
