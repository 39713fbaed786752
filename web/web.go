// Package web is the HTTP front end: an upload page, a JSON API, a WebSocket
// event stream and the published results.
package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/Darkness4/tsremux/engine"
	"github.com/Darkness4/tsremux/event"
	"github.com/Darkness4/tsremux/job"
	"github.com/Darkness4/tsremux/result"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

//go:embed index.html
var indexHTML []byte

// Option configures a Server.
type Option func(*options)

type options struct {
	baseContext   context.Context
	maxUploadSize int64
	metrics       bool
	notifyRetries int
	notifyDelay   time.Duration
}

// WithBaseContext sets the context jobs run with. Canceling it aborts the
// running job.
func WithBaseContext(ctx context.Context) Option {
	return func(o *options) {
		o.baseContext = ctx
	}
}

// WithMaxUploadSize bounds the size of an upload.
func WithMaxUploadSize(n int64) Option {
	return func(o *options) {
		o.maxUploadSize = n
	}
}

// WithMetrics serves the Prometheus registry on /metrics.
func WithMetrics() Option {
	return func(o *options) {
		o.metrics = true
	}
}

// WithNotifyRetry sets how notifications are retried.
func WithNotifyRetry(tries int, delay time.Duration) Option {
	return func(o *options) {
		o.notifyRetries = tries
		o.notifyDelay = delay
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		baseContext:   context.Background(),
		maxUploadSize: 4 << 30,
		notifyRetries: 3,
		notifyDelay:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Progress is the JSON form of event.Progress.
type Progress struct {
	Ratio float64 `json:"ratio"`
	// Elapsed is in seconds.
	Elapsed *float64 `json:"elapsed,omitempty"`
	Text    string   `json:"text"`
}

func newProgress(p *event.Progress) *Progress {
	if p == nil {
		return nil
	}
	out := &Progress{Ratio: p.Ratio, Text: p.String()}
	if p.Elapsed != nil {
		s := p.Elapsed.Seconds()
		out.Elapsed = &s
	}
	return out
}

// Result is a published result as seen by clients.
type Result struct {
	*result.Resource
	DownloadURL string `json:"downloadUrl"`
}

// State is a snapshot of the server.
type State struct {
	Engine      engine.State `json:"engine"`
	EngineError string       `json:"engineError,omitempty"`
	Job         job.MediaJob `json:"job"`
	Progress    *Progress    `json:"progress,omitempty"`
	Error       string       `json:"error,omitempty"`
	Result      *Result      `json:"result,omitempty"`
}

// Server serves the front end of one orchestrator.
type Server struct {
	orchestrator *job.Orchestrator
	engine       *engine.Handle
	bridge       *event.Bridge
	publisher    *result.Publisher
	opts         *options
	log          *zerolog.Logger

	mu             sync.RWMutex
	defaultThreads float64
	result         *result.Resource
	changed        chan struct{}
}

// New creates a server. h and bridge must be the ones o was built with.
func New(
	o *job.Orchestrator,
	h *engine.Handle,
	bridge *event.Bridge,
	publisher *result.Publisher,
	opts ...Option,
) *Server {
	logger := log.With().Str("component", "web").Logger()
	return &Server{
		orchestrator:   o,
		engine:         h,
		bridge:         bridge,
		publisher:      publisher,
		opts:           applyOptions(opts),
		log:            &logger,
		defaultThreads: math.NaN(),
		changed:        make(chan struct{}),
	}
}

// SetDefaultThreads sets the hint used when a run does not give one.
func (s *Server) SetDefaultThreads(hint float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultThreads = hint
}

func (s *Server) threadHint(value string) float64 {
	if value != "" {
		return job.ParseThreadHint(value)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultThreads
}

// changedChan returns a channel closed on the next state change.
func (s *Server) changedChan() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

func (s *Server) notifyChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.changed)
	s.changed = make(chan struct{})
}

// State returns a snapshot of the server.
func (s *Server) State() State {
	engineState, engineErr := s.engine.State()
	j := s.orchestrator.Current()
	st := State{
		Engine:   engineState,
		Job:      j,
		Progress: newProgress(j.Progress),
	}
	if engineErr != nil {
		st.EngineError = engineErr.Error()
	}
	if j.Err != nil {
		st.Error = j.Err.Error()
	}
	s.mu.RLock()
	if s.result != nil {
		st.Result = &Result{Resource: s.result, DownloadURL: s.result.DownloadURL()}
	}
	s.mu.RUnlock()
	return st
}

// Preload loads the engine ahead of the first run and publishes the new
// engine state. A failed preload is retried by the next run.
func (s *Server) Preload(ctx context.Context, coreLocation string) error {
	defer s.notifyChanged()
	return s.engine.EnsureLoaded(ctx, coreLocation)
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("GET /api/job", s.handleJob)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("GET "+s.publisher.BasePath(), s.publisher)
	if s.opts.metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return otelhttp.NewHandler(crossOriginIsolationMiddleware(mux), "tsremux")
}

// crossOriginIsolationMiddleware makes the pages cross-origin isolated.
func crossOriginIsolationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleJob(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.State())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
