// Package result exposes output bytes as referenceable, revocable resources.
package result

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Darkness4/tsremux/telemetry/metrics"
	"github.com/Darkness4/tsremux/utils"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrAlreadyRevoked is returned when a resource is revoked twice.
	ErrAlreadyRevoked = errors.New("resource already revoked")
	// ErrNotFound is returned when no live resource has the given id.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidToken is returned when a signed URL does not verify.
	ErrInvalidToken = errors.New("invalid token")
	// ErrEmpty is returned when publishing no bytes.
	ErrEmpty = errors.New("nothing to publish")
)

const idLength = 16

// Resource is a published result.
type Resource struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MIMEType string `json:"mimeType"`
	Size     int    `json:"size"`
	// Name is the file name offered on download.
	Name string `json:"name"`

	data      []byte
	createdAt time.Time
	publisher *Publisher
	revoked   atomic.Bool
}

// DownloadURL is URL with the download flag set.
func (r *Resource) DownloadURL() string {
	if strings.Contains(r.URL, "?") {
		return r.URL + "&download=1"
	}
	return r.URL + "?download=1"
}

// Revoke frees the resource. Any later call returns ErrAlreadyRevoked.
func (r *Resource) Revoke() error {
	if !r.revoked.CompareAndSwap(false, true) {
		return ErrAlreadyRevoked
	}
	r.publisher.remove(r.ID)
	metrics.Results.Revoked.Add(context.Background(), 1)
	r.publisher.log.Debug().Str("id", r.ID).Msg("result revoked")
	return nil
}

// Revoked reports whether Revoke has been called.
func (r *Resource) Revoked() bool {
	return r.revoked.Load()
}

// Option configures a Publisher.
type Option func(*options)

type options struct {
	basePath string
	secret   []byte
	ttl      time.Duration
}

// WithBasePath sets the URL path under which resources are served.
func WithBasePath(basePath string) Option {
	return func(o *options) {
		o.basePath = basePath
	}
}

// WithSecret enables signed URLs.
func WithSecret(secret []byte) Option {
	return func(o *options) {
		o.secret = secret
	}
}

// WithTTL sets the lifetime of signed URLs.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		basePath: "/results/",
		ttl:      time.Hour,
	}
	for _, opt := range opts {
		opt(o)
	}
	if !strings.HasSuffix(o.basePath, "/") {
		o.basePath += "/"
	}
	return o
}

// Publisher stores published resources in memory and serves them over HTTP.
type Publisher struct {
	basePath string
	key      []byte
	ttl      time.Duration
	log      *zerolog.Logger

	mu        sync.RWMutex
	resources map[string]*Resource
}

// NewPublisher creates an empty publisher.
func NewPublisher(opts ...Option) *Publisher {
	o := applyOptions(opts)
	logger := log.With().Str("component", "result").Logger()
	p := &Publisher{
		basePath:  o.basePath,
		ttl:       o.ttl,
		log:       &logger,
		resources: make(map[string]*Resource),
	}
	if len(o.secret) > 0 {
		p.key = DeriveKey(o.secret)
	}
	return p
}

// BasePath is the URL path prefix handled by ServeHTTP.
func (p *Publisher) BasePath() string {
	return p.basePath
}

// PublishOption configures a published resource.
type PublishOption func(*Resource)

// WithName sets the file name offered on download. It defaults to "output"
// with the extension of the MIME type.
func WithName(name string) PublishOption {
	return func(r *Resource) {
		r.Name = name
	}
}

// Publish stores data and returns a resource referring to it. An empty
// mimeType is detected from the content.
func (p *Publisher) Publish(data []byte, mimeType string, opts ...PublishOption) (*Resource, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	var ext string
	if mimeType == "" {
		mt := mimetype.Detect(data)
		mimeType = mt.String()
		ext = mt.Extension()
	} else if mt := mimetype.Lookup(mimeType); mt != nil {
		ext = mt.Extension()
	}
	if ext == "" {
		ext = ".bin"
	}

	r := &Resource{
		ID:        utils.RandomID(idLength),
		MIMEType:  mimeType,
		Size:      len(data),
		Name:      "output" + ext,
		data:      data,
		createdAt: time.Now(),
		publisher: p,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.URL = p.basePath + r.ID
	if p.key != nil {
		token, err := p.sign(r.ID, r.createdAt)
		if err != nil {
			return nil, err
		}
		r.URL += "?token=" + token
	}

	p.mu.Lock()
	p.resources[r.ID] = r
	p.mu.Unlock()

	metrics.Results.Published.Add(context.Background(), 1)
	metrics.Results.Bytes.Record(
		context.Background(),
		int64(len(data)),
		metric.WithAttributes(attribute.String("mime_type", mimeType)),
	)
	p.log.Info().
		Str("id", r.ID).
		Str("mimeType", mimeType).
		Int("size", len(data)).
		Msg("result published")
	return r, nil
}

// Get returns a live resource.
func (p *Publisher) Get(id string) (*Resource, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (p *Publisher) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.resources[id]; ok {
		r.data = nil
		delete(p.resources, id)
	}
}

// Len returns the number of live resources.
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.resources)
}

// ServeHTTP serves a resource with range support. "?download=1" makes the
// browser save it instead of displaying it.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, p.basePath)
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	if p.key != nil {
		if err := p.verify(id, r.URL.Query().Get("token")); err != nil {
			p.log.Warn().Err(err).Str("id", id).Msg("rejected result request")
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	p.mu.RLock()
	res, ok := p.resources[id]
	var data []byte
	if ok {
		data = res.data
	}
	p.mu.RUnlock()
	if !ok {
		http.Error(w, ErrNotFound.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", res.MIMEType)
	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+res.Name+`"`)
	}
	http.ServeContent(w, r, res.Name, res.createdAt, bytes.NewReader(data))
}
