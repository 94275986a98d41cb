package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/layerflow/internal/compose"
	"github.com/dunamismax/layerflow/internal/storage"
	"github.com/dunamismax/layerflow/internal/store"
	"go.opentelemetry.io/otel/trace"
)

var errStorageUnavailable = errors.New("object storage is not configured")

type Composer interface {
	Compose(ctx context.Context, req compose.Request) (compose.Result, error)
}

type objectStorage interface {
	Fetch(ctx context.Context, objectKey string, maxBytes int64) (storage.Object, error)
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

type Options struct {
	Logger   *log.Logger
	Composer Composer
	Usage    store.UsageStore
	// Storage is optional; manifest and upload routes answer 503 without it.
	Storage     objectStorage
	RateLimiter RateLimiter
	Tracer      trace.Tracer

	SubjectHeader string
	MaxInputBytes int64
	PresignTTL    time.Duration
}

type Server struct {
	logger        *log.Logger
	composer      Composer
	usage         store.UsageStore
	storage       objectStorage
	rateLimiter   RateLimiter
	tracer        trace.Tracer
	metrics       *metrics
	subjectHeader string
	maxInputBytes int64
	presignTTL    time.Duration
	mux           *http.ServeMux
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if strings.TrimSpace(opts.SubjectHeader) == "" {
		opts.SubjectHeader = "X-User-ID"
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:        opts.Logger,
		composer:      opts.Composer,
		usage:         opts.Usage,
		storage:       opts.Storage,
		rateLimiter:   opts.RateLimiter,
		tracer:        opts.Tracer,
		metrics:       newMetrics(),
		subjectHeader: opts.SubjectHeader,
		maxInputBytes: opts.MaxInputBytes,
		presignTTL:    opts.PresignTTL,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) Fetch(context.Context, string, int64) (storage.Object, error) {
	return storage.Object{}, errStorageUnavailable
}

func (unavailableObjectStorage) PresignedPutURL(context.Context, string, time.Duration) (string, error) {
	return "", errStorageUnavailable
}

// Handler wraps the routes in request id, tracing, metrics and rate limiting,
// outermost first.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withTracing(h)
	h = withRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /{$}", s.handleCompose)
	s.mux.HandleFunc("POST /v1/compose", s.handleCompose)
	s.mux.HandleFunc("POST /v1/compose/manifest", s.handleComposeManifest)
	s.mux.HandleFunc("POST /v1/uploads", s.handleCreateUpload)
	s.mux.HandleFunc("GET /v1/usage", s.handleUsage)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// subject identifies the caller for rate limiting and usage accounting.
func (s *Server) subject(r *http.Request) string {
	subject := strings.TrimSpace(r.Header.Get(s.subjectHeader))
	if subject == "" {
		return "anonymous"
	}
	return subject
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
