// Package api exposes the mapping wizard over HTTP and owns the mutable
// per-pipeline state. Engine packages stay pure; every mutation of a
// pipeline's mapping set happens here under that pipeline's lock.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"chmap/internal/mapping"
	"chmap/internal/metrics"
	"chmap/internal/storage"
)

// SchemaProvider supplies destination table schemas and the database and
// table listings the wizard browses before a table is selected.
type SchemaProvider interface {
	Columns(ctx context.Context, database, table string) ([]mapping.DestinationColumn, error)
	Databases(ctx context.Context) ([]string, error)
	Tables(ctx context.Context, database string) ([]string, error)
}

// EventSampler supplies topic listings and the latest sampled event of a
// topic.
type EventSampler interface {
	Sample(ctx context.Context, topic string) ([]byte, error)
	Topics(ctx context.Context) ([]string, error)
}

// Server hosts the wizard endpoints.
type Server struct {
	schema  SchemaProvider
	sampler EventSampler
	store   storage.Store
	metrics metrics.Backend
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the authoritative wizard state of one pipeline. All access
// goes through withSession, which serializes per pipeline.
type session struct {
	mu sync.Mutex

	database string
	table    string
	columns  []mapping.DestinationColumn
	sources  []mapping.Source
	set      mapping.Set
}

// Options wires the server's collaborators. Nil Metrics defaults to a
// no-op backend; nil Logger defaults to slog.Default().
type Options struct {
	Schema  SchemaProvider
	Sampler EventSampler
	Store   storage.Store
	Metrics metrics.Backend
	Logger  *slog.Logger
}

// NewServer constructs the HTTP layer.
func NewServer(opts Options) *Server {
	m := opts.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		schema:   opts.Schema,
		sampler:  opts.Sampler,
		store:    opts.Store,
		metrics:  m,
		log:      log,
		sessions: make(map[string]*session),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/databases", s.instrument("databases", s.handleDatabases)).Methods(http.MethodGet)
	api.HandleFunc("/databases/{db}/tables", s.instrument("tables", s.handleTables)).Methods(http.MethodGet)
	api.HandleFunc("/tables/{db}/{table}/columns", s.instrument("columns", s.handleColumns)).Methods(http.MethodGet)
	api.HandleFunc("/topics", s.instrument("topics", s.handleTopics)).Methods(http.MethodGet)
	api.HandleFunc("/topics/{topic}/sample", s.instrument("sample", s.handleSample)).Methods(http.MethodGet)

	api.HandleFunc("/pipelines/{id}/mappings/auto", s.instrument("automap", s.handleAutoMap)).Methods(http.MethodPost)
	api.HandleFunc("/pipelines/{id}/mappings/manual", s.instrument("manual", s.handleManualMap)).Methods(http.MethodPost)
	api.HandleFunc("/pipelines/{id}/mappings/reset", s.instrument("reset", s.handleReset)).Methods(http.MethodPost)
	api.HandleFunc("/pipelines/{id}/validate", s.instrument("validate", s.handleValidate)).Methods(http.MethodPost)
	api.HandleFunc("/pipelines/{id}/deploy", s.instrument("deploy", s.handleDeploy)).Methods(http.MethodPost)

	return r
}

// instrument wraps a handler with latency observation and request logging.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		h(sw, r)

		elapsed := time.Since(start)
		s.metrics.ObserveHistogram(metrics.MetricRequestDurationSeconds, elapsed.Seconds(), metrics.Labels{
			"route":  route,
			"status": strconv.Itoa(sw.status),
		})
		s.log.Debug("request",
			slog.String("route", route),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("elapsed", elapsed),
		)
	}
}

func slogErr(err error) slog.Attr {
	return slog.Any("error", err)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withSession runs fn with the pipeline's session locked, creating the
// session on first use.
func (s *Server) withSession(pipelineID string, fn func(*session) error) error {
	s.mu.Lock()
	sess, ok := s.sessions[pipelineID]
	if !ok {
		sess = &session{}
		s.sessions[pipelineID] = sess
	}
	s.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return fn(sess)
}

// sourcePaths returns the union of flattened field paths across the
// session's sources, in source order.
func (sess *session) sourcePaths() []string {
	var paths []string
	seen := make(map[string]bool)
	for _, src := range sess.sources {
		for _, p := range src.Paths() {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths
}

func (sess *session) mode() string {
	if len(sess.sources) > 1 {
		return "dual"
	}
	return "single"
}
