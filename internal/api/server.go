// Package api exposes investigations, targets, dispatch and summaries over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/dispatch"
	"github.com/Ashfaaq98/osint-console/internal/ingest"
	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/Ashfaaq98/osint-console/internal/providers"
	"github.com/Ashfaaq98/osint-console/internal/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the persistence used by the handlers.
type Store interface {
	Ping(ctx context.Context) error
	CreateInvestigation(ctx context.Context, inv osint.Investigation) (osint.Investigation, error)
	GetInvestigation(ctx context.Context, id string) (osint.Investigation, error)
	ListInvestigations(ctx context.Context) ([]osint.Investigation, error)
	CreateTarget(ctx context.Context, t osint.Target) (osint.Target, error)
	GetTarget(ctx context.Context, id string) (osint.Target, error)
	ListTargets(ctx context.Context, investigationID string) ([]osint.Target, error)
	ListResults(ctx context.Context, targetID string, f store.ResultFilter) ([]osint.AnalysisResult, error)
	ListInvestigationResults(ctx context.Context, investigationID string) (map[string][]osint.AnalysisResult, error)
}

// Dispatcher runs analyses.
type Dispatcher interface {
	Dispatch(ctx context.Context, target osint.Target) (dispatch.Outcome, error)
	InFlight(targetID string) bool
}

// ProviderInfo is the introspection view of the provider registry.
type ProviderInfo interface {
	Describe() []providers.Descriptor
	Skipped() []providers.SkippedProvider
	HealthCheck(ctx context.Context) map[string]error
}

// Importer creates targets from import records.
type Importer interface {
	ImportRecord(ctx context.Context, rec ingest.Record) (osint.Target, bool, error)
}

// HealthFunc is an extra named dependency check reported by /health.
type HealthFunc func(ctx context.Context) error

// Options controls the HTTP server.
type Options struct {
	// Bind address, e.g. "127.0.0.1:8080"
	Bind string
	// Token for Authorization: Bearer <token> on /api/v1. Empty disables auth.
	Token string
	// RateLimit is requests per minute per client IP. 0 uses the default, <0 disables.
	RateLimit int
	// CORSOrigins lists allowed origins. Empty allows none.
	CORSOrigins []string
	// MaxBodyBytes caps request body size; defaults to 10 MiB.
	MaxBodyBytes int64
	Version      string
	Importer     Importer
	Checks       map[string]HealthFunc
	Logger       *log.Logger
}

// Server is the HTTP API.
type Server struct {
	store      Store
	dispatcher Dispatcher
	providers  ProviderInfo
	opts       Options
	logger     *log.Logger
	router     chi.Router
	srv        *http.Server

	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   int32
	startTime time.Time
}

// New builds the server and its routes.
func New(st Store, d Dispatcher, p ProviderInfo, opts Options) *Server {
	if opts.Bind == "" {
		opts.Bind = "127.0.0.1:8080"
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 100
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 * 1024 * 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:      st,
		dispatcher: d,
		providers:  p,
		opts:       opts,
		logger:     logger,
		baseCtx:    ctx,
		cancel:     cancel,
		startTime:  time.Now(),
	}
	s.router = s.routes()
	s.srv = &http.Server{
		Addr:              opts.Bind,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)

	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	if s.opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(s.opts.Token))
		r.Use(limitBody(s.opts.MaxBodyBytes))

		r.Route("/investigations", func(r chi.Router) {
			r.Get("/", s.handleListInvestigations)
			r.Post("/", s.handleCreateInvestigation)
			r.Get("/{id}", s.handleGetInvestigation)
			r.Get("/{id}/summary", s.handleInvestigationSummary)
		})

		r.Route("/targets", func(r chi.Router) {
			r.Get("/", s.handleListTargets)
			r.Post("/", s.handleCreateTarget)
			r.Get("/{id}", s.handleGetTarget)
			r.Post("/{id}/analyze", s.handleAnalyze)
			r.Get("/{id}/results", s.handleResults)
			r.Get("/{id}/summary", s.handleTargetSummary)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", s.handleProviders)
			r.Get("/health", s.handleProviderHealth)
		})

		r.Post("/import", s.handleImport)
	})

	return r
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return errors.New("api server already started")
	}
	// Bind early to surface errors synchronously
	ln, err := net.Listen("tcp", s.opts.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Bind, err)
	}
	s.logger.Printf("API listening on http://%s auth=%v rate_limit=%d/min", ln.Addr(), s.opts.Token != "", s.opts.RateLimit)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Printf("graceful shutdown failed: %v", err)
		}
		s.cancel()
	}()
	return nil
}

// Wait blocks until background dispatches started by the API have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// dispatchAsync runs a dispatch detached from the request.
func (s *Server) dispatchAsync(target osint.Target) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.dispatcher.Dispatch(s.baseCtx, target); err != nil {
			s.logger.Printf("Background dispatch of %s failed: %v", target.ID, err)
		}
	}()
}
