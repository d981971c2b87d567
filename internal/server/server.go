// Package server exposes the analysis pipeline and the dataset index over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/leapstack-labs/leapask/internal/pipeline"
	"github.com/leapstack-labs/leapask/pkg/core"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxUploadMB caps uploaded file size.
const DefaultMaxUploadMB = 50

// Analyzer is the pipeline surface the server calls.
type Analyzer interface {
	Analyze(ctx context.Context, question string) *core.Response
	Plan(ctx context.Context, question string) *pipeline.PlanResult
	Code(ctx context.Context, question string) *pipeline.CodeResult
	Execute(ctx context.Context, code, target string) *core.ExecutionResult
}

// Catalog is the dataset index surface the server calls.
type Catalog interface {
	List() []core.Dataset
	Register(ctx context.Context, path string) (core.Dataset, error)
	Remove(ctx context.Context, name string) error
	DataDir() string
	Watch(ctx context.Context, debounce time.Duration) error
}

// History lists recorded analyses.
type History interface {
	ListAnalyses(ctx context.Context, limit int) ([]*core.AnalysisRecord, error)
}

// Config holds server dependencies and settings.
type Config struct {
	Addr     string
	Pipeline Analyzer
	Catalog  Catalog
	// History may be nil, in which case /history returns an empty list.
	History History
	// Metrics may be nil, in which case /metrics is not served.
	Metrics *Metrics
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string
	RateLimit   RateLimitConfig
	// Watch keeps the index in sync with the data directory while serving.
	Watch       bool
	MaxUploadMB int64
	Logger      *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	limiter *rateLimiter
	logger  *slog.Logger
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil || cfg.Catalog == nil {
		return nil, errors.New("server: pipeline and catalog are required")
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = DefaultMaxUploadMB
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		var rejected func()
		if cfg.Metrics != nil {
			rejected = cfg.Metrics.RateLimited.Inc
		}
		s.limiter = newRateLimiter(cfg.RateLimit, rejected)
	}
	return s, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.requestLogger,
		middleware.Recoverer,
	)
	if s.cfg.Metrics != nil {
		r.Use(s.cfg.Metrics.Middleware)
	}
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Get("/files", s.handleListFiles)
		r.Post("/files", s.handleUpload)
		r.Delete("/files/{name}", s.handleDeleteFile)
		r.Get("/history", s.handleHistory)

		r.Post("/analyze", s.handleAnalyze)
		r.Post("/analyze/plan", s.handlePlan)
		r.Post("/analyze/code", s.handleCode)
		r.Post("/analyze/execute", s.handleExecute)
	})
	return r
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting API server", "addr", ln.Addr().String())

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Watch {
		eg.Go(func() error {
			return s.cfg.Catalog.Watch(egctx, 0)
		})
	}
	if s.limiter != nil {
		eg.Go(func() error {
			s.limiter.sweep(egctx, 5*time.Minute, 10*time.Minute)
			return nil
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// requestLogger logs each request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
