// Package server exposes an AgentStream over HTTP. Chat turns are streamed
// as server-sent events; chats and runs have small JSON endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentstream"
	"github.com/hupe1980/agentstream/observability"
)

// Options configures the server.
type Options struct {
	Addr            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// HeartbeatInterval spaces keep-alive comments on idle event streams.
	// Zero disables them.
	HeartbeatInterval time.Duration

	// DefaultAPIKey is used when a request carries no key of its own.
	DefaultAPIKey string

	// AccessTokens maps X-Access-Token values to user ids. When empty every
	// request is served as UserID.
	AccessTokens map[string]string
	UserID       string

	// Effort and ThinkingBudget apply to requests that leave them unset.
	Effort         string
	ThinkingBudget int64

	Logger zerolog.Logger

	// Metrics enables request metrics; Gatherer enables GET /metrics.
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Tracer   *observability.Tracer
}

// Server serves an AgentStream.
type Server struct {
	app     *agentstream.AgentStream
	opts    Options
	handler http.Handler

	mu   sync.Mutex
	runs map[string]string // run id -> owning user
}

// New creates a Server for app.
func New(app *agentstream.AgentStream, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:              ":8080",
		AllowedOrigins:    []string{"*"},
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		UserID:            "default",
		Logger:            zerolog.Nop(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{app: app, opts: opts, runs: make(map[string]string)}
	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.opts.Logger))
	r.Use(telemetry(s.opts.Tracer))
	if s.opts.Metrics != nil {
		r.Use(instrument(s.opts.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Access-Token", "X-Api-Key", "X-Request-Id", "X-Run-Id"},
		ExposedHeaders: []string{"X-Request-Id", "X-Run-Id", "X-Trace-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authenticate(s.opts.AccessTokens, s.opts.UserID))

		r.Post("/chat", s.handleChat)

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", s.listChats)
			r.Route("/{chatID}", func(r chi.Router) {
				r.Get("/", s.getChat)
				r.Put("/", s.putChat)
				r.Delete("/", s.deleteChat)
			})
		})

		r.Delete("/runs/{runID}", s.cancelRun)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.opts.Addr,
		Handler:     s.handler,
		ReadTimeout: s.opts.ReadTimeout,
		IdleTimeout: s.opts.IdleTimeout,
		// No write timeout: event streams stay open for the whole run.
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.opts.Logger.Info().Str("addr", s.opts.Addr).Msg("server.listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.opts.Logger.Info().Msg("server.shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"error": map[string]string{"type": errorType(status), "message": message},
	})
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "authentication"
	case http.StatusConflict:
		return "conflict"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "server_error"
	}
}
