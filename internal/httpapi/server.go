// Package httpapi serves the dashboard read path, the stream event ingress,
// admin controls and the Prometheus endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/recovery"
	"github.com/you/streampulse/internal/report"
	"github.com/you/streampulse/internal/telemetry"
)

// Store is the slice of persistence the API reads and appends to.
type Store interface {
	GetSession(ctx context.Context, id string) (core.Session, error)
	TopChatters(ctx context.Context, sessionID string, limit int) ([]core.TopChatterRecord, error)
	TimelineBuckets(ctx context.Context, sessionID string) ([]core.TimelineBucket, error)
	InsertEvents(ctx context.Context, events []core.StreamEvent) error
	Ping(ctx context.Context) error
}

type ReportBuilder interface {
	Build(ctx context.Context, sessionID string) (report.Report, error)
}

type Sweeper interface {
	RunOnce(ctx context.Context) (recovery.Result, error)
}

type BotReloader interface {
	Reload() (int, error)
}

type SessionEnder interface {
	EndSession(ctx context.Context, id string) (report.Outcome, error)
}

type Options struct {
	Addr           string
	RateLimitRPS   int
	RateLimitBurst int
	CORSOrigins    []string
	AdminToken     string
	Build          BuildInfo

	// Optional collaborators. Routes whose collaborator is nil answer 503.
	Reports  ReportBuilder
	Sweeper  Sweeper
	Bots     BotReloader
	Sessions SessionEnder
	Active   ActiveLister

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

type Server struct {
	httpServer *http.Server
	store      Store
	opts       Options
	log        *slog.Logger
	metrics    *Metrics
	limiter    *ipRateLimiter
	origins    *corsPolicy
	router     chi.Router
}

func New(store Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	srv := &Server{
		store:   store,
		opts:    opts,
		log:     opts.Logger.With("component", "httpapi"),
		limiter: newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		origins: newCORSPolicy(opts.CORSOrigins),
	}
	if reg := opts.Metrics.Registry(); reg != nil {
		srv.metrics = newMetrics(reg)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(srv.accessLog)

	r.Get("/healthz", srv.handleHealthz)
	r.Get("/info", srv.handleInfo)
	r.Handle("/metrics", opts.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(srv.rateLimit)
		r.Use(srv.cors)
		r.Get("/sessions/{id}", srv.handleSession)
		r.Get("/sessions/{id}/report", srv.handleReport)
		r.Get("/sessions/{id}/timeline", srv.handleTimeline)
		r.Get("/sessions/{id}/chatters", srv.handleChatters)
		r.Post("/events", srv.handleEvents)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireToken(opts.AdminToken))
		r.Post("/sweep", srv.handleSweep)
		r.Post("/bots/reload", srv.handleBotsReload)
		r.Post("/sessions/{id}/end", srv.handleEndSession)
	})

	srv.router = r
	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("healthz: store unreachable", "err", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) Start() error {
	s.log.Info("http api listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
