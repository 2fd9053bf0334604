// Package api is the HTTP surface of the bridge: outbound submit, inbound
// polling, delivery status, the DMS webhook and connection settings.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"dmsbridge/internal/bus"
	"dmsbridge/internal/delivery"
	"dmsbridge/internal/dms"
	"dmsbridge/internal/inbox"
	"dmsbridge/internal/journal"
	"dmsbridge/internal/metrics"
	"dmsbridge/internal/webhook"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultMaxBodyBytes   = 1 << 20
	readHeaderTimeout     = 10 * time.Second
	shutdownTimeout       = 5 * time.Second
	journalTimeout        = 2 * time.Second
)

// JournalReader serves GET /api/journal.
type JournalReader interface {
	RecentWebhooks(ctx context.Context, limit int) ([]journal.WebhookEntry, error)
	RecentOutbound(ctx context.Context, limit int) ([]journal.OutboundEntry, error)
}

type Config struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
	// MetricsPath mounts the Prometheus handler; empty disables it.
	MetricsPath string
	Version     string

	Store    *inbox.Store
	Tracker  *delivery.Tracker
	Pipeline *webhook.Pipeline
	DMS      *dms.Holder
	Bus      *bus.EventBus
	Metrics  *metrics.Metrics
	Journal  journal.Recorder
	// JournalReader is optional; without it /api/journal answers 404.
	JournalReader JournalReader
	Logger        *slog.Logger
	Now           func() time.Time
}

// Server wires the handlers onto a chi router.
type Server struct {
	cfg      Config
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
	router   chi.Router
	server   *http.Server
}

func NewServer(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.NewEventBus(bus.Config{Logger: cfg.Logger})
	}

	s := &Server{
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   cfg.Logger.With("component", "api"),
		now:      cfg.Now,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.instrument)
	r.Use(corsPolicy(s.cfg.AllowedOrigins))

	r.Get("/health", s.handleHealth)
	if s.cfg.MetricsPath != "" {
		r.Method(http.MethodGet, s.cfg.MetricsPath, s.cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// The webhook always runs to completion, so it sits outside the
		// request timeout.
		r.Post("/dms/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))

			r.Post("/messages", s.handleSubmit)
			r.Get("/messages", s.handlePoll)
			r.Get("/messages/{customerId}", s.handlePoll)

			r.Post("/message-status", s.handleReportStatus)
			r.Get("/message-status/{messageId}", s.handleGetStatus)

			r.Get("/ping", s.handlePing)
			r.Get("/config", s.handleGetConfig)
			r.Post("/config", s.handleUpdateConfig)

			r.Get("/stats", s.handleStats)
			r.Get("/events", s.handleEvents)
			r.Get("/journal", s.handleJournal)
		})
	})
	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info("api server started", "addr", "http://"+addr, "version", s.cfg.Version)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api shutdown", "error", err)
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
