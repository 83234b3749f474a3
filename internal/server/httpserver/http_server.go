// Package httpserver wires the coursebuilder HTTP endpoints into one server.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	ferrors "git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
	"git.home.luguber.info/inful/coursebuilder/internal/metrics"
	handlers "git.home.luguber.info/inful/coursebuilder/internal/server/handlers"
	smw "git.home.luguber.info/inful/coursebuilder/internal/server/middleware"
)

// Options are the collaborators of the HTTP endpoints.
type Options struct {
	Addr       string
	AdminToken string
	Records    course.Store
	Trigger    handlers.Requester
	Publisher  handlers.Publisher
	Queue      handlers.QueueStatus
	Recorder   metrics.Recorder
	// Metrics is served at MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string
	Logger      *slog.Logger
}

// Server manages the HTTP endpoints (webhook, course API, monitoring).
type Server struct {
	opts         Options
	httpServer   *http.Server
	errorAdapter *ferrors.HTTPErrorAdapter
	logger       *slog.Logger

	monitoringHandlers *handlers.MonitoringHandlers
	courseHandlers     *handlers.CourseHandlers
	webhookHandlers    *handlers.WebhookHandlers

	// middleware chain
	mchain func(http.Handler) http.Handler
}

// New constructs a new HTTP server wiring instance.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:         opts,
		errorAdapter: ferrors.NewHTTPErrorAdapter(logger),
		logger:       logger,
	}

	s.monitoringHandlers = handlers.NewMonitoringHandlers(opts.Queue)
	s.courseHandlers = handlers.NewCourseHandlers(opts.Records, opts.Publisher, opts.AdminToken, logger)
	s.webhookHandlers = handlers.NewWebhookHandlers(opts.Records, opts.Trigger, opts.Recorder, opts.AdminToken, logger)

	s.mchain = smw.Chain(logger, s.errorAdapter)
	return s
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return smw.RequireAdmin(s.opts.AdminToken, s.errorAdapter, h)
	}

	mux.HandleFunc("POST /hook/{key}", s.webhookHandlers.HandleHook)

	mux.HandleFunc("GET /courses/{key}", s.courseHandlers.HandleGetCourse)
	mux.HandleFunc("POST /courses/{key}", admin(s.courseHandlers.HandleCreateCourse))
	mux.HandleFunc("PUT /courses/{key}", admin(s.courseHandlers.HandleUpdateCourse))
	mux.HandleFunc("POST /courses/{key}/reset_secret", admin(s.courseHandlers.HandleResetSecret))
	mux.HandleFunc("POST /courses/{key}/publish", admin(s.courseHandlers.HandlePublish))
	mux.HandleFunc("GET /courses/{key}/log", s.courseHandlers.HandleLog)
	mux.HandleFunc("GET /courses/{key}/updates", s.courseHandlers.HandleUpdates)

	mux.HandleFunc("GET /healthz", s.monitoringHandlers.HandleHealthCheck)
	if s.opts.Metrics != nil && s.opts.MetricsPath != "" {
		mux.Handle("GET "+s.opts.MetricsPath, s.opts.Metrics)
	}
	return s.mchain(mux)
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("http startup failed: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", logfields.Error(err))
		}
	}()
	s.logger.Info("HTTP server started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
