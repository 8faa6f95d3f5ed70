// Package server exposes the object service over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/gezibash/drop/internal/middleware"
	"github.com/gezibash/drop/internal/objectstore"
	"github.com/gezibash/drop/internal/observability"
)

// Config holds the HTTP surface settings.
type Config struct {
	// PublicURL, when set, is used to build the url echoed on upload.
	PublicURL string
	// MaxUploadSize rejects requests whose Content-Length alone is too big.
	MaxUploadSize int64
	// Limiter guards the upload route. Nil disables rate limiting.
	Limiter middleware.Limiter
	// JWTSecret enables bearer auth on upload when non-empty.
	JWTSecret []byte
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	http     *http.Server
	listener net.Listener
	handler  http.Handler
	serving  atomic.Bool
}

// New listens on addr and builds the routed handler. Call Serve to start
// accepting requests.
func New(addr string, obs *observability.Observability, svc *objectstore.Service, cfg Config) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{listener: lis}
	var metrics *observability.Metrics
	if obs != nil {
		metrics = obs.Metrics
	}
	s.handler = s.routes(svc, cfg, metrics)
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}
	return s, nil
}

func (s *Server) routes(svc *objectstore.Service, cfg Config, metrics *observability.Metrics) http.Handler {
	h := &handler{svc: svc, cfg: cfg}

	guard := &middleware.Chain{}
	guard.Pre = append(guard.Pre, middleware.RateLimit(cfg.Limiter))
	if len(cfg.JWTSecret) > 0 {
		guard.Pre = append(guard.Pre, middleware.BearerAuth(cfg.JWTSecret))
	}

	r := mux.NewRouter()
	r.Use(observability.HTTPMiddleware(metrics, routeTemplate))
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/upload", guard.Wrap(http.HandlerFunc(h.upload), rejectHook)).Methods(http.MethodPost)
	r.HandleFunc("/delete", h.delete).Methods(http.MethodGet, http.MethodPost, http.MethodDelete)
	r.HandleFunc("/info/{ref}", h.info).Methods(http.MethodGet)
	r.HandleFunc("/{id}", h.retrieve).Methods(http.MethodGet, http.MethodHead)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, objectstore.ErrNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)
	var out http.Handler = r
	out = recovery(out)
	out = handlers.CustomLoggingHandler(io.Discard, out, accessLog)
	out = middleware.RequestID(out)
	if cfg.TrustProxyHeaders {
		out = handlers.ProxyHeaders(out)
	}
	return out
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func accessLog(_ io.Writer, p handlers.LogFormatterParams) {
	level := slog.LevelInfo
	if p.StatusCode >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	slog.Log(p.Request.Context(), level, "http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"bytes", p.Size,
		"remote", p.Request.RemoteAddr,
		"request_id", middleware.RequestIDFrom(p.Request.Context()),
		"duration", time.Since(p.TimeStamp),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.serving.Load() {
		writeJSONError(w, http.StatusServiceUnavailable, "not serving")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetServing flips the health endpoint between ok and unavailable.
func (s *Server) SetServing(ok bool) {
	s.serving.Store(ok)
}

func (s *Server) Serve() error {
	s.SetServing(true)
	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop drains in-flight requests until ctx expires, then closes what is left.
func (s *Server) Stop(ctx context.Context) {
	s.SetServing(false)
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Warn("graceful stop timed out, forcing", "error", err)
		_ = s.http.Close()
	}
}
