package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Deps are the shared service components the HTTP surface reads from.
type Deps struct {
	// Registry backs the read-only room endpoints and binds TURN leases to
	// participants. Nil serves empty rooms.
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	// Clock drives the upload rate limiter and TURN lease expiry. Defaults to
	// the wall clock.
	Clock ratelimit.Clock
}

type Server struct {
	log   *slog.Logger
	cfg   config.Config
	build BuildInfo

	rooms         *registry.Registry
	metrics       *metrics.Metrics
	origins       origin.Policy
	turn          *turnrest.Issuer
	turnErr       error
	uploadLimiter *ratelimit.KeyedLimiter

	ready atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, deps Deps) *Server {
	m := deps.Metrics
	if m == nil {
		m = &metrics.Metrics{}
	}
	rooms := deps.Registry
	if rooms == nil {
		rooms = registry.New()
	}

	s := &Server{
		log:     logger,
		cfg:     cfg,
		build:   build,
		rooms:   rooms,
		metrics: m,
		origins: origin.Policy{Allowed: cfg.AllowedOrigins},
		uploadLimiter: ratelimit.NewKeyedLimiter(deps.Clock, ratelimit.KeyedConfig{
			PerMinute: cfg.MaxUploadsPerMinutePerIP,
			MaxKeys:   cfg.RateLimitMaxClients,
			OnEvict:   func() { m.Inc(metrics.DropReasonLimiterEvicted) },
		}),
		mux: http.NewServeMux(),
	}

	if cfg.TURNREST.Enabled() {
		var clock func() time.Time
		if deps.Clock != nil {
			clock = deps.Clock.Now
		}
		s.turn, s.turnErr = turnrest.NewIssuer(turnrest.Options{
			Secret: cfg.TURNREST.SharedSecret,
			TTL:    time.Duration(cfg.TURNREST.TTLSeconds) * time.Second,
			Tag:    cfg.TURNREST.UsernamePrefix,
			Clock:  clock,
		})
		if s.turnErr != nil {
			logger.Error("turn rest disabled", "err", s.turnErr)
		}
	}

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Signaling sockets are long-lived and uploads can be large, so no
		// whole-request read/write timeouts.
	}

	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		if err := s.cfg.ICEConfigError(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.metrics))

	s.mux.HandleFunc("GET /webrtc/ice", s.withOriginPolicy(s.handleICE))
	s.mux.HandleFunc("OPTIONS /webrtc/ice", s.withOriginPolicy(methodNotAllowed))

	s.mux.HandleFunc("GET /api/rooms", s.withOriginPolicy(s.handleListRooms))
	s.mux.HandleFunc("GET /api/rooms/{roomId}", s.withOriginPolicy(s.handleGetRoom))
	s.mux.HandleFunc("OPTIONS /api/", s.withOriginPolicy(methodNotAllowed))

	s.mux.HandleFunc("POST /api/recordings", s.withOriginPolicy(s.handleUploadRecording))
	s.mux.Handle("GET /recordings/", s.originMiddleware()(s.recordingsHandler()))

	if s.cfg.StaticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
}

// methodNotAllowed backs OPTIONS routes; withOriginPolicy answers real
// preflights before it runs.
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" || len(reqID) > maxRequestIDLen {
				reqID = uuid.NewString()
			}
			r.Header.Set("X-Request-ID", reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r)
		})
	}
}

// Client-supplied request ids longer than this are replaced.
const maxRequestIDLen = 128

// probePaths are polled by orchestrators and logged at debug level.
var probePaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the signaling WebSocket upgrade through the logging middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpserver: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			level := slog.LevelInfo
			if probePaths[r.URL.Path] {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", r.Header.Get("X-Request-ID"),
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}
