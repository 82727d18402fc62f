package signaling

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/relay"
)

const (
	defaultIdleTimeout          = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
	defaultMaxMessageBytes      = 64 * 1024
	defaultMaxMessagesPerSecond = 50
	defaultSendQueueBytes       = 1 << 20

	// Write deadlines for control frames (ping, close) and queued data frames.
	wsWriteWait    = time.Second
	wsWriteTimeout = 10 * time.Second
)

type Config struct {
	Engine  *relay.Engine
	Logger  *slog.Logger
	Origins origin.Policy

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueBytes       int

	// ConnectLimiter bounds new sockets per client IP. Nil disables it.
	ConnectLimiter *ratelimit.KeyedLimiter
	// Clock drives the per-connection message token bucket.
	Clock ratelimit.Clock
	// NewID mints connection ids. Defaults to random UUIDs.
	NewID func() string
}

// Server accepts signaling WebSockets on GET /ws and feeds their events to
// the engine.
type Server struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
}

func NewServer(cfg Config) *Server {
	if cfg.Engine == nil {
		cfg.Engine = relay.NewEngine(relay.Config{Logger: cfg.Logger})
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		log:     logger,
		metrics: cfg.Engine.Metrics(),
		conns:   make(map[*wsConn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			_, ok := cfg.Origins.Check(r)
			return ok
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.ConnectLimiter.Allow(ratelimit.ClientKey(r)) {
		s.metrics.Inc(metrics.DropReasonConnectLimited)
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	c := s.newConn(ws)
	if !s.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.close()
		return
	}
	defer s.untrack(c)

	c.run()
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Close closes every live socket with 1001 (going away) and rejects new ones.
// Each closed socket still runs its normal disconnect path.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.close()
	}
}

func (s *Server) idleTimeout() time.Duration {
	if s.cfg.IdleTimeout <= 0 {
		return defaultIdleTimeout
	}
	return s.cfg.IdleTimeout
}

func (s *Server) pingInterval() time.Duration {
	if s.cfg.PingInterval <= 0 {
		return defaultPingInterval
	}
	return s.cfg.PingInterval
}

func (s *Server) maxMessageBytes() int64 {
	if s.cfg.MaxMessageBytes <= 0 {
		return defaultMaxMessageBytes
	}
	return s.cfg.MaxMessageBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.cfg.MaxMessagesPerSecond <= 0 {
		return defaultMaxMessagesPerSecond
	}
	return s.cfg.MaxMessagesPerSecond
}

func (s *Server) sendQueueBytes() int {
	if s.cfg.SendQueueBytes <= 0 {
		return defaultSendQueueBytes
	}
	return s.cfg.SendQueueBytes
}
