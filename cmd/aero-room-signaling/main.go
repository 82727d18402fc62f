package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-room-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"max_ws_connects_per_minute_per_ip", cfg.MaxWSConnectsPerMinutePerIP,
		"rate_limit_max_clients", cfg.RateLimitMaxClients,
		"static_dir_set", cfg.StaticDir != "",
		"upload_dir", cfg.UploadDir,
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE server configuration; /webrtc/ice and /readyz will fail", "err", err)
	}

	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()
	rooms := registry.New()
	engine := relay.NewEngine(relay.Config{
		Registry: rooms,
		Logger:   logger,
		Metrics:  m,
	})
	if err := registerGauges(m, rooms, engine); err != nil {
		logger.Error("failed to register metrics", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}, httpserver.Deps{
		Registry: rooms,
		Metrics:  m,
	})

	sig := signaling.NewServer(signaling.Config{
		Engine:               engine,
		Logger:               logger,
		Origins:              origin.Policy{Allowed: cfg.AllowedOrigins},
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueBytes:       cfg.SignalingSendQueueBytes,
		ConnectLimiter:       newConnectLimiter(cfg, m),
	})
	sig.RegisterRoutes(srv.Mux())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked signaling sockets are not tracked by http.Server; close them
	// with 1001 before draining HTTP.
	sig.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// loadDotEnv populates unset environment variables from path. A missing file
// is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// registerGauges exposes live room state alongside the event counters.
func registerGauges(m *metrics.Metrics, rooms *registry.Registry, engine *relay.Engine) error {
	if err := m.GaugeFunc("rooms_active", "Rooms with at least one participant.", func() float64 {
		n, _ := rooms.Stats()
		return float64(n)
	}); err != nil {
		return err
	}
	if err := m.GaugeFunc("participants_active", "Connections joined to a room.", func() float64 {
		_, n := rooms.Stats()
		return float64(n)
	}); err != nil {
		return err
	}
	return m.GaugeFunc("connections_active", "Open signaling connections.", func() float64 {
		return float64(engine.ConnectionCount())
	})
}

// newConnectLimiter bounds new signaling sockets per client IP. Clients
// forgotten to stay under the key cap are counted as evictions.
func newConnectLimiter(cfg config.Config, m *metrics.Metrics) *ratelimit.KeyedLimiter {
	return ratelimit.NewKeyedLimiter(nil, ratelimit.KeyedConfig{
		PerMinute: cfg.MaxWSConnectsPerMinutePerIP,
		MaxKeys:   cfg.RateLimitMaxClients,
		OnEvict:   func() { m.Inc(metrics.DropReasonLimiterEvicted) },
	})
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
