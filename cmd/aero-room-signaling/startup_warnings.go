package main

import (
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxWSConnectsPerMinutePerIP <= 0 {
		logger.Warn("startup security warning: MAX_WS_CONNECTS_PER_MINUTE_PER_IP is unset/0 (unlimited) while --mode=prod",
			"warning_code", "ws_connects_unlimited_in_prod",
			"max_ws_connects_per_minute_per_ip", cfg.MaxWSConnectsPerMinutePerIP,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxUploadsPerMinutePerIP <= 0 {
		logger.Warn("startup security warning: MAX_UPLOADS_PER_MINUTE_PER_IP is unset/0 (unlimited) while --mode=prod",
			"warning_code", "uploads_unlimited_in_prod",
			"max_uploads_per_minute_per_ip", cfg.MaxUploadsPerMinutePerIP,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (SDP blobs are a few KiB; increases per-message allocation risk)",
			"warning_code", "signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxUploadBytes > 1<<30 { // 1GiB
		logger.Warn("startup security warning: MAX_UPLOAD_BYTES is very large (recordings are written to local disk)",
			"warning_code", "upload_bytes_large",
			"max_upload_bytes", cfg.MaxUploadBytes,
			"upload_dir", cfg.UploadDir,
			"mode", cfg.Mode,
		)
	}

	// Long-lived TURN REST credentials can be replayed for their whole TTL.
	if cfg.TURNREST.Enabled() && cfg.TURNREST.TTLSeconds > 24*60*60 {
		logger.Warn("startup security warning: TURN_REST_TTL_SECONDS exceeds one day",
			"warning_code", "turn_rest_ttl_large",
			"turn_rest_ttl_seconds", cfg.TURNREST.TTLSeconds,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && !cfg.TURNREST.Enabled() && hasStaticTURNCredentials(cfg.ICEServers) {
		logger.Warn("startup security warning: static TURN credentials are handed to every client (prefer TURN_REST_SHARED_SECRET)",
			"warning_code", "turn_static_credentials_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.ICEConfigError() == nil && len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured; peers behind NAT may fail to connect",
			"warning_code", "ice_servers_empty",
			"mode", cfg.Mode,
		)
	}
}

func hasStaticTURNCredentials(servers []webrtc.ICEServer) bool {
	for _, server := range servers {
		if server.Username == "" {
			continue
		}
		for _, url := range server.URLs {
			if config.IsTURNURL(url) {
				return true
			}
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
