package main

import (
	"log/slog"
	"slices"

	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
)

const (
	largeSignalingMessageBytes   = 1 << 20 // 1MiB
	largeSignalingMessagesPerSec = 1000
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, origin.Wildcard) {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > largeSignalingMessageBytes {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.MaxSignalingMessagesPerSecond > largeSignalingMessagesPerSec {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND is very large (weakens flood protection)",
			"warning_code", "signaling_message_rate_large",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}
	if cfg.Mode == config.ModeProd && cfg.MaxSignalingBytesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_SIGNALING_BYTES_PER_SECOND is unset/0 (unlimited) while --mode=prod",
			"warning_code", "signaling_byte_rate_unlimited_in_prod",
			"max_signaling_bytes_per_second", cfg.MaxSignalingBytesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server config is invalid; /webrtc/ice and /readyz will fail",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
		return
	}

	turnServers := lo.Filter(cfg.ICEServers, func(s webrtc.ICEServer, _ int) bool { return config.HasTURNURL(s) })
	if cfg.TURNREST.Enabled() && len(turnServers) == 0 {
		logger.Warn("startup warning: TURN_REST_SHARED_SECRET is set but no TURN urls are configured",
			"warning_code", "turn_rest_without_turn_urls",
			"ice_servers", len(cfg.ICEServers),
			"mode", cfg.Mode,
		)
	}
	// Static TURN credentials are handed to every browser that can reach
	// /webrtc/ice.
	if !cfg.TURNREST.Enabled() && cfg.Mode == config.ModeProd && len(turnServers) > 0 {
		logger.Warn("startup security warning: static TURN credentials are served to clients while --mode=prod (prefer TURN_REST_SHARED_SECRET)",
			"warning_code", "turn_static_credentials_in_prod",
			"turn_servers", len(turnServers),
			"mode", cfg.Mode,
		)
	}
}
