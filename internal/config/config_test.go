package config

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func emptyLookup(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(emptyLookup, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.ShutdownTimeout != DefaultShutdown {
		t.Fatalf("ShutdownTimeout=%v, want %v", cfg.ShutdownTimeout, DefaultShutdown)
	}
	if cfg.SignalingWSIdleTimeout != DefaultSignalingWSIdleTimeout {
		t.Fatalf("SignalingWSIdleTimeout=%v, want %v", cfg.SignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	}
	if cfg.SignalingWSPingInterval != DefaultSignalingWSPingInterval {
		t.Fatalf("SignalingWSPingInterval=%v, want %v", cfg.SignalingWSPingInterval, DefaultSignalingWSPingInterval)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != DefaultMaxSignalingMessagesPerSecond {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d, want %d", cfg.MaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	}
	if cfg.MaxSignalingBytesPerSecond != 0 {
		t.Fatalf("MaxSignalingBytesPerSecond=%d, want 0", cfg.MaxSignalingBytesPerSecond)
	}
	if cfg.SignalingSendQueueSize != DefaultSignalingSendQueueSize {
		t.Fatalf("SignalingSendQueueSize=%d, want %d", cfg.SignalingSendQueueSize, DefaultSignalingSendQueueSize)
	}
	if strings.Join(cfg.AllowedOrigins, ",") != strings.Join(DefaultDevAllowedOrigins, ",") {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, DefaultDevAllowedOrigins)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v, want nil", cfg.ICEConfigError())
	}
	if cfg.ICEServers == nil || len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%#v, want empty non-nil", cfg.ICEServers)
	}
	if cfg.TURNREST.Enabled() {
		t.Fatalf("TURNREST enabled by default")
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(emptyLookup, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins=%v, want empty in prod", cfg.AllowedOrigins)
	}
}

func TestDefaultsProdFromEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarMode: "production"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd || cfg.LogFormat != LogFormatJSON {
		t.Fatalf("mode=%q logFormat=%q, want prod/json", cfg.Mode, cfg.LogFormat)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(emptyLookup, []string{"--mode", "prod", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestLogLevelFromEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarLogLevel: "WARNING"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelWarn)
	}
}

func TestListenAddr_PortFallback(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarPort: "8080"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, ":8080")
	}
}

func TestListenAddr_ExplicitWinsOverPort(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarPort:       "8080",
		envVarListenAddr: "0.0.0.0:9000",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, "0.0.0.0:9000")
	}

	cfg, err = load(lookupMap(map[string]string{envVarPort: "8080"}), []string{"--listen-addr", "127.0.0.1:7000"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, "127.0.0.1:7000")
	}
}

func TestAllowedOrigins_Normalized(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: " HTTPS://Example.COM:443 , http://localhost:5173,,",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://example.com", "http://localhost:5173"}
	if strings.Join(cfg.AllowedOrigins, ",") != strings.Join(want, ",") {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}
}

func TestAllowedOrigins_Wildcard(t *testing.T) {
	cfg, err := load(emptyLookup, []string{"--allowed-origins", "*"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("AllowedOrigins=%v, want [*]", cfg.AllowedOrigins)
	}
}

func TestAllowedOrigins_RejectsInvalid(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "example.com",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), envVarAllowedOrigins) {
		t.Fatalf("err=%v, expected mention of %s", err, envVarAllowedOrigins)
	}
}

func TestSignalingLimits_EnvOverride(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarSignalingWSIdleTimeout:        "2m",
		envVarSignalingWSPingInterval:       "30s",
		envVarMaxSignalingMessageBytes:      "1024",
		envVarMaxSignalingMessagesPerSecond: "5",
		envVarMaxSignalingBytesPerSecond:    "4096",
		envVarSignalingSendQueueSize:        "8",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SignalingWSIdleTimeout != 2*time.Minute {
		t.Fatalf("SignalingWSIdleTimeout=%v, want 2m", cfg.SignalingWSIdleTimeout)
	}
	if cfg.SignalingWSPingInterval != 30*time.Second {
		t.Fatalf("SignalingWSPingInterval=%v, want 30s", cfg.SignalingWSPingInterval)
	}
	if cfg.MaxSignalingMessageBytes != 1024 {
		t.Fatalf("MaxSignalingMessageBytes=%d, want 1024", cfg.MaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != 5 {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d, want 5", cfg.MaxSignalingMessagesPerSecond)
	}
	if cfg.MaxSignalingBytesPerSecond != 4096 {
		t.Fatalf("MaxSignalingBytesPerSecond=%d, want 4096", cfg.MaxSignalingBytesPerSecond)
	}
	if cfg.SignalingSendQueueSize != 8 {
		t.Fatalf("SignalingSendQueueSize=%d, want 8", cfg.SignalingSendQueueSize)
	}
}

func TestSignalingLimits_FlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMaxSignalingMessagesPerSecond: "5",
	}), []string{"--max-signaling-messages-per-second", "7"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxSignalingMessagesPerSecond != 7 {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d, want 7", cfg.MaxSignalingMessagesPerSecond)
	}
}

func TestValidationErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr string
	}{
		{
			name:    "ping not below idle",
			env:     map[string]string{envVarSignalingWSIdleTimeout: "10s", envVarSignalingWSPingInterval: "10s"},
			wantErr: "must be <",
		},
		{
			name:    "zero idle timeout",
			args:    []string{"--signaling-ws-idle-timeout", "0s"},
			wantErr: envVarSignalingWSIdleTimeout,
		},
		{
			name:    "bad duration",
			env:     map[string]string{envVarShutdownTimeout: "soon"},
			wantErr: "invalid " + envVarShutdownTimeout,
		},
		{
			name:    "zero message bytes",
			env:     map[string]string{envVarMaxSignalingMessageBytes: "0"},
			wantErr: envVarMaxSignalingMessageBytes,
		},
		{
			name:    "non numeric rate",
			env:     map[string]string{envVarMaxSignalingMessagesPerSecond: "lots"},
			wantErr: "invalid " + envVarMaxSignalingMessagesPerSecond,
		},
		{
			name:    "negative byte rate",
			env:     map[string]string{envVarMaxSignalingBytesPerSecond: "-1"},
			wantErr: envVarMaxSignalingBytesPerSecond,
		},
		{
			name:    "byte rate below message size",
			env:     map[string]string{envVarMaxSignalingBytesPerSecond: "100"},
			wantErr: envVarMaxSignalingBytesPerSecond,
		},
		{
			name:    "zero send queue",
			env:     map[string]string{envVarSignalingSendQueueSize: "0"},
			wantErr: envVarSignalingSendQueueSize,
		},
		{
			name:    "bad mode",
			args:    []string{"--mode", "staging"},
			wantErr: "invalid mode",
		},
		{
			name:    "bad log level",
			env:     map[string]string{envVarLogLevel: "loud"},
			wantErr: "invalid log level",
		},
		{
			name:    "empty listen addr",
			args:    []string{"--listen-addr", " "},
			wantErr: envVarListenAddr,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupMap(tc.env), tc.args)
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestTURNREST_Config(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret: "s3cret",
		envVarTURNRESTTTLSeconds:   "600",
		envVarTURNRESTRealm:        "example.com",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("TURNREST not enabled")
	}
	if cfg.TURNREST.TTLSeconds != 600 {
		t.Fatalf("TTLSeconds=%d, want 600", cfg.TURNREST.TTLSeconds)
	}
	if cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Fatalf("UsernamePrefix=%q, want %q", cfg.TURNREST.UsernamePrefix, DefaultTURNRESTUsernamePrefix)
	}
	if cfg.TURNREST.Realm != "example.com" {
		t.Fatalf("Realm=%q, want example.com", cfg.TURNREST.Realm)
	}
}

func TestTURNREST_RejectsColonPrefix(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret:   "s3cret",
		envVarTURNRESTUsernamePrefix: "a:b",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestTURNREST_AllowsTURNWithoutStaticCreds(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret: "s3cret",
		envTurnURLs:                "turn:turn.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError=%v, want nil", err)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers=%#v, want 1 entry", cfg.ICEServers)
	}
}

func TestICEConfigErrorDoesNotFailLoad(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envTurnURLs: "turn:turn.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error")
	}
	if cfg.ICEServers != nil {
		t.Fatalf("ICEServers=%#v, want nil on error", cfg.ICEServers)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		logger, err := NewLogger(Config{LogFormat: format, LogLevel: slog.LevelInfo})
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
		if logger.Enabled(context.Background(), slog.LevelDebug) {
			t.Fatalf("NewLogger(%q) enabled debug at info level", format)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
