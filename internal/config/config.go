// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for the memoria server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/memoria/internal/memorial"
)

// LogLevel controls log verbosity for the memoria server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a [slog.Level]. Unknown or empty values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// OutputCodec selects how downlink audio is framed for browser clients.
type OutputCodec string

const (
	// CodecPCM sends raw little-endian 16-bit mono PCM.
	CodecPCM OutputCodec = "pcm"

	// CodecOpus sends one Opus packet per websocket message.
	CodecOpus OutputCodec = "opus"
)

// IsValid reports whether c is a recognised codec.
func (c OutputCodec) IsValid() bool {
	return c == CodecPCM || c == CodecOpus
}

// Config is the root configuration structure for memoria.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Providers ProvidersConfig     `yaml:"providers"`
	Storage   StorageConfig       `yaml:"storage"`
	Call      CallConfig          `yaml:"call"`
	Chat      ChatConfig          `yaml:"chat"`
	Memorials []memorial.Memorial `yaml:"memorials"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Defaults to ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns accepted for cross-origin websocket
	// calls (e.g. "app.example.com", "*.example.com"). Same-origin is always
	// allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the model backends. Each entry names a factory in
// the [Registry].
type ProvidersConfig struct {
	// Chat serves text conversations. Defaults to gemini.
	Chat ProviderEntry `yaml:"chat"`

	// ChatFallback is tried when Chat fails or its circuit is open.
	ChatFallback ProviderEntry `yaml:"chat_fallback"`

	// Live serves real-time voice calls. Defaults to gemini-live.
	Live ProviderEntry `yaml:"live"`

	// LiveFallback is tried when Live cannot connect.
	LiveFallback ProviderEntry `yaml:"live_fallback"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation.
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. When empty, factories fall
	// back to the provider's usual environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// StorageConfig selects where the memorial catalog lives.
type StorageConfig struct {
	// PostgresDSN enables the PostgreSQL store. When empty the catalog is kept
	// in memory and the memorials section is authoritative.
	PostgresDSN string `yaml:"postgres_dsn"`

	// SeedMemorials inserts configured (or built-in) memorials that are
	// missing from the database on startup.
	SeedMemorials bool `yaml:"seed_memorials"`
}

// CallConfig tunes live voice calls.
type CallConfig struct {
	// ChunkSamples is the uplink chunk size at 16 kHz. Zero uses the
	// capture default.
	ChunkSamples int `yaml:"chunk_samples"`

	// CaptureQueue bounds the uplink chunks buffered between microphone and
	// network. Zero uses the capture default.
	CaptureQueue int `yaml:"capture_queue"`

	// MaxActiveSources bounds the downlink playback backlog. Zero means
	// unbounded.
	MaxActiveSources int `yaml:"max_active_sources"`

	// FrameMS is the downlink frame duration sent to browser clients.
	// Defaults to 20.
	FrameMS int `yaml:"frame_ms"`

	// VisualizerHz is how often level samples are pushed to clients. Zero
	// disables them. Defaults to 30.
	VisualizerHz *int `yaml:"visualizer_hz"`

	// OutputCodec is pcm (default) or opus.
	OutputCodec OutputCodec `yaml:"output_codec"`
}

// ChatConfig tunes text conversations.
type ChatConfig struct {
	// IdleTimeout closes chats without activity. Defaults to 30m.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxSessions bounds concurrently open chats. Defaults to 1000.
	MaxSessions int `yaml:"max_sessions"`

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxReplyTokens caps reply length. Zero leaves the provider default.
	MaxReplyTokens int `yaml:"max_reply_tokens"`

	// Summarise compacts long histories with the chat model instead of
	// dropping the oldest turns.
	Summarise bool `yaml:"summarise"`
}

// Defaults applied by [LoadFromReader].
const (
	DefaultListenAddr      = ":8080"
	DefaultChatProvider    = "gemini"
	DefaultLiveProvider    = "gemini-live"
	DefaultFrameMS         = 20
	DefaultVisualizerHz    = 30
	DefaultShutdownTimeout = 15 * time.Second
)

// ApplyDefaults fills empty fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Providers.Chat.Name == "" {
		c.Providers.Chat.Name = DefaultChatProvider
	}
	if c.Providers.Live.Name == "" {
		c.Providers.Live.Name = DefaultLiveProvider
	}
	if c.Call.FrameMS == 0 {
		c.Call.FrameMS = DefaultFrameMS
	}
	if c.Call.VisualizerHz == nil {
		hz := DefaultVisualizerHz
		c.Call.VisualizerHz = &hz
	}
	if c.Call.OutputCodec == "" {
		c.Call.OutputCodec = CodecPCM
	}
}

// Catalog returns the configured memorials, or the built-in seeds when none
// are configured.
func (c *Config) Catalog() []memorial.Memorial {
	if len(c.Memorials) == 0 {
		return memorial.Seeds()
	}
	return append([]memorial.Memorial(nil), c.Memorials...)
}

// VisualizerRate returns the configured visualizer rate, 0 when disabled.
func (c *CallConfig) VisualizerRate() int {
	if c.VisualizerHz == nil {
		return DefaultVisualizerHz
	}
	return *c.VisualizerHz
}
