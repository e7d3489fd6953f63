package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"chat": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"live": {"gemini-live", "openai-realtime"},
}

// validFrameMS are the frame durations every supported output codec accepts.
var validFrameMS = []int{10, 20, 40, 60}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Providers
	validateProviderName("chat", cfg.Providers.Chat.Name)
	validateProviderName("chat", cfg.Providers.ChatFallback.Name)
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("live", cfg.Providers.LiveFallback.Name)
	if fb := cfg.Providers.ChatFallback; fb.Name != "" && fb.Name == cfg.Providers.Chat.Name && fb.Model == cfg.Providers.Chat.Model {
		slog.Warn("providers.chat_fallback is identical to providers.chat; it will fail the same way")
	}

	// Call
	c := cfg.Call
	if c.ChunkSamples < 0 {
		errs = append(errs, fmt.Errorf("call.chunk_samples %d must not be negative", c.ChunkSamples))
	}
	if c.CaptureQueue < 0 {
		errs = append(errs, fmt.Errorf("call.capture_queue %d must not be negative", c.CaptureQueue))
	}
	if c.MaxActiveSources < 0 {
		errs = append(errs, fmt.Errorf("call.max_active_sources %d must not be negative; use 0 for unbounded", c.MaxActiveSources))
	}
	if c.FrameMS != 0 && !slices.Contains(validFrameMS, c.FrameMS) {
		errs = append(errs, fmt.Errorf("call.frame_ms %d is invalid; valid values: %v", c.FrameMS, validFrameMS))
	}
	if hz := c.VisualizerRate(); hz < 0 || hz > 120 {
		errs = append(errs, fmt.Errorf("call.visualizer_hz %d is out of range [0, 120]", hz))
	}
	if c.OutputCodec != "" && !c.OutputCodec.IsValid() {
		errs = append(errs, fmt.Errorf("call.output_codec %q is invalid; valid values: pcm, opus", c.OutputCodec))
	}

	// Chat
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", cfg.Chat.Temperature))
	}
	if cfg.Chat.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("chat.max_sessions %d must not be negative", cfg.Chat.MaxSessions))
	}
	if cfg.Chat.MaxReplyTokens < 0 {
		errs = append(errs, fmt.Errorf("chat.max_reply_tokens %d must not be negative", cfg.Chat.MaxReplyTokens))
	}
	if cfg.Chat.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("chat.idle_timeout %s must not be negative", cfg.Chat.IdleTimeout))
	}

	// Storage
	if cfg.Storage.SeedMemorials && cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.seed_memorials has no effect without storage.postgres_dsn")
	}

	// Memorials
	seen := make(map[string]int, len(cfg.Memorials))
	for i := range cfg.Memorials {
		m := &cfg.Memorials[i]
		prefix := fmt.Sprintf("memorials[%d]", i)
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if m.ID == "" {
			continue
		}
		if prev, ok := seen[m.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of memorials[%d]", prefix, m.ID, prev))
		}
		seen[m.ID] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
