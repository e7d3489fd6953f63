package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/memoria/internal/app"
	"github.com/MrWong99/memoria/internal/config"
	"github.com/MrWong99/memoria/internal/resilience"
	"github.com/MrWong99/memoria/pkg/provider/live"
	geminilive "github.com/MrWong99/memoria/pkg/provider/live/gemini"
	oailive "github.com/MrWong99/memoria/pkg/provider/live/openai"
	"github.com/MrWong99/memoria/pkg/provider/llm"
	"github.com/MrWong99/memoria/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/memoria/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Chat ──────────────────────────────────────────────────────────────────
	// Every any-llm backend except openai shares the same pattern: optional
	// APIKey + optional BaseURL. Keys fall back to the backend's usual
	// environment variable inside any-llm.
	for _, providerName := range anyllm.Backends {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			if providerName == "gemini" {
				return anyllm.NewGemini(entry.Model, opts...)
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// openai goes through the official SDK for organization and timeout
	// support.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if v := config.OptString(entry.Options, "timeout"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("options.timeout: %w", err)
			}
			opts = append(opts, oaillm.WithTimeout(d))
		}
		model := entry.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return oaillm.New(apiKey(entry, "OPENAI_API_KEY"), model, opts...)
	})

	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		key := apiKey(entry, "GEMINI_API_KEY", "GOOGLE_API_KEY")
		if key == "" {
			return nil, errors.New("gemini-live: no api key (set api_key or GEMINI_API_KEY)")
		}
		return geminilive.New(key,
			geminilive.WithModel(entry.Model),
			geminilive.WithBaseURL(entry.BaseURL),
		), nil
	})

	reg.RegisterLive("openai-realtime", func(entry config.ProviderEntry) (live.Provider, error) {
		key := apiKey(entry, "OPENAI_API_KEY")
		if key == "" {
			return nil, errors.New("openai-realtime: no api key (set api_key or OPENAI_API_KEY)")
		}
		return oailive.New(key,
			oailive.WithModel(entry.Model),
			oailive.WithBaseURL(entry.BaseURL),
		), nil
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// apiKey returns entry.APIKey or the first non-empty environment variable.
func apiKey(entry config.ProviderEntry, envVars ...string) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	for _, v := range envVars {
		if k := os.Getenv(v); k != "" {
			return k
		}
	}
	return ""
}

// buildProviders instantiates the providers named in cfg and wraps primaries
// that have a configured fallback in a circuit-breaking fallback group. A
// primary that cannot be created is logged and left nil so the rest of the
// server still starts; the matching routes then answer 503.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	chat, err := createLLM(reg, cfg.Providers.Chat)
	if err != nil {
		return nil, err
	}
	chatFallback, err := createLLM(reg, cfg.Providers.ChatFallback)
	if err != nil {
		return nil, err
	}
	switch {
	case chat != nil && chatFallback != nil:
		fb := resilience.NewLLMFallback(chat, cfg.Providers.Chat.Name, resilience.FallbackConfig{})
		fb.AddFallback(cfg.Providers.ChatFallback.Name, chatFallback)
		ps.Chat, ps.ChatName = fb, cfg.Providers.Chat.Name
	case chat != nil:
		ps.Chat, ps.ChatName = chat, cfg.Providers.Chat.Name
	case chatFallback != nil:
		ps.Chat, ps.ChatName = chatFallback, cfg.Providers.ChatFallback.Name
	}

	liveP, err := createLive(reg, cfg.Providers.Live)
	if err != nil {
		return nil, err
	}
	liveFallback, err := createLive(reg, cfg.Providers.LiveFallback)
	if err != nil {
		return nil, err
	}
	switch {
	case liveP != nil && liveFallback != nil:
		fb := resilience.NewLiveFallback(liveP, cfg.Providers.Live.Name, resilience.FallbackConfig{})
		fb.AddFallback(cfg.Providers.LiveFallback.Name, liveFallback)
		ps.Live, ps.LiveName = fb, cfg.Providers.Live.Name
	case liveP != nil:
		ps.Live, ps.LiveName = liveP, cfg.Providers.Live.Name
	case liveFallback != nil:
		ps.Live, ps.LiveName = liveFallback, cfg.Providers.LiveFallback.Name
	}

	return ps, nil
}

// createLLM returns nil without error for an empty entry or one whose
// construction failed for lack of credentials. An unknown name is an error.
func createLLM(reg *config.Registry, entry config.ProviderEntry) (llm.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	p, err := reg.CreateLLM(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return nil, fmt.Errorf("create chat provider %q: %w", entry.Name, err)
	}
	if err != nil {
		slog.Warn("chat provider unavailable", "name", entry.Name, "err", err)
		return nil, nil
	}
	slog.Info("provider created", "kind", "chat", "name", entry.Name, "model", entry.Model)
	return p, nil
}

func createLive(reg *config.Registry, entry config.ProviderEntry) (live.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	p, err := reg.CreateLive(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return nil, fmt.Errorf("create live provider %q: %w", entry.Name, err)
	}
	if err != nil {
		slog.Warn("live provider unavailable", "name", entry.Name, "err", err)
		return nil, nil
	}
	slog.Info("provider created", "kind", "live", "name", entry.Name, "model", entry.Model)
	return p, nil
}
