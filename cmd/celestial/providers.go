package main

import (
	"context"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/celestial/internal/config"
	"github.com/MrWong99/celestial/pkg/audio/device"
	"github.com/MrWong99/celestial/pkg/audio/portaudio"
	"github.com/MrWong99/celestial/pkg/profile"
	"github.com/MrWong99/celestial/pkg/profile/memstore"
	"github.com/MrWong99/celestial/pkg/profile/postgres"
	"github.com/MrWong99/celestial/pkg/profile/sqlite"
	"github.com/MrWong99/celestial/pkg/provider/llm"
	"github.com/MrWong99/celestial/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/celestial/pkg/provider/llm/openai"
	"github.com/MrWong99/celestial/pkg/provider/s2s"
	geminilive "github.com/MrWong99/celestial/pkg/provider/s2s/gemini"
	oais2s "github.com/MrWong99/celestial/pkg/provider/s2s/openai"
)

// builtinProviders maps provider kinds to the implementations that ship with
// celestial. Used for startup logging.
var builtinProviders = map[string][]string{
	"s2s":   {"gemini-live", "openai-realtime"},
	"llm":   {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"audio": {"portaudio"},
	"store": {"memory", "sqlite", "postgres"},
}

// registerBuiltinProviders wires all built-in factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, geminilive.WithDefaultVoice(voice))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// Everything except openai goes through any-llm with an optional key and
	// base URL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (device.Platform, error) {
		var opts []portaudio.Option
		if n := optInt(entry.Options, "frames_per_buffer"); n > 0 {
			opts = append(opts, portaudio.WithFramesPerBuffer(n))
		}
		return portaudio.New(opts...)
	})

	// ── Stores ────────────────────────────────────────────────────────────────

	reg.RegisterStore(config.StoreMemory, func(context.Context, config.StoreConfig) (profile.Store, error) {
		return memstore.New(), nil
	})
	reg.RegisterStore(config.StoreSQLite, func(ctx context.Context, cfg config.StoreConfig) (profile.Store, error) {
		return sqlite.Open(ctx, cfg.SQLitePath)
	})
	reg.RegisterStore(config.StorePostgres, func(ctx context.Context, cfg config.StoreConfig) (profile.Store, error) {
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value. YAML decodes plain numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses a Go duration string such as "30s".
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
