package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/celestial/internal/call"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":   {"gemini-live", "openai-realtime"},
	"llm":   {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"audio": {"portaudio"},
}

// Environment variables consulted by [ApplyEnv].
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvPostgresDSN  = "CELESTIAL_POSTGRES_DSN"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills secrets from the
// environment and validates the result. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset provider and store fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.S2S.Name == "" {
		cfg.Providers.S2S.Name = "gemini-live"
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "gemini"
	}
	if cfg.Providers.LLM.Name == "gemini" && cfg.Providers.LLM.Model == "" {
		cfg.Providers.LLM.Model = "gemini-2.0-flash"
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "portaudio"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.Call.Language == "" {
		cfg.Call.Language = string(call.English)
	}
}

// ApplyEnv fills empty secrets from the environment. Values already set in
// the file win. getenv is usually [os.Getenv].
func ApplyEnv(cfg *Config, getenv func(string) string) {
	fill := func(e *ProviderEntry) {
		if e.APIKey != "" {
			return
		}
		switch e.Name {
		case "gemini-live", "gemini":
			e.APIKey = getenv(EnvGeminiAPIKey)
		case "openai-realtime", "openai":
			e.APIKey = getenv(EnvOpenAIAPIKey)
		}
	}
	fill(&cfg.Providers.S2S)
	fill(&cfg.Providers.LLM)
	for i := range cfg.Providers.Fallbacks.S2S {
		fill(&cfg.Providers.Fallbacks.S2S[i])
	}
	for i := range cfg.Providers.Fallbacks.LLM {
		fill(&cfg.Providers.Fallbacks.LLM[i])
	}
	if cfg.Store.PostgresDSN == "" {
		cfg.Store.PostgresDSN = getenv(EnvPostgresDSN)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	for i, e := range cfg.Providers.Fallbacks.S2S {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks.s2s[%d].name is required", i))
		}
		validateProviderName("s2s", e.Name)
	}
	for i, e := range cfg.Providers.Fallbacks.LLM {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks.llm[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}

	// A missing speech key is reported when a call is started, so the
	// client can still be launched to manage profiles.
	if cfg.Providers.S2S.APIKey == "" {
		slog.Warn("providers.s2s.api_key is empty; calls will fail until it is set",
			"env", EnvGeminiAPIKey)
	}

	switch {
	case cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, sqlite, postgres", cfg.Store.Backend))
	case cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "":
		errs = append(errs, fmt.Errorf("store.postgres_dsn is required when store.backend is postgres (or set %s)", EnvPostgresDSN))
	case cfg.Store.Backend == StoreSQLite && cfg.Store.SQLitePath == "":
		errs = append(errs, errors.New("store.sqlite_path is required when store.backend is sqlite"))
	case cfg.Store.Backend == StoreMemory:
		slog.Warn("store.backend is memory; profiles and history are lost on exit")
	}

	if cfg.Call.Language != "" {
		if _, err := call.ParseLanguage(cfg.Call.Language); err != nil {
			errs = append(errs, fmt.Errorf("call.language %q is not supported; valid values: %v", cfg.Call.Language, call.Languages()))
		}
	}
	if cfg.Call.FrameSize < 0 || (cfg.Call.FrameSize > 0 && cfg.Call.FrameSize < 256) {
		errs = append(errs, fmt.Errorf("call.frame_size %d is out of range; use 0 for the default or at least 256", cfg.Call.FrameSize))
	}
	if cfg.Call.InterruptionFeedback < 0 {
		errs = append(errs, fmt.Errorf("call.interruption_feedback %s must not be negative", cfg.Call.InterruptionFeedback))
	}
	if cfg.Call.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("call.history_limit %d must not be negative", cfg.Call.HistoryLimit))
	}
	if cfg.Call.FreeCallLimit < 0 {
		errs = append(errs, fmt.Errorf("call.free_call_limit %d must not be negative", cfg.Call.FreeCallLimit))
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
