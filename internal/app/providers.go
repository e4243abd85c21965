package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/celestial/internal/config"
	"github.com/MrWong99/celestial/internal/observe"
	"github.com/MrWong99/celestial/internal/resilience"
	"github.com/MrWong99/celestial/pkg/audio/device"
	"github.com/MrWong99/celestial/pkg/profile"
	"github.com/MrWong99/celestial/pkg/provider/llm"
	"github.com/MrWong99/celestial/pkg/provider/s2s"
)

// Providers holds one interface value per provider slot. LLM may be nil, in
// which case calls end without a written reading.
type Providers struct {
	S2S   s2s.Provider
	LLM   llm.Provider
	Audio device.Platform
	Store profile.Store
}

// Close releases the store and, when it holds resources, the audio platform.
func (p *Providers) Close() error {
	var errs []error
	if p.Store != nil {
		if err := p.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if c, ok := p.Audio.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audio: %w", err))
		}
	}
	return errors.Join(errs...)
}

// BuildProviders instantiates every provider named in cfg using reg. Speech
// and summary providers are wrapped in circuit-breaker guarded fallback
// groups whose transitions and failures are reported on m.
func BuildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	ok := false
	defer func() {
		if !ok {
			_ = ps.Close()
		}
	}()

	store, err := reg.CreateStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("app: create %s store: %w", cfg.Store.Backend, err)
	}
	ps.Store = store
	slog.Info("provider created", "kind", "store", "name", cfg.Store.Backend)

	platform, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		return nil, fmt.Errorf("app: create audio provider %q: %w", cfg.Providers.Audio.Name, err)
	}
	ps.Audio = platform
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	fb := fallbackConfig(m)

	primaryS2S, err := reg.CreateS2S(cfg.Providers.S2S)
	if err != nil {
		return nil, fmt.Errorf("app: create s2s provider %q: %w", cfg.Providers.S2S.Name, err)
	}
	speech := resilience.NewS2SFallback(primaryS2S, cfg.Providers.S2S.Name, fb)
	for _, e := range cfg.Providers.Fallbacks.S2S {
		p, err := reg.CreateS2S(e)
		if err != nil {
			return nil, fmt.Errorf("app: create s2s fallback %q: %w", e.Name, err)
		}
		speech.AddFallback(e.Name, p)
	}
	ps.S2S = speech
	slog.Info("provider created", "kind", "s2s", "name", cfg.Providers.S2S.Name,
		"fallbacks", len(cfg.Providers.Fallbacks.S2S))

	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("summary provider not available; readings disabled", "name", cfg.Providers.LLM.Name)
	case err != nil:
		return nil, fmt.Errorf("app: create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	default:
		summary := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, fb)
		for _, e := range cfg.Providers.Fallbacks.LLM {
			p, err := reg.CreateLLM(e)
			if err != nil {
				return nil, fmt.Errorf("app: create llm fallback %q: %w", e.Name, err)
			}
			summary.AddFallback(e.Name, p)
		}
		ps.LLM = summary
		slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name,
			"model", cfg.Providers.LLM.Model, "fallbacks", len(cfg.Providers.Fallbacks.LLM))
	}

	ok = true
	return ps, nil
}

func fallbackConfig(m *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, to.String())
				slog.Warn("circuit breaker state change", "provider", name, "from", from, "to", to)
			},
		},
		OnFailure: func(name string, err error) {
			m.RecordProviderError(context.Background(), name, "request")
			slog.Warn("provider failed", "provider", name, "err", err)
		},
	}
}
