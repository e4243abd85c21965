// Package app wires all celestial subsystems into a running client.
//
// The App struct owns the full lifecycle: New builds the call controller,
// the summarizer and the health/metrics endpoints from already constructed
// providers, Run serves the endpoints until the context ends, Reload applies
// hot config changes, and Shutdown tears everything down in order.
//
// For testing, build [Providers] from mocks and pass them to New.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/celestial/internal/call"
	"github.com/MrWong99/celestial/internal/config"
	"github.com/MrWong99/celestial/internal/health"
	"github.com/MrWong99/celestial/internal/observe"
	"github.com/MrWong99/celestial/internal/summary"
	"github.com/MrWong99/celestial/pkg/audio"
	"github.com/MrWong99/celestial/pkg/profile"
)

// serverShutdownTimeout bounds how long the HTTP listener drains.
const serverShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar
	meter     *audio.LevelMeter

	ctrl   *call.Controller
	health *health.Handler

	mu  sync.Mutex
	cfg *config.Config

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets Reload change the log level of the running process.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithLevelMeter attaches a visualizer meter to synthesized speech.
func WithLevelMeter(m *audio.LevelMeter) Option {
	return func(a *App) { a.meter = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and providers. S2S, Audio and Store are
// required; LLM is optional.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.S2S == nil || providers.Audio == nil || providers.Store == nil {
		return nil, errors.New("app: s2s, audio and store providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.health = health.New(
		health.StoreChecker(providers.Store),
		health.CredentialsChecker(credentialKeys(cfg)),
	)

	callOpts := []call.Option{
		call.WithMetrics(a.metrics),
		call.WithSettings(SettingsFromConfig(cfg.Call)),
		call.WithPreflight(speechKeyCheck(cfg.Providers.S2S)),
	}
	if providers.LLM != nil {
		callOpts = append(callOpts, call.WithSummarizer(summary.New(providers.LLM)))
	}
	if a.meter != nil {
		callOpts = append(callOpts, call.WithTap(a.meter))
	}
	a.ctrl = call.New(providers.S2S, providers.Store, providers.Audio, callOpts...)

	return a, nil
}

// SettingsFromConfig maps the call section to controller settings.
func SettingsFromConfig(c config.CallConfig) call.Settings {
	return call.Settings{
		FreeCallLimit:        c.FreeCallLimit,
		HistoryLimit:         c.HistoryLimit,
		FrameSize:            c.FrameSize,
		InterruptionFeedback: c.InterruptionFeedback,
		Voice:                c.Voice,
		Persona:              c.Persona,
	}
}

// needsAPIKey reports whether the named provider authenticates with a key.
func needsAPIKey(name string) bool {
	switch name {
	case "ollama", "llamacpp", "llamafile":
		return false
	}
	return true
}

func credentialKeys(cfg *config.Config) map[string]string {
	keys := make(map[string]string)
	add := func(kind string, e config.ProviderEntry) {
		if e.Name != "" && needsAPIKey(e.Name) {
			keys[kind+"/"+e.Name] = e.APIKey
		}
	}
	add("s2s", cfg.Providers.S2S)
	add("llm", cfg.Providers.LLM)
	return keys
}

func speechKeyCheck(e config.ProviderEntry) func(context.Context) error {
	return func(context.Context) error {
		if needsAPIKey(e.Name) && e.APIKey == "" {
			return fmt.Errorf("app: providers.s2s.api_key for %q is empty", e.Name)
		}
		return nil
	}
}

// Controller returns the call controller.
func (a *App) Controller() *call.Controller { return a.ctrl }

// Config returns the most recently applied config.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Language returns the configured default consultation language.
func (a *App) Language() call.Language {
	lang, err := call.ParseLanguage(a.Config().Call.Language)
	if err != nil {
		return call.English
	}
	return lang
}

// Profile returns the profile with id, creating it with name when absent.
func (a *App) Profile(ctx context.Context, id, name string) (*profile.Profile, error) {
	p, err := a.providers.Store.GetProfile(ctx, id)
	if errors.Is(err, profile.ErrNotFound) {
		p, err = a.providers.Store.CreateProfile(ctx, profile.Profile{ID: id, Name: name})
		if err == nil {
			slog.Info("profile created", "profile", p.ID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("app: load profile %q: %w", id, err)
	}
	return p, nil
}

// Subscribe upgrades the profile to premium.
func (a *App) Subscribe(ctx context.Context, id string) (*profile.Profile, error) {
	p, err := profile.Subscribe(ctx, a.providers.Store, id)
	if err != nil {
		return nil, fmt.Errorf("app: subscribe %q: %w", id, err)
	}
	slog.Info("profile upgraded", "profile", id)
	return p, nil
}

// Readings returns up to n past readings for the profile, newest first.
func (a *App) Readings(ctx context.Context, id string, n int) ([]profile.Record, error) {
	recs, err := a.providers.Store.ListConversationRecords(ctx, id, n)
	if err != nil {
		return nil, fmt.Errorf("app: list readings for %q: %w", id, err)
	}
	return recs, nil
}

// Handler returns the health and metrics routes wrapped in the request
// tracing middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the health and metrics endpoints on server.listen_addr and
// blocks until ctx is cancelled or the listener fails. With no listen
// address it just waits for ctx.
func (a *App) Run(ctx context.Context) error {
	addr := a.Config().Server.ListenAddr
	if addr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("health endpoint listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next. Call settings take effect
// on the next call; provider and store changes are only logged.
func (a *App) Reload(old, next *config.Config) {
	d := config.Diff(old, next)

	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CallChanged {
		a.ctrl.Reconfigure(SettingsFromConfig(next.Call))
		slog.Info("call settings reloaded; applied to the next call", "fields", d.CallFields)
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config change requires a restart", "section", section)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends any live call, waits for pending readings to be stored and
// closes the providers. If ctx expires first the providers are left open
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := a.ctrl.Close(); err != nil {
				slog.Warn("call controller close error", "err", err)
			}
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while storing the last reading")
			shutdownErr = ctx.Err()
			return
		}

		if err := a.providers.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
