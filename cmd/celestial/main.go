// Command celestial is the terminal client for live voice astrology
// consultations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/celestial/internal/app"
	"github.com/MrWong99/celestial/internal/call"
	"github.com/MrWong99/celestial/internal/config"
	"github.com/MrWong99/celestial/internal/observe"
	"github.com/MrWong99/celestial/pkg/audio"
)

// meterWindow is the number of samples the speech visualizer averages over.
const meterWindow = 256

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	profileID := flag.String("profile", "", "profile id to consult as (default: $USER)")
	name := flag.String("name", "", "display name used when the profile is created")
	language := flag.String("language", "", "consultation language (overrides call.language)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "celestial: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "celestial: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	logOut := &crlfWriter{w: os.Stderr}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: &level})))

	slog.Info("celestial starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	lang := *language
	if lang == "" {
		lang = cfg.Call.Language
	}
	consultLang, err := call.ParseLanguage(lang)
	if err != nil {
		fmt.Fprintf(os.Stderr, "celestial: %v\n", err)
		return 1
	}
	id := *profileID
	if id == "" {
		id = os.Getenv("USER")
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "celestial: -profile is required")
		return 1
	}
	if *name == "" {
		*name = id
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "celestial"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(ctx, cfg, reg, observe.DefaultMetrics())
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg, id, consultLang)

	meter := audio.NewLevelMeter(meterWindow)
	application, err := app.New(cfg, providers,
		app.WithLogLevel(&level),
		app.WithLevelMeter(meter),
	)
	if err != nil {
		_ = providers.Close()
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.Reload)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Profile ───────────────────────────────────────────────────────────────
	prof, err := application.Profile(ctx, id, *name)
	if err != nil {
		slog.Error("failed to load profile", "err", err)
		_ = application.Shutdown(context.Background())
		return 1
	}

	go func() {
		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("health endpoint error", "err", err)
		}
	}()

	// ── Terminal UI ───────────────────────────────────────────────────────────
	ui := newConsole(application, meter, call.Request{ProfileID: prof.ID, Language: consultLang}, logOut)
	uiErr := ui.Run(ctx)
	stop()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if uiErr != nil {
		slog.Error("terminal error", "err", uiErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, profileID string, lang call.Language) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Celestial: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Voice model", cfg.Providers.S2S.Name, cfg.Providers.S2S.Model)
	printRow("Readings", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printRow("Audio", cfg.Providers.Audio.Name, "")
	printRow("Store", string(cfg.Store.Backend), "")
	printRow("Profile", profileID, "")
	printRow("Language", string(lang), "")
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr, "")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}
