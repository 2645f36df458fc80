// Command valet is the main entry point for the Valet assistant server.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/valet-labs/valet/internal/app"
	"github.com/valet-labs/valet/internal/config"
	"github.com/valet-labs/valet/internal/observe"
	"github.com/valet-labs/valet/internal/resilience"
	"github.com/valet-labs/valet/pkg/completion"
	"github.com/valet-labs/valet/pkg/completion/anyllm"
	oaicompletion "github.com/valet-labs/valet/pkg/completion/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "valet: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "valet: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("valet starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "valet",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		d := config.Diff(old, next)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.CaptureChanged {
			application.ApplyConfig(next)
			slog.Info("capture tuning updated, applies to new sessions")
		}
		if d.CompletionChanged {
			slog.Warn("completion provider config changed, restart required to apply")
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends lists the completion backends served through the any-llm
// multiplexer. They all share the same pattern: optional APIKey + optional
// BaseURL.
var anyllmBackends = []string{
	"openai", "anthropic", "gemini",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in completion factories into reg.
// Each factory receives a config.ProviderEntry and constructs the service
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	for _, providerName := range anyllmBackends {
		reg.RegisterCompletion(providerName, func(entry config.ProviderEntry) (completion.Service, error) {
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
	reg.RegisterCompletion("ollama", func(entry config.ProviderEntry) (completion.Service, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// openai-native talks to the OpenAI API through the official SDK rather
	// than the any-llm multiplexer.
	reg.RegisterCompletion("openai-native", func(entry config.ProviderEntry) (completion.Service, error) {
		var opts []oaicompletion.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaicompletion.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaicompletion.WithOrganization(org))
		}
		return oaicompletion.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range append(anyllmBackends, "ollama", "openai-native") {
		slog.Debug("registered provider", "kind", "completion", "name", name)
	}
}

// buildProviders instantiates the configured completion services using the
// registry. When fallbacks are configured, the primary is wrapped in a
// circuit-breaking fallback chain.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	primaryEntry := cfg.Providers.Completion.Primary
	if primaryEntry.Name == "" {
		return nil, errors.New("providers.completion.primary is required")
	}

	primary, err := reg.CreateCompletion(primaryEntry)
	if err != nil {
		return nil, fmt.Errorf("create completion provider %q: %w", primaryEntry.Name, err)
	}
	slog.Info("provider created", "kind", "completion", "name", primaryEntry.Name, "model", primaryEntry.Model)

	if len(cfg.Providers.Completion.Fallbacks) == 0 {
		return &app.Providers{Completion: primary}, nil
	}

	chain := resilience.NewCompletionFallback(primary, primaryEntry.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.Completion.Fallbacks {
		svc, err := reg.CreateCompletion(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback completion provider %q: %w", entry.Name, err)
		}
		chain.AddFallback(entry.Name, svc)
		slog.Info("fallback provider created", "kind", "completion", "name", entry.Name, "model", entry.Model)
	}

	return &app.Providers{Completion: chain}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Valet — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Completion", cfg.Providers.Completion.Primary.Name, cfg.Providers.Completion.Primary.Model)
	fmt.Printf("║  Fallbacks       : %-19d ║\n", len(cfg.Providers.Completion.Fallbacks))
	if cfg.Store.PostgresDSN != "" {
		fmt.Printf("║  Command store   : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Command store   : %-19s ║\n", "in-memory")
	}
	if cfg.Speech.Language != "" {
		fmt.Printf("║  Speech language : %-19s ║\n", cfg.Speech.Language)
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar is shared with
// the config watcher so a reloaded log level takes effect without a restart.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
