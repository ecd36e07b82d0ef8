// Command poise is the main entry point for the poise interview-coaching
// telemetry server.
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

	"github.com/MrWong99/poise/internal/app"
	"github.com/MrWong99/poise/internal/config"
	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/resilience"
	"github.com/MrWong99/poise/pkg/provider/face"
	facemock "github.com/MrWong99/poise/pkg/provider/face/mock"
	faceremote "github.com/MrWong99/poise/pkg/provider/face/remote"
	"github.com/MrWong99/poise/pkg/provider/pose"
	posemock "github.com/MrWong99/poise/pkg/provider/pose/mock"
	poseremote "github.com/MrWong99/poise/pkg/provider/pose/remote"
	"github.com/MrWong99/poise/pkg/provider/stt"
	"github.com/MrWong99/poise/pkg/provider/stt/deepgram"
	sttmock "github.com/MrWong99/poise/pkg/provider/stt/mock"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload goals and log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "poise: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "poise: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("poise starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
			}
			application.ApplyConfig(d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	// ── Face ──────────────────────────────────────────────────────────────────

	reg.RegisterFace("remote", func(entry config.ProviderEntry) (face.Detector, error) {
		var opts []faceremote.Option
		if entry.APIKey != "" {
			opts = append(opts, faceremote.WithAPIKey(entry.APIKey))
		}
		if entry.Model != "" {
			opts = append(opts, faceremote.WithModel(entry.Model))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, faceremote.WithTimeout(d))
		}
		return faceremote.New(entry.BaseURL, opts...)
	})
	reg.RegisterFace("mock", func(config.ProviderEntry) (face.Detector, error) {
		return &facemock.Detector{}, nil
	})

	// ── Pose ──────────────────────────────────────────────────────────────────

	reg.RegisterPose("remote", func(entry config.ProviderEntry) (pose.Estimator, error) {
		var opts []poseremote.Option
		if entry.APIKey != "" {
			opts = append(opts, poseremote.WithAPIKey(entry.APIKey))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, poseremote.WithTimeout(d))
		}
		if s, ok := entry.Options["min_score"].(float64); ok {
			opts = append(opts, poseremote.WithMinScore(s))
		}
		return poseremote.New(entry.BaseURL, opts...)
	})
	reg.RegisterPose("mock", func(config.ProviderEntry) (pose.Estimator, error) {
		return &posemock.Estimator{}, nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// Every configured provider is wrapped in a circuit-breaking fallback group
// so that readiness reflects backend health and fallbacks take over when the
// primary fails.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	fb := resilience.FallbackConfig{}

	if e := cfg.Providers.STT; e.Enabled() {
		primary, err := create("stt", e, reg.CreateSTT)
		if err != nil {
			return nil, err
		}
		if primary != nil {
			group := resilience.NewSTTFallback(primary, e.Name, fb)
			for _, f := range e.Fallbacks {
				p, err := create("stt", f, reg.CreateSTT)
				if err != nil {
					return nil, err
				}
				if p != nil {
					group.AddFallback(f.Name, p)
				}
			}
			ps.STT = group
		}
	}

	if e := cfg.Providers.Face; e.Enabled() {
		primary, err := create("face", e, reg.CreateFace)
		if err != nil {
			return nil, err
		}
		if primary != nil {
			group := resilience.NewFaceDetector(primary, e.Name, fb)
			for _, f := range e.Fallbacks {
				d, err := create("face", f, reg.CreateFace)
				if err != nil {
					return nil, err
				}
				if d != nil {
					group.AddFallback(f.Name, d)
				}
			}
			ps.Face = group
		}
	}

	if e := cfg.Providers.Pose; e.Enabled() {
		primary, err := create("pose", e, reg.CreatePose)
		if err != nil {
			return nil, err
		}
		if primary != nil {
			group := resilience.NewPoseEstimator(primary, e.Name, fb)
			for _, f := range e.Fallbacks {
				p, err := create("pose", f, reg.CreatePose)
				if err != nil {
					return nil, err
				}
				if p != nil {
					group.AddFallback(f.Name, p)
				}
			}
			ps.Pose = group
		}
	}

	return ps, nil
}

// create runs one registry factory. An unregistered name is logged and
// yields the zero value without error.
func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	p, err := factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not implemented; skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          poise: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT)
	printProvider("Face", cfg.Providers.Face)
	printProvider("Pose", cfg.Providers.Pose)
	fmt.Printf("║  Reports         : %-19s ║\n", cfg.Storage.Backend())
	fmt.Printf("║  Real-time tips  : %-19t ║\n", cfg.Session.RealTimeFeedbackEnabled())
	fmt.Printf("║  Sample interval : %-19s ║\n", cfg.Session.SampleIntervalOrDefault())
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, e config.ProviderEntry) {
	value := e.Name
	switch {
	case value == "":
		value = "(not configured)"
	case e.Model != "":
		value = e.Name + " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		value += fmt.Sprintf(" +%d", n)
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

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

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string such as "2s" from Options.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
