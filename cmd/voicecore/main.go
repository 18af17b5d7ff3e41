// Command voicecore is the main entry point for the voicecore realtime voice
// session server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aurelia-labs/voicecore/internal/config"
	"github.com/aurelia-labs/voicecore/internal/health"
	"github.com/aurelia-labs/voicecore/internal/observe"
	"github.com/aurelia-labs/voicecore/internal/policy"
	"github.com/aurelia-labs/voicecore/internal/transport"
	"github.com/aurelia-labs/voicecore/internal/voice"
	"github.com/aurelia-labs/voicecore/pkg/provider/eot"
	eotopenai "github.com/aurelia-labs/voicecore/pkg/provider/eot/openai"
	"github.com/aurelia-labs/voicecore/pkg/provider/realtime"
	rtopenai "github.com/aurelia-labs/voicecore/pkg/provider/realtime/openai"
)

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
			fmt.Fprintf(os.Stderr, "voicecore: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicecore: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// Keep credentials out of forwarded provider messages.
	policy.RegisterSecret(cfg.Provider.APIKey)
	for _, key := range cfg.Server.APIKeys {
		policy.RegisterSecret(key)
	}

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	slog.Info("voicecore starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
		"provider", cfg.Provider.Name,
		"turn_detection", cfg.Engine.TurnDetection,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicecore",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Engine ────────────────────────────────────────────────────────────────
	providers, err := providerFactory(cfg.Provider, logger)
	if err != nil {
		slog.Error("failed to configure provider", "err", err)
		return 1
	}

	engineOpts := []voice.EngineOption{
		voice.WithEngineLogger(logger),
		voice.WithEngineMetrics(observe.DefaultMetrics()),
	}
	if detectors := detectorFactory(cfg); detectors != nil {
		engineOpts = append(engineOpts, voice.WithEngineEOTDetectors(detectors))
	}
	engine := voice.NewVoiceEngine(engineSettings(cfg.Engine), providers, engineOpts...)

	// ── HTTP surface ──────────────────────────────────────────────────────────
	maxSessions := cfg.Server.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 64
	}

	mux := http.NewServeMux()
	transport.NewServer(engine, transport.Config{
		APIKeys:     cfg.Server.APIKeys,
		MaxSessions: cfg.Server.MaxSessions,
	}, logger).Register(mux)
	health.New(engine.ActiveSessions,
		health.Probe{Name: "capacity", Check: func(context.Context) error {
			if engine.ActiveSessions() >= maxSessions {
				return fmt.Errorf("at capacity: %d sessions", maxSessions)
			}
			return nil
		}},
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Serve until signalled ─────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.Server.TLS != nil {
			slog.Info("server ready (tls) — press Ctrl+C to shut down")
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			slog.Info("server ready — press Ctrl+C to shut down")
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		engine.Shutdown("server_shutdown")

		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(drainCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// engineSettings maps the YAML engine block onto per-session defaults.
func engineSettings(e config.EngineConfig) voice.Settings {
	return voice.Settings{
		MinCommitMS:            e.MinCommitMS,
		MinCommitBytes:         e.MinCommitBytes,
		MinUserAudioMS:         e.MinUserAudioMS,
		MinTranscriptChars:     e.MinTranscriptChars,
		VADThreshold:           e.VADThreshold,
		VADSilenceMS:           e.VADSilenceMS,
		VADHangoverMS:          e.VADHangoverMS,
		MinSpeechMSForTurn:     e.MinSpeechMSForTurn,
		BargeInMinMS:           e.BargeInMinMS,
		PostTurnSilenceMS:      e.PostTurnSilenceMS,
		OutputChunkMS:          e.OutputChunkMS,
		ProviderConnectTimeout: e.ConnectTimeout(),
		IdleTimeout:            e.IdleTimeout(),
		Instructions:           e.Instructions,
		Voice:                  e.Voice,
		Temperature:            e.Temperature,
		TranscriptionModel:     e.TranscriptionModel,
		TranscriptionLanguage:  e.Language,
		TurnDetection:          string(e.TurnDetection),
	}
}

// providerFactory builds the per-session upstream adapter constructor.
func providerFactory(p config.ProviderConfig, logger *slog.Logger) (voice.ProviderFactory, error) {
	switch p.Name {
	case "", "openai-realtime":
		opts := []rtopenai.Option{rtopenai.WithLogger(logger)}
		if p.Model != "" {
			opts = append(opts, rtopenai.WithModel(p.Model))
		}
		if p.BaseURL != "" {
			opts = append(opts, rtopenai.WithBaseURL(p.BaseURL))
		}
		return func(string) realtime.Provider {
			return rtopenai.New(p.APIKey, opts...)
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
}

// detectorFactory builds the per-session end-of-turn classifier constructor,
// or nil when the classifier should not run.
func detectorFactory(cfg *config.Config) voice.DetectorFactory {
	se := cfg.Engine.SemanticEOT
	if !se.EOTEnabled() {
		return nil
	}
	// The classifier only matters when turn taking is local.
	if cfg.Engine.TurnDetection != "" && cfg.Engine.TurnDetection != config.TurnDetectionManual {
		return nil
	}

	eotCfg := eot.Config{
		MinDelayMS: se.MinDelayMS,
		MaxDelayMS: se.MaxDelayMS,
		LLMTimeout: time.Duration(se.LLMTimeoutMS) * time.Millisecond,
	}

	var detectorOpts []eot.Option
	if se.UseLLM && cfg.Provider.APIKey != "" {
		var backendOpts []eotopenai.Option
		if cfg.Provider.BaseURL != "" {
			backendOpts = append(backendOpts, eotopenai.WithBaseURL(cfg.Provider.BaseURL))
		}
		backend, err := eotopenai.New(cfg.Provider.APIKey, backendOpts...)
		if err != nil {
			slog.Warn("end-of-turn LLM backend unavailable, falling back to heuristics", "err", err)
		} else {
			detectorOpts = append(detectorOpts, eot.WithLLMBackend(backend))
		}
	}

	return func() *eot.Detector {
		return eot.NewDetector(eotCfg, detectorOpts...)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
