// Command larynx is the main entry point for the larynx pitch-to-haptics server.
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

	"github.com/hapticphonix/larynx/internal/app"
	"github.com/hapticphonix/larynx/internal/config"
	"github.com/hapticphonix/larynx/internal/observe"
	"github.com/hapticphonix/larynx/pkg/audio"
	"github.com/hapticphonix/larynx/pkg/audio/ffmpeg"
	"github.com/hapticphonix/larynx/pkg/audio/wavfile"
	"github.com/hapticphonix/larynx/pkg/audio/wsmic"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	autostart := flag.Bool("autostart", false, "start a capture session immediately")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "larynx: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "larynx: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("larynx starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Capture source registry ───────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinSources(reg, cfg.Server.AllowedOrigins)

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg,
		app.WithRegistry(reg),
		app.WithMetricsHandler(tel.Handler),
		app.WithLogLevel(&level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           application.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if *autostart {
		if info, err := application.Sessions().Start(ctx); err != nil {
			slog.Error("autostart failed", "err", err)
		} else {
			slog.Info("autostart session running", "session_id", info.ID)
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	exit := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err := <-serveErr:
		slog.Error("http server error", "err", err)
		exit = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// registerBuiltinSources wires every capture backend into reg.
func registerBuiltinSources(reg *config.Registry, origins []string) {
	reg.RegisterDevice(config.SourceFFmpeg, func(a config.AudioConfig) (audio.Device, error) {
		return ffmpeg.New(a.FFmpegPath), nil
	})
	reg.RegisterDevice(config.SourceWAV, func(a config.AudioConfig) (audio.Device, error) {
		if _, err := os.Stat(a.WAVPath); err != nil {
			return nil, fmt.Errorf("wav source: %w", err)
		}
		return wavfile.New(a.WAVPath, wavfile.WithRealtime(true), wavfile.WithLoop(a.Loop)), nil
	})
	reg.RegisterDevice(config.SourceWebSocket, func(a config.AudioConfig) (audio.Device, error) {
		enc := wsmic.EncodingPCM
		if a.Encoding == config.EncodingOpus {
			enc = wsmic.EncodingOpus
		}
		return wsmic.New(wsmic.WithEncoding(enc), wsmic.WithOriginPatterns(origins...)), nil
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         larynx: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Source", string(cfg.Audio.Source))
	switch cfg.Audio.Source {
	case config.SourceFFmpeg:
		printRow("Input", cfg.Audio.InputFormat+"/"+cfg.Audio.InputDevice)
	case config.SourceWAV:
		printRow("File", cfg.Audio.WAVPath)
	case config.SourceWebSocket:
		printRow("Encoding", string(cfg.Audio.Encoding))
	}
	printRow("Analysis", fmt.Sprintf("%d Hz, %d/%d", cfg.Pitch.SampleRate, cfg.Pitch.FFTSize, cfg.Pitch.HopSize))
	printRow("Pitch range", fmt.Sprintf("%.0f-%.0f Hz", cfg.Haptics.MinPitch, cfg.Haptics.MaxPitch))
	if cfg.Haptics.Enabled {
		printRow("Haptics", "enabled")
	} else {
		printRow("Haptics", "(disabled)")
	}
	if cfg.NATS.Enabled() {
		printRow("NATS", cfg.NATS.URL)
	} else {
		printRow("NATS", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:18] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}
