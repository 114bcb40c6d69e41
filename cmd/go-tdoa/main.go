// go-tdoa: acoustic source localization daemon
// Captures the microphone array, runs GCC-PHAT localization, and
// serves positions over HTTP and WebSocket.
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

	"github.com/teslashibe/go-tdoa/internal/config"
	"github.com/teslashibe/go-tdoa/internal/gccphat"
	"github.com/teslashibe/go-tdoa/internal/geometry"
	"github.com/teslashibe/go-tdoa/internal/health"
	"github.com/teslashibe/go-tdoa/internal/hkusb"
	"github.com/teslashibe/go-tdoa/internal/localize"
	"github.com/teslashibe/go-tdoa/internal/server"
)

var (
	version     = "1.0.0"
	configPath  = flag.String("config", "/etc/go-tdoa/config.yaml", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "use mock capture source (for testing)")
	orbit       = flag.Bool("orbit", false, "mock source orbits the array (implies -mock)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-tdoa %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	// Override log level if debug flag is set
	if *debug {
		cfg.Logging.Level = "debug"
	}

	// Setup logging
	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-tdoa",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
	)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize capture source
	var source localize.Source

	switch {
	case *orbit:
		logger.Info("using orbiting mock capture source")
		mock := hkusb.NewMockSourceWithOrbit()
		mock.SetSampleRate(cfg.Capture.SampleRate)
		mock.SetRealtime(true)
		source = mock
	case *useMock:
		logger.Info("using mock capture source")
		mock := hkusb.NewMockSource()
		mock.SetSampleRate(cfg.Capture.SampleRate)
		mock.SetRealtime(true)
		source = mock
	default:
		logger.Info("initializing capture source")
		usbCfg := hkusb.DefaultUSBSourceConfig()
		usbCfg.RangeCode = cfg.Capture.RangeCode
		usbCfg.SampleRate = cfg.Capture.SampleRate
		source = hkusb.NewSourceWithFallback(logger, usbCfg)
	}
	defer source.Close()

	logger.Info("capture source ready",
		"type", source.Name(),
		"healthy", source.Healthy(),
		"sample_rate", source.SampleRate(),
	)

	// Build the solver from the array geometry config
	solver := &gccphat.Solver{
		ArmLength:    cfg.Array.ArmLength,
		ArmRatio:     cfg.Array.ArmRatio,
		SpeedOfSound: geometry.SpeedOfSound(cfg.Array.TemperatureC),
	}

	// Create localization session
	sessionCfg := localize.Config{
		FrameLen:    cfg.Online.FrameLen,
		MedianLen:   cfg.Online.MedianLen,
		CutoffLow:   cfg.Online.CutoffLow,
		CutoffHigh:  cfg.Online.CutoffHigh,
		QueueSize:   cfg.Online.QueueSize,
		PushTimeout: cfg.Online.PushTimeout,
		PopTimeout:  cfg.Online.PopTimeout,
	}

	session, err := localize.New(source, sessionCfg, solver, logger)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	// Start session in background
	go func() {
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session error", "error", err)
			cancel()
		}
	}()

	// Create server
	checker := health.NewChecker(version)
	srv := server.New(*cfg, session, checker, logger, version)

	// Start WebSocket hub in background
	go srv.WSHub().Run(ctx)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Print startup info
	printStartupBanner(cfg, version)

	// Wait for shutdown signal or fatal pipeline error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down after fatal error")
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> session -> source
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	logger.Info("stopping session...")
	session.Stop()

	logger.Info("go-tdoa stopped")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("🎯 go-tdoa v" + version)
	fmt.Println("   Acoustic source localization daemon")
	fmt.Println()
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health              - Health check")
	fmt.Println("   GET  /api/locate          - Latest position estimate")
	fmt.Println("   WS   /api/locate/stream   - Real-time position stream")
	fmt.Println("   GET  /api/stats           - Session statistics")
	fmt.Println("   GET  /api/config          - Effective configuration")
	fmt.Println("   GET  /metrics             - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
