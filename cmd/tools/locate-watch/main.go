// locate-watch: connects to a running go-tdoa daemon and prints the
// position stream to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-tdoa/internal/localize"
	"github.com/teslashibe/go-tdoa/internal/protocol"
	"github.com/teslashibe/go-tdoa/internal/stream"
)

var (
	url       = flag.String("url", "ws://localhost:9000/api/locate/stream", "daemon stream URL")
	statsEach = flag.Duration("stats", 0, "also request session stats at this interval (0 disables)")
	debug     = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := stream.DefaultConfig()
	cfg.URL = *url

	client := stream.NewClient(cfg, logger)

	client.OnEstimate(func(est protocol.EstimateData) {
		if est.Warmup {
			fmt.Printf("frame %d  warming up\n", est.Frame)
			return
		}
		fmt.Printf("frame %d  x=%.3f  y=%.3f  z=%.3f  (%d ms)\n",
			est.Frame, est.X, est.Y, est.Z, est.LatencyMs)
	})

	client.OnStats(func(s localize.Stats) {
		fmt.Printf("stats  frames=%d degenerate=%d latency=%.1fms healthy=%t\n",
			s.FrameCount, s.DegenerateCount, s.AvgLatencyMs, s.SourceHealthy)
	})

	client.OnError(func(msg string) {
		fmt.Fprintf(os.Stderr, "daemon error: %s\n", msg)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	if *statsEach > 0 {
		go func() {
			ticker := time.NewTicker(*statsEach)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if client.IsConnected() {
						if err := client.RequestStats(); err != nil {
							logger.Debug("stats request failed", "error", err)
						}
					}
				}
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("closing")
}
