// Package playback drives speakers through the system audio tools,
// used for stimulus playback during experiments and capture self-tests.
package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const normEpsilon = 1e-8

// Config holds playback configuration
type Config struct {
	PlaybackCmd string        // Command for audio playback (default: "aplay")
	Devices     []string      // ALSA device names, one per speaker; empty uses the default sink
	Volume      int           // 0-100
	ChannelGap  time.Duration // Pause between channels in sequential playback
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PlaybackCmd: "aplay",
		Volume:      100,
		ChannelGap:  500 * time.Millisecond,
	}
}

// Player plays mono float64 signals through one or more speakers
type Player struct {
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex

	// Stats
	buffersPlayed  atomic.Uint64
	playbackErrors atomic.Uint64
}

// NewPlayer creates a new player
func NewPlayer(cfg Config, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Volume < 0 {
		cfg.Volume = 0
	}
	if cfg.Volume > 100 {
		cfg.Volume = 100
	}

	return &Player{
		cfg:    cfg,
		logger: logger,
	}
}

// SetVolume sets the playback volume (0-100)
func (p *Player) SetVolume(volume int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	p.cfg.Volume = volume
}

// PlaySignal plays one mono signal on the given device, blocking until
// playback finishes. Samples are expected in [-1, 1] and are scaled by
// the configured volume.
func (p *Player) PlaySignal(ctx context.Context, device string, signal []float64, sampleRate int) error {
	p.mu.Lock()
	volume := p.cfg.Volume
	p.mu.Unlock()

	pcm := encodePCM16(signal, volume)

	args := []string{
		"-f", "S16_LE",
		"-r", fmt.Sprintf("%d", sampleRate),
		"-c", "1",
		"-t", "raw",
		"-q",
	}
	if device != "" {
		args = append(args, "-D", device)
	}

	cmd := exec.CommandContext(ctx, p.cfg.PlaybackCmd, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.playbackErrors.Add(1)
		return fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		p.playbackErrors.Add(1)
		return fmt.Errorf("start playback: %w", err)
	}

	go func() {
		io.Copy(stdin, bytes.NewReader(pcm))
		stdin.Close()
	}()

	if err := cmd.Wait(); err != nil {
		p.playbackErrors.Add(1)
		return fmt.Errorf("playback wait: %w", err)
	}

	p.buffersPlayed.Add(1)
	return nil
}

// PlayChannels normalizes a multichannel recording and plays each
// channel in turn on the default device, with a gap between channels.
// This is the capture self-test: each microphone's signal should be
// audible in order.
func (p *Player) PlayChannels(ctx context.Context, signal [][]float64, sampleRate int) error {
	normalized := normalize(signal)

	for i, ch := range normalized {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.logger.Info("playing channel", "channel", i, "samples", len(ch))
		if err := p.PlaySignal(ctx, "", ch, sampleRate); err != nil {
			return fmt.Errorf("channel %d: %w", i, err)
		}

		select {
		case <-time.After(p.cfg.ChannelGap):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// PlayConcurrent plays one buffer per configured device at the same
// time and waits until all of them finish. Buffers beyond the device
// list are ignored.
func (p *Player) PlayConcurrent(ctx context.Context, buffers [][]float64, sampleRate int) error {
	n := len(buffers)
	if n > len(p.cfg.Devices) {
		n = len(p.cfg.Devices)
	}
	if n == 0 {
		return fmt.Errorf("no playback devices configured")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.PlaySignal(ctx, p.cfg.Devices[i], buffers[i], sampleRate)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("device %s: %w", p.cfg.Devices[i], err)
		}
	}
	return nil
}

// PlayAsync plays a signal in the background
func (p *Player) PlayAsync(signal []float64, sampleRate int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.PlaySignal(ctx, "", signal, sampleRate); err != nil {
			p.logger.Warn("async playback error", "error", err)
		}
	}()
}

// Stats contains player statistics
type Stats struct {
	BuffersPlayed  uint64 `json:"buffers_played"`
	PlaybackErrors uint64 `json:"playback_errors"`
}

// GetStats returns player statistics
func (p *Player) GetStats() Stats {
	return Stats{
		BuffersPlayed:  p.buffersPlayed.Load(),
		PlaybackErrors: p.playbackErrors.Load(),
	}
}

// IsAvailable checks if the playback command is available
func (p *Player) IsAvailable() bool {
	_, err := exec.LookPath(p.cfg.PlaybackCmd)
	return err == nil
}

// encodePCM16 converts samples in [-1, 1] to little-endian signed
// 16-bit PCM at the given volume.
func encodePCM16(signal []float64, volume int) []byte {
	scale := float64(volume) / 100 * 32767
	out := make([]byte, 2*len(signal))
	for i, v := range signal {
		if v > 1 {
			v = 1
		}
		if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*scale)))
	}
	return out
}

// normalize removes each channel's mean and scales all channels by the
// shared absolute peak.
func normalize(signal [][]float64) [][]float64 {
	out := make([][]float64, len(signal))

	peak := 0.0
	for i, ch := range signal {
		mean := 0.0
		for _, v := range ch {
			mean += v
		}
		if len(ch) > 0 {
			mean /= float64(len(ch))
		}

		out[i] = make([]float64, len(ch))
		for j, v := range ch {
			out[i][j] = v - mean
			if a := math.Abs(out[i][j]); a > peak {
				peak = a
			}
		}
	}

	scale := 1 / (peak + normEpsilon)
	for _, ch := range out {
		for j := range ch {
			ch[j] *= scale
		}
	}
	return out
}
