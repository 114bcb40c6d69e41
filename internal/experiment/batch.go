// Package experiment runs batch capture experiments: stimulus signals
// are played through the configured speakers while the acquisition
// card records, and each trial is saved as a recording file.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/teslashibe/go-tdoa/internal/dataset"
	"github.com/teslashibe/go-tdoa/internal/localize"
	"github.com/teslashibe/go-tdoa/internal/playback"
)

var (
	ErrNoTrials = errors.New("experiment: no trials configured")
	ErrStopped  = errors.New("experiment: stopped")
)

// Trial is one stimulus set: one mono signal per speaker, played
// concurrently while the card captures.
type Trial struct {
	Label      string
	Signals    [][]float64
	SampleRate int // stimulus playback rate, Hz
}

// Config configures a batch run
type Config struct {
	OutputDir  string        // directory for recording files
	SampleTime time.Duration // capture duration per trial
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		OutputDir:  fmt.Sprintf("./record/Test_%s", time.Now().Format("2006_01_02_15_04")),
		SampleTime: 5 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SampleTime <= 0 || c.SampleTime > 10*time.Second {
		return fmt.Errorf("experiment: sample time %v out of range (0, 10s]", c.SampleTime)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("experiment: output directory required")
	}
	return nil
}

// Runner drives batch trials over a capture source and a player
type Runner struct {
	source localize.Source
	player *playback.Player
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}

	// onStep, if set, is invoked after each completed trial.
	onStep func(index int, trial Trial)
}

// NewRunner creates a batch runner
func NewRunner(source localize.Source, player *playback.Player, cfg Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		source: source,
		player: player,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// OnStep sets the per-trial progress callback. Must be called before Run.
func (r *Runner) OnStep(fn func(index int, trial Trial)) {
	r.onStep = fn
}

// Running reports whether a batch is in progress
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Stop requests cooperative shutdown; the current trial finishes first.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running && r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

// Run executes all trials in order. For each trial the stimulus plays
// on every speaker while the card captures; the capture is then saved
// under the trial label. The device is closed on all exit paths.
func (r *Runner) Run(ctx context.Context, trials []Trial) error {
	if len(trials) == 0 {
		return ErrNoTrials
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("experiment: already running")
	}
	r.running = true
	stop := make(chan struct{})
	r.stop = stop
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.stop = nil
		r.mu.Unlock()
	}()

	if err := r.source.Open(); err != nil {
		r.source.Close()
		return fmt.Errorf("experiment: open capture device: %w", err)
	}
	defer r.source.Close()

	numSamples := int(r.cfg.SampleTime.Seconds() * float64(r.source.SampleRate()))

	r.logger.Info("batch run started",
		"trials", len(trials),
		"sample_time", r.cfg.SampleTime,
		"output_dir", r.cfg.OutputDir,
	)

	for i, trial := range trials {
		select {
		case <-stop:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := r.runTrial(ctx, i, trial, numSamples); err != nil {
			return err
		}

		if r.onStep != nil {
			r.onStep(i, trial)
		}
	}

	r.logger.Info("batch run finished", "trials", len(trials))
	return nil
}

// runTrial plays the stimulus and captures concurrently, then saves
// the recording.
func (r *Runner) runTrial(ctx context.Context, index int, trial Trial, numSamples int) error {
	var wg sync.WaitGroup
	var playErr error

	if r.player != nil && len(trial.Signals) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			playErr = r.player.PlayConcurrent(ctx, trial.Signals, trial.SampleRate)
		}()
	}

	buf, captureErr := r.source.Acquire(numSamples)
	wg.Wait()

	if captureErr != nil {
		return fmt.Errorf("experiment: trial %d capture: %w", index, captureErr)
	}
	if playErr != nil {
		return fmt.Errorf("experiment: trial %d playback: %w", index, playErr)
	}

	rec, err := dataset.FromInterleaved(buf, r.source.Channels(), r.source.SampleRate())
	if err != nil {
		return fmt.Errorf("experiment: trial %d: %w", index, err)
	}
	rec.Label = trial.Label

	name := trial.Label
	if name == "" {
		name = fmt.Sprintf("%d", index)
	}
	path := filepath.Join(r.cfg.OutputDir, name+dataset.FileExt)

	if err := dataset.Save(path, rec); err != nil {
		return fmt.Errorf("experiment: trial %d: %w", index, err)
	}

	r.logger.Info("trial saved",
		"index", index,
		"label", trial.Label,
		"path", path,
		"samples", rec.Samples(),
	)
	return nil
}
