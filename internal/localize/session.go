// Package localize runs the online localization pipeline: a producer
// loop acquiring frames from the sampling device and a consumer loop
// turning them into position estimates.
package localize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-tdoa/internal/gccphat"
	"github.com/teslashibe/go-tdoa/internal/geometry"
)

// Session errors. All of them are fatal: a failed session tears down
// completely and restarts from a clean state.
var (
	ErrDeviceOpen   = errors.New("localize: device open failed")
	ErrAcquire      = errors.New("localize: sample acquisition failed")
	ErrQueueTimeout = errors.New("localize: timed out waiting for frames")
	ErrRunning      = errors.New("localize: session already running")
)

// Source provides fixed-size multichannel sample blocks on demand. The
// session owns the device for its lifetime and closes it on every exit
// path.
type Source interface {
	// Open prepares the device for acquisition.
	Open() error

	// Acquire blocks until n samples per channel have been captured and
	// returns them interleaved (n * Channels values).
	Acquire(n int) ([]float64, error)

	// Close releases the device. Safe to call more than once.
	Close() error

	// SampleRate returns the capture rate in Hz.
	SampleRate() int

	// Channels returns the interleaved channel count (at least 5).
	Channels() int

	// Healthy reports whether the device is operational.
	Healthy() bool

	// Name returns the source type name.
	Name() string
}

// Config configures an online session.
type Config struct {
	FrameLen    int           // samples per frame, one of gccphat.FrameLengths
	MedianLen   int           // smoothing window, frames
	CutoffLow   int           // band-pass low cutoff, Hz
	CutoffHigh  int           // band-pass high cutoff, Hz
	QueueSize   int           // frames buffered between producer and consumer
	PushTimeout time.Duration // producer-side queue timeout
	PopTimeout  time.Duration // consumer-side queue timeout
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{
		FrameLen:    2048,
		MedianLen:   gccphat.DefaultMedianLen,
		CutoffLow:   gccphat.DefaultCutoffLow,
		CutoffHigh:  gccphat.DefaultCutoffHigh,
		QueueSize:   3,
		PushTimeout: 500 * time.Millisecond,
		PopTimeout:  time.Second,
	}
}

// Estimate is one localization result. Before the median window has
// filled, the all-zero sentinel is emitted with Warmup set.
type Estimate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`

	Warmup    bool      `json:"warmup"`
	Frame     int64     `json:"frame"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int64     `json:"latency_ms"`
}

// Point returns the estimate as a geometry point.
func (e Estimate) Point() geometry.Point {
	return geometry.Point{X: e.X, Y: e.Y, Z: e.Z}
}

// Session runs one online localization run over a Source. Only one
// session may run per Source at a time; serializing Run calls is the
// caller's responsibility.
type Session struct {
	source Source
	cfg    Config
	logger *slog.Logger

	estimator *gccphat.Estimator
	median    *gccphat.MedianQueue
	solver    *gccphat.Solver

	running atomic.Bool
	draw    atomic.Bool
	queue   *frameQueue

	producerDone chan struct{}
	producerErr  error

	// step callback, set before Run
	onEstimate func(Estimate)

	mu              sync.RWMutex
	latest          Estimate
	frameCount      int64
	degenerateCount int64
	totalLatencyMs  int64

	subsMu sync.RWMutex
	subs   map[chan Estimate]struct{}
}

// New creates a session. The solver may be nil to use the canonical
// defaults.
func New(source Source, cfg Config, solver *gccphat.Solver, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if solver == nil {
		solver = gccphat.NewSolver()
	}

	estimator, err := gccphat.NewEstimator(gccphat.EstimatorConfig{
		FrameLen:   cfg.FrameLen,
		SampleRate: source.SampleRate(),
		CutoffLow:  cfg.CutoffLow,
		CutoffHigh: cfg.CutoffHigh,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		source:    source,
		cfg:       cfg,
		logger:    logger,
		estimator: estimator,
		median:    gccphat.NewMedianQueue(cfg.MedianLen),
		solver:    solver,
		queue:     newFrameQueue(cfg.QueueSize),
		subs:      make(map[chan Estimate]struct{}),
	}
	s.draw.Store(true)
	return s, nil
}

// OnEstimate sets the step callback, invoked once per processed frame
// while the draw flag is set. Must be called before Run.
func (s *Session) OnEstimate(fn func(Estimate)) {
	s.onEstimate = fn
}

// SetDraw toggles step-callback delivery so a slow result consumer can
// be muted without stopping the session.
func (s *Session) SetDraw(enabled bool) {
	s.draw.Store(enabled)
}

// Running reports whether the session loops are active.
func (s *Session) Running() bool {
	return s.running.Load()
}

// Run opens the device and drives the consumer loop on the calling
// goroutine until Stop, context cancellation, or a fatal error. The
// producer runs on its own goroutine. On return the producer has been
// joined, the queue drained, and the device closed.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	if err := s.source.Open(); err != nil {
		s.running.Store(false)
		s.source.Close()
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}

	s.median.Clear()
	s.queue.clear()
	s.producerDone = make(chan struct{})
	s.producerErr = nil

	s.logger.Info("online session started",
		"source", s.source.Name(),
		"sample_rate", s.source.SampleRate(),
		"frame_len", s.cfg.FrameLen,
		"median_len", s.cfg.MedianLen,
	)

	go s.produce()
	err := s.consume(ctx)

	s.teardown()

	if err != nil {
		s.logger.Error("online session failed", "error", err)
		return err
	}
	s.logger.Info("online session stopped", "frames", s.FrameCount())
	return nil
}

// Stop requests cooperative shutdown. Both loops exit at their next
// flag check or queue timeout; worst-case latency is bounded by the
// larger configured timeout.
func (s *Session) Stop() {
	s.running.Store(false)
}

func (s *Session) produce() {
	defer close(s.producerDone)

	for s.running.Load() {
		buf, err := s.source.Acquire(s.cfg.FrameLen)
		if err != nil {
			if s.running.Load() {
				s.producerErr = fmt.Errorf("%w: %v", ErrAcquire, err)
			}
			return
		}
		if !s.queue.push(buf, s.cfg.PushTimeout) {
			// Consumer stalled or gone; the consumer side reports the
			// session error.
			return
		}
	}
}

func (s *Session) consume(ctx context.Context) error {
	channels := s.source.Channels()
	rate := s.source.SampleRate()

	for s.running.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}

		buf, ok := s.queue.pop(s.cfg.PopTimeout)
		if !ok {
			if !s.running.Load() {
				return nil // stopped while waiting
			}
			select {
			case <-s.producerDone:
				// Producer exited; its error, if any, is visible now.
				if s.producerErr != nil {
					return s.producerErr
				}
			default:
			}
			return ErrQueueTimeout
		}

		start := time.Now()
		tau, err := s.estimator.Estimate(buf, channels)
		if err != nil {
			return err
		}

		s.median.Push(tau)

		est := Estimate{
			Warmup:    !s.median.Full(),
			Timestamp: time.Now(),
		}
		if !est.Warmup {
			med := s.median.Median()
			var secs [geometry.MicCount - 1]float64
			for i, v := range med {
				secs[i] = v / float64(rate)
			}

			p, err := s.solver.Solve(secs)
			if errors.Is(err, gccphat.ErrDegenerate) {
				// Near-singular pivot: keep the previous estimate rather
				// than emit an unbounded one.
				s.mu.Lock()
				s.degenerateCount++
				s.mu.Unlock()
				continue
			}
			if err != nil {
				return err
			}
			est.X, est.Y, est.Z = p.X, p.Y, p.Z
		}
		est.LatencyMs = time.Since(start).Milliseconds()

		s.publish(est)
	}
	return nil
}

func (s *Session) publish(est Estimate) {
	s.mu.Lock()
	s.frameCount++
	est.Frame = s.frameCount
	s.totalLatencyMs += est.LatencyMs
	s.latest = est
	s.mu.Unlock()

	s.notifySubscribers(est)

	if s.draw.Load() && s.onEstimate != nil {
		s.onEstimate(est)
	}
}

// teardown joins the producer, drains the queue and closes the device.
// Runs on every exit path.
func (s *Session) teardown() {
	s.running.Store(false)
	<-s.producerDone
	s.queue.clear()
	if err := s.source.Close(); err != nil {
		s.logger.Warn("device close failed", "error", err)
	}
}

func (s *Session) notifySubscribers(est Estimate) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for ch := range s.subs {
		select {
		case ch <- est:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel receiving every published estimate.
func (s *Session) Subscribe() chan Estimate {
	ch := make(chan Estimate, 10)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Session) Unsubscribe(ch chan Estimate) {
	s.subsMu.Lock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
	s.subsMu.Unlock()
}

// GetLatest returns the most recent estimate.
func (s *Session) GetLatest() Estimate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// FrameCount returns the number of frames processed so far.
func (s *Session) FrameCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameCount
}

// Stats contains session statistics.
type Stats struct {
	FrameCount      int64    `json:"frame_count"`
	DegenerateCount int64    `json:"degenerate_count"`
	AvgLatencyMs    float64  `json:"avg_latency_ms"`
	QueueDepth      int      `json:"queue_depth"`
	SubscriberCount int      `json:"subscriber_count"`
	SourceHealthy   bool     `json:"source_healthy"`
	Running         bool     `json:"running"`
	WarmedUp        bool     `json:"warmed_up"`
	Current         Estimate `json:"current"`
}

// GetStats returns session statistics.
func (s *Session) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	avg := float64(0)
	if s.frameCount > 0 {
		avg = float64(s.totalLatencyMs) / float64(s.frameCount)
	}

	s.subsMu.RLock()
	subs := len(s.subs)
	s.subsMu.RUnlock()

	return Stats{
		FrameCount:      s.frameCount,
		DegenerateCount: s.degenerateCount,
		AvgLatencyMs:    avg,
		QueueDepth:      s.queue.len(),
		SubscriberCount: subs,
		SourceHealthy:   s.source.Healthy(),
		Running:         s.running.Load(),
		WarmedUp:        s.frameCount > 0 && !s.latest.Warmup,
		Current:         s.latest,
	}
}
