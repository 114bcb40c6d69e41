package hkusb

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/teslashibe/go-tdoa/internal/gccphat"
	"github.com/teslashibe/go-tdoa/internal/geometry"
)

// MockSource is a simulated acquisition card for testing. It emits
// noise frames whose per-channel delays are consistent with a sound
// source at a settable position, so the full pipeline produces real
// estimates without hardware.
type MockSource struct {
	mu            sync.Mutex
	array         geometry.Array
	position      geometry.Point
	speed         float64
	healthy       bool
	simulateOrbit bool
	realtime      bool
	rate          int
	rng           *rand.Rand
	startTime     time.Time
}

// NewMockSource creates a mock with a fixed source position in front
// of the array.
func NewMockSource() *MockSource {
	return &MockSource{
		array:     geometry.Canonical(gccphat.DefaultArmLength, gccphat.DefaultArmRatio),
		position:  geometry.Point{X: 0.5, Y: 0.3, Z: 0.4},
		speed:     geometry.SpeedOfSound(gccphat.DefaultTempC),
		healthy:   true,
		rate:      100000,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		startTime: time.Now(),
	}
}

// NewMockSourceWithOrbit creates a mock that simulates a source
// circling the array at fixed height.
func NewMockSourceWithOrbit() *MockSource {
	m := NewMockSource()
	m.simulateOrbit = true
	return m
}

// Open prepares the mock. Always succeeds.
func (m *MockSource) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = time.Now()
	return nil
}

// Acquire returns one interleaved frame of simulated samples. When
// real-time pacing is enabled it blocks for the duration a hardware
// read of n samples would take.
func (m *MockSource) Acquire(n int) ([]float64, error) {
	m.mu.Lock()

	pos := m.position
	if m.simulateOrbit {
		// Source circling the array once per minute at 0.6 m radius.
		elapsed := time.Since(m.startTime).Seconds()
		angle := 2 * math.Pi * elapsed / 60
		pos = geometry.Point{
			X: 0.6 * math.Cos(angle),
			Y: 0.6 * math.Sin(angle),
			Z: 0.4,
		}
	}

	offsets := m.sampleOffsets(pos)

	ref := make([]float64, n)
	for i := range ref {
		ref[i] = m.rng.NormFloat64()
	}

	rate := m.rate
	realtime := m.realtime
	m.mu.Unlock()

	buf := make([]float64, n*HardwareChannels)
	for j := 0; j < n; j++ {
		buf[j*HardwareChannels] = ref[j]
		for i := 0; i < len(offsets); i++ {
			src := ((j-offsets[i])%n + n) % n
			buf[j*HardwareChannels+i+1] = ref[src]
		}
	}

	if realtime {
		time.Sleep(time.Duration(n) * time.Second / time.Duration(rate))
	}
	return buf, nil
}

// sampleOffsets converts the source position into whole-sample delays
// for channels 1-4 relative to channel 0. Caller holds m.mu.
func (m *MockSource) sampleOffsets(pos geometry.Point) [geometry.MicCount - 1]int {
	tau := m.array.Delays(pos, m.speed)

	var offsets [geometry.MicCount - 1]int
	for i, t := range tau {
		offsets[i] = int(math.Round(t * float64(m.rate)))
	}
	return offsets
}

// sampleOffsetsFor exposes the delay computation for a given position.
func (m *MockSource) sampleOffsetsFor(pos geometry.Point) [geometry.MicCount - 1]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampleOffsets(pos)
}

// Close releases resources
func (m *MockSource) Close() error {
	return nil
}

// SampleRate returns the simulated capture rate in Hz.
func (m *MockSource) SampleRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// Channels returns the interleaved channel count.
func (m *MockSource) Channels() int {
	return HardwareChannels
}

// Healthy returns true if the source is operational
func (m *MockSource) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Name returns the source type name
func (m *MockSource) Name() string {
	return "mock"
}

// SetPosition sets the simulated source position in array coordinates.
func (m *MockSource) SetPosition(p geometry.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = p
}

// SetSampleRate sets the simulated capture rate.
func (m *MockSource) SetSampleRate(rate int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = rate
}

// SetRealtime toggles real-time pacing of Acquire.
func (m *MockSource) SetRealtime(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.realtime = enabled
}

// SetHealthy sets the mock health state
func (m *MockSource) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}
