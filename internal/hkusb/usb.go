// Package hkusb provides access to the HKUSB6203 multichannel data
// acquisition card over USB bulk transfers.
package hkusb

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gousb"
)

// HKUSB6203 USB identifiers
const (
	VendorID  = 0x1A86
	ProductID = 0x6203
)

// Control requests understood by the acquisition firmware. The start
// request carries an 8-byte little-endian config block: range code
// (uint16), reserved (uint16), sample rate (uint32).
const (
	reqStart = 0x01
	reqStop  = 0x02

	bulkInEndpoint = 1
)

// Range codes select the analog input span.
const (
	Range5V  = 0 // ±5 V full scale
	Range10V = 1 // ±10 V full scale
)

// HardwareChannels is the fixed interleaved channel count of the card.
// Channels 0-4 carry the microphones; 5-7 are unused.
const HardwareChannels = 8

const bytesPerSample = 2 // signed 16-bit little-endian

// USBSource provides direct USB access to the HKUSB6203. It implements
// localize.Source.
type USBSource struct {
	logger *slog.Logger

	mu     sync.Mutex
	usbCtx *gousb.Context
	dev    *gousb.Device
	intf   *gousb.Interface
	ifDone func()
	ep     *gousb.InEndpoint
	closed bool

	rangeCode  int
	sampleRate int

	// Health tracking
	healthy           bool
	consecutiveErrors int
	maxErrors         int
	lastError         error
	lastErrorTime     time.Time

	// Reconnection
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
}

// USBSourceConfig configures the USB source
type USBSourceConfig struct {
	RangeCode            int
	SampleRate           int
	MaxConsecutiveErrors int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// DefaultUSBSourceConfig returns sensible defaults
func DefaultUSBSourceConfig() USBSourceConfig {
	return USBSourceConfig{
		RangeCode:            Range5V,
		SampleRate:           100000,
		MaxConsecutiveErrors: 5,
		InitialBackoff:       100 * time.Millisecond,
		MaxBackoff:           5 * time.Second,
	}
}

// Validate checks the configuration against the card's limits.
func (c USBSourceConfig) Validate() error {
	if c.RangeCode != Range5V && c.RangeCode != Range10V {
		return fmt.Errorf("invalid range code %d", c.RangeCode)
	}
	if c.SampleRate < 100 || c.SampleRate > 100000 {
		return fmt.Errorf("sample rate %d out of range [100, 100000]", c.SampleRate)
	}
	return nil
}

// NewUSBSource creates a new USB acquisition source
func NewUSBSource(logger *slog.Logger) (*USBSource, error) {
	return NewUSBSourceWithConfig(logger, DefaultUSBSourceConfig())
}

// NewUSBSourceWithConfig creates a USB source with custom configuration
func NewUSBSourceWithConfig(logger *slog.Logger, cfg USBSourceConfig) (*USBSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	source := &USBSource{
		logger:           logger,
		healthy:          true,
		rangeCode:        cfg.RangeCode,
		sampleRate:       cfg.SampleRate,
		maxErrors:        cfg.MaxConsecutiveErrors,
		reconnectBackoff: cfg.InitialBackoff,
		maxBackoff:       cfg.MaxBackoff,
	}

	source.usbCtx = gousb.NewContext()

	logger.Info("USB acquisition source initialized",
		"vendor_id", fmt.Sprintf("0x%04X", VendorID),
		"product_id", fmt.Sprintf("0x%04X", ProductID),
		"sample_rate", cfg.SampleRate,
		"range_code", cfg.RangeCode,
	)

	return source, nil
}

// Open claims the device and starts continuous acquisition.
func (u *USBSource) Open() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return fmt.Errorf("device closed")
	}
	if u.dev != nil {
		return nil
	}
	return u.openDevice()
}

func (u *USBSource) openDevice() error {
	dev, err := u.usbCtx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil {
		return fmt.Errorf("failed to open HKUSB6203: %w", err)
	}
	if dev == nil {
		return fmt.Errorf("HKUSB6203 not found (VID=0x%04X PID=0x%04X)", VendorID, ProductID)
	}

	// Auto-detach kernel driver if attached
	if err := dev.SetAutoDetach(true); err != nil {
		u.logger.Debug("SetAutoDetach failed (non-fatal)", "error", err)
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		return fmt.Errorf("failed to claim interface: %w", err)
	}

	ep, err := intf.InEndpoint(bulkInEndpoint)
	if err != nil {
		done()
		dev.Close()
		return fmt.Errorf("failed to open bulk endpoint: %w", err)
	}

	if err := u.startAcquisition(dev); err != nil {
		done()
		dev.Close()
		return err
	}

	u.dev = dev
	u.intf = intf
	u.ifDone = done
	u.ep = ep
	u.healthy = true
	u.consecutiveErrors = 0

	return nil
}

func (u *USBSource) startAcquisition(dev *gousb.Device) error {
	cfg := make([]byte, 8)
	binary.LittleEndian.PutUint16(cfg[0:2], uint16(u.rangeCode))
	binary.LittleEndian.PutUint32(cfg[4:8], uint32(u.sampleRate))

	_, err := dev.Control(
		gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		reqStart,
		0, // wValue
		0, // wIndex
		cfg,
	)
	if err != nil {
		return fmt.Errorf("failed to start acquisition: %w", err)
	}
	return nil
}

func (u *USBSource) stopAcquisition(dev *gousb.Device) {
	_, err := dev.Control(
		gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		reqStop,
		0,
		0,
		nil,
	)
	if err != nil {
		u.logger.Debug("stop acquisition failed (non-fatal)", "error", err)
	}
}

// Acquire blocks until n samples per channel have been read and returns
// them interleaved as voltages, n*HardwareChannels values total.
func (u *USBSource) Acquire(n int) ([]float64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil, fmt.Errorf("device closed")
	}

	// Check if we need to reconnect
	if u.dev == nil {
		if err := u.reconnect(); err != nil {
			return nil, err
		}
	}

	raw := make([]byte, n*HardwareChannels*bytesPerSample)
	read := 0
	for read < len(raw) {
		m, err := u.ep.Read(raw[read:])
		if err != nil {
			u.recordError(err)
			return nil, fmt.Errorf("bulk read failed: %w", err)
		}
		read += m
	}

	u.recordSuccess()

	fullScale := 5.0
	if u.rangeCode == Range10V {
		fullScale = 10.0
	}

	out := make([]float64, n*HardwareChannels)
	for i := range out {
		code := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		out[i] = float64(code) / 32768.0 * fullScale
	}
	return out, nil
}

// SelfTest opens the device, waits briefly and closes it again. It
// reports whether the card responds on the bus.
func (u *USBSource) SelfTest() bool {
	if err := u.Open(); err != nil {
		u.logger.Warn("self-test open failed", "error", err)
		return false
	}
	time.Sleep(500 * time.Millisecond)

	u.mu.Lock()
	u.releaseDevice()
	u.mu.Unlock()
	return true
}

func (u *USBSource) recordError(err error) {
	u.consecutiveErrors++
	u.lastError = err
	u.lastErrorTime = time.Now()

	if u.consecutiveErrors >= u.maxErrors {
		u.healthy = false
		u.logger.Warn("USB source marked unhealthy, will attempt reconnect",
			"consecutive_errors", u.consecutiveErrors,
			"last_error", err,
		)

		// Release the device to force reconnect on the next call
		u.releaseDevice()
	}
}

func (u *USBSource) recordSuccess() {
	if u.consecutiveErrors > 0 {
		u.logger.Info("USB source recovered",
			"previous_errors", u.consecutiveErrors,
		)
	}
	u.consecutiveErrors = 0
	u.healthy = true
	u.reconnectBackoff = DefaultUSBSourceConfig().InitialBackoff
}

func (u *USBSource) reconnect() error {
	u.logger.Info("attempting USB reconnect",
		"backoff", u.reconnectBackoff,
	)

	// Apply backoff
	time.Sleep(u.reconnectBackoff)

	// Increase backoff for next attempt
	u.reconnectBackoff *= 2
	if u.reconnectBackoff > u.maxBackoff {
		u.reconnectBackoff = u.maxBackoff
	}

	if err := u.openDevice(); err != nil {
		u.logger.Warn("USB reconnect failed", "error", err)
		return err
	}

	u.logger.Info("USB reconnect successful")
	return nil
}

// releaseDevice stops acquisition and drops the device handle. Caller
// holds u.mu.
func (u *USBSource) releaseDevice() {
	if u.dev != nil {
		u.stopAcquisition(u.dev)
	}
	if u.ifDone != nil {
		u.ifDone()
		u.ifDone = nil
	}
	u.intf = nil
	u.ep = nil
	if u.dev != nil {
		u.dev.Close()
		u.dev = nil
	}
}

// Close releases the USB device. Safe to call more than once.
func (u *USBSource) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}
	u.closed = true

	u.releaseDevice()

	if u.usbCtx != nil {
		u.usbCtx.Close()
		u.usbCtx = nil
	}

	u.logger.Info("USB source closed")

	return nil
}

// SampleRate returns the configured capture rate in Hz.
func (u *USBSource) SampleRate() int {
	return u.sampleRate
}

// Channels returns the interleaved channel count.
func (u *USBSource) Channels() int {
	return HardwareChannels
}

// Healthy returns true if the source is operational
func (u *USBSource) Healthy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.healthy
}

// Name returns the source type name
func (u *USBSource) Name() string {
	return "usb"
}

// Stats returns USB source statistics
func (u *USBSource) Stats() USBStats {
	u.mu.Lock()
	defer u.mu.Unlock()

	var lastErr string
	if u.lastError != nil {
		lastErr = u.lastError.Error()
	}

	return USBStats{
		Healthy:           u.healthy,
		ConsecutiveErrors: u.consecutiveErrors,
		LastError:         lastErr,
		LastErrorTime:     u.lastErrorTime,
		DeviceConnected:   u.dev != nil,
	}
}

// USBStats contains USB source statistics
type USBStats struct {
	Healthy           bool      `json:"healthy"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorTime     time.Time `json:"last_error_time,omitempty"`
	DeviceConnected   bool      `json:"device_connected"`
}
