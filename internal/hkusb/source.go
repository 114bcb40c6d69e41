package hkusb

import (
	"log/slog"

	"github.com/teslashibe/go-tdoa/internal/localize"
)

// NewSource creates the best available sample source.
// Priority: USB (real hardware) > Mock (testing only)
func NewSource(logger *slog.Logger, cfg USBSourceConfig) (localize.Source, error) {
	usb, err := NewUSBSourceWithConfig(logger, cfg)
	if err == nil {
		// Probe the bus so hardware absence is detected here rather
		// than on first acquisition.
		if err = usb.Open(); err == nil {
			return usb, nil
		}
		usb.Close()
	}

	logger.Warn("USB source unavailable",
		"error", err,
		"hint", "ensure libusb is installed and the card is connected",
	)

	// Return the error so the caller can decide (use mock for testing)
	return nil, err
}

// NewSourceWithFallback creates a sample source with mock fallback.
// Use this for development/testing when hardware is unavailable.
func NewSourceWithFallback(logger *slog.Logger, cfg USBSourceConfig) localize.Source {
	source, err := NewSource(logger, cfg)
	if err == nil {
		return source
	}

	logger.Warn("using mock sample source - no hardware available")
	mock := NewMockSource()
	mock.SetSampleRate(cfg.SampleRate)
	mock.SetRealtime(true)
	return mock
}
