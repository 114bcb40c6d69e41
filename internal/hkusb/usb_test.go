package hkusb

import (
	"testing"
	"time"
)

func TestDefaultUSBSourceConfig(t *testing.T) {
	cfg := DefaultUSBSourceConfig()

	if cfg.RangeCode != Range5V {
		t.Errorf("expected RangeCode %d, got %d", Range5V, cfg.RangeCode)
	}

	if cfg.SampleRate != 100000 {
		t.Errorf("expected SampleRate 100000, got %d", cfg.SampleRate)
	}

	if cfg.MaxConsecutiveErrors != 5 {
		t.Errorf("expected MaxConsecutiveErrors 5, got %d", cfg.MaxConsecutiveErrors)
	}

	if cfg.InitialBackoff != 100*time.Millisecond {
		t.Errorf("expected InitialBackoff 100ms, got %v", cfg.InitialBackoff)
	}

	if cfg.MaxBackoff != 5*time.Second {
		t.Errorf("expected MaxBackoff 5s, got %v", cfg.MaxBackoff)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestUSBSourceConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*USBSourceConfig)
		wantErr bool
	}{
		{"default", func(*USBSourceConfig) {}, false},
		{"range 10V", func(c *USBSourceConfig) { c.RangeCode = Range10V }, false},
		{"bad range", func(c *USBSourceConfig) { c.RangeCode = 3 }, true},
		{"rate too low", func(c *USBSourceConfig) { c.SampleRate = 99 }, true},
		{"rate too high", func(c *USBSourceConfig) { c.SampleRate = 100001 }, true},
		{"rate lower bound", func(c *USBSourceConfig) { c.SampleRate = 100 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultUSBSourceConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUSBStats(t *testing.T) {
	stats := USBStats{
		Healthy:           true,
		ConsecutiveErrors: 0,
		DeviceConnected:   true,
	}

	if !stats.Healthy {
		t.Error("expected healthy")
	}

	if stats.ConsecutiveErrors != 0 {
		t.Error("expected 0 errors")
	}

	if !stats.DeviceConnected {
		t.Error("expected device connected")
	}
}

// Note: Full integration tests require an actual HKUSB6203 card.
// These tests verify the interface and configuration only.

func TestUSBSourceConstants(t *testing.T) {
	if VendorID != 0x1A86 {
		t.Errorf("expected VendorID 0x1A86, got 0x%04X", VendorID)
	}

	if ProductID != 0x6203 {
		t.Errorf("expected ProductID 0x6203, got 0x%04X", ProductID)
	}

	if HardwareChannels != 8 {
		t.Errorf("expected 8 hardware channels, got %d", HardwareChannels)
	}
}
