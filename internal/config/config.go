// Package config provides configuration management for go-tdoa
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-tdoa/internal/gccphat"
)

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Capture CaptureConfig `mapstructure:"capture"`
	Online  OnlineConfig  `mapstructure:"online"`
	Array   ArrayConfig   `mapstructure:"array"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// CaptureConfig configures the acquisition card
type CaptureConfig struct {
	RangeCode  int `mapstructure:"range_code"`  // 0: ±5V, 1: ±10V
	SampleRate int `mapstructure:"sample_rate"` // Hz, 100-100000
}

// OnlineConfig configures the online localization pipeline
type OnlineConfig struct {
	FrameLen    int           `mapstructure:"frame_len"`
	MedianLen   int           `mapstructure:"median_len"`
	CutoffLow   int           `mapstructure:"cutoff_low"`  // Hz
	CutoffHigh  int           `mapstructure:"cutoff_high"` // Hz
	QueueSize   int           `mapstructure:"queue_size"`
	PushTimeout time.Duration `mapstructure:"push_timeout"`
	PopTimeout  time.Duration `mapstructure:"pop_timeout"`
}

// ArrayConfig configures the microphone array geometry and environment
type ArrayConfig struct {
	ArmLength    float64 `mapstructure:"arm_length"` // m
	ArmRatio     float64 `mapstructure:"arm_ratio"`
	TemperatureC float64 `mapstructure:"temperature_c"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Capture: CaptureConfig{
			RangeCode:  0,
			SampleRate: 100000,
		},
		Online: OnlineConfig{
			FrameLen:    2048,
			MedianLen:   gccphat.DefaultMedianLen,
			CutoffLow:   gccphat.DefaultCutoffLow,
			CutoffHigh:  gccphat.DefaultCutoffHigh,
			QueueSize:   3,
			PushTimeout: 500 * time.Millisecond,
			PopTimeout:  time.Second,
		},
		Array: ArrayConfig{
			ArmLength:    gccphat.DefaultArmLength,
			ArmRatio:     gccphat.DefaultArmRatio,
			TemperatureC: gccphat.DefaultTempC,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// Config file not found is okay, use defaults
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				// Only warn, don't fail - we have defaults
				fmt.Printf("Warning: config file not found at %s, using defaults\n", path)
			}
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("GOTDOA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")

	// Capture defaults
	v.SetDefault("capture.range_code", 0)
	v.SetDefault("capture.sample_rate", 100000)

	// Online pipeline defaults
	v.SetDefault("online.frame_len", 2048)
	v.SetDefault("online.median_len", gccphat.DefaultMedianLen)
	v.SetDefault("online.cutoff_low", gccphat.DefaultCutoffLow)
	v.SetDefault("online.cutoff_high", gccphat.DefaultCutoffHigh)
	v.SetDefault("online.queue_size", 3)
	v.SetDefault("online.push_timeout", "500ms")
	v.SetDefault("online.pop_timeout", "1s")

	// Array defaults
	v.SetDefault("array.arm_length", gccphat.DefaultArmLength)
	v.SetDefault("array.arm_ratio", gccphat.DefaultArmRatio)
	v.SetDefault("array.temperature_c", gccphat.DefaultTempC)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Capture.RangeCode != 0 && c.Capture.RangeCode != 1 {
		return fmt.Errorf("range_code must be 0 or 1, got %d", c.Capture.RangeCode)
	}

	if c.Capture.SampleRate < 100 || c.Capture.SampleRate > 100000 {
		return fmt.Errorf("sample_rate must be between 100 and 100000, got %d", c.Capture.SampleRate)
	}

	validFrame := false
	for _, n := range gccphat.FrameLengths {
		if c.Online.FrameLen == n {
			validFrame = true
			break
		}
	}
	if !validFrame {
		return fmt.Errorf("frame_len must be one of %v, got %d", gccphat.FrameLengths, c.Online.FrameLen)
	}

	if c.Online.MedianLen < 1 {
		return fmt.Errorf("median_len must be positive, got %d", c.Online.MedianLen)
	}

	if c.Online.CutoffLow < 0 || c.Online.CutoffHigh <= c.Online.CutoffLow {
		return fmt.Errorf("invalid band-pass cutoffs [%d, %d]", c.Online.CutoffLow, c.Online.CutoffHigh)
	}

	if c.Online.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.Online.QueueSize)
	}

	if c.Array.ArmLength <= 0 {
		return fmt.Errorf("arm_length must be positive, got %f", c.Array.ArmLength)
	}

	if c.Array.ArmRatio <= 0 || c.Array.ArmRatio >= 1 {
		return fmt.Errorf("arm_ratio must be between 0 and 1, got %f", c.Array.ArmRatio)
	}

	return nil
}
