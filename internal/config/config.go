// ABOUTME: YAML configuration for the pass-through binary
// ABOUTME: Defaults, file loading and validation of device, format and buffer settings
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/playthrough"
	"gopkg.in/yaml.v3"
)

// DeviceConfig selects a backend and a device id within it
type DeviceConfig struct {
	Backend string `yaml:"backend"`
	Device  string `yaml:"device"`
}

// FormatConfig is the stream format both devices run
type FormatConfig struct {
	SampleRate int  `yaml:"sample_rate"`
	Channels   int  `yaml:"channels"`
	BitDepth   int  `yaml:"bit_depth"`
	Float      bool `yaml:"float"`
}

// BufferConfig sizes device buffers and the ring
type BufferConfig struct {
	FramesPerBuffer  int `yaml:"frames_per_buffer"`
	CapacityMultiple int `yaml:"capacity_multiple"`
	SafetyMargin     int `yaml:"safety_margin"`
}

// SimConfig tunes the simulated backend
type SimConfig struct {
	InputAnchor  float64 `yaml:"input_anchor"`
	OutputAnchor float64 `yaml:"output_anchor"`
	SkewPPM      float64 `yaml:"skew_ppm"`
	Loop         bool    `yaml:"loop"`
}

// MonitorConfig controls the stats endpoint
type MonitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Port     int           `yaml:"port"`
	MDNS     bool          `yaml:"mdns"`
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"interval"`
}

// Config is the complete configuration file
type Config struct {
	Input    DeviceConfig  `yaml:"input"`
	Output   DeviceConfig  `yaml:"output"`
	Format   FormatConfig  `yaml:"format"`
	Buffer   BufferConfig  `yaml:"buffer"`
	FillMode string        `yaml:"fill_mode"`
	Sim      SimConfig     `yaml:"sim"`
	Monitor  MonitorConfig `yaml:"monitor"`
	LogFile  string        `yaml:"log_file"`
	NoTUI    bool          `yaml:"no_tui"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Input:  DeviceConfig{Backend: "malgo"},
		Output: DeviceConfig{Backend: "malgo"},
		Format: FormatConfig{
			SampleRate: 48000,
			Channels:   2,
			BitDepth:   16,
		},
		Buffer: BufferConfig{
			FramesPerBuffer:  512,
			CapacityMultiple: 8,
		},
		FillMode: "silence",
		Monitor: MonitorConfig{
			Enabled:  true,
			Port:     8929,
			MDNS:     true,
			Name:     "playthrough",
			Interval: 500 * time.Millisecond,
		},
		LogFile: "playthrough.log",
	}
}

// LoadConfig reads a YAML file over the defaults
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return config, nil
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	if c.Input.Backend == "" || c.Output.Backend == "" {
		return fmt.Errorf("input and output backends are required")
	}
	if err := c.AudioFormat().Validate(); err != nil {
		return err
	}
	if c.Buffer.FramesPerBuffer <= 0 {
		return fmt.Errorf("frames_per_buffer must be positive, got %d", c.Buffer.FramesPerBuffer)
	}
	if c.Buffer.CapacityMultiple != 0 && c.Buffer.CapacityMultiple < 3 {
		return fmt.Errorf("capacity_multiple must be at least 3, got %d", c.Buffer.CapacityMultiple)
	}
	if c.Buffer.SafetyMargin < 0 {
		return fmt.Errorf("safety_margin must not be negative, got %d", c.Buffer.SafetyMargin)
	}
	if _, err := playthrough.ParseFillMode(c.FillMode); err != nil {
		return err
	}
	if c.Monitor.Enabled {
		if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
			return fmt.Errorf("invalid monitor port: %d", c.Monitor.Port)
		}
		if c.Monitor.Interval <= 0 {
			return fmt.Errorf("monitor interval must be positive, got %v", c.Monitor.Interval)
		}
	}
	return nil
}

// AudioFormat returns the configured stream format
func (c *Config) AudioFormat() audio.Format {
	return audio.Format{
		SampleRate: c.Format.SampleRate,
		Channels:   c.Format.Channels,
		BitDepth:   c.Format.BitDepth,
		Float:      c.Format.Float,
	}
}

// PlayThroughConfig returns controller settings; providers are filled in by the caller
func (c *Config) PlayThroughConfig() playthrough.Config {
	fill, _ := playthrough.ParseFillMode(c.FillMode)
	return playthrough.Config{
		Format:           c.AudioFormat(),
		FramesPerBuffer:  c.Buffer.FramesPerBuffer,
		CapacityMultiple: c.Buffer.CapacityMultiple,
		SafetyMargin:     c.Buffer.SafetyMargin,
		FillMode:         fill,
	}
}
