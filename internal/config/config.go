// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"colorchord/internal/dft"
	"colorchord/internal/log"
)

// Hardware and processing limits.
const (
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
	MinRingSize     = 256
	MaxRingSize     = 1 << 20
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug      bool            `yaml:"debug"`     // Enable debug mode (verbose logging).
	LogLevel   string          `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Audio      AudioConfig     `yaml:"audio"`
	Recording  RecordingConfig `yaml:"recording"`
	Transport  TransportConfig `yaml:"transport"`
	NoteFinder Params          `yaml:"notefinder"`
}

// AudioConfig holds settings related to audio capture and buffering.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for audio input (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames delivered per capture callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio device.
	InputChannels   int     `yaml:"input_channels"`    // Captured channels, down-mixed to mono.
	RingSize        int     `yaml:"ring_size"`         // Analysis window in samples.
	QueueDepth      int     `yaml:"queue_depth"`       // Snapshots waiting for the analyzer before new ones are dropped.
	GateThreshold   float64 `yaml:"gate_threshold"`    // RMS below which a block is treated as silence (0 disables).
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled     bool   `yaml:"enabled"`              // Enable audio recording to file.
	OutputDir   string `yaml:"output_dir"`           // Directory to save recorded audio files.
	Format      string `yaml:"format"`               // File format for recordings (only "wav").
	BitDepth    int    `yaml:"bit_depth"`            // Bit depth for recorded audio (16 or 24).
	MaxDuration int    `yaml:"max_duration_seconds"` // Maximum duration of a single recording file in seconds (0 for unlimited).
}

// TransportConfig holds settings for pushing note frames to visualisers.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Serve note frames over WebSocket.
	WebSocketAddress string        `yaml:"websocket_address"`  // Listen address for the WebSocket server.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending note packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between sending UDP packets.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     -1, // -1 for default device.
			SampleRate:      48000,
			FramesPerBuffer: 512,
			LowLatency:      false,
			InputChannels:   1,
			RingSize:        8192,
			QueueDepth:      4,
			GateThreshold:   0,
		},
		Recording: RecordingConfig{
			Enabled:     false,
			OutputDir:   "./recordings",
			Format:      "wav",
			BitDepth:    16,
			MaxDuration: 0, // 0 for unlimited.
		},
		Transport: TransportConfig{
			WebSocketEnabled: false,
			WebSocketAddress: "127.0.0.1:8080",
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  33 * time.Millisecond, // Default ~30Hz.
		},
		NoteFinder: DefaultParams(),
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{"config.yaml", "colorchord.yaml"}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return &cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks every section. Note finder parameters report
// *OutOfRangeError, use errors.As to inspect the violated bound.
func (c *Config) Validate() error {
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level '%s' is not recognised", c.LogLevel)
	}

	a := c.Audio
	if a.InputDevice < MinDeviceID {
		return fmt.Errorf("audio.input_device %d is below %d", a.InputDevice, MinDeviceID)
	}
	if err := checkRange("audio.sample_rate", a.SampleRate, MinSampleRate, MaxSampleRate); err != nil {
		return err
	}
	if err := checkRange("audio.frames_per_buffer", float64(a.FramesPerBuffer), 1, MaxBufferFrames); err != nil {
		return err
	}
	if a.InputChannels < 1 {
		return fmt.Errorf("audio.input_channels must be at least 1, got %d", a.InputChannels)
	}
	if err := checkRange("audio.ring_size", float64(a.RingSize), MinRingSize, MaxRingSize); err != nil {
		return err
	}
	if a.QueueDepth < 1 {
		return fmt.Errorf("audio.queue_depth must be at least 1, got %d", a.QueueDepth)
	}
	if err := checkRange("audio.gate_threshold", a.GateThreshold, 0, 1); err != nil {
		return err
	}

	if c.Recording.Enabled {
		if !strings.EqualFold(c.Recording.Format, "wav") {
			return fmt.Errorf("recording.format '%s' is not supported", c.Recording.Format)
		}
		if c.Recording.BitDepth != 16 && c.Recording.BitDepth != 24 {
			return fmt.Errorf("recording.bit_depth must be 16 or 24, got %d", c.Recording.BitDepth)
		}
	}

	t := c.Transport
	if t.UDPEnabled {
		if !strings.Contains(t.UDPTargetAddress, ":") {
			return fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", t.UDPTargetAddress)
		}
		if t.UDPSendInterval <= 0 {
			return fmt.Errorf("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}
	if t.WebSocketEnabled && t.WebSocketAddress == "" {
		return fmt.Errorf("transport.websocket_address must be set when WebSocket is enabled")
	}

	if err := c.NoteFinder.Validate(); err != nil {
		return fmt.Errorf("notefinder: %w", err)
	}
	return nil
}

// applyEnvOverrides lets ENV_* variables override file values. Unparseable
// values are ignored.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			log.Debugf("Config: Overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		log.Debugf("Config: Overriding log_level from env: %s", val)
	}
	// ENV_TRANSFORM
	if val, ok := os.LookupEnv("ENV_TRANSFORM"); ok {
		if s, err := dft.ParseStrategy(val); err == nil {
			cfg.NoteFinder.Transform = s
			log.Debugf("Config: Overriding notefinder.transform from env: %s", s)
		}
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			log.Debugf("Config: Overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		log.Debugf("Config: Overriding transport.udp_target_address from env: %s", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			log.Debugf("Config: Overriding transport.udp_send_interval from env: %s", dur)
		}
	}
	// ENV_WS_ADDRESS
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		cfg.Transport.WebSocketEnabled = val != ""
		cfg.Transport.WebSocketAddress = val
		log.Debugf("Config: Overriding transport.websocket_address from env: %s", val)
	}
}
