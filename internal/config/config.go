package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/capture"
	"github.com/petems/pcmcap/internal/hal"
	"github.com/petems/pcmcap/internal/pcm"
)

const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
)

type Config struct {
	LogLevel       string        `json:"log_level" env:"PCMCAP_LOG_LEVEL"`
	// Backend is "portaudio" or "malgo".
	Backend        string        `json:"backend" env:"PCMCAP_BACKEND"`
	PollIntervalMS int           `json:"poll_interval_ms" env:"PCMCAP_POLL_INTERVAL_MS"`
	StatsInterval  int           `json:"stats_interval_s" env:"PCMCAP_STATS_INTERVAL_S"`
	Capture        CaptureConfig `json:"capture"`
	Output         OutputConfig  `json:"output"`

	path string
}

type CaptureConfig struct {
	// Device is "default" or a backend device UID.
	Device            string `json:"device" env:"PCMCAP_DEVICE"`
	// Channels of 0 uses the device's preferred layout.
	Channels          int    `json:"channels" env:"PCMCAP_CHANNELS"`
	QueueCapacity     int    `json:"queue_capacity" env:"PCMCAP_QUEUE_CAPACITY"`
	BufferFrameSize   int    `json:"buffer_frame_size" env:"PCMCAP_BUFFER_FRAME_SIZE"`
	BigEndian         bool   `json:"big_endian" env:"PCMCAP_BIG_ENDIAN"`
	SampleFormat      string `json:"sample_format" env:"PCMCAP_SAMPLE_FORMAT"` // s16, s32 or f32
	MaxRenderFailures int    `json:"max_render_failures" env:"PCMCAP_MAX_RENDER_FAILURES"`
}

type OutputConfig struct {
	// Path is a raw PCM file, "-" for stdout, or empty for none.
	Path          string `json:"path" env:"PCMCAP_OUTPUT"`
	// WebsocketAddr enables the websocket broadcaster, e.g. "127.0.0.1:8089".
	WebsocketAddr string `json:"websocket_addr" env:"PCMCAP_WS_ADDR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		Backend:        BackendPortAudio,
		PollIntervalMS: 5,
		StatsInterval:  30,
		Capture: CaptureConfig{
			Device:            hal.DefaultDeviceID,
			Channels:          0, // Auto-detect
			QueueCapacity:     capture.DefaultQueueCapacity,
			BufferFrameSize:   capture.DefaultBufferFrameSize,
			BigEndian:         false,
			SampleFormat:      "s16",
			MaxRenderFailures: capture.DefaultMaxRenderFailures,
		},
		Output: OutputConfig{
			Path: "-",
		},
	}
}

// Load reads the config file at path (or the platform default when path
// is empty), then applies .env and PCMCAP_* environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = configPath()
	}
	cfg := Default()
	cfg.path = path

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.Path()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path is the file Save writes to.
func (c *Config) Path() string {
	if c.path == "" {
		return configPath()
	}
	return c.path
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendPortAudio, BackendMalgo:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := pcm.ParseSampleFormat(c.Capture.SampleFormat); err != nil {
		return err
	}
	if c.Capture.Channels < 0 {
		return fmt.Errorf("channels must be >= 0, got %d", c.Capture.Channels)
	}
	if c.Capture.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be >= 1, got %d", c.Capture.QueueCapacity)
	}
	if c.Capture.BufferFrameSize < 1 {
		return fmt.Errorf("buffer_frame_size must be >= 1, got %d", c.Capture.BufferFrameSize)
	}
	if c.Capture.MaxRenderFailures < 0 {
		return fmt.Errorf("max_render_failures must be >= 0, got %d", c.Capture.MaxRenderFailures)
	}
	if c.PollIntervalMS < 1 {
		return fmt.Errorf("poll_interval_ms must be >= 1, got %d", c.PollIntervalMS)
	}
	return nil
}

// PollInterval is the idle delay between empty reads.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// StatsEvery returns 0 when periodic stats logging is off.
func (c *Config) StatsEvery() time.Duration {
	return time.Duration(c.StatsInterval) * time.Second
}

// Options converts the capture section for capture.Open.
func (c CaptureConfig) Options(log zerolog.Logger) (capture.Options, error) {
	sf, err := pcm.ParseSampleFormat(c.SampleFormat)
	if err != nil {
		return capture.Options{}, err
	}
	return capture.Options{
		Channels:          c.Channels,
		QueueCapacity:     c.QueueCapacity,
		BufferFrameSize:   c.BufferFrameSize,
		BigEndian:         c.BigEndian,
		SampleFormat:      sf,
		MaxRenderFailures: c.MaxRenderFailures,
		Logger:            log,
	}, nil
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "pcmcap", "config.json")
}
