package tts

import (
	"fmt"
	"strings"
	"time"
)

// Config contains all readaloud configuration options.
type Config struct {
	LogLevel string         `mapstructure:"log_level" yaml:"log_level"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Platform PlatformConfig `mapstructure:"platform" yaml:"platform"`
}

// EngineConfig selects and tunes the synthesis engine connection.
type EngineConfig struct {
	// Transport is how the engine is reached: pipe, stdio, websocket or nats.
	Transport string `mapstructure:"transport" yaml:"transport"`
	// Backend is the in-process backend used by the pipe transport.
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Command is the engine command line for the stdio transport.
	Command string `mapstructure:"command" yaml:"command"`
	// URL is the WebSocket or NATS server address.
	URL string `mapstructure:"url" yaml:"url"`
	// Subject is the NATS subject prefix.
	Subject string `mapstructure:"subject" yaml:"subject"`

	Voice          string        `mapstructure:"voice" yaml:"voice"`
	BootTimeout    time.Duration `mapstructure:"boot_timeout" yaml:"boot_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst      int           `mapstructure:"rate_burst" yaml:"rate_burst"`

	Piper PiperConfig `mapstructure:"piper" yaml:"piper"`
	Mock  MockConfig  `mapstructure:"mock" yaml:"mock"`
}

// PiperConfig contains Piper backend settings.
type PiperConfig struct {
	Binary      string        `mapstructure:"binary" yaml:"binary"`
	Model       string        `mapstructure:"model" yaml:"model"`
	SpeakerID   int           `mapstructure:"speaker_id" yaml:"speaker_id"`
	LengthScale float64       `mapstructure:"length_scale" yaml:"length_scale"`
	SampleRate  int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MockConfig contains mock backend settings.
type MockConfig struct {
	SampleRate int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Latency    time.Duration `mapstructure:"latency" yaml:"latency"`
	// SecondsPerWord controls the length of the generated tone.
	SecondsPerWord float64 `mapstructure:"seconds_per_word" yaml:"seconds_per_word"`
}

// PlaybackConfig tunes the playback controller.
type PlaybackConfig struct {
	// Prefetch is how many chunks ahead of the playing one are synthesized.
	Prefetch int `mapstructure:"prefetch" yaml:"prefetch"`
	// SkipEmpty skips a chunk whose synthesis produced no audio instead of
	// ending the session.
	SkipEmpty bool `mapstructure:"skip_empty" yaml:"skip_empty"`
	// MaxRunes caps segment length, 0 for unlimited.
	MaxRunes int `mapstructure:"max_runes" yaml:"max_runes"`
}

// CacheConfig controls how synthesized audio is held.
type CacheConfig struct {
	Compress         bool `mapstructure:"compress" yaml:"compress"`
	CompressionLevel int  `mapstructure:"compression_level" yaml:"compression_level"`
}

// PlatformConfig toggles OS integration.
type PlatformConfig struct {
	WakeLock        bool          `mapstructure:"wake_lock" yaml:"wake_lock"`
	MediaKeys       bool          `mapstructure:"media_keys" yaml:"media_keys"`
	ResourceTimeout time.Duration `mapstructure:"resource_timeout" yaml:"resource_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			Transport:      "pipe",
			Backend:        "mock",
			Command:        "readaloud engine --backend piper",
			URL:            "",
			Subject:        "readaloud.tts",
			Voice:          "en-us",
			BootTimeout:    10 * time.Second,
			RequestTimeout: 60 * time.Second,
			RateLimit:      0,
			RateBurst:      1,
			Piper:          DefaultPiperConfig(),
			Mock:           DefaultMockConfig(),
		},
		Playback: PlaybackConfig{
			Prefetch:  2,
			SkipEmpty: false,
			MaxRunes:  400,
		},
		Cache: CacheConfig{
			Compress:         false,
			CompressionLevel: 3,
		},
		Platform: PlatformConfig{
			WakeLock:        true,
			MediaKeys:       true,
			ResourceTimeout: 2 * time.Second,
		},
	}
}

// DefaultPiperConfig returns default Piper configuration.
func DefaultPiperConfig() PiperConfig {
	return PiperConfig{
		Binary:      "piper",
		Model:       "en_US-lessac-medium.onnx",
		SpeakerID:   0,
		LengthScale: 1.0,
		SampleRate:  22050,
		Timeout:     30 * time.Second,
	}
}

// DefaultMockConfig returns default mock backend configuration.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		SampleRate:     22050,
		Latency:        50 * time.Millisecond,
		SecondsPerWord: 0.3,
	}
}

var (
	validTransports = []string{"pipe", "stdio", "websocket", "nats"}
	validBackends   = []string{"mock", "piper"}
	validLevels     = []string{"debug", "info", "warn", "error"}
)

func oneOf(value string, valid []string) bool {
	for _, v := range valid {
		if strings.EqualFold(value, v) {
			return true
		}
	}
	return false
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !oneOf(c.LogLevel, validLevels) {
		return fmt.Errorf("%w: log_level %q must be one of %v", ErrInvalidConfig, c.LogLevel, validLevels)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if c.Playback.Prefetch < 0 || c.Playback.Prefetch > 10 {
		return fmt.Errorf("%w: prefetch must be between 0 and 10, got %d", ErrInvalidConfig, c.Playback.Prefetch)
	}
	if c.Playback.MaxRunes < 0 {
		return fmt.Errorf("%w: max_runes cannot be negative", ErrInvalidConfig)
	}

	if c.Cache.Compress && (c.Cache.CompressionLevel < 1 || c.Cache.CompressionLevel > 22) {
		return fmt.Errorf("%w: compression_level must be between 1 and 22, got %d", ErrInvalidConfig, c.Cache.CompressionLevel)
	}

	if c.Platform.ResourceTimeout <= 0 {
		return fmt.Errorf("%w: resource_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Validate checks if the engine configuration is valid.
func (c *EngineConfig) Validate() error {
	if !oneOf(c.Transport, validTransports) {
		return fmt.Errorf("%w: transport %q must be one of %v", ErrInvalidConfig, c.Transport, validTransports)
	}
	c.Transport = strings.ToLower(c.Transport)

	switch c.Transport {
	case "pipe":
		if !oneOf(c.Backend, validBackends) {
			return fmt.Errorf("%w: backend %q must be one of %v", ErrInvalidConfig, c.Backend, validBackends)
		}
		c.Backend = strings.ToLower(c.Backend)
	case "stdio":
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("%w: stdio transport needs a command", ErrInvalidConfig)
		}
	case "websocket", "nats":
		if c.URL == "" {
			return fmt.Errorf("%w: %s transport needs a url", ErrInvalidConfig, c.Transport)
		}
	}
	if c.Transport == "nats" && c.Subject == "" {
		return fmt.Errorf("%w: nats transport needs a subject", ErrInvalidConfig)
	}

	if c.BootTimeout <= 0 {
		return fmt.Errorf("%w: boot_timeout must be positive, got %v", ErrInvalidConfig, c.BootTimeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate_limit cannot be negative", ErrInvalidConfig)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("%w: rate_burst must be at least 1", ErrInvalidConfig)
	}

	if c.Transport == "pipe" && c.Backend == "piper" {
		if err := c.Piper.Validate(); err != nil {
			return fmt.Errorf("piper config: %w", err)
		}
	}
	return nil
}

// Validate checks if the Piper configuration is valid.
func (c *PiperConfig) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("%w: piper binary path cannot be empty", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: piper model cannot be empty", ErrInvalidConfig)
	}
	if c.LengthScale <= 0 || c.LengthScale > 3.0 {
		return fmt.Errorf("%w: length_scale must be between 0.1 and 3.0, got %f", ErrInvalidConfig, c.LengthScale)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate must be positive", ErrInvalidConfig)
	}
	if c.Timeout < time.Second {
		return fmt.Errorf("%w: timeout must be at least 1 second, got %v", ErrInvalidConfig, c.Timeout)
	}
	return nil
}
