package tts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Engine.Transport != "pipe" || cfg.Engine.Backend != "mock" {
		t.Errorf("default engine = %s/%s", cfg.Engine.Transport, cfg.Engine.Backend)
	}
	if cfg.Playback.SkipEmpty {
		t.Error("empty synthesis should end the session by default")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"log level case", func(c *Config) { c.LogLevel = "DEBUG" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"bad transport", func(c *Config) { c.Engine.Transport = "carrier-pigeon" }, false},
		{"bad backend", func(c *Config) { c.Engine.Backend = "espeak" }, false},
		{"stdio without command", func(c *Config) {
			c.Engine.Transport = "stdio"
			c.Engine.Command = "  "
		}, false},
		{"stdio", func(c *Config) { c.Engine.Transport = "stdio" }, true},
		{"websocket without url", func(c *Config) { c.Engine.Transport = "websocket" }, false},
		{"websocket", func(c *Config) {
			c.Engine.Transport = "websocket"
			c.Engine.URL = "ws://localhost:8765/engine"
		}, true},
		{"nats without subject", func(c *Config) {
			c.Engine.Transport = "nats"
			c.Engine.URL = "nats://localhost:4222"
			c.Engine.Subject = ""
		}, false},
		{"zero boot timeout", func(c *Config) { c.Engine.BootTimeout = 0 }, false},
		{"negative rate", func(c *Config) { c.Engine.RateLimit = -1 }, false},
		{"rate without burst", func(c *Config) {
			c.Engine.RateLimit = 5
			c.Engine.RateBurst = 0
		}, false},
		{"bad piper scale", func(c *Config) {
			c.Engine.Backend = "piper"
			c.Engine.Piper.LengthScale = 0
		}, false},
		{"piper scale ignored for mock", func(c *Config) { c.Engine.Piper.LengthScale = 0 }, true},
		{"short piper timeout", func(c *Config) {
			c.Engine.Backend = "piper"
			c.Engine.Piper.Timeout = 100 * time.Millisecond
		}, false},
		{"prefetch too large", func(c *Config) { c.Playback.Prefetch = 11 }, false},
		{"negative max runes", func(c *Config) { c.Playback.MaxRunes = -1 }, false},
		{"compression level", func(c *Config) {
			c.Cache.Compress = true
			c.Cache.CompressionLevel = 30
		}, false},
		{"zero resource timeout", func(c *Config) { c.Platform.ResourceTimeout = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid {
				if err == nil {
					t.Error("expected an error")
				} else if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("error %v should wrap ErrInvalidConfig", err)
				}
			}
		})
	}
}

func TestConfigValidateNormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "Warn"
	cfg.Engine.Transport = "PIPE"
	cfg.Engine.Backend = "Mock"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" || cfg.Engine.Transport != "pipe" || cfg.Engine.Backend != "mock" {
		t.Errorf("values not normalized: %q %q %q", cfg.LogLevel, cfg.Engine.Transport, cfg.Engine.Backend)
	}
}

func TestLoadConfigFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("engine.voice", "en-gb")
	viper.Set("playback.prefetch", 4)
	viper.Set("engine.boot_timeout", "3s")

	cfg, err := LoadConfigFromViper()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.Voice != "en-gb" {
		t.Errorf("voice = %q", cfg.Engine.Voice)
	}
	if cfg.Playback.Prefetch != 4 {
		t.Errorf("prefetch = %d", cfg.Playback.Prefetch)
	}
	if cfg.Engine.BootTimeout != 3*time.Second {
		t.Errorf("boot timeout = %v", cfg.Engine.BootTimeout)
	}
	if cfg.Engine.Mock.SampleRate != 22050 {
		t.Errorf("mock sample rate = %d, want default", cfg.Engine.Mock.SampleRate)
	}
}

func TestLoadConfigFromViperInvalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("engine.transport", "smoke-signals")

	if _, err := LoadConfigFromViper(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "readaloud.yml")

	cfg := DefaultConfig()
	cfg.Engine.Voice = "en-gb"
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), "# readaloud configuration") {
		t.Error("missing header")
	}

	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadConfigFromViper()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Engine.Voice != "en-gb" {
		t.Errorf("voice after round trip = %q", loaded.Engine.Voice)
	}
	if loaded.Platform.ResourceTimeout != cfg.Platform.ResourceTimeout {
		t.Errorf("resource timeout = %v, want %v", loaded.Platform.ResourceTimeout, cfg.Platform.ResourceTimeout)
	}
}
