package tts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoadConfigFromViper loads the configuration from Viper on top of the
// defaults and validates it.
func LoadConfigFromViper() (Config, error) {
	cfg := DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SetDefaults registers the default values in Viper so that every key can
// be overridden from the environment.
func SetDefaults() {
	d := DefaultConfig()

	viper.SetDefault("log_level", d.LogLevel)

	viper.SetDefault("engine.transport", d.Engine.Transport)
	viper.SetDefault("engine.backend", d.Engine.Backend)
	viper.SetDefault("engine.command", d.Engine.Command)
	viper.SetDefault("engine.url", d.Engine.URL)
	viper.SetDefault("engine.subject", d.Engine.Subject)
	viper.SetDefault("engine.voice", d.Engine.Voice)
	viper.SetDefault("engine.boot_timeout", d.Engine.BootTimeout.String())
	viper.SetDefault("engine.request_timeout", d.Engine.RequestTimeout.String())
	viper.SetDefault("engine.rate_limit", d.Engine.RateLimit)
	viper.SetDefault("engine.rate_burst", d.Engine.RateBurst)

	viper.SetDefault("engine.piper.binary", d.Engine.Piper.Binary)
	viper.SetDefault("engine.piper.model", d.Engine.Piper.Model)
	viper.SetDefault("engine.piper.speaker_id", d.Engine.Piper.SpeakerID)
	viper.SetDefault("engine.piper.length_scale", d.Engine.Piper.LengthScale)
	viper.SetDefault("engine.piper.sample_rate", d.Engine.Piper.SampleRate)
	viper.SetDefault("engine.piper.timeout", d.Engine.Piper.Timeout.String())

	viper.SetDefault("engine.mock.sample_rate", d.Engine.Mock.SampleRate)
	viper.SetDefault("engine.mock.latency", d.Engine.Mock.Latency.String())
	viper.SetDefault("engine.mock.seconds_per_word", d.Engine.Mock.SecondsPerWord)

	viper.SetDefault("playback.prefetch", d.Playback.Prefetch)
	viper.SetDefault("playback.skip_empty", d.Playback.SkipEmpty)
	viper.SetDefault("playback.max_runes", d.Playback.MaxRunes)

	viper.SetDefault("cache.compress", d.Cache.Compress)
	viper.SetDefault("cache.compression_level", d.Cache.CompressionLevel)

	viper.SetDefault("platform.wake_lock", d.Platform.WakeLock)
	viper.SetDefault("platform.media_keys", d.Platform.MediaKeys)
	viper.SetDefault("platform.resource_timeout", d.Platform.ResourceTimeout.String())
}

// configHeader is written above a generated configuration file.
const configHeader = `# readaloud configuration
#
# engine.transport: pipe (in-process backend), stdio (engine command),
#                   websocket or nats (remote engine at engine.url)
# Every key can be overridden with READALOUD_<SECTION>_<KEY>.

`

// SaveConfig writes cfg to path as YAML.
func SaveConfig(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("unable to encode configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("unable to create directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), b...), 0o600); err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}
	return nil
}
