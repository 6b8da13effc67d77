// Package config loads and exposes application configuration (TOML).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultMQTTURL        = "mqtt://localhost:1883"
	DefaultMQTTTopic      = "xiaozhi/asset_update"
	DefaultPublicDir      = "public"
	DefaultPublishTimeout = "10s"
	DefaultKeepAlive      = "30s"
	DefaultMetricsPath    = "/metrics"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	MQTT    MQTTConfig    `toml:"mqtt"`
	Metrics MetricsConfig `toml:"metrics"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP listen address and upload settings.
// PublicBaseURL, when set, replaces the request scheme and host in returned asset URLs.
// MaxUploadBytes of zero disables the body limit on uploads.
// PushRateLimit is requests per second per client IP on /api/push; zero disables it.
type ServerConfig struct {
	Addr           string  `toml:"addr"`
	PublicBaseURL  string  `toml:"public_base_url"`
	MaxUploadBytes int64   `toml:"max_upload_bytes"`
	PushRateLimit  float64 `toml:"push_rate_limit"`
	PushRateBurst  int     `toml:"push_rate_burst"`
}

// StorageConfig holds the directory assets are written to and served from.
type StorageConfig struct {
	PublicDir string `toml:"public_dir"`
}

// MQTTConfig holds the broker connection and the asset update topic.
type MQTTConfig struct {
	URL            string `toml:"url"`
	Topic          string `toml:"topic"`
	ClientID       string `toml:"client_id"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	PublishTimeout string `toml:"publish_timeout"`
	KeepAlive      string `toml:"keep_alive"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// PublishTimeoutDuration parses PublishTimeout.
func (c MQTTConfig) PublishTimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration("mqtt.publish_timeout", c.PublishTimeout, DefaultPublishTimeout)
}

// KeepAliveDuration parses KeepAlive.
func (c MQTTConfig) KeepAliveDuration() (time.Duration, error) {
	return parsePositiveDuration("mqtt.keep_alive", c.KeepAlive, DefaultKeepAlive)
}

func parsePositiveDuration(field, value, fallback string) (time.Duration, error) {
	if value == "" {
		value = fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", field)
	}
	return d, nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Storage: StorageConfig{
			PublicDir: DefaultPublicDir,
		},
		MQTT: MQTTConfig{
			URL:            DefaultMQTTURL,
			Topic:          DefaultMQTTTopic,
			PublishTimeout: DefaultPublishTimeout,
			KeepAlive:      DefaultKeepAlive,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
