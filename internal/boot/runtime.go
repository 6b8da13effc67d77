// Package boot provides runtime configuration for the relay process.
package boot

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/assetrelay/internal/config"
)

// RuntimeConfig holds parsed runtime settings.
// Values may be overridden by environment variables (PORT, HTTP_ADDR, MQTT_URL,
// MQTT_TOPIC, PUBLIC_DIR, PUBLIC_BASE_URL).
type RuntimeConfig struct {
	ServerAddr     string
	PublicBaseURL  string
	MaxUploadBytes int64
	PushRateLimit  float64
	PushRateBurst  int
	PublicDir      string

	MQTTURL        string
	MQTTTopic      string
	MQTTClientID   string
	MQTTUsername   string
	MQTTPassword   string
	PublishTimeout time.Duration
	KeepAlive      time.Duration

	MetricsEnabled bool
	MetricsPath    string
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	publishTimeout, err := cfg.MQTT.PublishTimeoutDuration()
	if err != nil {
		return nil, err
	}
	keepAlive, err := cfg.MQTT.KeepAliveDuration()
	if err != nil {
		return nil, err
	}
	if cfg.Server.MaxUploadBytes < 0 {
		return nil, fmt.Errorf("invalid server.max_upload_bytes: must not be negative")
	}
	if cfg.Server.PushRateLimit < 0 || cfg.Server.PushRateBurst < 0 {
		return nil, fmt.Errorf("invalid server push rate: must not be negative")
	}

	ret := &RuntimeConfig{
		ServerAddr:     cfg.Server.Addr,
		PublicBaseURL:  cfg.Server.PublicBaseURL,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		PushRateLimit:  cfg.Server.PushRateLimit,
		PushRateBurst:  cfg.Server.PushRateBurst,
		PublicDir:      cfg.Storage.PublicDir,
		MQTTURL:        cfg.MQTT.URL,
		MQTTTopic:      cfg.MQTT.Topic,
		MQTTClientID:   cfg.MQTT.ClientID,
		MQTTUsername:   cfg.MQTT.Username,
		MQTTPassword:   cfg.MQTT.Password,
		PublishTimeout: publishTimeout,
		KeepAlive:      keepAlive,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	}

	if value := os.Getenv("PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil || port < 0 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", value)
		}
		ret.ServerAddr = ":" + value
	}
	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := os.Getenv("MQTT_URL"); value != "" {
		ret.MQTTURL = value
	}
	if value := os.Getenv("MQTT_TOPIC"); value != "" {
		ret.MQTTTopic = value
	}
	if value := os.Getenv("PUBLIC_DIR"); value != "" {
		ret.PublicDir = value
	}
	if value := os.Getenv("PUBLIC_BASE_URL"); value != "" {
		ret.PublicBaseURL = value
	}

	if ret.ServerAddr == "" {
		ret.ServerAddr = config.DefaultHTTPAddr
	}
	if ret.MQTTURL == "" {
		ret.MQTTURL = config.DefaultMQTTURL
	}
	if ret.MQTTTopic == "" {
		ret.MQTTTopic = config.DefaultMQTTTopic
	}
	if ret.PublicDir == "" {
		ret.PublicDir = config.DefaultPublicDir
	}
	if ret.MetricsPath == "" {
		ret.MetricsPath = config.DefaultMetricsPath
	}
	if ret.PushRateLimit > 0 && ret.PushRateBurst == 0 {
		ret.PushRateBurst = int(math.Ceil(ret.PushRateLimit))
	}

	ret.PublicBaseURL = strings.TrimRight(strings.TrimSpace(ret.PublicBaseURL), "/")
	if ret.PublicBaseURL != "" {
		u, err := url.Parse(ret.PublicBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid public base url %q", ret.PublicBaseURL)
		}
	}
	return ret, nil
}
