// Package config provides configuration management for the casambi-bt-bridge
// application. It handles loading configuration from environment variables
// and validation.
package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/teris-io/shortid"
)

// Config holds all configuration for the casambi-bt-bridge application.
type Config struct {
	// Casambi Network Configuration
	NetworkAddress  string `env:"CASAMBI_NETWORK_ADDRESS,required=true"`
	NetworkPassword string `env:"CASAMBI_NETWORK_PASSWORD,required=true"`

	// EntryID identifies this bridge session in emitted events. Generated
	// when unset.
	EntryID string `env:"CASAMBI_ENTRY_ID"`

	// Use the simulated protocol client instead of the external library.
	SimulateNetwork bool `env:"CASAMBI_SIMULATE_NETWORK,default=false"`

	// Switch Event Timing
	HoldThreshold time.Duration `env:"CASAMBI_HOLD_THRESHOLD,default=500ms"`
	HoldRepeat    time.Duration `env:"CASAMBI_HOLD_REPEAT,default=500ms"`
	DedupeWindow  time.Duration `env:"CASAMBI_DEDUPE_WINDOW,default=600ms"`
	StaleTimeout  time.Duration `env:"CASAMBI_STALE_TIMEOUT,default=5s"`

	// ButtonNumbering is "vendor" (1-based, matches the vendor app) or
	// "raw" (0-based protocol numbering).
	ButtonNumbering string `env:"CASAMBI_BUTTON_NUMBERING,default=vendor"`

	// Reconnect Configuration
	ReconnectDelay   time.Duration `env:"CASAMBI_RECONNECT_DELAY,default=30s"`
	MaxReconnectWait time.Duration `env:"CASAMBI_MAX_RECONNECT_WAIT,default=5m"`

	// MQTT Bridge Configuration
	MQTTEnabled         bool   `env:"CASAMBI_MQTT_ENABLED,default=true"`
	MQTTBroker          string `env:"CASAMBI_MQTT_BROKER,default=tcp://localhost:1883"`
	MQTTTopicPrefix     string `env:"CASAMBI_MQTT_TOPIC_PREFIX,default=casambi_bt"`
	MQTTDiscoveryPrefix string `env:"CASAMBI_MQTT_DISCOVERY_PREFIX,default=homeassistant"`
	MQTTUsername        string `env:"CASAMBI_MQTT_USERNAME"`
	MQTTPassword        string `env:"CASAMBI_MQTT_PASSWORD"`

	// HomeKit Configuration
	HAPEnabled     bool   `env:"CASAMBI_HAP_ENABLED,default=true"`
	HAPPin         string `env:"CASAMBI_HAP_PIN,default=00102003"`
	HAPStoragePath string `env:"CASAMBI_HAP_STORAGE_PATH,default=/var/lib/casambi-bt-bridge"`
	HAPPort        int    `env:"CASAMBI_HAP_PORT,default=12346"`

	// Web Server Configuration
	WebPort        int    `env:"CASAMBI_WEB_PORT,default=8080"`
	WebBindAddress string `env:"CASAMBI_WEB_BIND_ADDRESS,default=0.0.0.0"`

	// Device Registry Configuration
	DevicesFile string `env:"CASAMBI_DEVICES_FILE,default=devices.yml"`

	// Logging
	LogLevel  string `env:"CASAMBI_LOG_LEVEL,default=info"`
	LogFormat string `env:"CASAMBI_LOG_FORMAT,default=json"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.EntryID == "" {
		id, err := shortid.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate entry id: %w", err)
		}
		cfg.EntryID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is valid.
// Note: Required field validation is handled by go-env library.
func (c *Config) Validate() error {
	// Validate HAP pin format (must be 8 digits)
	if c.HAPEnabled && len(c.HAPPin) != 8 {
		return fmt.Errorf("HAP pin must be exactly 8 digits, got %d", len(c.HAPPin))
	}

	// Validate port ranges
	if c.HAPEnabled && (c.HAPPort < 1 || c.HAPPort > 65535) {
		return fmt.Errorf("HAP port must be between 1 and 65535, got %d", c.HAPPort)
	}
	if c.WebPort < 1 || c.WebPort > 65535 {
		return fmt.Errorf("web port must be between 1 and 65535, got %d", c.WebPort)
	}

	// Validate switch event timing. The hold threshold window is bounded so
	// that presses and holds remain distinguishable by humans.
	if c.HoldThreshold < 100*time.Millisecond || c.HoldThreshold > 2*time.Second {
		return fmt.Errorf("hold threshold must be between 100ms and 2s, got %s", c.HoldThreshold)
	}
	if c.HoldRepeat < 100*time.Millisecond {
		return fmt.Errorf("hold repeat must be at least 100ms, got %s", c.HoldRepeat)
	}
	if c.DedupeWindow < 0 {
		return fmt.Errorf("dedupe window must not be negative, got %s", c.DedupeWindow)
	}
	if c.StaleTimeout < c.HoldThreshold {
		return fmt.Errorf("stale timeout (%s) must be >= hold threshold (%s)", c.StaleTimeout, c.HoldThreshold)
	}

	if c.ButtonNumbering != "vendor" && c.ButtonNumbering != "raw" {
		return fmt.Errorf("invalid button numbering %q, must be one of: vendor, raw", c.ButtonNumbering)
	}

	// Validate reconnect timing
	if c.ReconnectDelay < time.Second {
		return fmt.Errorf("reconnect delay must be at least 1 second, got %s", c.ReconnectDelay)
	}
	if c.MaxReconnectWait < c.ReconnectDelay {
		return fmt.Errorf("max reconnect wait (%s) must be >= reconnect delay (%s)", c.MaxReconnectWait, c.ReconnectDelay)
	}

	if c.MQTTEnabled && c.MQTTBroker == "" {
		return fmt.Errorf("MQTT broker is required when MQTT is enabled")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}

	// Validate log format
	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.LogFormat)
	}

	return nil
}
