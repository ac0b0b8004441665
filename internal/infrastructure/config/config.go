package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for cansub.
// Values come from defaults, an optional YAML file, a .env file and the
// environment, in that order. The result is treated as immutable once loaded.
type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`

	// KeepAlive is the maximum interval in seconds between control packets.
	KeepAlive int `yaml:"keepalive"`

	// ConnectTimeout bounds the wait for CONNACK, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxDelay int  `yaml:"max_delay"`
}

// SubscriberConfig controls what is subscribed to and how messages print.
type SubscriberConfig struct {
	TopicFilter   string `yaml:"topic_filter"`
	PayloadFormat string `yaml:"payload_format"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Payload formats accepted by subscriber.payload_format.
const (
	PayloadFormatRepr = "repr"
	PayloadFormatHex  = "hex"
	PayloadFormatText = "text"
)

// DefaultTopicFilter matches every CAN frame topic and its descendants.
const DefaultTopicFilter = "/can/#"

// dotEnvFile is loaded from the working directory when present.
const dotEnvFile = ".env"

// Load builds the configuration and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, if path is not empty
//  3. .env file entries (never override variables already set)
//  4. Environment variables
//
// Environment variables follow the pattern: CANSUB_SECTION_KEY
// For example: CANSUB_MQTT_HOST, CANSUB_TOPIC_FILTER
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := loadDotEnv(dotEnvFile); err != nil {
		return nil, fmt.Errorf("loading %s: %w", dotEnvFile, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config holding the compiled-in values.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:           "192.168.10.40",
				Port:           1883,
				KeepAlive:      60,
				ConnectTimeout: 10,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				Enabled:  true,
				MaxDelay: 120,
			},
		},
		Subscriber: SubscriberConfig{
			TopicFilter:   DefaultTopicFilter,
			PayloadFormat: PayloadFormatRepr,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// loadDotEnv reads a .env file into the process environment.
// A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	// MQTT
	if v := os.Getenv("CANSUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CANSUB_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("CANSUB_MQTT_PORT: %q is not a number", v))
		} else {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("CANSUB_MQTT_KEEPALIVE"); v != "" {
		keepalive, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("CANSUB_MQTT_KEEPALIVE: %q is not a number", v))
		} else {
			cfg.MQTT.Broker.KeepAlive = keepalive
		}
	}
	if v := os.Getenv("CANSUB_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}

	// Subscriber
	if v := os.Getenv("CANSUB_TOPIC_FILTER"); v != "" {
		cfg.Subscriber.TopicFilter = v
	}
	if v := os.Getenv("CANSUB_PAYLOAD_FORMAT"); v != "" {
		cfg.Subscriber.PayloadFormat = v
	}

	// Logging
	if v := os.Getenv("CANSUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
//
// All problems are collected so a single run reports every mistake.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	// Keepalive is a 16-bit field in CONNECT; 0 disables it.
	if c.MQTT.Broker.KeepAlive < 0 || c.MQTT.Broker.KeepAlive > 65535 {
		errs = append(errs, "mqtt.broker.keepalive must be between 0 and 65535")
	}
	if c.MQTT.Broker.ConnectTimeout < 1 {
		errs = append(errs, "mqtt.broker.connect_timeout must be at least 1 second")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.Enabled && c.MQTT.Reconnect.MaxDelay < 1 {
		errs = append(errs, "mqtt.reconnect.max_delay must be at least 1 second")
	}

	// Subscriber validation
	// Filter syntax is checked by mqtt.ValidateFilter when the subscriber is built.
	if c.Subscriber.TopicFilter == "" {
		errs = append(errs, "subscriber.topic_filter is required")
	}
	switch c.Subscriber.PayloadFormat {
	case PayloadFormatRepr, PayloadFormatHex, PayloadFormatText:
	default:
		errs = append(errs, "subscriber.payload_format must be repr, hex, or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetKeepAlive returns the broker keepalive interval as a Duration.
func (b MQTTBrokerConfig) GetKeepAlive() time.Duration {
	return time.Duration(b.KeepAlive) * time.Second
}

// GetConnectTimeout returns the CONNACK wait bound as a Duration.
func (b MQTTBrokerConfig) GetConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeout) * time.Second
}

// Address returns the broker endpoint as host:port.
func (b MQTTBrokerConfig) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// GetMaxReconnectDelay returns the reconnect backoff ceiling as a Duration.
func (r MQTTReconnectConfig) GetMaxReconnectDelay() time.Duration {
	return time.Duration(r.MaxDelay) * time.Second
}
