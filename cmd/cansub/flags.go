package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cansub/internal/infrastructure/config"
)

// configEnvVar names the config file when --config is not given.
const configEnvVar = "CANSUB_CONFIG"

// defaultConfigPath is read only if it exists; the compiled-in defaults are
// complete without it.
const defaultConfigPath = "configs/config.yaml"

// rootOptions holds flag values. A value is applied to the loaded config
// only when its flag was set on the command line.
type rootOptions struct {
	configPath string
	host       string
	port       int
	keepAlive  int
	clientID   string
	logLevel   string

	topic  string
	qos    int
	format string
}

// bindPersistent registers the broker flags shared by every subcommand.
func (o *rootOptions) bindPersistent(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "path to YAML config file (env "+configEnvVar+")")
	f.StringVar(&o.host, "host", "", "MQTT broker host")
	f.IntVar(&o.port, "port", 0, "MQTT broker port")
	f.IntVar(&o.keepAlive, "keepalive", 0, "MQTT keepalive in seconds")
	f.StringVar(&o.clientID, "client-id", "", "MQTT client ID (generated if empty)")
	f.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// bindSubscriber registers the flags only the subscriber uses.
func (o *rootOptions) bindSubscriber(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.topic, "topic", "", "topic filter to subscribe to (default "+config.DefaultTopicFilter+")")
	f.IntVar(&o.qos, "qos", 0, "subscription QoS (0, 1, 2)")
	f.StringVar(&o.format, "format", "", "payload format: repr, hex, text")
}

// getConfigPath returns the configuration file path.
// Precedence: --config, then CANSUB_CONFIG, then configs/config.yaml if it
// exists. An empty result means defaults only.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); !errors.Is(err, fs.ErrNotExist) {
		return defaultConfigPath
	}
	return ""
}

// loadConfig loads the configuration and layers explicitly set flags on top.
func loadConfig(cmd *cobra.Command, o *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(getConfigPath(o.configPath))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	o.applyBroker(cmd, cfg)
	if cmd.Flags().Lookup("format") != nil {
		o.applySubscriber(cmd, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating flags: %w", err)
	}
	return cfg, nil
}

// applyBroker copies the changed persistent flags into cfg.
func (o *rootOptions) applyBroker(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.MQTT.Broker.Host = o.host
	}
	if flags.Changed("port") {
		cfg.MQTT.Broker.Port = o.port
	}
	if flags.Changed("keepalive") {
		cfg.MQTT.Broker.KeepAlive = o.keepAlive
	}
	if flags.Changed("client-id") {
		cfg.MQTT.Broker.ClientID = o.clientID
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
}

// applySubscriber copies the changed subscriber flags into cfg.
func (o *rootOptions) applySubscriber(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("topic") {
		cfg.Subscriber.TopicFilter = o.topic
	}
	if flags.Changed("qos") {
		cfg.MQTT.QoS = o.qos
	}
	if flags.Changed("format") {
		cfg.Subscriber.PayloadFormat = o.format
	}
}
