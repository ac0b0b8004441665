// Package config handles loading and validating cansub configuration.
//
// This package manages:
//   - Compiled-in defaults (broker 192.168.10.40:1883, filter /can/#)
//   - Loading configuration from an optional YAML file
//   - Loading a .env file from the working directory
//   - Overriding with CANSUB_* environment variables
//   - Validation of every field, reported together
//
// Configuration is loaded once at startup and passed by value or pointer
// into the components that need it; nothing reads it globally.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Address())
package config
