// Package logging provides structured diagnostic logging for cansub.
//
// It wraps log/slog. The text format uses github.com/lmittmann/tint for
// readable, optionally coloured terminal output; the json format is the
// standard slog JSON handler.
//
// Logs are diagnostics only. Received MQTT messages are printed by the
// subscriber package on stdout and never pass through the logger, which
// writes to stderr by default.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stderr"   # stderr, stdout
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connecting", "broker", cfg.MQTT.Broker.Address())
package logging
