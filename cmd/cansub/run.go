package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nerrad567/cansub/internal/infrastructure/config"
	"github.com/nerrad567/cansub/internal/infrastructure/logging"
	"github.com/nerrad567/cansub/internal/infrastructure/mqtt"
	"github.com/nerrad567/cansub/internal/subscriber"
)

// runSubscriber is the subscriber's application logic, separated from the
// command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - cfg: Validated configuration
//   - out: Destination for status and message lines
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func runSubscriber(ctx context.Context, cfg *config.Config, out io.Writer) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting cansub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	subCfg, err := subscriber.ConfigFrom(cfg)
	if err != nil {
		return fmt.Errorf("building subscriber config: %w", err)
	}

	client := mqtt.NewClient(cfg.MQTT)
	client.SetLogger(log.With("component", "mqtt"))

	sub, err := subscriber.New(subCfg, client, out, log.With("component", "subscriber"))
	if err != nil {
		return fmt.Errorf("creating subscriber: %w", err)
	}

	if err := sub.Run(ctx); err != nil {
		return err
	}

	log.Info("cansub stopped")
	return nil
}
