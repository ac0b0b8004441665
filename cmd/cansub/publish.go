package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cansub/internal/infrastructure/logging"
	"github.com/nerrad567/cansub/internal/infrastructure/mqtt"
)

// publishOptions holds the publish subcommand's own flags.
type publishOptions struct {
	topic   string
	payload string
	hexData string
	qos     int
	retain  bool
}

// newPublishCmd builds "cansub publish", a one-shot publisher used to feed a
// running subscriber with test frames.
func newPublishCmd(root *rootOptions, out io.Writer) *cobra.Command {
	opts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one message to the broker",
		Example: "  cansub publish --topic /can/101 --hex 0102\n" +
			"  cansub publish --topic /can/status --payload up --retain",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := opts.body()
			if err != nil {
				return err
			}
			if opts.qos < 0 || opts.qos > 2 {
				return mqtt.ErrInvalidQoS
			}

			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}

			log := logging.New(cfg.Logging, version)
			client := mqtt.NewClient(cfg.MQTT)
			client.SetLogger(log)

			if err := client.Connect(cmd.Context()); err != nil {
				return fmt.Errorf("connecting to %s: %w", cfg.MQTT.Broker.Address(), err)
			}
			defer func() {
				if closeErr := client.Close(); closeErr != nil {
					log.Error("error closing MQTT client", "error", closeErr)
				}
			}()

			if err := client.Publish(opts.topic, payload, byte(opts.qos), opts.retain); err != nil { //nolint:gosec // range checked above
				return fmt.Errorf("publishing to %s: %w", opts.topic, err)
			}

			fmt.Fprintf(out, "published %d bytes to %s\n", len(payload), opts.topic)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.topic, "topic", "", "topic to publish to, e.g. "+mqtt.Topics{}.CANFrame("101"))
	f.StringVar(&opts.payload, "payload", "", "payload as text")
	f.StringVar(&opts.hexData, "hex", "", "payload as hex bytes, e.g. 0102")
	f.IntVar(&opts.qos, "qos", 0, "publish QoS (0, 1, 2)")
	f.BoolVar(&opts.retain, "retain", false, "ask the broker to retain the message")
	_ = cmd.MarkFlagRequired("topic")
	cmd.MarkFlagsMutuallyExclusive("payload", "hex")

	return cmd
}

// body returns the payload bytes from --payload or --hex.
func (o *publishOptions) body() ([]byte, error) {
	if o.hexData != "" {
		b, err := hex.DecodeString(o.hexData)
		if err != nil {
			return nil, fmt.Errorf("decoding --hex: %w", err)
		}
		return b, nil
	}
	if o.payload == "" {
		return nil, errors.New("one of --payload or --hex is required")
	}
	return []byte(o.payload), nil
}
