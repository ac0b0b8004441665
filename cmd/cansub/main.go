// cansub - CAN bus MQTT subscriber
//
// cansub connects to an MQTT broker, subscribes to a topic filter (default
// /can/#) and prints the topic and payload of every message it receives.
//
// Usage:
//
//	cansub [--host H] [--port P] [--topic F] [--format repr|hex|text]
//	cansub publish --topic /can/101 --hex 0102
//	cansub version
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C or SIGTERM; Run treats that as a clean shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Printed lines go to out.
func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "cansub",
		Short: "Print every MQTT message published under a topic filter",
		Long: "cansub subscribes to an MQTT topic filter (default /can/#) and prints\n" +
			"a status line per connection and a topic and payload line per message.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runSubscriber(cmd.Context(), cfg, out)
		},
	}
	root.SetOut(out)

	opts.bindPersistent(root)
	opts.bindSubscriber(root)

	root.AddCommand(newPublishCmd(opts, out))
	root.AddCommand(newVersionCmd(out))

	return root
}

func newVersionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(out, "cansub %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
