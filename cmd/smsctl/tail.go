package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jredh-dev/sms-relay/internal/config"
	"github.com/jredh-dev/sms-relay/internal/sms"
)

var errNoBrokers = errors.New("no brokers: pass --brokers or set KAFKA_BROKERS")

func newTailCmd() *cobra.Command {
	var (
		brokers string
		topic   string
		group   string
		to      string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow messages the relay publishes to Kafka",
		Long: `tail consumes the relay's inbox topic and prints one JSON event per line.
With --to only events for that number (compared in normalized form) are shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if brokers == "" {
				brokers = os.Getenv("KAFKA_BROKERS")
			}
			addrs := config.SplitList(brokers)
			if len(addrs) == 0 {
				return errNoBrokers
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			r := sms.NewInboxReader(addrs, topic, group)
			defer r.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			return r.Run(ctx, inboxFilter(sms.Normalize(to), enc.Encode))
		},
	}

	cmd.Flags().StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default $KAFKA_BROKERS)")
	cmd.Flags().StringVar(&topic, "topic", sms.InboxTopic, "inbox topic")
	cmd.Flags().StringVar(&group, "group", "smsctl-tail", "consumer group id")
	cmd.Flags().StringVar(&to, "to", "", "only show messages for this number")
	return cmd
}

// inboxFilter passes events for norm (or every event when norm is empty)
// to emit.
func inboxFilter(norm string, emit func(any) error) func(sms.InboxEvent) error {
	return func(ev sms.InboxEvent) error {
		if norm != "" && ev.NormRecipient != norm {
			return nil
		}
		return emit(ev)
	}
}
