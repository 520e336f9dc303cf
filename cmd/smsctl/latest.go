package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jredh-dev/sms-relay/internal/client"
)

// errNotFound makes "latest" exit non-zero when nothing has arrived yet, so
// scripts can poll with it.
var errNotFound = errors.New("no message for that number")

func newLatestCmd() *cobra.Command {
	var (
		relayURL string
		token    string
		wait     time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "latest <number>",
		Short: "Print the latest SMS delivered to a number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("AUTH_TOKEN")
			}
			c := client.New(relayURL, token)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if wait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, wait)
				defer cancel()
			}

			for {
				got, err := c.Latest(ctx, args[0])
				if err != nil {
					return err
				}
				if got.Found && got.Message != nil {
					fmt.Fprintln(cmd.OutOrStdout(), *got.Message)
					return nil
				}
				if wait <= 0 {
					return errNotFound
				}
				select {
				case <-ctx.Done():
					return errNotFound
				case <-time.After(interval):
				}
			}
		},
	}

	cmd.Flags().StringVar(&relayURL, "relay", "http://localhost:3000", "relay base URL")
	cmd.Flags().StringVar(&token, "token", "", "shared secret (default $AUTH_TOKEN)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "keep polling up to this long until a message exists")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval with --wait")
	return cmd
}
