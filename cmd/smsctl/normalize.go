package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jredh-dev/sms-relay/internal/sms"
)

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <number>...",
		Short: "Print the lookup key the relay derives from each number",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			for _, raw := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", raw, sms.Normalize(raw))
			}
		},
	}
}
