// nexus smsctl - SMS relay command-line client
// Copyright (C) 2025  nexus contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

// Package main provides smsctl, the operator and consumer CLI for the relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "smsctl",
		Short: "smsctl talks to the SMS relay",
		Long: `smsctl reads the latest SMS delivered to a number through a running relay,
prints the canonical form of phone numbers, prepares the relay database and
follows the relay's Kafka inbox.`,
		SilenceUsage: true,
	}

	root.AddCommand(newLatestCmd())
	root.AddCommand(newNormalizeCmd())
	root.AddCommand(newBootstrapCmd())
	root.AddCommand(newTailCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "smsctl %s\n", version)
		},
	})
	return root
}
