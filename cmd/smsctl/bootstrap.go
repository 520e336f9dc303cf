package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jredh-dev/sms-relay/internal/store"
)

func newBootstrapCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the sms_messages table and index if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = os.Getenv("DATABASE_URL")
			}
			if dsn == "" {
				return fmt.Errorf("no database: pass --database-url or set DATABASE_URL")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, err := store.Open(ctx, dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Bootstrap(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "database-url", "", "database URL (default $DATABASE_URL)")
	return cmd
}
