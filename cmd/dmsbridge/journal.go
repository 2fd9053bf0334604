package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dmsbridge/internal/journal"

	"github.com/spf13/cobra"
)

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and prune the webhook journal",
	}

	var limit int
	var outbound bool
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the newest journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, closeAll, err := openJournal()
			if err != nil {
				return err
			}
			defer closeAll()

			ctx := context.Background()
			if outbound {
				entries, err := j.RecentOutbound(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(entries)
			}
			entries, err := j.RecentWebhooks(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	tail.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	tail.Flags().BoolVar(&outbound, "outbound", false, "show outbound sends instead of webhooks")

	var days int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal entries older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return errors.New("--days must be positive")
			}
			j, closeAll, err := openJournal()
			if err != nil {
				return err
			}
			defer closeAll()

			n, err := j.PruneBefore(context.Background(), time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d entries\n", n)
			return nil
		},
	}
	prune.Flags().IntVar(&days, "days", 30, "keep entries newer than this many days")

	cmd.AddCommand(tail, prune)
	return cmd
}

// openJournal opens the configured journal even when serve has it disabled.
func openJournal() (*journal.SQLiteJournal, func(), error) {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	j, err := journal.Open(cfg.Journal.DBPath, logger)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	return j, func() {
		j.Close()
		logCloser.Close()
	}, nil
}
