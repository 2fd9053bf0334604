package main

import (
	"context"
	"fmt"

	"dmsbridge/internal/dms"

	"github.com/spf13/cobra"
)

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Send a test message to the DMS and report the answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logCloser, err := loadConfig()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			client := dms.NewClient(dms.ClientConfig{Settings: settingsFrom(cfg.DMS), Logger: logger})
			resp, err := client.Ping(context.Background())
			if resp.Status != 0 {
				fmt.Printf("DMS answered HTTP %d %s\n", resp.Status, resp.StatusText)
				if resp.Body != "" {
					fmt.Println(resp.Body)
				}
			}
			if err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
			fmt.Println("connected")
			return nil
		},
	}
}
