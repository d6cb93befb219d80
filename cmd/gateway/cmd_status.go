package main

import (
	"fmt"
	"time"

	"github.com/sguter90/edgegateway/pkg/api"
	"github.com/spf13/cobra"
)

var (
	statusURL    string
	statusAPIKey string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running gateway",
	// the remote gateway has its own config
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:3000", "gateway base URL")
	statusCmd.Flags().StringVar(&statusAPIKey, "api-key", "", "API key for protected endpoints")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	opts := []api.ClientOption{api.WithTimeout(5 * time.Second)}
	if statusAPIKey != "" {
		opts = append(opts, api.WithAPIKey(statusAPIKey))
	}
	client := api.NewClient(statusURL, opts...)
	out := cmd.OutOrStdout()

	health, err := client.Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Fprintf(out, "Gateway:   %s (%s)\n", health.GatewayID, health.Version)
	fmt.Fprintf(out, "Status:    %s\n", health.Status)
	for _, name := range []string{"database", "edge_processor", "cloud_sync", "broker"} {
		fmt.Fprintf(out, "  %-15s %s\n", name, health.Components[name])
	}

	stats, err := client.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load statistics: %w", err)
	}
	fmt.Fprintf(out, "Queue:     %d pending, %d synced, %d total\n", stats.PendingSync, stats.Synced, stats.Total)
	if stats.OldestPending != nil {
		fmt.Fprintf(out, "Oldest:    %s\n", stats.OldestPending.Local().Format(time.DateTime))
	}
	fmt.Fprintf(out, "Transport: %s, batch %d every %ds\n", stats.Transport, stats.SyncBatchSize, stats.SyncIntervalSecs)
	if last := stats.LastSync; last != nil {
		outcome := "ok"
		if !last.OK() {
			outcome = last.Error
		}
		fmt.Fprintf(out, "Last sync: %s %s, %d/%d synced (%s)\n",
			last.StartedAt.Local().Format(time.DateTime), last.Trigger, last.Synced, last.Fetched, outcome)
	}
	return nil
}
