package main

import (
	"fmt"

	"github.com/sguter90/edgegateway/pkg/cloudsync"
	"github.com/spf13/cobra"
)

var purgeDays int

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete synced records older than the retention window",
	Long: `Delete synced records older than the retention window. Pending
records are never deleted.`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().IntVar(&purgeDays, "days", 0, "retention in days (default: data.retention_days)")
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	app := appFrom(cmd)

	days := app.Config.Data.RetentionDays
	if purgeDays > 0 {
		days = purgeDays
	}
	if days <= 0 {
		return fmt.Errorf("retention must be at least 1 day, got %d", days)
	}

	dbManager, err := openDatabase(app.Config, app.Logger)
	if err != nil {
		return err
	}
	defer dbManager.Close()

	deleted, err := cloudsync.NewPurger(dbManager, days, 0, app.Logger, nil).PurgeOnce(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d synced records older than %d days\n", deleted, days)
	return nil
}
