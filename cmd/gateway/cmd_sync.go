package main

import (
	"encoding/json"
	"os"

	"github.com/sguter90/edgegateway/pkg/cloudsync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle against the local queue and exit",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	app := appFrom(cmd)
	if err := app.Config.Validate(); err != nil {
		return err
	}

	dbManager, err := openDatabase(app.Config, app.Logger)
	if err != nil {
		return err
	}
	defer dbManager.Close()

	s, registry, err := newSynchronizer(app.Config, dbManager, app.Logger)
	if err != nil {
		return err
	}
	defer registry.Close()
	defer s.Close()

	res, syncErr := s.SyncOnce(cmd.Context(), cloudsync.TriggerManual)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	return syncErr
}
