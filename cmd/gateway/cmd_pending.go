package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sguter90/edgegateway/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var pendingLimit int

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List records waiting to be synced",
	Long: `List records waiting to be synced, oldest first. Prints a table on a
terminal and JSON otherwise.`,
	RunE: runPending,
}

func init() {
	pendingCmd.Flags().IntVar(&pendingLimit, "limit", 20, "max records to list")
	rootCmd.AddCommand(pendingCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	app := appFrom(cmd)

	dbManager, err := openDatabase(app.Config, app.Logger)
	if err != nil {
		return err
	}
	defer dbManager.Close()

	records, err := dbManager.GetPendingRecords(cmd.Context(), pendingLimit)
	if err != nil {
		return err
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		stats, err := dbManager.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d pending, %d synced, %d total\n\n", stats.Pending, stats.Synced, stats.Total)
		return printPendingTable(cmd.OutOrStdout(), records)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func printPendingTable(out io.Writer, records []models.EnrichedRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No pending records")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDEVICE\tLOCATION\tRECEIVED\tQUALITY\tANOMALY\tATTEMPTS")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\t%d\n",
			rec.ID,
			rec.Header.DeviceID,
			rec.Header.Location,
			rec.GatewayTimestamp.Local().Format(time.DateTime),
			rec.Quality.Score,
			rec.Computed.IsAnomaly,
			rec.SyncAttempts,
		)
	}
	return w.Flush()
}
