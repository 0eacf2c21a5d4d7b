package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verifdevis/devis-cli/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show analysis outcome statistics and triggered alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}

		collector := monitoring.NewCollector(st, nil, time.Duration(cfg.Monitoring.StuckAfterMins)*time.Minute)
		snap, err := collector.Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*monitoring.MetricsSnapshot
			Alerts []monitoring.Alert `json:"alerts"`
		}{snap, monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap)})
	},
}

func init() {
	statusCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")
	rootCmd.AddCommand(statusCmd)
}
