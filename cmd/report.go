package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetgw/faucetgw/internal/config"
	"github.com/faucetgw/faucetgw/internal/db"
	"github.com/faucetgw/faucetgw/internal/logger"
	"github.com/faucetgw/faucetgw/internal/model"
	"github.com/faucetgw/faucetgw/internal/store"
)

var reportDay string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print per-channel mint summaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)

		st, err := db.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = st.Close(context.Background()) }()

		days := []string{reportDay}
		if reportDay == "" {
			today := time.Now().UTC()
			days = []string{
				model.DayOf(today),
				model.DayOf(today.AddDate(0, 0, -1)),
			}
		}

		for _, day := range days {
			rows, err := st.DailySummary(cmd.Context(), day)
			if err != nil {
				return fmt.Errorf("summary for %s: %w", day, err)
			}
			printSummary(day, rows)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportDay, "day", "", "day to report (YYYY-MM-DD, UTC); default today and yesterday")
}

func printSummary(day string, rows []store.DailyReportRow) {
	fmt.Printf("== %s ==\n", day)
	if len(rows) == 0 {
		fmt.Println("(no requests)")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tAMOUNT\tOK\tFAILED")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", r.Channel, r.TotalAmount, r.SuccessCount, r.FailureCount)
	}
	_ = w.Flush()
}
