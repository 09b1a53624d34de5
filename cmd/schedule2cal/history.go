package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	appcfg "github.com/jo-hoe/schedule2cal/internal/config"
	"github.com/jo-hoe/schedule2cal/internal/history"
)

var limitFlag int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent conversion attempts",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&limitFlag, "limit", "n", 20, "Number of attempts to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := applyFlagOverrides(); err != nil {
		return err
	}
	cfg, err := appcfg.Read(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.History.Enabled {
		fmt.Fprintln(cmd.OutOrStdout(), "history is disabled (set history.enabled: true)")
		return nil
	}

	store, err := history.NewSQLiteStore(cfg.History.DatabasePath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = store.Close() }()

	attempts, err := store.List(context.Background(), limitFlag)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no conversions recorded yet")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tOUTCOME\tIMAGE\tSIZE\tCALENDAR\tTOOK\tERROR")
	for _, a := range attempts {
		image, size, result := "-", "-", "-"
		if a.Filename != "" {
			image = a.Filename
			size = humanize.Bytes(uint64(a.ImageSize))
		}
		if a.ResultSize > 0 {
			result = humanize.Bytes(uint64(a.ResultSize))
		}
		errText := a.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(a.StartedAt), a.Outcome, image, size, result,
			a.CompletedAt.Sub(a.StartedAt).Round(time.Millisecond), errText)
	}
	return tw.Flush()
}
