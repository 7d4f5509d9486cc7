package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"soundmeter/internal/stats"
	"soundmeter/internal/storage"
)

func newTrendsCommand(cc *commandContext) *cobra.Command {
	var (
		granularity string
		startDate   string
		endDate     string
		slots       []int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Summarise stored readings per period and time slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := stats.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			end := time.Now()
			if endDate != "" {
				if end, err = time.Parse("2006-01-02", endDate); err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
			}
			start := end.AddDate(0, 0, -6)
			if startDate != "" {
				if start, err = time.Parse("2006-01-02", startDate); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}

			cfg := cc.manager.Get()
			store, err := storage.NewStore(cfg.Storage, cfg.Location())
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := cmd.Context()
			if err := store.Init(ctx); err != nil {
				return err
			}
			settings, err := store.LoadSettings(ctx)
			if err != nil {
				return err
			}
			trends, err := stats.BuildTrends(ctx, store, g, start, end, slots, settings.Zones)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(trends)
			}
			if len(trends.Periods) == 0 {
				fmt.Fprintln(out, "No readings in range.")
				return nil
			}
			var rows [][]string
			for _, p := range trends.Periods {
				for _, d := range p.Data {
					rows = append(rows, []string{
						p.Label,
						d.SlotName,
						fmt.Sprintf("%.1f", d.AvgDb),
						fmt.Sprintf("%.1f", d.PeakDb),
						fmt.Sprintf("%.1f%%", d.GreenPct),
						fmt.Sprintf("%.1f%%", d.OrangePct),
						fmt.Sprintf("%.1f%%", d.RedPct),
						strconv.FormatInt(d.ReadingCount, 10),
					})
				}
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Period", "Slot", "Avg dB", "Peak dB", "Green", "Yellow", "Red", "Readings"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			fmt.Fprintf(out, "Zones: yellow >= %.0f dB, red >= %.0f dB (%s)\n", trends.Thresholds.Orange, trends.Thresholds.Red, strings.ToLower(string(trends.Granularity)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&granularity, "granularity", "g", "day", "day, week or month")
	cmd.Flags().StringVar(&startDate, "start", "", "First day (YYYY-MM-DD), default six days before --end")
	cmd.Flags().StringVar(&endDate, "end", "", "Last day (YYYY-MM-DD), default today")
	cmd.Flags().IntSliceVar(&slots, "slots", nil, "Restrict to these time slot ids")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
