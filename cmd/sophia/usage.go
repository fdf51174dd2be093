package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/sophia-ai/sophia/pkg/models"
)

func newUsageCmd(configPath *string) *cobra.Command {
	var (
		days  int
		chart bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show per-model usage from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := context.Background()
			report, err := rt.client().UsageStats(ctx, days)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := writeUsageTable(out, report); err != nil {
				return err
			}
			if !chart {
				return nil
			}

			daily, err := rt.ledger.DailyCost(ctx, report.StartTime)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, dailyCostChart(fillDays(daily, report.StartTime, report.EndTime)))
			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 30, "trailing window in days")
	cmd.Flags().BoolVar(&chart, "chart", false, "plot daily cost")
	return cmd
}

func writeUsageTable(out io.Writer, report models.UsageReport) error {
	fmt.Fprintf(out, "Usage for the last %d days (%s to %s)\n\n",
		report.PeriodDays, report.StartTime.Format(time.DateOnly), report.EndTime.Format(time.DateOnly))

	if len(report.ModelStats) == 0 {
		fmt.Fprintln(out, "No usage recorded.")
		return nil
	}

	names := make([]string, 0, len(report.ModelStats))
	for name := range report.ModelStats {
		names = append(names, name)
	}
	sort.Strings(names)

	var total models.ModelUsage
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tREQUESTS\tTOKENS\tCOST\tAVG LATENCY\tUSERS")
	for _, name := range names {
		s := report.ModelStats[name]
		fmt.Fprintf(w, "%s\t%s\t%s\t$%s\t%.0fms\t%d\n",
			name, humanize.Comma(int64(s.Requests)), humanize.Comma(s.Tokens),
			humanize.CommafWithDigits(s.Cost, 4), s.AvgLatencyMs, s.UniqueUsers)
		total.Requests += s.Requests
		total.Tokens += s.Tokens
		total.Cost += s.Cost
	}
	fmt.Fprintf(w, "TOTAL\t%s\t%s\t$%s\t\t\n",
		humanize.Comma(int64(total.Requests)), humanize.Comma(total.Tokens), humanize.CommafWithDigits(total.Cost, 4))
	return w.Flush()
}

// fillDays returns one entry per UTC day from start to end inclusive, with
// zero cost for days the ledger has no rows for.
func fillDays(daily []models.DailyCost, start, end time.Time) []models.DailyCost {
	byDay := make(map[string]float64, len(daily))
	for _, d := range daily {
		byDay[d.Day] += d.Cost
	}

	first := start.UTC().Truncate(24 * time.Hour)
	last := end.UTC().Truncate(24 * time.Hour)
	var out []models.DailyCost
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		key := day.Format(time.DateOnly)
		out = append(out, models.DailyCost{Day: key, Cost: byDay[key]})
	}
	return out
}

func dailyCostChart(daily []models.DailyCost) string {
	if len(daily) == 0 {
		return "No daily cost to plot."
	}
	data := make([]float64, len(daily))
	for i, d := range daily {
		data[i] = d.Cost
	}
	return asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Precision(4),
		asciigraph.Caption(fmt.Sprintf("daily cost (USD), %s to %s", daily[0].Day, daily[len(daily)-1].Day)),
	)
}
