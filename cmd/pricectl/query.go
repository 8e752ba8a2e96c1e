package main

import (
	"fmt"
	"time"

	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/optimize"
	"github.com/icodeforyou/elpris-go/types/maybe"
	"github.com/spf13/cobra"
)

var (
	withinHours int
	duration    int
	format      string
)

func newOptimizer() *optimize.Optimizer {
	return optimize.NewOptimizer(logger, getStore().Prices, appCnfg.Optimizer.DefaultLookaheadHours, appCnfg.Database.QueryTimeout)
}

func horizonFlag(cmd *cobra.Command) maybe.Maybe[int] {
	if cmd.Flags().Changed("within-hours") {
		return maybe.Some(withinHours)
	}
	return maybe.None[int]()
}

func checkFormat() error {
	switch hours.Format(format) {
	case hours.FormatHours, hours.FormatMinutes:
		return nil
	default:
		return fmt.Errorf("--format must be one of: hours, minutes")
	}
}

var cheapestHourCmd = &cobra.Command{
	Use:   "cheapest-hour",
	Short: "Print the cheapest upcoming hour",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(); err != nil {
			return err
		}

		now := time.Now()
		rec, err := newOptimizer().FindCheapestHour(cmd.Context(), now, horizonFlag(cmd))
		if err != nil {
			return err
		}

		until := hours.FormatUntil(hours.TimeUntil(now, rec.When), hours.Format(format))
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\t%s DKK/kWh\t%s\n",
			rec.When.IsoString(), until, rec.TotalPrice.StringFixed(4), rec.Category)
		return nil
	},
}

var cheapestSequenceCmd = &cobra.Command{
	Use:   "cheapest-sequence",
	Short: "Print the start of the cheapest run of consecutive hours",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(); err != nil {
			return err
		}
		horizon := horizonFlag(cmd)
		if horizon.IsValid() && duration > horizon.Value() {
			return fmt.Errorf("--duration cannot be longer than --within-hours")
		}

		now := time.Now()
		win, err := newOptimizer().FindCheapestSequenceStart(cmd.Context(), now, duration, horizon)
		if err != nil {
			return err
		}

		until := hours.FormatUntil(hours.TimeUntil(now, win.Start), hours.Format(format))
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\t%s DKK/kWh avg\n",
			win.Start.IsoString(), until, win.Average().StringFixed(4))
		for _, r := range win.Records {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\t%s\t%s\n", r.When, r.TotalPrice.StringFixed(4), r.Category)
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{cheapestHourCmd, cheapestSequenceCmd} {
		cmd.Flags().IntVar(&withinHours, "within-hours", 0, "Look ahead window in hours (1-168)")
		cmd.Flags().StringVar(&format, "format", string(hours.FormatHours), "Time until format: hours or minutes")
	}
	cheapestSequenceCmd.Flags().IntVar(&duration, "duration", 1, "Length of the run in hours (1-24)")
}
