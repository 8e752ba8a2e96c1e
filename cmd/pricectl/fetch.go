package main

import (
	"fmt"

	"github.com/icodeforyou/elpris-go/andelenergi"
	"github.com/icodeforyou/elpris-go/task"
	"github.com/spf13/cobra"
)

var fetchCleanup bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch today's and tomorrow's prices and store them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cnfg, h := appCnfg, getStore()
		provider := andelenergi.New(logger, andelenergi.Options{
			BaseURL:   cnfg.PriceSource.BaseURL,
			Region:    cnfg.PriceSource.Region,
			Tax:       cnfg.PriceSource.Tax,
			ProductID: cnfg.PriceSource.ProductID,
			Timeout:   cnfg.PriceSource.Timeout,
			UserAgent: cnfg.PriceSource.UserAgent,
		})
		ingester := task.NewIngester(logger, provider, h.Prices, cnfg.PriceSource.Timeout+cnfg.Database.QueryTimeout)

		res, err := ingester.Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %d hours, %d changed, median %s\n",
			len(res.Records), res.Changed, res.Tertiles.Median.StringFixed(4))

		if fetchCleanup {
			deleted, err := task.Cleanup(cmd.Context(), logger, h.Prices, cnfg.Database.DataRetentionDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d old hours\n", deleted)
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchCleanup, "cleanup", false, "Apply the retention sweep after fetching")
}
