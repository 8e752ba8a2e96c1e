package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var Version = "?.?.?"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "version: %s\n", Version)
	},
}
