package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print splinterd's version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "splinterd version %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
