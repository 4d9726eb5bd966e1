// Package cmd implements the splinterd CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configFile string

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("splinterd version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

var rootCmd = &cobra.Command{
	Use:   "splinterd",
	Short: "splinterd runs a Splinter admin service node",
	Long:  "splinterd hosts the circuit admin service: circuit creation, voting, disband, abandon and purge for one node in a Splinter network.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "/etc/splinter/splinterd.yaml", "config file path")
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("splinterd version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
