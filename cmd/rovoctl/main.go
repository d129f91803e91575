// Rovoctl is a command line utility for Roborock vacuum devices.
//
// It works from a locally cached copy of the account's credentials and
// device catalog, lists devices and their capability flags, and can query
// live device state over the vendor's MQTT broker.
//
// Usage:
//
//	rovoctl [command] [flags]
//
// See 'rovoctl --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openrovo/rovo/internal/logging"
	"github.com/openrovo/rovo/internal/version"
)

func main() {
	logging.InitializeFromEnv()
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rovoctl",
	Short: "Roborock Device Utility",
	Long: `A standalone utility for Roborock vacuum devices.

Lists the devices and capability flags of a cached account, and queries
live device state over the vendor broker.`,
	Version: version.Version,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rovoctl %s (commit: %s)\n", version.Version, version.Commit)
	},
}
