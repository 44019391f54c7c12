// Package cmd implements the readStreakAPI command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "readstreak",
	Short: "Reading-streak engine API",
	Long: `readstreak tracks consecutive-day reading streaks, weekly reading ranks
and paid streak recoveries backed by the Cores ledger.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
