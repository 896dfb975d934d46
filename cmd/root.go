// Package cmd wires the command line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/everping/everping/internal/build"
)

var rootCmd = &cobra.Command{
	Use:           build.Slug,
	Short:         "Single-node task orchestrator with monitors and alerts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("env-file", "", "path to a .env file loaded before reading the environment")
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
