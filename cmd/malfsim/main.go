// Package main is the entry point for the malfunction simulator. It only
// handles dependency injection and command wiring.
// NO business logic belongs here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "malfsim",
	Short: "malfsim - Mars settlement malfunction simulator",
	Long: `malfsim runs the malfunction and repair engine over a demo settlement, either as a
server with a live API or as a headless soak run. agitate load-tests the event stream
of a running server.`,
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (defaults apply when empty)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(soakCmd)
	rootCmd.AddCommand(agitateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
