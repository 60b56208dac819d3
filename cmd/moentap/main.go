// Moentap is a state-synchronization daemon and CLI for U by Moen smart
// shower controllers.
//
// It keeps a local model of every controller on the account synchronized
// with the vendor cloud, combining periodic full-state polling with live
// push updates over the vendor's Pusher channels, and sends control
// commands (mode, temperature, presets, outlets) over the same channels.
//
// Usage:
//
//	moentap [command] [flags]
//
// Running without arguments starts the sync engine (same as 'moentap watch').
// See 'moentap --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/moentap/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "moentap",
	Short: "U by Moen shower synchronization engine",
	Long: `A state-synchronization daemon and CLI for U by Moen smart showers.

Keeps a local model of every controller on the account synchronized with
the vendor cloud via polling and live push updates, and sends control
commands over the device's private push channel.

If no command is specified, the sync engine starts (same as 'moentap watch').`,
	Version: version.Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: run the sync engine when no subcommand provided
		return runWatch(cmd, args)
	},
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
		fmt.Printf("moentap %s (commit: %s)\n", version.Version, version.Commit)
	},
}
