package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rembraille",
		Short: "Braille display forwarding over the network",
		Long: `RemBraille forwards braille output from a guest machine to a
physical braille display attached to a host machine.

The host runs a receiver that owns the display; guests connect over
TCP or WebSocket, send rows of braille cells, and get the display's
hardware key presses routed back.

Commands:
  serve    Run the host receiver
  send     Connect as a guest and display text
  version  Print version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		sendCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
