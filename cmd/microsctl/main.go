// Microsctl controls relays, dimmers, flags and moods on a home automation
// controller connected over RS-232 or a serial-over-TCP bridge.
//
// Usage:
//
//	microsctl [command] [flags]
//
// Settings come from a YAML, JSON or TOML file (--config or MICROS_CONFIG),
// MICROS_* environment variables and the --port and --log-level flags.
// See 'microsctl --help' for available commands.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
