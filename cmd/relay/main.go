// Command relay sends one prompt to several AI providers and prints their
// answers, either side by side (compare) or through a chained preset (chain).
//
// Usage:
//
//	relay compare "What is a monad?"
//	relay chain --preset 2 "Explain the CAP theorem"
//	relay presets
//	relay providers
//
// Runs execute in-process using the providers configured through RELAY_CONFIG
// and the environment, or on a running relayd when --remote is given.
package main

import (
	"fmt"
	"os"

	"MultiAI-Relay/cmd/relay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
