// Command mujina-dissect is a diagnostic CLI for a single Bitaxe board:
// it enumerates connected devices, dumps peripheral register state, and
// dissects live serial traffic on either port.
package main

import (
	"fmt"
	"os"

	"github.com/mujina-miner/mujina-miner/cmd/mujina-dissect/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
