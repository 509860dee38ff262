package cmd

import (
	"github.com/spf13/cobra"
)

var (
	controlPortName string
	dataPortName    string
	controlBaud     int
	dataBaud        int
)

var rootCmd = &cobra.Command{
	Use:   "mujina-dissect",
	Short: "Diagnostic CLI for a single Bitaxe Gamma hash board",
	Long: `mujina-dissect talks directly to one board's two USB-CDC-ACM ports
for bring-up and field diagnosis, bypassing the daemon entirely.

Commands:
  discover   list connected Bitaxe devices and their two port paths
  registers  dump TPS546 and EMC2101 status over the control port
  capture    dissect live traffic on either port, frame by frame
  dash       a live terminal dashboard of the registers readings`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&controlPortName, "control-port", "", "bitaxe-raw control port (lower-numbered CDC-ACM interface)")
	rootCmd.PersistentFlags().StringVar(&dataPortName, "data-port", "", "ASIC data port (higher-numbered CDC-ACM interface)")
	rootCmd.PersistentFlags().IntVar(&controlBaud, "control-baud", 115200, "control port baud rate")
	rootCmd.PersistentFlags().IntVar(&dataBaud, "data-baud", 115200, "data port baud rate")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
