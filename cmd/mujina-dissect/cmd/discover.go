package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/mujina-miner/mujina-miner/internal/bitaxeraw"
	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List connected Bitaxe devices",
	Long: `List every Bitaxe device currently enumerated by the OS, paired by USB
serial number into its bitaxe-raw control port and its ASIC data port.

Exit codes:
  0 - at least one device found
  1 - no devices found`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

func runDiscover(cmd *cobra.Command, args []string) error {
	// A fresh Watcher's first Poll reports every currently connected
	// device as newly "Connected", making it a one-shot enumeration.
	watcher := bitaxeraw.NewWatcher(0)
	events, err := watcher.Poll()
	if err != nil {
		return fmt.Errorf("enumerate usb devices: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("no Bitaxe devices found")
		return errNoDevices
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-24s %-20s %-20s", "SERIAL", "CONTROL PORT", "DATA PORT")))
	for _, ev := range events {
		if ev.Connected == nil {
			continue
		}
		d := ev.Connected
		fmt.Printf("%-24s %-20s %-20s\n", d.Serial, d.ControlPort, d.DataPort)
	}
	return nil
}
