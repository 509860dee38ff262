package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mujina-miner/mujina-miner/internal/bitaxeraw"
	"github.com/mujina-miner/mujina-miner/internal/board"
	"github.com/mujina-miner/mujina-miner/internal/peripheral"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var registersSetVout float32

var registersCmd = &cobra.Command{
	Use:   "registers",
	Short: "Dump TPS546 and EMC2101 status over the control port",
	RunE:  runRegisters,
}

func init() {
	registersCmd.Flags().Float32Var(&registersSetVout, "set-vout", 0, "set the TPS546 output voltage instead of just reading status, after an interactive confirmation")
	rootCmd.AddCommand(registersCmd)
}

// confirmRaw prints prompt and waits for a single 'y' keypress in raw
// terminal mode, so a stray Enter from a pasted command can't slip a
// dangerous write through unconfirmed.
func confirmRaw(prompt string) bool {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return false
	}
	fmt.Printf("%s [y/N] ", prompt)
	old, err := term.MakeRaw(fd)
	if err != nil {
		return false
	}
	defer term.Restore(fd, old)

	buf := make([]byte, 1)
	if _, err := os.Stdin.Read(buf); err != nil {
		return false
	}
	fmt.Println()
	return buf[0] == 'y' || buf[0] == 'Y'
}

func runRegisters(cmd *cobra.Command, args []string) error {
	if controlPortName == "" {
		return errMissingControlPort
	}

	port, err := board.OpenDataPort(controlPortName, controlBaud)
	if err != nil {
		return fmt.Errorf("open control port: %w", err)
	}
	defer port.Close()

	ch := bitaxeraw.NewControlChannel(port)
	ctx := context.Background()
	vreg := peripheral.NewTps546(ch, peripheral.BitaxeGammaTps546Config())

	if registersSetVout != 0 {
		if !confirmRaw(fmt.Sprintf("set vout to %.3fV on %s?", registersSetVout, controlPortName)) {
			return fmt.Errorf("aborted")
		}
		if err := vreg.SetVout(ctx, registersSetVout); err != nil {
			return fmt.Errorf("set vout: %w", err)
		}
	}

	fmt.Println(headerStyle.Render("TPS546"))
	if status, flags, err := vreg.ReadStatus(ctx); err != nil {
		fmt.Printf("  status: error: %v\n", err)
	} else {
		fmt.Printf("  status word: 0x%04x %v\n", status, flags)
	}
	if vout, err := vreg.GetVout(ctx); err == nil {
		fmt.Printf("  vout: %d mV\n", vout)
	}
	if vin, err := vreg.GetVin(ctx); err == nil {
		fmt.Printf("  vin: %d mV\n", vin)
	}
	if iout, err := vreg.GetIout(ctx); err == nil {
		fmt.Printf("  iout: %d mA\n", iout)
	}
	if temp, err := vreg.GetTemperature(ctx); err == nil {
		fmt.Printf("  temperature: %d C\n", temp)
	}

	fmt.Println(headerStyle.Render("EMC2101"))
	fan := peripheral.NewEmc2101(ch)
	if rpm, err := fan.GetRPM(ctx); err == nil {
		fmt.Printf("  fan rpm: %d\n", rpm)
	} else {
		fmt.Printf("  fan rpm: error: %v\n", err)
	}
	if temp, err := fan.GetExternalTemperature(ctx); err == nil {
		fmt.Printf("  external temperature: %.1f C\n", temp)
	}

	return nil
}
