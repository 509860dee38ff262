package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/mujina-miner/mujina-miner/cmd/mujina-dissect/dissect"
	"github.com/mujina-miner/mujina-miner/internal/bm13xx"
	"github.com/mujina-miner/mujina-miner/internal/board"
	"github.com/spf13/cobra"
)

var (
	captureRegisterMode bool
	captureExportPath   string
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Dissect live traffic on a port, frame by frame",
	Long: `capture reads raw bytes from --data-port (or --control-port with
--registers) and prints each BM13xx frame as it decodes, along with its
CRC status. Bytes that don't align to a recognized preamble are skipped
one at a time until framing resynchronizes.`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().BoolVar(&captureRegisterMode, "registers", false, "capture the control port and decode responses as register reads instead of nonces")
	captureCmd.Flags().StringVar(&captureExportPath, "export", "", "append each decoded frame as a CBOR record to this file")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	portName := dataPortName
	baud := dataBaud
	fromChip := !captureRegisterMode
	if captureRegisterMode {
		portName = controlPortName
		baud = controlBaud
	}
	if portName == "" {
		if captureRegisterMode {
			return errMissingControlPort
		}
		return errMissingDataPort
	}

	port, err := board.OpenDataPort(portName, baud)
	if err != nil {
		return fmt.Errorf("open port: %w", err)
	}
	defer port.Close()

	var enc *cbor.Encoder
	if captureExportPath != "" {
		f, err := os.OpenFile(captureExportPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open export file: %w", err)
		}
		defer f.Close()
		enc = cbor.NewEncoder(f)
	}

	var direction dissect.Direction = dissect.DirectionChipToHost
	if !fromChip {
		direction = dissect.DirectionHostToChip
	}

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 512)
	for {
		n, err := port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = drainFrames(buf, fromChip, direction, enc)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read port: %w", err)
		}
	}
}

// drainFrames decodes as many complete frames as it can from the front
// of buf, printing (and optionally exporting) each one, and returns the
// unconsumed remainder.
func drainFrames(buf []byte, fromChip bool, direction dissect.Direction, enc *cbor.Encoder) []byte {
	for len(buf) > 0 {
		var (
			consumed int
			ok       bool
		)
		var frame dissect.DissectedFrame
		if fromChip {
			frame, consumed, ok = dissect.NextChipFrame(buf, captureRegisterMode)
		} else {
			frame, consumed, ok = dissect.NextHostFrame(buf)
		}
		if !ok {
			return buf
		}
		if fromChip && frame.Kind == dissect.FrameKindInvalid {
			skip := bm13xx.Resync(buf)
			if skip < 0 {
				return buf
			}
			buf = buf[skip:]
			continue
		}
		frame.Timestamp = time.Now()
		frame.Direction = direction
		printFrame(frame)
		if enc != nil {
			if err := enc.Encode(frame.ToRecord()); err != nil {
				fmt.Fprintf(os.Stderr, "export: %v\n", err)
			}
		}
		buf = buf[consumed:]
	}
	return buf
}

func printFrame(f dissect.DissectedFrame) {
	switch f.Kind {
	case dissect.FrameKindCommand:
		verb := "write"
		if f.Command.ReadNotWrite {
			verb = "read"
		}
		fmt.Printf("cmd  %-5s addr=0x%02x reg=0x%02x data=0x%08x broadcast=%v crc=%s\n",
			verb, f.Command.ChipAddr, f.Command.RegAddr, f.Command.Data, f.Command.Broadcast, f.CrcStatus)
	case dissect.FrameKindJob:
		fmt.Printf("job  id=%d ntime=%d nbits=0x%08x version=0x%08x crc=%s\n",
			f.Job.JobID, f.Job.NTime, f.Job.NBits, f.Job.Version, f.CrcStatus)
	case dissect.FrameKindResponse:
		switch f.Response.Kind {
		case bm13xx.ResponseKindNonce:
			n := f.Response.Nonce
			fmt.Printf("resp nonce=0x%08x job=%d core=%d subcore=%d\n", n.Nonce, n.JobID, n.MainCoreID, n.SubcoreID)
		case bm13xx.ResponseKindTemperature:
			fmt.Println("resp temperature/diagnostic reply")
		case bm13xx.ResponseKindRegister:
			r := f.Response.Register
			fmt.Printf("resp register addr=0x%02x reg=0x%02x value=0x%08x\n", r.ChipAddr, r.RegAddr, r.Value())
		}
	case dissect.FrameKindUnknown:
		fmt.Printf("??   %d bytes, unrecognized frame type\n", len(f.RawData))
	case dissect.FrameKindInvalid:
		fmt.Printf("!!   invalid frame: %s\n", f.Invalid)
	}
}
