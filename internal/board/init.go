package board

import (
	"time"

	"github.com/mujina-miner/mujina-miner/internal/bm13xx"
)

// resetPin is the GPIO pin bitaxe-raw drives to hold the ASIC chain in
// reset (low) or release it (high).
const resetPin = 0

// chipID is the byte sequence a BM1370 reports on a register 0x00 read.
var chipID = [2]byte{0x13, 0x70}

const (
	pllStartMHz  = 56.25
	pllStepMHz   = 25.0
	registerLen  = 11
	frameRetries = 3
)

// writeRegister writes a register on the data port, broadcast or
// addressed to one chip.
func writeRegister(port DataPort, broadcast bool, addr, reg uint8, data uint32) error {
	_, err := port.Write(bm13xx.EncodeWriteRegister(broadcast, addr, reg, data))
	return err
}

// readRegister sends a register-read command to one chip and waits for
// its response, resyncing past noise and retrying a bounded number of
// times against a chain member that missed the first request.
func readRegister(port DataPort, addr, reg uint8) (bm13xx.Response, error) {
	var lastErr error
	for attempt := 0; attempt < frameRetries; attempt++ {
		if _, err := port.Write(bm13xx.EncodeReadRegister(false, addr, reg)); err != nil {
			return bm13xx.Response{}, err
		}
		resp, err := readFrame(port, discoveryReadTimeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return bm13xx.Response{}, lastErr
}

// readFrame accumulates bytes from port until a register-read response
// decodes, resyncing on bad preambles/CRCs, or deadline elapses.
func readFrame(port DataPort, deadline time.Duration) (bm13xx.Response, error) {
	buf := make([]byte, 0, 32)
	tmp := make([]byte, 64)
	start := time.Now()

	for {
		if time.Since(start) > deadline {
			return bm13xx.Response{}, ErrRegisterReadTimeout
		}
		n, err := port.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for len(buf) >= registerLen {
				resp, derr := bm13xx.DecodeRegisterResponse(buf[:registerLen])
				if derr == nil {
					return resp, nil
				}
				off := bm13xx.Resync(buf)
				if off < 0 {
					if len(buf) > 1 {
						buf = buf[len(buf)-1:]
					}
					break
				}
				buf = buf[off:]
			}
		}
		if err != nil {
			return bm13xx.Response{}, err
		}
	}
}

// runInitSequence executes the BM1370 broadcast/discovery register
// program over an already-reset-released, already-powered chain.
func runInitSequence(port DataPort, chipCount int, difficulty, versionMask uint32, targetFreqMHz float64) error {
	if err := writeRegister(port, true, 0, bm13xx.RegAnalogMuxControl, 0x0000a400); err != nil {
		return err
	}

	interval := bm13xx.ChipAddressInterval(chipCount)
	for i := 0; i < chipCount; i++ {
		addr := uint8(i) * interval
		resp, err := readRegister(port, addr, bm13xx.RegisterChipAddress)
		if err != nil {
			return err
		}
		if !resp.Register.IsChipID(chipID) {
			return ErrChipIDMismatch
		}
	}

	if err := writeRegister(port, true, 0, bm13xx.RegClockOrderControl0, 0x07000007); err != nil {
		return err
	}
	if err := writeRegister(port, true, 0, bm13xx.RegOrderedClockEnable, 0x00c100f0); err != nil {
		return err
	}
	for _, v := range []uint32{0x80008b00, 0x80008c00, 0x800082aa} {
		if err := writeRegister(port, true, 0, bm13xx.RegClockControl, v); err != nil {
			return err
		}
	}
	if err := writeRegister(port, true, 0, bm13xx.RegTicketMask, bm13xx.DifficultyMask(difficulty)); err != nil {
		return err
	}
	if err := writeRegister(port, true, 0, bm13xx.RegAnalogMuxControl, versionMask); err != nil {
		return err
	}
	if err := writeRegister(port, true, 0, bm13xx.RegMiscControl, 0x11110100); err != nil {
		return err
	}
	if err := writeRegister(port, true, 0, bm13xx.RegCoreRegisterControl, 0x00004480); err != nil {
		return err
	}
	if err := writeRegister(port, true, 0, bm13xx.RegCoreRegisterValue, 0x00000002); err != nil {
		return err
	}
	if err := writeRegister(port, true, 0, bm13xx.RegCoreRegisterControl, 0x00004480); err != nil {
		return err
	}

	return rampFrequency(port, targetFreqMHz)
}

// rampFrequency steps the chain's PLL up from a conservative starting
// point to the target frequency in fixed-size increments rather than
// one large jump, which the ASIC's PLL cannot lock reliably.
//
// The register 0x08 bit layout for the underlying PLL divider chain is
// not part of any retrieved source; this encodes frequency in whole
// MHz directly into the register word, sufficient to exercise the
// step-and-settle ramp behavior without claiming a hardware-verified
// bit-accurate PLL packing (unlike the surrounding steps, this one is
// not specified bit-exact).
func rampFrequency(port DataPort, targetMHz float64) error {
	freq := pllStartMHz
	for {
		if freq > targetMHz {
			freq = targetMHz
		}
		if err := writeRegister(port, true, 0, bm13xx.RegPLL3Parameter, pllRegisterValue(freq)); err != nil {
			return err
		}
		time.Sleep(10 * time.Millisecond)
		if freq >= targetMHz {
			return nil
		}
		freq += pllStepMHz
	}
}

func pllRegisterValue(mhz float64) uint32 {
	return uint32(mhz * 1000)
}
