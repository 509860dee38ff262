package peripheral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mujina-miner/mujina-miner/internal/bitaxeraw"
	"github.com/mujina-miner/mujina-miner/internal/mlog"
)

// tps546Addr is the TPS546D24A's fixed I2C address.
const tps546Addr = 0x24

// safetyVoutMin and safetyVoutMax bound every set_vout call regardless
// of the configured [VoutMin, VoutMax] band: no configuration mistake
// can command the buck converter outside a physically survivable range
// for the BM1370 core rail.
const (
	safetyVoutMin = 0.5
	safetyVoutMax = 2.0
)

var (
	ErrDeviceIDMismatch  = errors.New("tps546: device id mismatch")
	ErrVoltageOutOfRange = errors.New("tps546: voltage out of range")
)

var tps546DeviceIDs = [][6]byte{
	{0x54, 0x49, 0x54, 0x6B, 0x24, 0x41}, // TPS546D24A
	{0x54, 0x49, 0x54, 0x6D, 0x24, 0x41}, // TPS546D24A
	{0x54, 0x49, 0x54, 0x6D, 0x24, 0x62}, // TPS546D24S
}

// Tps546Config holds the per-board power configuration written during
// init. Values are in the SI units named by the field, converted to
// SLINEAR11/ULINEAR16 at the wire boundary.
type Tps546Config struct {
	VinOn            float32
	VinOff           float32
	VinUvWarnLimit   float32 // 0 disables the check; TI erratum on some silicon revisions
	VinOvFaultLimit  float32
	VoutScaleLoop    float32
	VoutMin          float32
	VoutMax          float32
	VoutCommand      float32
	IoutOcWarnLimit  float32
	IoutOcFaultLimit float32
}

// BitaxeGammaTps546Config returns the power configuration for a single-ASIC
// Bitaxe Gamma board (BM1370 core rail).
func BitaxeGammaTps546Config() Tps546Config {
	return Tps546Config{
		VinOn:            4.8,
		VinOff:           4.5,
		VinUvWarnLimit:   0.0,
		VinOvFaultLimit:  6.5,
		VoutScaleLoop:    0.25,
		VoutMin:          1.0,
		VoutMax:          2.0,
		VoutCommand:      1.15,
		IoutOcWarnLimit:  25.0,
		IoutOcFaultLimit: 30.0,
	}
}

// Tps546 drives a TPS546D24A buck converter over a shared control
// channel. It is safe for concurrent use: every call goes through
// ControlChannel's own exclusion.
type Tps546 struct {
	ch     *bitaxeraw.ControlChannel
	config Tps546Config
	log    *slog.Logger
}

// NewTps546 wraps an already-open control channel. It does not touch
// the device; call Init to configure it.
func NewTps546(ch *bitaxeraw.ControlChannel, config Tps546Config) *Tps546 {
	return &Tps546{ch: ch, config: config, log: mlog.For("tps546")}
}

// Init verifies the device ID and writes the full PMBus configuration,
// mirroring the sequence esp-miner uses: output off, ON_OFF_CONFIG,
// then every VOUT/IOUT/OT/timing limit.
func (t *Tps546) Init(ctx context.Context) error {
	if err := t.verifyDeviceID(ctx); err != nil {
		return err
	}

	if err := t.writeByte(ctx, CmdOperation, OperationOffImmediate); err != nil {
		return err
	}

	onOff := uint8(OnOffConfigDelay | OnOffConfigPolarity | OnOffConfigCP | OnOffConfigCMD | OnOffConfigPU)
	if err := t.writeByte(ctx, CmdOnOffConfig, onOff); err != nil {
		return err
	}

	if _, err := t.readByte(ctx, CmdVoutMode); err != nil {
		return err
	}

	if err := t.writeConfig(ctx); err != nil {
		return err
	}

	status, err := t.readWord(ctx, CmdStatusWord)
	if err != nil {
		return err
	}
	t.log.Debug("status after config", "status", fmt.Sprintf("0x%04x", status), "flags", DecodeStatusWord(status))
	return nil
}

func (t *Tps546) writeConfig(ctx context.Context) error {
	var lin11 Linear11

	if err := t.writeByte(ctx, CmdPhase, 0x00); err != nil {
		return err
	}
	if err := t.writeWord(ctx, CmdFrequencySwitch, lin11.FromInt(650)); err != nil {
		return err
	}

	if t.config.VinUvWarnLimit > 0 {
		if err := t.writeWord(ctx, CmdVinUvWarnLimit, lin11.FromFloat(t.config.VinUvWarnLimit)); err != nil {
			return err
		}
	}
	if err := t.writeWord(ctx, CmdVinOn, lin11.FromFloat(t.config.VinOn)); err != nil {
		return err
	}
	if err := t.writeWord(ctx, CmdVinOff, lin11.FromFloat(t.config.VinOff)); err != nil {
		return err
	}
	if err := t.writeWord(ctx, CmdVinOvFaultLimit, lin11.FromFloat(t.config.VinOvFaultLimit)); err != nil {
		return err
	}
	if err := t.writeByte(ctx, CmdVinOvFaultResponse, 0xB7); err != nil { // shutdown, 4 retries, 182ms
		return err
	}

	if err := t.writeWord(ctx, CmdVoutScaleLoop, lin11.FromFloat(t.config.VoutScaleLoop)); err != nil {
		return err
	}
	if err := t.writeUlinear16(ctx, CmdVoutCommand, t.config.VoutCommand); err != nil {
		return err
	}
	if err := t.writeUlinear16(ctx, CmdVoutMax, t.config.VoutMax); err != nil {
		return err
	}
	if err := t.writeUlinear16(ctx, CmdVoutMin, t.config.VoutMin); err != nil {
		return err
	}

	const (
		voutOvFault  = 1.25
		voutOvWarn   = 1.16
		voutMarginHi = 1.10
		voutMarginLo = 0.90
		voutUvWarn   = 0.90
		voutUvFault  = 0.75
	)
	if err := t.writeUlinear16(ctx, CmdVoutOvFaultLimit, voutOvFault); err != nil {
		return err
	}
	if err := t.writeUlinear16(ctx, CmdVoutOvWarnLimit, voutOvWarn); err != nil {
		return err
	}
	if err := t.writeUlinear16(ctx, CmdVoutMarginHigh, voutMarginHi); err != nil {
		return err
	}
	if err := t.writeUlinear16(ctx, CmdVoutMarginLow, voutMarginLo); err != nil {
		return err
	}
	if err := t.writeUlinear16(ctx, CmdVoutUvWarnLimit, voutUvWarn); err != nil {
		return err
	}
	if err := t.writeUlinear16(ctx, CmdVoutUvFaultLimit, voutUvFault); err != nil {
		return err
	}

	if err := t.writeWord(ctx, CmdIoutOcWarnLimit, lin11.FromFloat(t.config.IoutOcWarnLimit)); err != nil {
		return err
	}
	if err := t.writeWord(ctx, CmdIoutOcFaultLimit, lin11.FromFloat(t.config.IoutOcFaultLimit)); err != nil {
		return err
	}
	if err := t.writeByte(ctx, CmdIoutOcFaultResponse, 0xC0); err != nil { // shutdown immediately
		return err
	}

	if err := t.writeWord(ctx, CmdOtWarnLimit, lin11.FromInt(105)); err != nil {
		return err
	}
	if err := t.writeWord(ctx, CmdOtFaultLimit, lin11.FromInt(145)); err != nil {
		return err
	}
	if err := t.writeByte(ctx, CmdOtFaultResponse, 0xFF); err != nil { // infinite retries
		return err
	}

	if err := t.writeWord(ctx, CmdTonDelay, lin11.FromInt(0)); err != nil {
		return err
	}
	if err := t.writeWord(ctx, CmdTonRise, lin11.FromInt(3)); err != nil {
		return err
	}
	if err := t.writeWord(ctx, CmdTonMaxFaultLimit, lin11.FromInt(0)); err != nil {
		return err
	}
	if err := t.writeByte(ctx, CmdTonMaxFaultResponse, 0x3B); err != nil {
		return err
	}
	if err := t.writeWord(ctx, CmdToffDelay, lin11.FromInt(0)); err != nil {
		return err
	}
	if err := t.writeWord(ctx, CmdToffFall, lin11.FromInt(0)); err != nil {
		return err
	}

	return t.writeWord(ctx, CmdPinDetectOverride, 0xFFFF)
}

func (t *Tps546) verifyDeviceID(ctx context.Context) error {
	resp, err := t.readBlock(ctx, CmdIcDeviceID, 6)
	if err != nil {
		return err
	}
	var got [6]byte
	copy(got[:], resp)
	for _, want := range tps546DeviceIDs {
		if got == want {
			return nil
		}
	}
	t.log.Error("device id mismatch", "got", fmt.Sprintf("% x", got))
	return ErrDeviceIDMismatch
}

// ClearFaults clears all latched PMBus fault bits.
func (t *Tps546) ClearFaults(ctx context.Context) error {
	_, err := bitaxeraw.CallWithTimeout(ctx, func() (struct{}, error) {
		_, err := t.ch.Send(bitaxeraw.PageI2C, tps546Addr, []byte{CmdClearFaults})
		return struct{}{}, err
	})
	return err
}

// SetVout commands the output voltage. volts == 0 turns the output off
// immediately; any other value must fall within both the configured
// [VoutMin, VoutMax] band and the hardware safety band.
func (t *Tps546) SetVout(ctx context.Context, volts float32) error {
	if volts == 0 {
		return t.writeByte(ctx, CmdOperation, OperationOffImmediate)
	}

	if volts < t.config.VoutMin || volts > t.config.VoutMax {
		return fmt.Errorf("%w: %.3fV (configured range %.3f-%.3fV)", ErrVoltageOutOfRange, volts, t.config.VoutMin, t.config.VoutMax)
	}
	if volts < safetyVoutMin || volts > safetyVoutMax {
		return fmt.Errorf("%w: %.3fV (hardware safety range %.3f-%.3fV)", ErrVoltageOutOfRange, volts, safetyVoutMin, safetyVoutMax)
	}

	if err := t.writeUlinear16(ctx, CmdVoutCommand, volts); err != nil {
		return err
	}
	if err := t.writeByte(ctx, CmdOperation, OperationOn); err != nil {
		return err
	}

	op, err := t.readByte(ctx, CmdOperation)
	if err != nil {
		return err
	}
	if op != OperationOn {
		t.log.Error("failed to turn on output", "operation", fmt.Sprintf("0x%02x", op))
	}
	return nil
}

// GetVin returns the input voltage in millivolts.
func (t *Tps546) GetVin(ctx context.Context) (uint32, error) {
	value, err := t.readWord(ctx, CmdReadVin)
	if err != nil {
		return 0, err
	}
	var lin11 Linear11
	return uint32(lin11.ToFloat(value) * 1000), nil
}

// GetVout returns the output voltage in millivolts.
func (t *Tps546) GetVout(ctx context.Context) (uint32, error) {
	volts, err := t.readUlinear16(ctx, CmdReadVout)
	if err != nil {
		return 0, err
	}
	return uint32(volts * 1000), nil
}

// GetIout returns the output current in milliamps.
func (t *Tps546) GetIout(ctx context.Context) (uint32, error) {
	if err := t.writeByte(ctx, CmdPhase, 0xFF); err != nil { // 0xFF reads all phases summed
		return 0, err
	}
	value, err := t.readWord(ctx, CmdReadIout)
	if err != nil {
		return 0, err
	}
	var lin11 Linear11
	return uint32(lin11.ToFloat(value) * 1000), nil
}

// GetPower returns output power in milliwatts, derived from GetVout
// and GetIout rather than a dedicated READ_POUT command.
func (t *Tps546) GetPower(ctx context.Context) (uint32, error) {
	voutMv, err := t.GetVout(ctx)
	if err != nil {
		return 0, err
	}
	ioutMa, err := t.GetIout(ctx)
	if err != nil {
		return 0, err
	}
	return uint32(uint64(voutMv) * uint64(ioutMa) / 1000), nil
}

// GetTemperature returns the converter's internal temperature in °C.
func (t *Tps546) GetTemperature(ctx context.Context) (int32, error) {
	value, err := t.readWord(ctx, CmdReadTemperature1)
	if err != nil {
		return 0, err
	}
	var lin11 Linear11
	return lin11.ToInt(value), nil
}

// ReadStatus reads STATUS_WORD and, for any set fault-group bit, the
// corresponding detail byte. It returns the decoded status plus an
// error identifying critical faults (VOUT/IOUT OV/UV/OC, CML, or the
// unit reporting itself OFF).
func (t *Tps546) ReadStatus(ctx context.Context) (uint16, []string, error) {
	status, err := t.readWord(ctx, CmdStatusWord)
	if err != nil {
		return 0, nil, err
	}
	if status == 0 {
		return 0, nil, nil
	}

	var critical []string
	desc := DecodeStatusWord(status)

	checkByte := func(bit uint16, cmd uint8, criticalBits uint8, decode func(uint8) []string, label string) error {
		if status&bit == 0 {
			return nil
		}
		b, err := t.readByte(ctx, cmd)
		if err != nil {
			return err
		}
		d := decode(b)
		if b&criticalBits != 0 {
			critical = append(critical, fmt.Sprintf("%s: %v", label, d))
		}
		return nil
	}

	if err := checkByte(StatusWordVOUT, CmdStatusVout, StatusVoutOvFault|StatusVoutUvFault, DecodeStatusVout, "VOUT fault"); err != nil {
		return 0, nil, err
	}
	if err := checkByte(StatusWordIOUT, CmdStatusIout, StatusIoutOcFault, DecodeStatusIout, "IOUT overcurrent"); err != nil {
		return 0, nil, err
	}
	if err := checkByte(StatusWordINPUT, CmdStatusInput, StatusInputOffLowVin|StatusInputVinUvFault|StatusInputVinOvFault, DecodeStatusInput, "INPUT fault"); err != nil {
		return 0, nil, err
	}
	if err := checkByte(StatusWordTEMP, CmdStatusTemperature, StatusTempOtFault, DecodeStatusTemp, "Overtemperature"); err != nil {
		return 0, nil, err
	}
	if status&StatusWordCML != 0 {
		b, err := t.readByte(ctx, CmdStatusCml)
		if err != nil {
			return 0, nil, err
		}
		critical = append(critical, fmt.Sprintf("CML fault: %v", DecodeStatusCml(b)))
	}
	if status&StatusWordOFF != 0 {
		critical = append(critical, "power controller is OFF")
	}

	if len(critical) > 0 {
		return status, desc, fmt.Errorf("tps546: critical fault: %v", critical)
	}
	return status, desc, nil
}

func (t *Tps546) readUlinear16(ctx context.Context, cmd uint8) (float32, error) {
	value, err := t.readWord(ctx, cmd)
	if err != nil {
		return 0, err
	}
	mode, err := t.readByte(ctx, CmdVoutMode)
	if err != nil {
		return 0, err
	}
	var lin16 Linear16
	return lin16.ToFloat(value, mode), nil
}

func (t *Tps546) writeUlinear16(ctx context.Context, cmd uint8, volts float32) error {
	mode, err := t.readByte(ctx, CmdVoutMode)
	if err != nil {
		return err
	}
	var lin16 Linear16
	value, err := lin16.FromFloat(volts, mode)
	if err != nil {
		return err
	}
	return t.writeWord(ctx, cmd, value)
}

func (t *Tps546) readByte(ctx context.Context, cmd uint8) (uint8, error) {
	return bitaxeraw.CallWithTimeout(ctx, func() (uint8, error) {
		resp, err := t.ch.Send(bitaxeraw.PageI2C, tps546Addr, []byte{cmd})
		if err != nil {
			return 0, err
		}
		if len(resp.Payload) < 1 {
			return 0, fmt.Errorf("tps546: short response to command 0x%02x", cmd)
		}
		return resp.Payload[0], nil
	})
}

func (t *Tps546) writeByte(ctx context.Context, cmd, value uint8) error {
	_, err := bitaxeraw.CallWithTimeout(ctx, func() (struct{}, error) {
		_, err := t.ch.Send(bitaxeraw.PageI2C, tps546Addr, []byte{cmd, value})
		return struct{}{}, err
	})
	return err
}

func (t *Tps546) readWord(ctx context.Context, cmd uint8) (uint16, error) {
	return bitaxeraw.CallWithTimeout(ctx, func() (uint16, error) {
		resp, err := t.ch.Send(bitaxeraw.PageI2C, tps546Addr, []byte{cmd})
		if err != nil {
			return 0, err
		}
		if len(resp.Payload) < 2 {
			return 0, fmt.Errorf("tps546: short response to command 0x%02x", cmd)
		}
		return uint16(resp.Payload[0]) | uint16(resp.Payload[1])<<8, nil
	})
}

func (t *Tps546) writeWord(ctx context.Context, cmd uint8, value uint16) error {
	_, err := bitaxeraw.CallWithTimeout(ctx, func() (struct{}, error) {
		_, err := t.ch.Send(bitaxeraw.PageI2C, tps546Addr, []byte{cmd, byte(value), byte(value >> 8)})
		return struct{}{}, err
	})
	return err
}

func (t *Tps546) readBlock(ctx context.Context, cmd uint8, length int) ([]byte, error) {
	return bitaxeraw.CallWithTimeout(ctx, func() ([]byte, error) {
		resp, err := t.ch.Send(bitaxeraw.PageI2C, tps546Addr, []byte{cmd})
		if err != nil {
			return nil, err
		}
		if len(resp.Payload) < length {
			return nil, fmt.Errorf("tps546: short block response to command 0x%02x", cmd)
		}
		return resp.Payload[:length], nil
	})
}
