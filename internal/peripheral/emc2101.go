package peripheral

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mujina-miner/mujina-miner/internal/bitaxeraw"
	"github.com/mujina-miner/mujina-miner/internal/mlog"
)

// emc2101Addr is the fixed I2C address of the EMC2101 fan/temperature
// controller as wired on the Bitaxe boards.
const emc2101Addr = 0x4C

// EMC2101 register map (Microchip datasheet). The board uses this chip
// for external-diode temperature and PWM fan control; the map also names
// the internal-temperature, status, configuration and product-ID
// registers.
const (
	regInternalTemp    = 0x00
	regExternalTempMSB = 0x01
	regStatus          = 0x02
	regConfig          = 0x03
	regConvertRate     = 0x04
	regExternalTempLSB = 0x10
	regTachLSB         = 0x46
	regTachMSB         = 0x47
	regFanConfig       = 0x4A
	regFanSetting      = 0x4C
	regPwmFreq         = 0x4D
	regPwmFreqDiv      = 0x4E
	regProductID       = 0xFD
)

// fanSettingMax is the full-scale PWM duty count (6-bit DAC).
const fanSettingMax = 0x3F

// tachRpmNumerator is the standard two-pole-fan tachometer constant
// used to convert a raw TACH count into RPM.
const tachRpmNumerator = 5_400_000

// BootFanPercent and ShutdownFanPercent are the fixed duty cycles the
// board driver commands at power-up (full cooling before the chip is
// characterized) and during an orderly shutdown.
const (
	BootFanPercent     = 100
	ShutdownFanPercent = 25
)

// Emc2101 drives the fan/temperature controller over a shared control
// channel.
type Emc2101 struct {
	ch  *bitaxeraw.ControlChannel
	log *slog.Logger
}

// NewEmc2101 wraps an already-open control channel.
func NewEmc2101(ch *bitaxeraw.ControlChannel) *Emc2101 {
	return &Emc2101{ch: ch, log: mlog.For("emc2101")}
}

// Init configures manual PWM fan control (LUT disabled) and drives the
// fan to BootFanPercent.
func (e *Emc2101) Init(ctx context.Context) error {
	// Bit 5 (0x20) of FAN_CONFIG disables the temperature lookup table so
	// FAN_SETTING drives the duty cycle directly.
	if err := e.writeByte(ctx, regFanConfig, 0x20); err != nil {
		return err
	}
	if err := e.writeByte(ctx, regPwmFreqDiv, 0x01); err != nil {
		return err
	}
	return e.SetFanSpeedPercent(ctx, BootFanPercent)
}

// SetFanSpeedPercent commands the fan duty cycle, 0-100.
func (e *Emc2101) SetFanSpeedPercent(ctx context.Context, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	value := uint8(percent * fanSettingMax / 100)
	return e.writeByte(ctx, regFanSetting, value)
}

// GetRPM reads the tachometer and converts to RPM. A count of 0xFFFF
// (stalled or absent) reads back as 0.
func (e *Emc2101) GetRPM(ctx context.Context) (uint16, error) {
	lsb, err := e.readByte(ctx, regTachLSB)
	if err != nil {
		return 0, err
	}
	msb, err := e.readByte(ctx, regTachMSB)
	if err != nil {
		return 0, err
	}
	count := uint16(lsb) | uint16(msb)<<8
	if count == 0 || count == 0xFFFF {
		return 0, nil
	}
	return uint16(tachRpmNumerator / uint32(count)), nil
}

// GetExternalTemperature reads the external diode (board/ASIC)
// temperature in °C, including the 1/8° fractional bits.
func (e *Emc2101) GetExternalTemperature(ctx context.Context) (float32, error) {
	msb, err := e.readByte(ctx, regExternalTempMSB)
	if err != nil {
		return 0, err
	}
	lsb, err := e.readByte(ctx, regExternalTempLSB)
	if err != nil {
		return 0, err
	}
	whole := float32(int8(msb))
	frac := float32(lsb>>5) / 8
	return whole + frac, nil
}

// GetInternalTemperature reads the controller's own die temperature in °C.
func (e *Emc2101) GetInternalTemperature(ctx context.Context) (int8, error) {
	b, err := e.readByte(ctx, regInternalTemp)
	if err != nil {
		return 0, err
	}
	return int8(b), nil
}

func (e *Emc2101) readByte(ctx context.Context, reg uint8) (uint8, error) {
	return bitaxeraw.CallWithTimeout(ctx, func() (uint8, error) {
		resp, err := e.ch.Send(bitaxeraw.PageI2C, emc2101Addr, []byte{reg})
		if err != nil {
			return 0, err
		}
		if len(resp.Payload) < 1 {
			return 0, fmt.Errorf("emc2101: short response to register 0x%02x", reg)
		}
		return resp.Payload[0], nil
	})
}

func (e *Emc2101) writeByte(ctx context.Context, reg, value uint8) error {
	_, err := bitaxeraw.CallWithTimeout(ctx, func() (struct{}, error) {
		_, err := e.ch.Send(bitaxeraw.PageI2C, emc2101Addr, []byte{reg, value})
		return struct{}{}, err
	})
	return err
}
