// Package peripheral drives the board's PMBus power controller (TPS546D24A)
// and fan/temperature controller (EMC2101) over a shared bitaxeraw.ControlChannel.
package peripheral

import (
	"errors"
	"fmt"
)

// PMBus standard command codes. Only the subset the board's power path
// and diagnostic tooling touch are named; everything else in a capture
// is reported as a raw command byte.
const (
	CmdPage                = 0x00
	CmdOperation           = 0x01
	CmdOnOffConfig         = 0x02
	CmdClearFaults         = 0x03
	CmdPhase               = 0x04
	CmdCapability          = 0x19
	CmdVoutMode            = 0x20
	CmdVoutCommand         = 0x21
	CmdVoutMax             = 0x24
	CmdVoutMarginHigh      = 0x25
	CmdVoutMarginLow       = 0x26
	CmdVoutScaleLoop       = 0x29
	CmdVoutMin             = 0x2B
	CmdFrequencySwitch     = 0x33
	CmdVinOn               = 0x35
	CmdVinOff              = 0x36
	CmdInterleave          = 0x37
	CmdVoutOvFaultLimit    = 0x40
	CmdVoutOvWarnLimit     = 0x42
	CmdVoutUvWarnLimit     = 0x43
	CmdVoutUvFaultLimit    = 0x44
	CmdIoutOcFaultLimit    = 0x46
	CmdIoutOcFaultResponse = 0x47
	CmdIoutOcWarnLimit     = 0x4A
	CmdOtFaultLimit        = 0x4F
	CmdOtFaultResponse     = 0x50
	CmdOtWarnLimit         = 0x51
	CmdVinOvFaultLimit     = 0x55
	CmdVinOvFaultResponse  = 0x56
	CmdVinUvWarnLimit      = 0x58
	CmdTonDelay            = 0x60
	CmdTonRise             = 0x61
	CmdTonMaxFaultLimit    = 0x62
	CmdTonMaxFaultResponse = 0x63
	CmdToffDelay           = 0x64
	CmdToffFall            = 0x65
	CmdStatusWord          = 0x79
	CmdStatusVout          = 0x7A
	CmdStatusIout          = 0x7B
	CmdStatusInput         = 0x7C
	CmdStatusTemperature   = 0x7D
	CmdStatusCml           = 0x7E
	CmdStatusOther         = 0x7F
	CmdStatusMfrSpecific   = 0x80
	CmdReadVin             = 0x88
	CmdReadVout            = 0x8B
	CmdReadIout            = 0x8C
	CmdReadTemperature1    = 0x8D
	CmdMfrID               = 0x99
	CmdMfrModel            = 0x9A
	CmdMfrRevision         = 0x9B
	CmdIcDeviceID          = 0xAD
	CmdCompensationConfig  = 0xB1
	CmdSyncConfig          = 0xE4
	CmdStackConfig         = 0xEC
	CmdMiscOptions         = 0xED
	CmdPinDetectOverride   = 0xEE
	CmdSlaveAddress        = 0xEF
	CmdNvmChecksum         = 0xF0
	CmdSimulateFault       = 0xF1
)

// Operation (0x01) command values.
const (
	OperationOffImmediate = 0x00
	OperationMarginLow    = 0x18
	OperationMarginHigh   = 0x28
	OperationSoftOff      = 0x40
	OperationOn           = 0x80
	OperationOnMarginLow  = 0x98
	OperationOnMarginHigh = 0xA8
)

// ON_OFF_CONFIG (0x02) bits.
const (
	OnOffConfigPU       = 0x10
	OnOffConfigCMD      = 0x08
	OnOffConfigCP       = 0x04
	OnOffConfigPolarity = 0x02
	OnOffConfigDelay    = 0x01
)

// STATUS_WORD (0x79) bits.
const (
	StatusWordVOUT    = 0x8000
	StatusWordIOUT    = 0x4000
	StatusWordINPUT   = 0x2000
	StatusWordMFR     = 0x1000
	StatusWordPGOOD   = 0x0800
	StatusWordFANS    = 0x0400
	StatusWordOTHER   = 0x0200
	StatusWordUNKNOWN = 0x0100
	StatusWordBUSY    = 0x0080
	StatusWordOFF     = 0x0040
	StatusWordVoutOV  = 0x0020
	StatusWordIoutOC  = 0x0010
	StatusWordVinUV   = 0x0008
	StatusWordTEMP    = 0x0004
	StatusWordCML     = 0x0002
	StatusWordNONE    = 0x0001
)

// STATUS_VOUT (0x7A) bits.
const (
	StatusVoutOvFault  = 0x80
	StatusVoutOvWarn   = 0x40
	StatusVoutUvWarn   = 0x20
	StatusVoutUvFault  = 0x10
	StatusVoutAtMax    = 0x08
	StatusVoutTonMax   = 0x02
	StatusVoutAtMin    = 0x01
)

// STATUS_IOUT (0x7B) bits.
const (
	StatusIoutOcFault    = 0x80
	StatusIoutOcLvFault  = 0x40
	StatusIoutOcWarn     = 0x20
	StatusIoutUcFault    = 0x10
	StatusIoutCurrShare  = 0x08
	StatusIoutInPwrLim   = 0x04
	StatusIoutPoutFault  = 0x02
	StatusIoutPoutWarn   = 0x01
)

// STATUS_INPUT (0x7C) bits.
const (
	StatusInputVinOvFault = 0x80
	StatusInputVinOvWarn  = 0x40
	StatusInputVinUvWarn  = 0x20
	StatusInputVinUvFault = 0x10
	StatusInputOffLowVin  = 0x08
	StatusInputIinOcFault = 0x04
	StatusInputIinOcWarn  = 0x02
	StatusInputPinOpWarn  = 0x01
)

// STATUS_TEMPERATURE (0x7D) bits.
const (
	StatusTempOtFault = 0x80
	StatusTempOtWarn  = 0x40
	StatusTempUtWarn  = 0x20
	StatusTempUtFault = 0x10
)

// STATUS_CML (0x7E) bits.
const (
	StatusCmlInvalidCmd    = 0x80
	StatusCmlInvalidData   = 0x40
	StatusCmlPecFault      = 0x20
	StatusCmlMemoryFault   = 0x10
	StatusCmlProcessor     = 0x08
	StatusCmlOtherComm     = 0x02
	StatusCmlOtherMemLogic = 0x01
)

var (
	ErrValueOutOfRange   = errors.New("pmbus: value out of range")
	ErrCommandUnsupported = errors.New("pmbus: command not supported")
)

// DecodeStatusWord returns the set of human-readable flag descriptions
// for a STATUS_WORD reading, matching the diagnostic tool's capture
// annotation output.
func DecodeStatusWord(status uint16) []string {
	var desc []string
	add := func(bit uint16, s string) {
		if status&bit != 0 {
			desc = append(desc, s)
		}
	}
	add(StatusWordVOUT, "VOUT fault/warning")
	add(StatusWordIOUT, "IOUT fault/warning")
	add(StatusWordINPUT, "INPUT fault/warning")
	add(StatusWordMFR, "MFR specific")
	add(StatusWordPGOOD, "PGOOD")
	add(StatusWordFANS, "FAN fault/warning")
	add(StatusWordOTHER, "OTHER")
	add(StatusWordUNKNOWN, "UNKNOWN")
	add(StatusWordBUSY, "BUSY")
	add(StatusWordOFF, "OFF")
	add(StatusWordVoutOV, "VOUT_OV fault")
	add(StatusWordIoutOC, "IOUT_OC fault")
	add(StatusWordVinUV, "VIN_UV fault")
	add(StatusWordTEMP, "TEMP fault/warning")
	add(StatusWordCML, "CML fault")
	if status&StatusWordNONE != 0 && len(desc) == 0 {
		desc = append(desc, "NONE_OF_THE_ABOVE")
	}
	return desc
}

// DecodeStatusVout decodes a STATUS_VOUT byte.
func DecodeStatusVout(status uint8) []string {
	return decodeByteFlags(status, []flagDesc{
		{StatusVoutOvFault, "OV fault"},
		{StatusVoutOvWarn, "OV warning"},
		{StatusVoutUvWarn, "UV warning"},
		{StatusVoutUvFault, "UV fault"},
		{StatusVoutAtMax, "at MAX"},
		{StatusVoutTonMax, "failed to start"},
		{StatusVoutAtMin, "at MIN"},
	})
}

// DecodeStatusIout decodes a STATUS_IOUT byte.
func DecodeStatusIout(status uint8) []string {
	return decodeByteFlags(status, []flagDesc{
		{StatusIoutOcFault, "OC fault"},
		{StatusIoutOcLvFault, "OC+LV fault"},
		{StatusIoutOcWarn, "OC warning"},
		{StatusIoutUcFault, "UC fault"},
		{StatusIoutCurrShare, "current share fault"},
		{StatusIoutInPwrLim, "power limiting"},
		{StatusIoutPoutFault, "overpower fault"},
		{StatusIoutPoutWarn, "overpower warning"},
	})
}

// DecodeStatusInput decodes a STATUS_INPUT byte.
func DecodeStatusInput(status uint8) []string {
	return decodeByteFlags(status, []flagDesc{
		{StatusInputVinOvFault, "VIN OV fault"},
		{StatusInputVinOvWarn, "VIN OV warning"},
		{StatusInputVinUvWarn, "VIN UV warning"},
		{StatusInputVinUvFault, "VIN UV fault"},
		{StatusInputOffLowVin, "off due to low VIN"},
		{StatusInputIinOcFault, "IIN OC fault"},
		{StatusInputIinOcWarn, "IIN OC warning"},
		{StatusInputPinOpWarn, "input overpower warning"},
	})
}

// DecodeStatusTemp decodes a STATUS_TEMPERATURE byte.
func DecodeStatusTemp(status uint8) []string {
	return decodeByteFlags(status, []flagDesc{
		{StatusTempOtFault, "overtemp fault"},
		{StatusTempOtWarn, "overtemp warning"},
		{StatusTempUtWarn, "undertemp warning"},
		{StatusTempUtFault, "undertemp fault"},
	})
}

// DecodeStatusCml decodes a STATUS_CML byte.
func DecodeStatusCml(status uint8) []string {
	return decodeByteFlags(status, []flagDesc{
		{StatusCmlInvalidCmd, "invalid command"},
		{StatusCmlInvalidData, "invalid data"},
		{StatusCmlPecFault, "PEC error"},
		{StatusCmlMemoryFault, "memory fault"},
		{StatusCmlProcessor, "processor fault"},
		{StatusCmlOtherComm, "other comm fault"},
		{StatusCmlOtherMemLogic, "other mem/logic fault"},
	})
}

type flagDesc struct {
	bit  uint8
	text string
}

func decodeByteFlags(status uint8, flags []flagDesc) []string {
	var desc []string
	for _, f := range flags {
		if status&f.bit != 0 {
			desc = append(desc, f.text)
		}
	}
	return desc
}

// DecodeFaultResponse renders a *_FAULT_RESPONSE byte (retry/delay
// policy) as a human-readable description for capture annotation.
func DecodeFaultResponse(response uint8) string {
	switch response {
	case 0x00:
		return "ignore fault"
	case 0xC0:
		return "shutdown immediately, no retries"
	case 0xFF:
		return "infinite retries, wait for recovery"
	}

	responseType := (response >> 5) & 0x07
	retryCount := (response >> 3) & 0x03
	delayTime := response & 0x07

	responseDesc := [...]string{
		"ignore fault",
		"shutdown, retry indefinitely",
		"shutdown, no retry",
		"shutdown with retries",
		"continue, retry indefinitely",
		"continue, no retry",
		"continue with retries",
		"shutdown with delay and retries",
	}[responseType]

	if retryCount == 0 || responseType == 0b010 || responseType == 0b101 {
		return responseDesc
	}

	retriesDesc := ""
	switch retryCount {
	case 0b00:
		retriesDesc = "no retries"
	case 0b01:
		retriesDesc = "1 retry"
	case 0b10:
		retriesDesc = "2 retries"
	case 0b11:
		if responseType == 0b001 || responseType == 0b100 {
			retriesDesc = "infinite retries"
		} else {
			retriesDesc = "3 retries"
		}
	}

	delayDesc := [...]string{
		"0ms", "22.7ms", "45.4ms", "91ms", "182ms", "364ms", "728ms", "1456ms",
	}[delayTime]

	return fmt.Sprintf("%s, %s, %s delay", responseDesc, retriesDesc, delayDesc)
}
