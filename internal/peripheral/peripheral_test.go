package peripheral

import (
	"context"
	"io"
	"testing"

	"github.com/mujina-miner/mujina-miner/internal/bitaxeraw"
)

func TestLinear11RoundTrip(t *testing.T) {
	var l Linear11
	for _, v := range []float32{0, 1.15, 4.8, -12, 650, 105} {
		enc := l.FromFloat(v)
		got := l.ToFloat(enc)
		diff := got - v
		if diff < 0 {
			diff = -diff
		}
		if diff > 0.05 {
			t.Fatalf("round trip %v: got %v (encoded 0x%04x)", v, got, enc)
		}
	}
}

func TestLinear11ToIntTemperature(t *testing.T) {
	var l Linear11
	enc := l.FromInt(105)
	if got := l.ToInt(enc); got != 105 {
		t.Fatalf("got %d want 105", got)
	}
}

func TestLinear16RoundTrip(t *testing.T) {
	var l Linear16
	const voutMode = 0x17 // exponent -9
	enc, err := l.FromFloat(1.15, voutMode)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := l.ToFloat(enc, voutMode)
	diff := got - 1.15
	if diff < 0 {
		diff = -diff
	}
	if diff > 0.01 {
		t.Fatalf("round trip: got %v", got)
	}
}

func TestLinear16OutOfRange(t *testing.T) {
	var l Linear16
	// exponent -9 caps the mantissa at 0xFFFF / 512 ≈ 128V.
	if _, err := l.FromFloat(1e6, 0x17); err != ErrValueOutOfRange {
		t.Fatalf("expected ErrValueOutOfRange, got %v", err)
	}
}

func TestDecodeStatusWordNoFlags(t *testing.T) {
	desc := DecodeStatusWord(StatusWordNONE)
	if len(desc) != 1 || desc[0] != "NONE_OF_THE_ABOVE" {
		t.Fatalf("unexpected decode: %v", desc)
	}
}

func TestDecodeStatusWordFaults(t *testing.T) {
	desc := DecodeStatusWord(StatusWordVOUT | StatusWordTEMP)
	if len(desc) != 2 {
		t.Fatalf("expected 2 flags, got %v", desc)
	}
}

func TestDecodeFaultResponseFixedCodes(t *testing.T) {
	if got := DecodeFaultResponse(0xC0); got != "shutdown immediately, no retries" {
		t.Fatalf("got %q", got)
	}
	if got := DecodeFaultResponse(0xFF); got != "infinite retries, wait for recovery" {
		t.Fatalf("got %q", got)
	}
}

// fakePort answers PMBus reads with a canned register map, keyed by
// (i2c address, command byte), and records writes.
type fakePort struct {
	regs   map[uint8]map[uint8][]byte
	writes []byte
}

func newFakePort() *fakePort {
	return &fakePort{regs: make(map[uint8]map[uint8][]byte)}
}

func (p *fakePort) set(addr, cmd uint8, data []byte) {
	if p.regs[addr] == nil {
		p.regs[addr] = make(map[uint8][]byte)
	}
	p.regs[addr][cmd] = data
}

// loopback decodes each request into a response frame and streams it
// out over however many Read calls the caller makes (ControlChannel
// reads the 2-byte length header and the id+payload separately, so a
// single-shot response must survive being read in two pieces).
type loopback struct {
	port    *fakePort
	pending []byte
	outBuf  []byte
}

func (l *loopback) Write(b []byte) (int, error) {
	l.pending = append([]byte(nil), b...)
	l.outBuf = l.buildResponse()
	return len(b), nil
}

// buildResponse decodes the pending request against the fake register
// map. A single data byte is a combined write-read (write the register
// address, read back its stored value, matching I2c::write_read); two
// or more data bytes are a plain write.
func (l *loopback) buildResponse() []byte {
	// request layout: len[2] id bus page command data...
	req := l.pending
	id := req[2]
	addr := req[5]
	data := req[6:]

	var payload []byte
	if len(data) >= 2 {
		reg := data[0]
		l.port.set(addr, reg, data[1:])
	} else {
		reg := data[0]
		payload = append([]byte{}, l.port.regs[addr][reg]...)
	}

	resp := make([]byte, 0, 2+1+len(payload))
	resp = append(resp, byte(len(payload)), byte(len(payload)>>8))
	resp = append(resp, id)
	resp = append(resp, payload...)
	return resp
}

func (l *loopback) Read(b []byte) (int, error) {
	if len(l.outBuf) == 0 {
		return 0, io.EOF
	}
	n := copy(b, l.outBuf)
	l.outBuf = l.outBuf[n:]
	return n, nil
}

func TestTps546SetVoutRejectsOutOfRange(t *testing.T) {
	port := newFakePort()
	lb := &loopback{port: port}
	ch := bitaxeraw.NewControlChannel(lb)
	cfg := BitaxeGammaTps546Config()
	dev := NewTps546(ch, cfg)

	if err := dev.SetVout(context.Background(), 3.0); err == nil {
		t.Fatalf("expected out-of-configured-range error")
	}
	if err := dev.SetVout(context.Background(), 0.6); err == nil {
		t.Fatalf("expected out-of-configured-range error (below VoutMin)")
	}
}

func TestTps546SetVoutZeroTurnsOff(t *testing.T) {
	port := newFakePort()
	lb := &loopback{port: port}
	ch := bitaxeraw.NewControlChannel(lb)
	dev := NewTps546(ch, BitaxeGammaTps546Config())

	if err := dev.SetVout(context.Background(), 0); err != nil {
		t.Fatalf("set vout 0: %v", err)
	}
	got := port.regs[tps546Addr][CmdOperation]
	if len(got) != 1 || got[0] != OperationOffImmediate {
		t.Fatalf("expected OFF_IMMEDIATE written, got %v", got)
	}
}

func TestEmc2101FanSpeedClampsAndScales(t *testing.T) {
	port := newFakePort()
	lb := &loopback{port: port}
	ch := bitaxeraw.NewControlChannel(lb)
	dev := NewEmc2101(ch)

	if err := dev.SetFanSpeedPercent(context.Background(), 200); err != nil {
		t.Fatalf("set fan: %v", err)
	}
	got := port.regs[emc2101Addr][regFanSetting]
	if len(got) != 1 || got[0] != fanSettingMax {
		t.Fatalf("expected clamp to max, got %v", got)
	}
}

func TestEmc2101GetRPMStalledReadsZero(t *testing.T) {
	port := newFakePort()
	port.set(emc2101Addr, regTachLSB, []byte{0xFF})
	port.set(emc2101Addr, regTachMSB, []byte{0xFF})
	lb := &loopback{port: port}
	ch := bitaxeraw.NewControlChannel(lb)
	dev := NewEmc2101(ch)

	rpm, err := dev.GetRPM(context.Background())
	if err != nil {
		t.Fatalf("get rpm: %v", err)
	}
	if rpm != 0 {
		t.Fatalf("expected 0 rpm for stalled tach, got %d", rpm)
	}
}
