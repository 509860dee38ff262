package board

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mujina-miner/mujina-miner/internal/bitaxeraw"
	"github.com/mujina-miner/mujina-miner/internal/bm13xx"
	"github.com/mujina-miner/mujina-miner/internal/hashthread"
	"github.com/mujina-miner/mujina-miner/internal/peripheral"
)

var errTimeout = errors.New("board test: read timed out")

// crc5ForTest duplicates bm13xx's unexported CRC-5 so test doubles can
// build well-formed response frames without reaching into that package.
func crc5ForTest(data []byte) uint8 {
	crc := uint8(0x1f)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			bit := (b >> uint(i)) & 1
			top := (crc >> 4) & 1
			crc = (crc << 1) & 0x1f
			if top^bit != 0 {
				crc ^= 0x05
			}
		}
	}
	return crc & 0x1f
}

// fakeControlPort answers bitaxe-raw requests on both the GPIO and I2C
// pages against an in-memory register map, streaming its response over
// however many Read calls the caller makes (ControlChannel's readResponse
// reads the length header and the id+payload separately).
type fakeControlPort struct {
	regs   map[uint8]map[uint8][]byte
	gpio   map[uint8]byte
	outBuf []byte
}

func newFakeControlPort() *fakeControlPort {
	return &fakeControlPort{
		regs: make(map[uint8]map[uint8][]byte),
		gpio: make(map[uint8]byte),
	}
}

func (p *fakeControlPort) set(addr, cmd uint8, data []byte) {
	if p.regs[addr] == nil {
		p.regs[addr] = make(map[uint8][]byte)
	}
	p.regs[addr][cmd] = data
}

func (p *fakeControlPort) Write(b []byte) (int, error) {
	// request layout: len[2] id bus page command data...
	id := b[2]
	page := b[4]
	command := b[5]
	data := b[6:]

	var payload []byte
	switch page {
	case bitaxeraw.PageGPIO:
		if len(data) >= 1 {
			p.gpio[command] = data[0]
		}
		// ack with no payload
	case bitaxeraw.PageI2C:
		addr := command
		if len(data) >= 2 {
			p.set(addr, data[0], data[1:])
		} else if len(data) == 1 {
			payload = append([]byte{}, p.regs[addr][data[0]]...)
		}
	}

	resp := make([]byte, 0, 3+len(payload))
	resp = append(resp, byte(len(payload)), byte(len(payload)>>8))
	resp = append(resp, id)
	resp = append(resp, payload...)
	p.outBuf = resp
	return len(b), nil
}

func (p *fakeControlPort) Read(b []byte) (int, error) {
	if len(p.outBuf) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.outBuf)
	p.outBuf = p.outBuf[n:]
	return n, nil
}

func (p *fakeControlPort) Close() error { return nil }

// fakeDataPort answers BM13xx register reads during chip discovery with
// a correct chip-id response, then blocks Read until closed, behaving
// like an idle serial link once the hash thread takes over.
type fakeDataPort struct {
	chipCount int
	pending   []byte
	written   [][]byte
	closed    chan struct{}
}

func newFakeDataPort(chipCount int) *fakeDataPort {
	return &fakeDataPort{chipCount: chipCount, closed: make(chan struct{})}
}

func (d *fakeDataPort) Write(b []byte) (int, error) {
	d.written = append(d.written, append([]byte(nil), b...))

	// A register-read command frame is 7 bytes: preamble(2) type(1)
	// len(1) addr(1) reg(1) crc(1) -- decode just enough to answer
	// chip-id reads.
	if len(b) >= 6 && b[5] == bm13xx.RegisterChipAddress {
		resp := make([]byte, 11)
		resp[0], resp[1] = 0xaa, 0x55
		resp[2], resp[3] = 0x13, 0x70
		resp[10] = crc5ForTest(resp[2:10])
		d.pending = append(d.pending, resp...)
	}
	return len(b), nil
}

func (d *fakeDataPort) Read(b []byte) (int, error) {
	if len(d.pending) > 0 {
		n := copy(b, d.pending)
		d.pending = d.pending[n:]
		return n, nil
	}
	<-d.closed
	return 0, io.EOF
}

func (d *fakeDataPort) Close() error {
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
	return nil
}

func testConfig(open func() (DataPort, error)) BoardConfig {
	return BoardConfig{
		ChipCount:     1,
		TargetFreqMHz: 525,
		Difficulty:    256,
		VersionMask:   0x1fffe000,
		VoutTargetV:   1.15,
		Tps546Config:  peripheral.BitaxeGammaTps546Config(),
		OpenDataPort:  open,
		HashEvents:    make(chan hashthread.Event, 8),
	}
}

func seedTps546DeviceID(port *fakeControlPort) {
	port.set(0x24, 0xAD, []byte{0x54, 0x49, 0x54, 0x6B, 0x24, 0x41})
}

// seedTps546PowerRegisters gives the fake regulator the registers that
// Tps546.Init and the post-SetVout readback read: VOUT_MODE (exponent
// -9), a clear STATUS_WORD, and READ_VOUT = 589/512 V (about 1.15 V,
// testConfig's VoutTargetV).
func seedTps546PowerRegisters(port *fakeControlPort) {
	port.set(0x24, peripheral.CmdVoutMode, []byte{0x17})
	port.set(0x24, peripheral.CmdStatusWord, []byte{0x00, 0x00})
	port.set(0x24, peripheral.CmdReadVout, []byte{0x4D, 0x02})
}

func TestBoardInitializeHappyPath(t *testing.T) {
	cp := newFakeControlPort()
	seedTps546DeviceID(cp)
	seedTps546PowerRegisters(cp)
	dp := newFakeDataPort(1)

	b := NewBitaxeBoard("/dev/fake0", cp, testConfig(func() (DataPort, error) { return dp, nil }))

	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got := b.State(); got != Running {
		t.Fatalf("expected Running, got %v", got)
	}
	if len(b.HashThreads()) != 1 {
		t.Fatalf("expected one hash thread, got %d", len(b.HashThreads()))
	}
	if cp.gpio[resetPin] != 1 {
		t.Fatalf("expected reset pin released (1), got %v", cp.gpio[resetPin])
	}

	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := b.State(); got != Terminated {
		t.Fatalf("expected Terminated after shutdown, got %v", got)
	}
	if cp.gpio[resetPin] != 0 {
		t.Fatalf("expected reset pin held (0) after shutdown, got %v", cp.gpio[resetPin])
	}
}

// wrongChipDataPort always answers register 0x00 reads with the wrong
// chip-id bytes, exercising the ErrChipIDMismatch path without waiting
// out a full discoveryReadTimeout.
type wrongChipDataPort struct {
	pending []byte
	closed  chan struct{}
}

func newWrongChipDataPort() *wrongChipDataPort {
	return &wrongChipDataPort{closed: make(chan struct{})}
}

func (d *wrongChipDataPort) Write(b []byte) (int, error) {
	if len(b) >= 6 && b[5] == bm13xx.RegisterChipAddress {
		resp := make([]byte, 11)
		resp[0], resp[1] = 0xaa, 0x55
		resp[2], resp[3] = 0xde, 0xad
		resp[10] = crc5ForTest(resp[2:10])
		d.pending = append(d.pending, resp...)
	}
	return len(b), nil
}

func (d *wrongChipDataPort) Read(b []byte) (int, error) {
	if len(d.pending) > 0 {
		n := copy(b, d.pending)
		d.pending = d.pending[n:]
		return n, nil
	}
	select {
	case <-d.closed:
		return 0, io.EOF
	case <-time.After(50 * time.Millisecond):
		return 0, errTimeout
	}
}

func (d *wrongChipDataPort) Close() error {
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
	return nil
}

func TestBoardInitializeFailsOnChipIDMismatch(t *testing.T) {
	cp := newFakeControlPort()
	seedTps546DeviceID(cp)
	seedTps546PowerRegisters(cp)
	dp := newWrongChipDataPort()

	b := NewBitaxeBoard("/dev/fake1", cp, testConfig(func() (DataPort, error) { return dp, nil }))

	err := b.Initialize(context.Background())
	if err == nil {
		t.Fatalf("expected chip-id mismatch error")
	}
	if got := b.State(); got != Terminated {
		t.Fatalf("expected Terminated on init failure, got %v", got)
	}
}

func TestBoardShutdownFromProbingIsNoop(t *testing.T) {
	cp := newFakeControlPort()
	b := NewBitaxeBoard("/dev/fake2", cp, testConfig(nil))
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown from Probing: %v", err)
	}
	if got := b.State(); got != Terminated {
		t.Fatalf("expected Terminated, got %v", got)
	}
}

func TestBoardInitializeTwiceIsRejected(t *testing.T) {
	cp := newFakeControlPort()
	seedTps546DeviceID(cp)
	seedTps546PowerRegisters(cp)
	dp := newFakeDataPort(1)
	b := NewBitaxeBoard("/dev/fake3", cp, testConfig(func() (DataPort, error) { return dp, nil }))

	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := b.Initialize(context.Background()); err != ErrWrongState {
		t.Fatalf("expected ErrWrongState on double-initialize, got %v", err)
	}
	b.Shutdown(context.Background())
}
