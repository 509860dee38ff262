package bitaxeraw

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

func TestEncodeRequestLengthIsTotal(t *testing.T) {
	frame := EncodeGPIOSet(5, 0, true)
	// len[2] + id + bus + page + command + data(1) = 7 total.
	if got := int(frame[0]) | int(frame[1])<<8; got != 7 {
		t.Fatalf("length field: got %d want 7", got)
	}
	if len(frame) != 7 {
		t.Fatalf("frame length: got %d want 7", len(frame))
	}
	if frame[2] != 5 || frame[3] != busDefault || frame[4] != PageGPIO || frame[5] != 0 {
		t.Fatalf("unexpected header: % x", frame[2:6])
	}
}

func TestDecodeResponseEmptyAck(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x07} // payload len 0, id 7
	resp, err := DecodeResponse(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != 7 || len(resp.Payload) != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Error() != nil {
		t.Fatalf("expected no error, got %v", resp.Error())
	}
}

func TestDecodeResponseErrorPayload(t *testing.T) {
	buf := []byte{0x02, 0x00, 0x03, 0xff, ErrCodeTimeout}
	resp, err := DecodeResponse(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	pe := resp.Error()
	if pe == nil {
		t.Fatalf("expected protocol error")
	}
	if pe.Code != ErrCodeTimeout {
		t.Fatalf("code: got %#x", pe.Code)
	}
}

// loopback pairs a request encoder with a canned response so
// ControlChannel can be exercised without real hardware.
type loopbackPort struct {
	writes  [][]byte
	respond func(req []byte) []byte
	pending *bytes.Reader
}

func (p *loopbackPort) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	p.writes = append(p.writes, cp)
	if p.respond != nil {
		p.pending = bytes.NewReader(p.respond(cp))
	}
	return len(b), nil
}

func (p *loopbackPort) Read(b []byte) (int, error) {
	if p.pending == nil {
		return 0, io.EOF
	}
	return p.pending.Read(b)
}

func TestControlChannelSendRoundTrip(t *testing.T) {
	port := &loopbackPort{
		respond: func(req []byte) []byte {
			id := req[2]
			return []byte{0x00, 0x00, id} // empty ack, matching id
		},
	}
	ch := NewControlChannel(port)
	resp, err := ch.Send(PageGPIO, 0, []byte{1})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.ID != 0 {
		t.Fatalf("first request should get id 0, got %d", resp.ID)
	}

	resp2, err := ch.Send(PageGPIO, 0, []byte{0})
	if err != nil {
		t.Fatalf("send 2: %v", err)
	}
	if resp2.ID != 1 {
		t.Fatalf("second request should get id 1, got %d", resp2.ID)
	}
}

func TestControlChannelIDMismatchIsHardError(t *testing.T) {
	port := &loopbackPort{
		respond: func(req []byte) []byte {
			return []byte{0x00, 0x00, 99} // wrong id, never matches
		},
	}
	ch := NewControlChannel(port)
	_, err := ch.Send(PageGPIO, 0, []byte{1})
	if !errors.Is(err, ErrResponseIDMismatch) {
		t.Fatalf("expected ErrResponseIDMismatch, got %v", err)
	}
}

// blockingPort accepts writes but never satisfies a read, simulating a
// wedged I2C bus.
type blockingPort struct{}

func (blockingPort) Write(b []byte) (int, error) { return len(b), nil }
func (blockingPort) Read(b []byte) (int, error)  { select {} }

func TestControlChannelReadTimeout(t *testing.T) {
	ch := NewControlChannel(blockingPort{})
	start := time.Now()
	_, err := ch.Send(PageI2C, 0x24, nil)
	elapsed := time.Since(start)
	if err != ErrReadTimeout {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("read timeout took too long: %v", elapsed)
	}
}
