package board

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// DataPort is the ASIC serial link a Board opens during ChipDiscovery
// and then hands off to the chain's HashThread. It is a plain
// io.ReadWriteCloser; the concrete type is go.bug.st/serial's Port,
// wrapped so a fake can stand in for it in tests, mirroring the
// teacher's own Connection interface over a serial.Port.
type DataPort interface {
	io.Reader
	io.Writer
	io.Closer
}

// discoveryReadTimeout bounds a single blocking Read during chip
// discovery and register verification; the underlying OS read timeout
// is what makes register-read/response round trips finite instead of
// hanging when a chain member never answers.
const discoveryReadTimeout = 500 * time.Millisecond

// serialPort adapts go.bug.st/serial.Port to DataPort.
type serialPort struct {
	port serial.Port
}

func (s *serialPort) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialPort) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialPort) Close() error                { return s.port.Close() }

// OpenDataPort opens the ASIC data port at the given path and baud
// rate, with a read timeout so blocking reads never hang indefinitely
// waiting on a wedged or absent chain.
func OpenDataPort(path string, baudRate int) (DataPort, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("board: open data port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(discoveryReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("board: set read timeout on %s: %w", path, err)
	}
	return &serialPort{port: port}, nil
}
