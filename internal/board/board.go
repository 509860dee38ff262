package board

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mujina-miner/mujina-miner/internal/bitaxeraw"
	"github.com/mujina-miner/mujina-miner/internal/hashthread"
	"github.com/mujina-miner/mujina-miner/internal/mlog"
	"github.com/mujina-miner/mujina-miner/internal/peripheral"
)

// Board is the lifecycle contract the backplane drives: initialize a
// freshly discovered device, observe its state, and shut it down. Board
// implementations other than BitaxeBoard (a different chip family, a
// simulated board for testing) satisfy the same contract.
type Board interface {
	Serial() string
	State() State
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	HashThreads() []*hashthread.Thread
	FanController() *peripheral.Emc2101
	VoltageController() *peripheral.Tps546
}

// voltageTolerance is the acceptable drift, in millivolts, between the
// requested Vout and the regulator's own readback once PowerInit settles.
const voltageTolerance = 50

// BoardConfig parameterizes a BitaxeBoard: chip topology, target
// frequency, initial ticket-mask difficulty, and how to obtain the
// ASIC data port once the chain is powered and out of reset.
type BoardConfig struct {
	ChipCount     int
	TargetFreqMHz float64
	Difficulty    uint32
	VersionMask   uint32
	VoutTargetV   float32
	Tps546Config  peripheral.Tps546Config
	OpenDataPort  func() (DataPort, error)
	HashEvents    chan<- hashthread.Event
}

// BitaxeBoard is a single BM1370 Bitaxe Gamma hash board reachable
// through one bitaxe-raw control port and one ASIC data port.
type BitaxeBoard struct {
	serial      string
	controlPort io.ReadWriteCloser
	ch          *bitaxeraw.ControlChannel
	cfg         BoardConfig

	fan      *peripheral.Emc2101
	vreg     *peripheral.Tps546
	dataPort DataPort
	threads  []*hashthread.Thread
	cancel   context.CancelFunc

	mu    sync.RWMutex
	state State
	log   *slog.Logger
}

// NewBitaxeBoard constructs a board bound to an already-open control
// port. The board owns the control port's ControlChannel exclusively
// for its lifetime, per the one-writer-per-serial-port invariant.
func NewBitaxeBoard(serial string, controlPort io.ReadWriteCloser, cfg BoardConfig) *BitaxeBoard {
	return &BitaxeBoard{
		serial:      serial,
		controlPort: controlPort,
		ch:          bitaxeraw.NewControlChannel(controlPort),
		cfg:         cfg,
		state:       Probing,
		log:         mlog.For("board").With("serial", serial),
	}
}

func (b *BitaxeBoard) Serial() string { return b.serial }

func (b *BitaxeBoard) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *BitaxeBoard) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	b.log.Info("board state transition", "state", s.String())
}

func (b *BitaxeBoard) HashThreads() []*hashthread.Thread {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*hashthread.Thread(nil), b.threads...)
}

func (b *BitaxeBoard) FanController() *peripheral.Emc2101   { return b.fan }
func (b *BitaxeBoard) VoltageController() *peripheral.Tps546 { return b.vreg }

// Initialize drives the board through its full happy-path lifecycle.
// Any failure transitions straight to Terminated and returns the error
// so the caller (the backplane) can register the device as failed.
func (b *BitaxeBoard) Initialize(ctx context.Context) error {
	if b.State() != Probing {
		return ErrWrongState
	}

	if err := b.holdInReset(); err != nil {
		return b.fail(err)
	}
	b.setState(ResetHeld)

	b.fan = peripheral.NewEmc2101(b.ch)
	if err := b.fan.Init(ctx); err != nil {
		return b.fail(err)
	}
	b.setState(FanInit)

	b.vreg = peripheral.NewTps546(b.ch, b.cfg.Tps546Config)
	if err := b.vreg.Init(ctx); err != nil {
		return b.fail(err)
	}
	if err := b.vreg.SetVout(ctx, b.cfg.VoutTargetV); err != nil {
		return b.fail(err)
	}
	time.Sleep(500 * time.Millisecond)
	if err := b.verifyVoltageGood(ctx); err != nil {
		return b.fail(err)
	}
	b.setState(PowerInit)

	if err := b.releaseReset(); err != nil {
		return b.fail(err)
	}
	b.setState(ResetReleased)

	dataPort, err := b.cfg.OpenDataPort()
	if err != nil {
		return b.fail(err)
	}
	if err := runInitSequence(dataPort, b.cfg.ChipCount, b.cfg.Difficulty, b.cfg.VersionMask, b.cfg.TargetFreqMHz); err != nil {
		dataPort.Close()
		return b.fail(err)
	}
	b.dataPort = dataPort
	b.setState(ChipDiscovery)

	threadCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	thread := hashthread.NewThread(dataPort, b.cfg.ChipCount, b.cfg.HashEvents)
	b.threads = []*hashthread.Thread{thread}
	go thread.Run(threadCtx)
	b.setState(Running)
	return nil
}

func (b *BitaxeBoard) fail(err error) error {
	b.setState(Terminated)
	b.log.Warn("board initialization failed", "err", err)
	return err
}

func (b *BitaxeBoard) verifyVoltageGood(ctx context.Context) error {
	got, err := b.vreg.GetVout(ctx)
	if err != nil {
		return err
	}
	target := uint32(b.cfg.VoutTargetV * 1000)
	diff := int64(got) - int64(target)
	if diff < 0 {
		diff = -diff
	}
	if diff > voltageTolerance {
		return ErrVoltageNotGood
	}
	return nil
}

func (b *BitaxeBoard) holdInReset() error {
	_, err := bitaxeraw.CallWithTimeout(context.Background(), func() (bitaxeraw.Response, error) {
		return b.ch.Send(bitaxeraw.PageGPIO, resetPin, []byte{0})
	})
	return err
}

func (b *BitaxeBoard) releaseReset() error {
	_, err := bitaxeraw.CallWithTimeout(context.Background(), func() (bitaxeraw.Response, error) {
		return b.ch.Send(bitaxeraw.PageGPIO, resetPin, []byte{1})
	})
	return err
}

// Shutdown mirrors Initialize in reverse: signal hash threads and wait
// for acknowledgement, cool the board, drop power, hold it in reset,
// then release the control port's OS handle.
func (b *BitaxeBoard) Shutdown(ctx context.Context) error {
	if b.State() == Terminated {
		return nil
	}
	b.setState(ShuttingDown)

	for _, th := range b.threads {
		if err := th.Shutdown(ctx); err != nil {
			b.log.Warn("hash thread did not acknowledge shutdown", "err", err)
		}
	}
	if b.cancel != nil {
		b.cancel()
	}

	if b.fan != nil {
		if err := b.fan.SetFanSpeedPercent(ctx, peripheral.ShutdownFanPercent); err != nil {
			b.log.Warn("failed to set shutdown fan speed", "err", err)
		}
	}
	if b.vreg != nil {
		if err := b.vreg.SetVout(ctx, 0); err != nil {
			b.log.Warn("failed to set vout to 0 on shutdown", "err", err)
		}
	}
	if err := b.holdInReset(); err != nil {
		b.log.Warn("failed to hold reset on shutdown", "err", err)
	}
	if b.controlPort != nil {
		b.controlPort.Close()
	}

	b.setState(Terminated)
	return nil
}
