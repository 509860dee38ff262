// Package backplane is the communication substrate between hash boards
// and the scheduler: it owns every live Board, routes USB hotplug events
// and external commands through a single cooperative event loop, and
// hands each board's hash threads off to the scheduler once initialized.
package backplane

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mujina-miner/mujina-miner/internal/bitaxeraw"
	"github.com/mujina-miner/mujina-miner/internal/board"
	"github.com/mujina-miner/mujina-miner/internal/hashthread"
	"github.com/mujina-miner/mujina-miner/internal/mlog"
)

// settleDelay is observed after an aborted or failed board init, to let
// the OS release the serial handles before the device is marked failed.
const settleDelay = 100 * time.Millisecond

// defaultInitTimeout is used when the caller passes a zero timeout.
const defaultInitTimeout = 10 * time.Second

// BoardFactory constructs a Board from a freshly discovered USB device.
// Production code uses DefaultBoardFactory; tests substitute their own.
type BoardFactory func(bitaxeraw.UsbDeviceInfo) (board.Board, error)

// Backplane is the single owner of every live Board. It runs as one
// goroutine (Run); the board and failed-board registries are touched
// only from that goroutine, so they need no lock of their own. AppState,
// which is read from outside the event loop, guards itself.
type Backplane struct {
	watcher     *bitaxeraw.Watcher
	newBoard    BoardFactory
	initTimeout time.Duration
	threadsOut  chan<- *hashthread.Thread
	appState    *AppState
	events      *EventStream
	cmdCh       chan any
	log         *slog.Logger

	boards       map[string]board.Board
	boardDevices map[string]bitaxeraw.UsbDeviceInfo
	failed       map[string]bitaxeraw.UsbDeviceInfo
}

// New constructs a Backplane. threadsOut receives every hash thread a
// successfully initialized board produces; the caller (the scheduler)
// owns draining it for the process lifetime.
func New(watcher *bitaxeraw.Watcher, newBoard BoardFactory, initTimeout time.Duration, threadsOut chan<- *hashthread.Thread) *Backplane {
	if initTimeout <= 0 {
		initTimeout = defaultInitTimeout
	}
	return &Backplane{
		watcher:      watcher,
		newBoard:     newBoard,
		initTimeout:  initTimeout,
		threadsOut:   threadsOut,
		appState:     NewAppState(),
		events:       NewEventStream(),
		cmdCh:        make(chan any),
		log:          mlog.For("backplane"),
		boards:       make(map[string]board.Board),
		boardDevices: make(map[string]bitaxeraw.UsbDeviceInfo),
		failed:       make(map[string]bitaxeraw.UsbDeviceInfo),
	}
}

// AppState returns the registry an external REST layer would read.
func (b *Backplane) AppState() *AppState { return b.appState }

// Events returns the lifecycle event fan-out.
func (b *Backplane) Events() *EventStream { return b.events }

// Run drives the event loop over USB hotplug polling and the command
// channel until ctx is cancelled, at which point every live board is
// shut down before returning.
func (b *Backplane) Run(ctx context.Context) {
	ticker := time.NewTicker(b.watcher.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.shutdownAllBoards(context.Background())
			return

		case <-ticker.C:
			events, err := b.watcher.Poll()
			if err != nil {
				b.log.Warn("usb enumeration poll failed", "err", err)
				continue
			}
			for _, ev := range events {
				b.handleHotplugEvent(ctx, ev)
			}

		case cmd := <-b.cmdCh:
			b.handleCommand(ctx, cmd)
		}
	}
}

func (b *Backplane) shutdownAllBoards(ctx context.Context) {
	for serial, brd := range b.boards {
		b.log.Debug("shutting down board", "serial", serial)
		if err := brd.Shutdown(ctx); err != nil {
			b.log.Error("failed to shut down board", "serial", serial, "err", err)
		}
		b.appState.UnregisterVoltageController(serial)
		b.appState.UnregisterFanController(serial)
		b.appState.UnregisterBoard(serial)
	}
	b.boards = make(map[string]board.Board)
	b.boardDevices = make(map[string]bitaxeraw.UsbDeviceInfo)
}

func (b *Backplane) handleHotplugEvent(ctx context.Context, ev bitaxeraw.HotplugEvent) {
	if ev.Connected != nil {
		b.connectDevice(ctx, *ev.Connected)
	}
	if ev.Disconnected != "" {
		b.disconnectDevice(ctx, ev.Disconnected)
	}
}

// connectDevice constructs and initializes a board for a newly seen USB
// device, under the global init timeout. On timeout the init goroutine
// is abandoned rather than joined (there is no cross-platform way to
// hard-cancel a blocking serial read/write mid-flight), matching the
// "explicitly aborted" semantics as closely as Go's runtime allows.
func (b *Backplane) connectDevice(ctx context.Context, info bitaxeraw.UsbDeviceInfo) {
	b.log.Info("hash board connected via usb", "serial", info.Serial)

	brd, err := b.newBoard(info)
	if err != nil {
		b.settleAndFail(info, fmt.Errorf("construct board: %w", err))
		return
	}

	initCtx, cancel := context.WithTimeout(ctx, b.initTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- brd.Initialize(initCtx) }()

	select {
	case err := <-done:
		if err != nil {
			b.settleAndFail(info, err)
			return
		}
	case <-initCtx.Done():
		b.settleAndFail(info, fmt.Errorf("board initialization timed out after %s", b.initTimeout))
		return
	}

	b.boards[info.Serial] = brd
	b.boardDevices[info.Serial] = info
	delete(b.failed, info.Serial)

	b.appState.RegisterBoard(info.Serial, BoardInfo{Model: "Bitaxe Gamma", SerialNumber: info.Serial})
	if fan := brd.FanController(); fan != nil {
		b.appState.RegisterFanController(info.Serial, fan)
	}
	if vreg := brd.VoltageController(); vreg != nil {
		b.appState.RegisterVoltageController(info.Serial, vreg)
	}

	for _, th := range brd.HashThreads() {
		select {
		case b.threadsOut <- th:
		case <-ctx.Done():
			return
		}
	}

	b.events.Publish(Event{Kind: EventBoardUp, Serial: info.Serial})
}

func (b *Backplane) settleAndFail(info bitaxeraw.UsbDeviceInfo, cause error) {
	time.Sleep(settleDelay)
	b.registerFailed(info, cause)
}

func (b *Backplane) registerFailed(info bitaxeraw.UsbDeviceInfo, cause error) {
	b.failed[info.Serial] = info
	b.appState.RegisterFailedBoard(FailedBoardStatus{
		Model:        "Bitaxe Gamma",
		SerialNumber: info.Serial,
		Error:        cause.Error(),
	})
	b.log.Error("board initialization failed", "serial", info.Serial, "err", cause)
	b.events.Publish(Event{Kind: EventBoardFailed, Serial: info.Serial, Message: cause.Error()})
}

func (b *Backplane) disconnectDevice(ctx context.Context, serial string) {
	brd, ok := b.boards[serial]
	if !ok {
		return
	}
	delete(b.boards, serial)
	delete(b.boardDevices, serial)

	if err := brd.Shutdown(ctx); err != nil {
		b.log.Error("failed to shut down disconnected board", "serial", serial, "err", err)
	} else {
		b.log.Info("board disconnected", "serial", serial)
	}

	b.appState.UnregisterVoltageController(serial)
	b.appState.UnregisterFanController(serial)
	b.appState.UnregisterBoard(serial)
	b.events.Publish(Event{Kind: EventBoardDown, Serial: serial})
}

func (b *Backplane) handleCommand(ctx context.Context, cmd any) {
	switch c := cmd.(type) {
	case ReinitializeBoard:
		c.Reply <- b.reinitializeBoard(ctx, c.Serial)
	case SetBoardVoltage:
		c.Reply <- b.setBoardVoltage(ctx, c.Serial, c.Voltage)
	default:
		b.log.Warn("unrecognized backplane command", "type", fmt.Sprintf("%T", cmd))
	}
}

// reinitializeBoard drops whatever live or failed state exists for
// serial and reruns the USB-connected path against its stored device
// info. Dropping the board before reprobing is mandatory: the control
// port's OS handle must be released or the reopen fails with EBUSY.
func (b *Backplane) reinitializeBoard(ctx context.Context, serial string) ReinitializeResult {
	var info bitaxeraw.UsbDeviceInfo
	var previousError string

	if brd, ok := b.boards[serial]; ok {
		info = b.boardDevices[serial]
		if err := brd.Shutdown(ctx); err != nil {
			previousError = err.Error()
			b.log.Warn("error during board shutdown, continuing with reinitialization", "serial", serial, "err", err)
		}
		b.appState.UnregisterVoltageController(serial)
		b.appState.UnregisterFanController(serial)
		b.appState.UnregisterBoard(serial)
		delete(b.boards, serial)
		delete(b.boardDevices, serial)
	} else if failedInfo, ok := b.failed[serial]; ok {
		info = failedInfo
		if status, ok := b.appState.FailedBoards()[serial]; ok {
			previousError = status.Error
		}
		delete(b.failed, serial)
	} else {
		return ReinitializeResult{
			Message:       "board not found",
			PreviousError: fmt.Sprintf("no board with serial %q is currently active", serial),
		}
	}

	b.log.Info("beginning board reinitialization", "serial", serial)
	b.connectDevice(ctx, info)

	newBrd, ok := b.boards[serial]
	if !ok {
		return ReinitializeResult{
			Message:       "board shutdown succeeded but reprobe failed",
			PreviousError: previousError,
		}
	}

	var voltage float32
	if vreg := newBrd.VoltageController(); vreg != nil {
		if readCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond); true {
			if mv, err := vreg.GetVout(readCtx); err == nil {
				voltage = float32(mv) / 1000
			}
			cancel()
		}
	}

	return ReinitializeResult{
		Success:        true,
		Message:        fmt.Sprintf("board %q successfully reinitialized", serial),
		PreviousError:  previousError,
		CurrentVoltage: voltage,
	}
}

func (b *Backplane) setBoardVoltage(ctx context.Context, serial string, voltage float32) SetVoltageResult {
	brd, ok := b.boards[serial]
	if !ok {
		return SetVoltageResult{Message: fmt.Sprintf("board %q not found", serial)}
	}
	vreg := brd.VoltageController()
	if vreg == nil {
		return SetVoltageResult{Message: fmt.Sprintf("board %q has no voltage controller", serial)}
	}
	if err := vreg.SetVout(ctx, voltage); err != nil {
		return SetVoltageResult{Requested: voltage, Message: err.Error()}
	}
	time.Sleep(500 * time.Millisecond)
	mv, err := vreg.GetVout(ctx)
	if err != nil {
		return SetVoltageResult{Requested: voltage, Message: err.Error()}
	}
	return SetVoltageResult{Success: true, Requested: voltage, Actual: float32(mv) / 1000}
}

// ReinitializeBoard sends the command to the event loop and waits for
// its reply. Callers should apply an overall deadline of the configured
// init timeout plus 5 seconds of buffer.
func (b *Backplane) ReinitializeBoard(ctx context.Context, serial string) (ReinitializeResult, error) {
	reply := make(chan ReinitializeResult, 1)
	select {
	case b.cmdCh <- ReinitializeBoard{Serial: serial, Reply: reply}:
	case <-ctx.Done():
		return ReinitializeResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return ReinitializeResult{}, ctx.Err()
	}
}

// SetBoardVoltage sends the command to the event loop and waits for its
// reply.
func (b *Backplane) SetBoardVoltage(ctx context.Context, serial string, voltage float32) (SetVoltageResult, error) {
	reply := make(chan SetVoltageResult, 1)
	select {
	case b.cmdCh <- SetBoardVoltage{Serial: serial, Voltage: voltage, Reply: reply}:
	case <-ctx.Done():
		return SetVoltageResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return SetVoltageResult{}, ctx.Err()
	}
}
