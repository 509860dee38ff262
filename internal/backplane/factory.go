package backplane

import (
	"fmt"

	"github.com/mujina-miner/mujina-miner/internal/bitaxeraw"
	"github.com/mujina-miner/mujina-miner/internal/board"
	"github.com/mujina-miner/mujina-miner/internal/hashthread"
	"github.com/mujina-miner/mujina-miner/internal/peripheral"
)

// BoardFactoryConfig parameterizes DefaultBoardFactory with the values
// that come from process configuration rather than from the USB device
// itself.
type BoardFactoryConfig struct {
	ControlBaud   int
	DataBaud      int
	ChipCount     int
	TargetFreqMHz float64
	Difficulty    uint32
	VersionMask   uint32
	VoutTargetV   float32
	HashEvents    chan<- hashthread.Event
}

// DefaultBoardFactory returns a BoardFactory that opens the control port
// eagerly (so a dead or missing port fails fast, before Initialize is
// ever called) and defers opening the data port until the chain is
// powered and out of reset, matching BitaxeBoard.Initialize's ordering.
func DefaultBoardFactory(cfg BoardFactoryConfig) BoardFactory {
	return func(info bitaxeraw.UsbDeviceInfo) (board.Board, error) {
		controlPort, err := board.OpenDataPort(info.ControlPort, cfg.ControlBaud)
		if err != nil {
			return nil, fmt.Errorf("open control port %s: %w", info.ControlPort, err)
		}

		dataPath := info.DataPort
		boardCfg := board.BoardConfig{
			ChipCount:     cfg.ChipCount,
			TargetFreqMHz: cfg.TargetFreqMHz,
			Difficulty:    cfg.Difficulty,
			VersionMask:   cfg.VersionMask,
			VoutTargetV:   cfg.VoutTargetV,
			Tps546Config:  peripheral.BitaxeGammaTps546Config(),
			OpenDataPort: func() (board.DataPort, error) {
				return board.OpenDataPort(dataPath, cfg.DataBaud)
			},
			HashEvents: cfg.HashEvents,
		}

		return board.NewBitaxeBoard(info.Serial, controlPort, boardCfg), nil
	}
}
