// Command mujinad is the host-side supervisor daemon: it discovers
// Bitaxe Gamma boards over USB, initializes their peripherals, and
// keeps their ASIC chains fed with work. It has no REST server and no
// pool client; both are out of scope here and left for an external
// process to build against internal/backplane and internal/scheduler's
// exported types.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mujina-miner/mujina-miner/internal/backplane"
	"github.com/mujina-miner/mujina-miner/internal/bitaxeraw"
	"github.com/mujina-miner/mujina-miner/internal/config"
	"github.com/mujina-miner/mujina-miner/internal/hashthread"
	"github.com/mujina-miner/mujina-miner/internal/mlog"
	"github.com/mujina-miner/mujina-miner/internal/scheduler"
)

// fallbackNBits/fallbackVersion parameterize the local dummy job source
// used whenever no pool client is wired in: an easy compact target (far
// below anything a real pool would issue) and a plain BIP9-clear
// version, unrelated to any board's chip-level ticket-mask difficulty.
const (
	fallbackNBits   = 0x1d00ffff
	fallbackVersion = 0x20000000
)

func main() {
	mlog.SetHandler(slog.NewJSONHandler(os.Stderr, nil))
	log := mlog.For("mujinad")

	cfg, err := config.New()
	if err != nil {
		log.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hashEvents := make(chan hashthread.Event, 256)
	threadsOut := make(chan *hashthread.Thread, 16)

	factory := backplane.DefaultBoardFactory(backplane.BoardFactoryConfig{
		ControlBaud:   cfg.ControlBaud,
		DataBaud:      cfg.DataBaud,
		ChipCount:     cfg.ChipCount,
		TargetFreqMHz: cfg.TargetFreqMHz,
		Difficulty:    cfg.Difficulty,
		VersionMask:   cfg.VersionMask,
		VoutTargetV:   cfg.VoutTargetV,
		HashEvents:    hashEvents,
	})

	watcher := bitaxeraw.NewWatcher(cfg.USBPollInterval)
	bp := backplane.New(watcher, factory, cfg.BoardInitTimeout, threadsOut)

	// No pool client is wired in-repo (Non-goal): the fallback source
	// keeps every board's ASIC chain hashing against a locally rolled,
	// deliberately easy target rather than sitting idle. A real
	// deployment replaces this with a JobSource backed by a stratum
	// client, feeding scheduler.New the same threadsOut/hashEvents pair.
	source := scheduler.NewFallbackSource(fallbackNBits, fallbackVersion)
	sched := scheduler.New(source, threadsOut, hashEvents)

	log.Info("mujinad starting",
		"board_init_timeout", cfg.BoardInitTimeout,
		"chip_count", cfg.ChipCount,
		"target_freq_mhz", cfg.TargetFreqMHz,
	)

	go source.Run(ctx)
	go sched.Run(ctx)
	bp.Run(ctx)

	log.Info("mujinad stopped")
}
