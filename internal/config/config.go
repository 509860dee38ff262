// Package config loads mujinad's process configuration from environment
// variables once at startup. There is no runtime reload and no config
// file: every MUJINA_* variable is read exactly once, in New, and the
// resulting Config is treated as immutable for the process lifetime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full set of values mujinad needs to wire the backplane,
// scheduler, and board factory.
type Config struct {
	// BoardInitTimeout bounds how long a single board's Initialize may
	// run before the backplane abandons it and marks the device failed.
	// A REST reinitialize call should apply this value plus 5 seconds.
	BoardInitTimeout time.Duration

	// The following four are reserved for future automatic-recovery
	// logic; they are parsed and stored but otherwise inert.
	BoardFailureThreshold int
	BoardMaxAutoRetries   int
	BoardRetryInterval    time.Duration
	BoardAutoRecovery     bool

	// ControlBaud/DataBaud are the two CDC-ACM ports' baud rates.
	// DataBaud defaults to bitaxe-raw's initial 115200; a board can be
	// reconfigured to 1000000 once discovery confirms the firmware
	// supports it, which this repo does not automate.
	ControlBaud int
	DataBaud    int

	// ChipCount, TargetFreqMHz, Difficulty, VersionMask, and VoutTargetV
	// parameterize a single-ASIC Bitaxe Gamma board. A multi-chip chain
	// or a different target board model requires overriding these.
	ChipCount     int
	TargetFreqMHz float64
	Difficulty    uint32
	VersionMask   uint32
	VoutTargetV   float32

	// USBPollInterval is how often the backplane polls for USB hotplug
	// changes (bitaxe-raw exposes no hotplug-event API to watch instead).
	USBPollInterval time.Duration
}

// defaults mirror BitaxeGammaTps546Config's implicit target board and
// spec's literal MUJINA_BOARD_* defaults.
const (
	defaultBoardInitTimeout      = 10 * time.Second
	defaultBoardFailureThreshold = 3
	defaultBoardMaxAutoRetries   = 3
	defaultBoardRetryInterval    = 30 * time.Second
	defaultBoardAutoRecovery     = false

	defaultControlBaud = 115200
	defaultDataBaud    = 115200

	defaultChipCount     = 1
	defaultTargetFreqMHz = 525.0
	defaultDifficulty    = 256
	defaultVersionMask   = 0x1fffe000
	defaultVoutTargetV   = 1.15

	defaultUSBPollInterval = 1 * time.Second
)

// New reads every MUJINA_* environment variable, falling back to the
// package defaults for anything unset, and returns an error naming the
// first variable that fails to parse.
func New() (Config, error) {
	cfg := Config{
		BoardInitTimeout:      defaultBoardInitTimeout,
		BoardFailureThreshold: defaultBoardFailureThreshold,
		BoardMaxAutoRetries:   defaultBoardMaxAutoRetries,
		BoardRetryInterval:    defaultBoardRetryInterval,
		BoardAutoRecovery:     defaultBoardAutoRecovery,
		ControlBaud:           defaultControlBaud,
		DataBaud:              defaultDataBaud,
		ChipCount:             defaultChipCount,
		TargetFreqMHz:         defaultTargetFreqMHz,
		Difficulty:            defaultDifficulty,
		VersionMask:           defaultVersionMask,
		VoutTargetV:           defaultVoutTargetV,
		USBPollInterval:       defaultUSBPollInterval,
	}

	var err error
	if cfg.BoardInitTimeout, err = envSeconds("MUJINA_BOARD_INIT_TIMEOUT_SECS", cfg.BoardInitTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BoardFailureThreshold, err = envInt("MUJINA_BOARD_FAILURE_THRESHOLD", cfg.BoardFailureThreshold); err != nil {
		return Config{}, err
	}
	if cfg.BoardMaxAutoRetries, err = envInt("MUJINA_BOARD_MAX_AUTO_RETRIES", cfg.BoardMaxAutoRetries); err != nil {
		return Config{}, err
	}
	if cfg.BoardRetryInterval, err = envSeconds("MUJINA_BOARD_RETRY_INTERVAL", cfg.BoardRetryInterval); err != nil {
		return Config{}, err
	}
	if cfg.BoardAutoRecovery, err = envBool("MUJINA_BOARD_AUTO_RECOVERY", cfg.BoardAutoRecovery); err != nil {
		return Config{}, err
	}
	if cfg.ControlBaud, err = envInt("MUJINA_CONTROL_BAUD", cfg.ControlBaud); err != nil {
		return Config{}, err
	}
	if cfg.DataBaud, err = envInt("MUJINA_DATA_BAUD", cfg.DataBaud); err != nil {
		return Config{}, err
	}
	if cfg.ChipCount, err = envInt("MUJINA_CHIP_COUNT", cfg.ChipCount); err != nil {
		return Config{}, err
	}
	if cfg.TargetFreqMHz, err = envFloat("MUJINA_TARGET_FREQ_MHZ", cfg.TargetFreqMHz); err != nil {
		return Config{}, err
	}
	if cfg.VoutTargetV, err = envFloat32("MUJINA_VOUT_TARGET_V", cfg.VoutTargetV); err != nil {
		return Config{}, err
	}
	if cfg.USBPollInterval, err = envSeconds("MUJINA_USB_POLL_INTERVAL_SECS", cfg.USBPollInterval); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envInt(name string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	return v, nil
}

func envFloat(name string, fallback float64) (float64, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	return v, nil
}

func envFloat32(name string, fallback float32) (float32, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	return float32(v), nil
}

func envBool(name string, fallback bool) (bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", name, err)
	}
	return v, nil
}

func envSeconds(name string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
