package board

import "errors"

var (
	// ErrChipIDMismatch is returned when a chain member's register 0x00
	// read does not carry the expected chip-id byte sequence.
	ErrChipIDMismatch = errors.New("board: chip-id mismatch during discovery")
	// ErrRegisterReadTimeout is returned when no valid register-read
	// response arrives on the data port within the discovery deadline.
	ErrRegisterReadTimeout = errors.New("board: register read timed out")
	// ErrVoltageNotGood is returned when the regulator's output has not
	// settled within tolerance of the requested Vout after PowerInit.
	ErrVoltageNotGood = errors.New("board: voltage rail did not reach target")
	// ErrWrongState is returned when a lifecycle method is called from a
	// state that does not permit it (e.g. Initialize on a board that has
	// already left Probing).
	ErrWrongState = errors.New("board: operation not valid in current state")
)
