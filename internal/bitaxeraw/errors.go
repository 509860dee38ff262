package bitaxeraw

import "errors"

var (
	// ErrLockTimeout is returned when the control channel's exclusion
	// primitive cannot be acquired within 2 seconds (a possible deadlock
	// elsewhere in the process).
	ErrLockTimeout = errors.New("bitaxe-raw: control channel lock timeout")
	// ErrWriteTimeout is returned when a request write does not complete
	// within 1 second.
	ErrWriteTimeout = errors.New("bitaxe-raw: control command write timeout")
	// ErrReadTimeout is returned when a response is not read within 1 second.
	ErrReadTimeout = errors.New("bitaxe-raw: control command read timeout")
	// ErrOuterTimeout is returned by CallWithTimeout's 500ms outer bound.
	ErrOuterTimeout = errors.New("bitaxe-raw: i2c/gpio call exceeded 500ms outer timeout")
	// ErrResponseIDMismatch is a hard error: the caller decides whether
	// to retry, the transport does not retry automatically.
	ErrResponseIDMismatch = errors.New("bitaxe-raw: response id mismatch")
	// ErrStreamClosed is returned when the underlying port is closed
	// while a read is outstanding.
	ErrStreamClosed = errors.New("bitaxe-raw: control stream closed")
)
