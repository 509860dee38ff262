package bitaxeraw

import "context"

// CallWithTimeout wraps any I2C/GPIO call in the 500ms outer timeout
// required system-wide (§4.3): every caller — REST handler, the 30s
// board monitoring loop, board init — must use this rather than calling
// the control channel directly, so a wedged bus surfaces as a warning
// within 500ms instead of blocking the caller indefinitely.
func CallWithTimeout[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, OuterTimeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ErrOuterTimeout
	}
}
