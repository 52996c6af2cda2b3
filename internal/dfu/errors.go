package dfu

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound is reported when a discovery pass ends without a
	// matching device. The caller decides whether to scan again.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrCommandTimeout is reported when the control point stays silent
	// past a command's response window.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrStaleResponse is reported when a status notification arrives for
	// a different opcode than the one awaited. The event is discarded and
	// the wait fails without re-arming.
	ErrStaleResponse = errors.New("unexpected response opcode")

	// ErrTransport wraps failures of the underlying wireless link.
	ErrTransport = errors.New("transport error")

	// ErrStartUpdate tags a failure of the start/size handshake, which
	// gets its own best-effort reset before the attempt is abandoned.
	ErrStartUpdate = errors.New("start DFU sequence failed")

	// ErrProcedureTimeout is reported when the deadline bounding the whole
	// update expires.
	ErrProcedureTimeout = errors.New("procedure timed out")

	// ErrAborted is reported when the run is cancelled from outside, as
	// opposed to hitting its deadline.
	ErrAborted = errors.New("update aborted")
)

// CommandRejectedError reports a non-success status from the control point.
type CommandRejectedError struct {
	Opcode byte
	Status byte
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("command 0x%02x rejected with status %d", e.Opcode, e.Status)
}

// ctxSentinel maps a context error onto the procedure taxonomy:
// deadline expiry is a timeout, cancellation an abort.
func ctxSentinel(err error) error {
	if errors.Is(err, context.Canceled) {
		return ErrAborted
	}
	return ErrProcedureTimeout
}

func procTimeout(err error) error {
	return fmt.Errorf("%w: %v", ctxSentinel(err), err)
}
