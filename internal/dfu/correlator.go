package dfu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// CommandStatus is a decoded 0x10 notification: the device's verdict on
// an earlier control-point command.
type CommandStatus struct {
	RequestOpcode byte
	Status        byte
}

var errReceiptTimeout = errors.New("receipt notification timed out")

// Correlator decodes control-point notifications and matches status
// events with the single outstanding command. Receipt notifications go
// to a separate one-slot signal and are never consumed by AwaitResponse.
type Correlator struct {
	obs     Observer
	status  chan CommandStatus
	receipt chan struct{}
}

func NewCorrelator(obs Observer) *Correlator {
	return &Correlator{
		obs:     obs,
		status:  make(chan CommandStatus, 16),
		receipt: make(chan struct{}, 1),
	}
}

// OnNotification decodes one raw control-point notification. Invoked by
// the transport; safe to call from its notify goroutine.
func (c *Correlator) OnNotification(buf []byte) {
	if len(buf) == 0 {
		return
	}
	switch buf[0] {
	case OpResponse:
		if len(buf) < 3 {
			return
		}
		ev := CommandStatus{RequestOpcode: buf[1], Status: buf[2]}
		c.obs.Debugf("<< rx resp: op=0x%02x status=%d", ev.RequestOpcode, ev.Status)
		select {
		case c.status <- ev:
		default:
		}
	case OpPacketReceiptNotif:
		if len(buf) >= 5 {
			c.obs.Debugf("<< rx prn: %d", binary.LittleEndian.Uint32(buf[1:5]))
		}
		select {
		case c.receipt <- struct{}{}:
		default:
		}
	}
}

// AwaitResponse blocks until a status event arrives or timeout elapses.
// A status for a different opcode is discarded and fails the wait
// immediately; the correlator does not keep waiting for a later match.
func (c *Correlator) AwaitResponse(ctx context.Context, expected byte, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case ev := <-c.status:
		if ev.RequestOpcode != expected {
			return fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrStaleResponse, ev.RequestOpcode, expected)
		}
		if ev.Status != StatusSuccess {
			return &CommandRejectedError{Opcode: expected, Status: ev.Status}
		}
		return nil
	case <-t.C:
		return fmt.Errorf("%w: no response to opcode 0x%02x after %s", ErrCommandTimeout, expected, timeout)
	case <-ctx.Done():
		return procTimeout(ctx.Err())
	}
}

// ClearReceipt drains any pending receipt signal before a flow-control wait.
func (c *Correlator) ClearReceipt() {
	select {
	case <-c.receipt:
	default:
	}
}

// AwaitReceipt waits for the next receipt notification.
func (c *Correlator) AwaitReceipt(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-c.receipt:
		return nil
	case <-t.C:
		return errReceiptTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
