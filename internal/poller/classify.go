package poller

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

type outcome uint8

const (
	outcomeOK outcome = iota
	outcomeStopped
	outcomeTransient
	outcomeUnexpected
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeStopped:
		return "stopped"
	case outcomeTransient:
		return "transient"
	case outcomeUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// classify maps a poll result onto the loop's next action. Once the session
// context is done every result means stop: the loop exits without retrying.
func classify(ctx context.Context, err error) outcome {
	if ctx.Err() != nil {
		return outcomeStopped
	}
	if err == nil {
		return outcomeOK
	}
	if IsTransient(err) {
		return outcomeTransient
	}
	return outcomeUnexpected
}

// IsTransient reports whether err is a transport-level failure worth a quiet
// retry: connection resets, refused dials, truncated bodies, timeouts, and
// cancellations that came from somewhere other than the engine itself.
// Errors can opt in or out by implementing Transient() bool.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
