// Package expect implements the client side of the HTTP
// "Expect: 100-continue" negotiation.
//
// When a request asks for permission before sending its body, the client
// races a fixed timer against the server's first response header. Whichever
// branch first moves the handshake out of Awaiting decides the outcome:
//
//   - the timer firing is an implicit accept: the body is sent (Received);
//   - a "100 Continue" header is an explicit accept: the body is sent and a
//     second header is read as the final response (Received);
//   - any other header, or a failed read, rejects: the body is never sent and
//     the header already read is the final response (Cancelled).
//
// Only the branch that performs the transition may write the body. The other
// branch's pending operation is cancelled and its aborted outcome is dropped.
package expect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/weft-go/internal/core/taskgroup"
)

// StatusContinue is the interim status that grants permission to send the body.
const StatusContinue = 100

// DefaultTimeout is how long the client waits for an interim response before
// sending the body anyway.
const DefaultTimeout = time.Second

// State is the handshake's tri-state flag.
type State int32

const (
	Awaiting State = iota
	Received
	Cancelled
)

func (s State) String() string {
	switch s {
	case Awaiting:
		return "awaiting"
	case Received:
		return "received"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Stream is the request side of one exchange on a connection.
//
// WriteBody and ReadHeader may run concurrently with each other.
type Stream interface {
	// WriteRequest writes the request. needContinue reports that the
	// serializer stopped after the header, waiting for permission to
	// send the body.
	WriteRequest(ctx context.Context) (needContinue bool, err error)
	// WriteBody writes the deferred body.
	WriteBody(ctx context.Context) error
	// ReadHeader reads one response header and returns its status code.
	ReadHeader(ctx context.Context) (status int, err error)
}

// Outcome describes how an exchange resolved.
type Outcome struct {
	// State is Awaiting when no negotiation took place.
	State State
	// Status is the status code of the final response header.
	Status int
	// BodySent reports whether the request body reached the wire.
	BodySent bool
}

// Handshake drives one request through the continue negotiation.
type Handshake struct {
	Stream  Stream
	Timeout time.Duration

	state atomic.Int32
}

// New returns a handshake over s. A non-positive timeout selects DefaultTimeout.
func New(s Stream, timeout time.Duration) *Handshake {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Handshake{Stream: s, Timeout: timeout}
}

// State returns the current state of the flag.
func (h *Handshake) State() State {
	return State(h.state.Load())
}

// Run writes the request and reads the final response header.
func (h *Handshake) Run(ctx context.Context) (Outcome, error) {
	h.state.Store(int32(Awaiting))

	needContinue, err := h.Stream.WriteRequest(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !needContinue {
		status, err := h.Stream.ReadHeader(ctx)
		return Outcome{State: Awaiting, Status: status, BodySent: true}, err
	}
	return h.race(ctx)
}

func (h *Handshake) race(ctx context.Context) (Outcome, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var (
		status   int
		bodySent atomic.Bool
		firstErr error
		errOnce  sync.Once
	)

	g := taskgroup.New(2)
	fail := func(err error) error {
		if err != nil && !taskgroup.IsCancelled(err) {
			errOnce.Do(func() {
				firstErr = err
				g.Emit(taskgroup.Terminal)
			})
		}
		return err
	}
	writeBody := func(ctx context.Context) error {
		if err := h.Stream.WriteBody(ctx); err != nil {
			return err
		}
		bodySent.Store(true)
		return nil
	}

	// Stopping the timer only aborts the wait, never a body write it started.
	timerCtx, stopTimer := context.WithCancel(ctx)
	defer stopTimer()

	_, err := g.Go(ctx, func(ctx context.Context) error {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-t.C:
		case <-timerCtx.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
		if !h.state.CompareAndSwap(int32(Awaiting), int32(Received)) {
			return nil
		}
		return fail(writeBody(ctx))
	})
	if err != nil {
		return Outcome{}, err
	}

	_, err = g.Go(ctx, func(ctx context.Context) error {
		st, err := h.Stream.ReadHeader(ctx)
		stopTimer()
		if err != nil || st != StatusContinue {
			h.state.CompareAndSwap(int32(Awaiting), int32(Cancelled))
			status = st
			return fail(err)
		}
		if h.state.CompareAndSwap(int32(Awaiting), int32(Received)) {
			if err := writeBody(ctx); err != nil {
				return fail(err)
			}
		}
		st, err = h.Stream.ReadHeader(ctx)
		status = st
		return fail(err)
	})
	if err != nil {
		stopTimer()
		_ = g.Join(context.Background())
		return Outcome{}, err
	}

	_ = g.Join(ctx)

	out := Outcome{State: h.State(), Status: status, BodySent: bodySent.Load()}
	if firstErr != nil {
		return out, firstErr
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}
