package router

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrAlreadyResumed is returned by a second call to Resumer.Resume.
	ErrAlreadyResumed = errors.New("router: resumer already invoked")
	// ErrInvalidResume is returned when Resume is given Detach or an unknown result.
	ErrInvalidResume = errors.New("router: invalid resume result")
)

// Resumer continues a detached dispatch. It may be invoked at most once, from
// any goroutine.
type Resumer struct {
	used atomic.Bool
	ch   chan Result
}

func newResumer() *Resumer {
	return &Resumer{ch: make(chan Result, 1)}
}

// Resume continues dispatch as if the detached stage had returned res.
func (r *Resumer) Resume(res Result) error {
	if res >= Detach {
		return ErrInvalidResume
	}
	if !r.used.CompareAndSwap(false, true) {
		return ErrAlreadyResumed
	}
	r.ch <- res
	return nil
}

// Resumed reports whether Resume was called.
func (r *Resumer) Resumed() bool {
	return r.used.Load()
}
