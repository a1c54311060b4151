package workerpool

import (
	"time"

	"github.com/yndnr/weft-go/internal/core/router"
)

// Observer receives pool activity. Implementations must be safe for
// concurrent use.
type Observer interface {
	// Workers is called by the event loop after every event.
	Workers(idle, busy int)
	AcceptDone(acceptor string, err error)
	SessionStarted(acceptor string)
	SessionEnded(acceptor string, requests int)
	RequestDone(acceptor string, res router.Result, status int, elapsed time.Duration, err error)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) Workers(int, int) {}
func (NopObserver) AcceptDone(string, error) {}
func (NopObserver) SessionStarted(string) {}
func (NopObserver) SessionEnded(string, int) {}
func (NopObserver) RequestDone(string, router.Result, int, time.Duration, error) {}
