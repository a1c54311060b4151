package taskgroup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/eapache/queue"
)

// Task is a unit of work run by a Group.
type Task func(ctx context.Context) error

// CancelKind qualifies a cancellation request.
type CancelKind uint8

const (
	// Terminal asks the task to stop; its side effects may be left incomplete.
	Terminal CancelKind = 1 << iota
	// Partial asks the task to stop with no side effects beyond what was already observable.
	Partial
	// Total asks the task to stop and leave no side effects at all.
	Total
)

func (k CancelKind) String() string {
	if k == 0 {
		return "none"
	}
	var parts []string
	if k&Terminal != 0 {
		parts = append(parts, "terminal")
	}
	if k&Partial != 0 {
		parts = append(parts, "partial")
	}
	if k&Total != 0 {
		parts = append(parts, "total")
	}
	return strings.Join(parts, "|")
}

// CancelledError is the cancellation cause delivered by Emit.
// It matches context.Canceled under errors.Is.
type CancelledError struct {
	Kind CancelKind
}

func (e *CancelledError) Error() string {
	return "taskgroup: cancelled (" + e.Kind.String() + ")"
}

// Is reports whether target is context.Canceled.
func (e *CancelledError) Is(target error) bool {
	return target == context.Canceled
}

// PanicError wraps a panic raised by a task started with Go.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("taskgroup: task panicked: %v", e.Value)
}

// IsCancelled reports whether err is a cancellation outcome rather than a
// genuine failure.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	var ce *CancelledError
	return errors.As(err, &ce) || errors.Is(err, context.Canceled)
}

type waiter struct {
	ready     chan struct{}
	granted   bool
	abandoned bool
}

// Group is a bounded set of concurrently running tasks.
type Group struct {
	mu       sync.Mutex
	capacity int
	active   int // admitted and not yet released
	waiting  int // queued waiters that have not given up
	nextID   uint64
	live     map[uint64]context.CancelCauseFunc
	waiters  *queue.Queue // *waiter, FIFO
	idle     chan struct{}
}

// New creates a group admitting at most capacity live tasks.
// A capacity below 1 is treated as 1.
func New(capacity int) *Group {
	if capacity < 1 {
		capacity = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &Group{
		capacity: capacity,
		live:     make(map[uint64]context.CancelCauseFunc),
		waiters:  queue.New(),
		idle:     idle,
	}
}

// Capacity returns the admission bound.
func (g *Group) Capacity() int {
	return g.capacity
}

// Live returns the number of admitted tasks that have not finished.
func (g *Group) Live() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Waiting returns the number of callers suspended waiting for a slot.
func (g *Group) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}

// Adapt wraps task so that calling the result first waits for a free slot.
// If ctx ends before a slot is granted the wrapped task returns ctx.Err()
// without running task.
func (g *Group) Adapt(task Task) Task {
	return func(ctx context.Context) error {
		if err := g.acquire(ctx); err != nil {
			return err
		}
		return g.run(ctx, task)
	}
}

// Go waits for a free slot in the calling goroutine and then runs task on a
// new goroutine. A panic in task is reported as a *PanicError by the Future.
func (g *Group) Go(ctx context.Context, task Task) (*Future, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	f := &Future{done: make(chan struct{})}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.err = &PanicError{Value: r, Stack: debug.Stack()}
			}
			close(f.done)
		}()
		f.err = g.run(ctx, task)
	}()
	return f, nil
}

// Emit requests cancellation of every live task. It never blocks on the tasks.
func (g *Group) Emit(kind CancelKind) {
	g.mu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(g.live))
	for _, cancel := range g.live {
		cancels = append(cancels, cancel)
	}
	g.mu.Unlock()

	cause := &CancelledError{Kind: kind}
	for _, cancel := range cancels {
		cancel(cause)
	}
}

// Join waits until no task is live.
//
// If ctx ends first, Join emits Total to every live task, stops watching ctx
// and keeps waiting for the drain. It returns nil in both cases.
func (g *Group) Join(ctx context.Context) error {
	done := ctx.Done()
	for {
		g.mu.Lock()
		if g.active == 0 {
			g.mu.Unlock()
			return nil
		}
		idle := g.idle
		g.mu.Unlock()

		select {
		case <-idle:
		case <-done:
			g.Emit(Total)
			done = nil
		}
	}
}

func (g *Group) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	if g.active < g.capacity && g.waiting == 0 {
		g.admitLocked()
		g.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	g.waiters.Add(w)
	g.waiting++
	g.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		if w.granted {
			// The slot was handed over concurrently; give it back.
			g.releaseLocked()
		} else {
			w.abandoned = true
			g.waiting--
		}
		g.mu.Unlock()
		return ctx.Err()
	}
}

func (g *Group) run(ctx context.Context, task Task) error {
	cctx, cancel := context.WithCancelCause(ctx)

	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.live[id] = cancel
	g.mu.Unlock()

	defer func() {
		cancel(nil)
		g.mu.Lock()
		delete(g.live, id)
		g.releaseLocked()
		g.mu.Unlock()
	}()

	return task(cctx)
}

func (g *Group) admitLocked() {
	g.active++
	if g.active == 1 {
		g.idle = make(chan struct{})
	}
}

// releaseLocked hands the slot to the oldest waiter that has not given up,
// or frees it.
func (g *Group) releaseLocked() {
	for g.waiters.Length() > 0 {
		w := g.waiters.Remove().(*waiter)
		if w.abandoned {
			continue
		}
		w.granted = true
		g.waiting--
		close(w.ready)
		return
	}
	g.active--
	if g.active == 0 {
		close(g.idle)
	}
}

// Future is the pending result of a task started with Go.
type Future struct {
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait returns the task's error once it finished, or ctx.Err() if ctx ends first.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task's error. It must only be called after Done is closed.
func (f *Future) Err() error {
	return f.err
}
