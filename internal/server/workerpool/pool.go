// Package workerpool serves HTTP/1.1 connections on a fixed set of worker
// slots.
//
// Workers are allocated once, when the pool is created, and reused for every
// connection. An acceptor only accepts into a free worker: with every worker
// busy, no accept is pending and new connections wait in the kernel backlog.
// The free list and the per-acceptor accept demand are owned by a single event
// loop goroutine.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/weft-go/internal/core/router"
	"github.com/yndnr/weft-go/internal/server/wire"
)

var (
	// ErrNoWorkers is returned by New when the pool would have no slots.
	ErrNoWorkers = errors.New("workerpool: at least one worker is required")
	// ErrStarted is returned when the pool is modified after Start.
	ErrStarted = errors.New("workerpool: pool already started")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("workerpool: pool stopped")
	// ErrNoAcceptors is returned by Start without any acceptor.
	ErrNoAcceptors = errors.New("workerpool: no acceptors")
)

// Config holds the pool configuration.
type Config struct {
	// Workers is the number of connection slots.
	Workers int
	// ReadHeaderTimeout bounds reading a request header (and the TLS handshake).
	ReadHeaderTimeout time.Duration
	// ReadTimeout bounds reading a request body.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing a response.
	WriteTimeout time.Duration
	// IdleTimeout bounds the wait for the next request on a kept-alive connection.
	IdleTimeout time.Duration
	// MaxHeaderBytes limits the request line and header block.
	MaxHeaderBytes int64
	// MaxDiscardBytes is the largest unread body drained to keep a connection alive.
	MaxDiscardBytes int64
	// BackgroundTasks is the capacity of each connection's task group.
	BackgroundTasks int
	// MaxAcceptBackoff caps the delay after temporary accept errors.
	MaxAcceptBackoff time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:           64,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    wire.DefaultMaxHeaderBytes,
		MaxDiscardBytes:   256 << 10,
		BackgroundTasks:   4,
		MaxAcceptBackoff:  time.Second,
	}
}

// Stats is a snapshot of the pool. Idle + Busy == Total; workers waiting in
// an accept count as busy.
type Stats struct {
	Total     int `json:"total"`
	Idle      int `json:"idle"`
	Busy      int `json:"busy"`
	Accepting int `json:"accepting"`
	Sessions  int `json:"sessions"`
	Acceptors int `json:"acceptors"`
}

// Option configures a Pool.
type Option func(*Pool)

// WithObserver reports pool activity to o.
func WithObserver(o Observer) Option {
	return func(p *Pool) {
		if o != nil {
			p.observer = o
		}
	}
}

type eventKind uint8

const (
	evAccepted eventKind = iota
	evAcceptFailed
	evSessionDone
)

type event struct {
	kind   eventKind
	worker int
	conn   net.Conn
	err    error
}

// Pool is a fixed set of workers fed by one or more acceptors.
type Pool struct {
	cfg      Config
	logger   *slog.Logger
	observer Observer

	workers   []worker
	freeHead  int
	freeCount int
	accepting int
	sessions  int

	mu        sync.Mutex // guards acceptors, ctx, cancel and the started/stopped transitions
	acceptors []*acceptor

	events   chan event
	wake     chan struct{}
	statsReq chan chan Stats

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New allocates a pool with cfg.Workers slots.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w (workers=%d)", ErrNoWorkers, cfg.Workers)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Pool{
		cfg:      *cfg,
		logger:   logger,
		observer: NopObserver{},
		events:   make(chan event, cfg.Workers),
		wake:     make(chan struct{}, 1),
		statsReq: make(chan chan Stats),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.workers = make([]worker, cfg.Workers)
	for i := range p.workers {
		p.workers[i].init(p, i)
	}
	// Free list threads every slot in index order; -1 terminates it.
	for i := range p.workers {
		p.workers[i].next = i + 1
	}
	p.workers[len(p.workers)-1].next = -1
	p.freeHead = 0
	p.freeCount = len(p.workers)

	return p, nil
}

// AddAcceptor serves ln with r. It must be called before Start.
func (p *Pool) AddAcceptor(ln net.Listener, acfg AcceptorConfig, r *router.Router) error {
	if r == nil {
		return fmt.Errorf("workerpool: acceptor %q has no router", acfg.Name)
	}
	a := newAcceptor(ln, acfg, r)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started.Load() {
		return ErrStarted
	}
	p.acceptors = append(p.acceptors, a)
	return nil
}

// Listen opens a listener for acfg and adds it as an acceptor.
func (p *Pool) Listen(ctx context.Context, acfg AcceptorConfig, r *router.Router) (net.Addr, error) {
	ln, err := Listen(ctx, acfg)
	if err != nil {
		return nil, err
	}
	if err := p.AddAcceptor(ln, acfg, r); err != nil {
		_ = ln.Close()
		return nil, err
	}
	return ln.Addr(), nil
}

// Addrs returns the listening addresses in acceptor order.
func (p *Pool) Addrs() []net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	addrs := make([]net.Addr, 0, len(p.acceptors))
	for _, a := range p.acceptors {
		addrs = append(addrs, a.ln.Addr())
	}
	return addrs
}

// Start launches the event loop. It does not block. Cancelling ctx stops the
// pool.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.stopped.Load():
		p.mu.Unlock()
		return ErrStopped
	case len(p.acceptors) == 0:
		p.mu.Unlock()
		return ErrNoAcceptors
	case p.started.Load():
		p.mu.Unlock()
		return ErrStarted
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started.Store(true)
	loopCtx := p.ctx
	acceptors := append([]*acceptor(nil), p.acceptors...)
	p.mu.Unlock()

	for _, a := range acceptors {
		p.logger.Info("acceptor listening",
			"name", a.cfg.Name,
			"network", a.ln.Addr().Network(),
			"address", a.ln.Addr().String(),
			"tls", a.cfg.TLS != nil,
			"admin", a.cfg.Admin,
		)
	}
	p.logger.Info("worker pool started", "workers", len(p.workers), "acceptors", len(acceptors))

	go p.loop(loopCtx)
	return nil
}

// Done is closed once the pool stopped and every worker returned.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Stop closes every listener and cancels every in-flight operation. It is
// idempotent and does not wait.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped.Load() {
		p.mu.Unlock()
		return
	}
	p.stopped.Store(true)
	cancel, started := p.cancel, p.started.Load()
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.closeListeners()
	if !started {
		close(p.done)
	}
}

// Shutdown stops the pool and waits for the workers to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Stop()
	select {
	case <-p.done:
		p.wg.Wait()
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot taken by the event loop.
func (p *Pool) Stats() Stats {
	if p.started.Load() {
		ch := make(chan Stats, 1)
		select {
		case p.statsReq <- ch:
			return <-ch
		case <-p.done:
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Total: len(p.workers), Idle: len(p.workers), Acceptors: len(p.acceptors)}
}

func (p *Pool) closeListeners() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.acceptors {
		if err := a.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			p.logger.Warn("close listener failed", "name", a.cfg.Name, "error", err)
		}
	}
}

func (p *Pool) loop(ctx context.Context) {
	defer close(p.done)

	stopping := ctx.Done()
	p.schedule(ctx)
	p.report()
	for {
		if ctx.Err() != nil && p.freeCount == len(p.workers) {
			return
		}
		select {
		case ev := <-p.events:
			p.handle(ctx, ev)
		case <-p.wake:
		case ch := <-p.statsReq:
			ch <- p.snapshot()
			continue
		case <-stopping:
			stopping = nil
			// The caller's context ended rather than Stop.
			p.mu.Lock()
			p.stopped.Store(true)
			p.mu.Unlock()
			p.closeListeners()
		}
		p.schedule(ctx)
		p.report()
	}
}

// schedule starts accepts while an acceptor wants one and a worker is free.
func (p *Pool) schedule(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := time.Now()
	for _, a := range p.acceptors {
		if a.retired || now.Before(a.backoffUntil) {
			continue
		}
		for a.need > 0 && p.freeCount > 0 {
			idx := p.pop()
			a.need--
			p.accepting++
			p.workers[idx].acceptor = a
			go p.accept(a, idx)
		}
	}
}

func (p *Pool) accept(a *acceptor, idx int) {
	conn, err := a.ln.Accept()
	if err != nil {
		p.events <- event{kind: evAcceptFailed, worker: idx, err: err}
		return
	}
	p.events <- event{kind: evAccepted, worker: idx, conn: conn}
}

func (p *Pool) handle(ctx context.Context, ev event) {
	w := &p.workers[ev.worker]
	switch ev.kind {
	case evAccepted:
		a := w.acceptor
		a.need++
		a.delay = 0
		p.accepting--
		p.observer.AcceptDone(a.cfg.Name, nil)
		if ctx.Err() != nil {
			_ = ev.conn.Close()
			p.push(ev.worker)
			return
		}
		w.conn = ev.conn
		p.sessions++
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.serve(ctx)
			p.events <- event{kind: evSessionDone, worker: w.index}
		}()

	case evAcceptFailed:
		a := w.acceptor
		a.need++
		p.accepting--
		w.acceptor = nil
		p.push(ev.worker)
		if ctx.Err() != nil || errors.Is(ev.err, net.ErrClosed) {
			if !a.retired && ctx.Err() == nil {
				p.logger.Warn("acceptor closed", "name", a.cfg.Name)
			}
			a.retired = true
			return
		}
		p.observer.AcceptDone(a.cfg.Name, ev.err)
		a.backoff(p.cfg.MaxAcceptBackoff)
		p.logger.Warn("accept failed; retrying",
			"name", a.cfg.Name,
			"error", ev.err,
			"delay", a.delay,
		)
		time.AfterFunc(a.delay, p.poke)

	case evSessionDone:
		w.conn = nil
		w.acceptor = nil
		p.sessions--
		p.push(ev.worker)
	}
}

func (p *Pool) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) pop() int {
	idx := p.freeHead
	w := &p.workers[idx]
	p.freeHead = w.next
	w.next = -1
	p.freeCount--
	return idx
}

func (p *Pool) push(idx int) {
	p.workers[idx].next = p.freeHead
	p.freeHead = idx
	p.freeCount++
}

func (p *Pool) snapshot() Stats {
	return Stats{
		Total:     len(p.workers),
		Idle:      p.freeCount,
		Busy:      len(p.workers) - p.freeCount,
		Accepting: p.accepting,
		Sessions:  p.sessions,
		Acceptors: len(p.acceptors),
	}
}

func (p *Pool) report() {
	p.observer.Workers(p.freeCount, len(p.workers)-p.freeCount)
}
