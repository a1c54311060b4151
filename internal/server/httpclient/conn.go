// Package httpclient is the client-side session: it writes requests on a
// single HTTP/1.1 connection and reads their responses, negotiating
// "Expect: 100-continue" through the expect package.
package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/yndnr/weft-go/internal/core/expect"
	"github.com/yndnr/weft-go/internal/server/wire"
)

// DefaultMaxBody bounds how much of a response body is read.
const DefaultMaxBody = 32 << 20

var (
	// ErrConnBroken is returned by RoundTrip on a connection that can no
	// longer carry requests.
	ErrConnBroken = errors.New("httpclient: connection not reusable")
	// ErrBodyTruncated is returned when a response body exceeds the limit.
	ErrBodyTruncated = errors.New("httpclient: response body too large")
)

// aLongTimeAgo is a deadline that makes pending I/O fail immediately.
var aLongTimeAgo = time.Unix(1, 0)

type options struct {
	network         string
	tlsConfig       *tls.Config
	continueTimeout time.Duration
	maxBody         int64
}

// Option configures Dial.
type Option func(*options)

// WithNetwork selects "tcp" (default) or "unix".
func WithNetwork(network string) Option {
	return func(o *options) { o.network = network }
}

// WithTLS enables TLS with cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithContinueTimeout sets how long a request waits for "100 Continue"
// before sending its body anyway.
func WithContinueTimeout(d time.Duration) Option {
	return func(o *options) { o.continueTimeout = d }
}

// WithMaxBody bounds response bodies.
func WithMaxBody(n int64) Option {
	return func(o *options) { o.maxBody = n }
}

// Conn is one client connection. Requests on a Conn are serialized.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	opts   options
	broken bool
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	o := options{network: "tcp", continueTimeout: expect.DefaultTimeout, maxBody: DefaultMaxBody}
	for _, opt := range opts {
		opt(&o)
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, o.network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if o.tlsConfig != nil {
		cfg := o.tlsConfig.Clone()
		if cfg.ServerName == "" && o.network != "unix" {
			if host, _, err := net.SplitHostPort(addr); err == nil {
				cfg.ServerName = host
			}
		}
		tc := tls.Client(nc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
		}
		nc = tc
	}
	return NewConn(nc, opts...), nil
}

// NewConn wraps an established connection.
func NewConn(nc net.Conn, opts ...Option) *Conn {
	o := options{continueTimeout: expect.DefaultTimeout, maxBody: DefaultMaxBody}
	for _, opt := range opts {
		opt(&o)
	}
	return &Conn{
		conn: nc,
		br:   bufio.NewReader(nc),
		bw:   bufio.NewWriter(nc),
		opts: o,
	}
}

// Reusable reports whether the connection may carry another request.
func (c *Conn) Reusable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.broken
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
	return c.conn.Close()
}

// RoundTrip sends req and reads its response. Cancelling ctx aborts the
// exchange and breaks the connection.
func (c *Conn) RoundTrip(ctx context.Context, req *wire.ClientRequest) (*wire.ClientResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return nil, ErrConnBroken
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(aLongTimeAgo)
	})
	defer stop()

	s := &stream{c: c, req: req}
	out, err := expect.New(s, c.opts.continueTimeout).Run(ctx)
	if err != nil {
		c.broken = true
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	resp, err := wire.ReadBody(s.final, c.opts.maxBody+1)
	if err != nil {
		c.broken = true
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(resp.Body)) > c.opts.maxBody {
		c.broken = true
		return nil, ErrBodyTruncated
	}
	resp.Interim = s.interim
	resp.BodySent = out.BodySent
	resp.Handshake = out.State.String()

	// A rejected body was never sent, so the server may still be waiting for
	// it or may already have dropped the stream.
	if out.State == expect.Cancelled || !resp.KeepAlive {
		c.broken = true
	}
	return resp, nil
}

// stream adapts one exchange to expect.Stream.
type stream struct {
	c         *Conn
	req       *wire.ClientRequest
	deferBody bool
	interim   []int
	final     *http.Response
}

func (s *stream) WriteRequest(ctx context.Context) (bool, error) {
	if err := s.c.watchWrite(ctx, func() error { return s.req.WriteHeader(s.c.bw) }); err != nil {
		return false, fmt.Errorf("write request header: %w", err)
	}
	if s.req.ExpectsContinue() {
		s.deferBody = true
		return true, nil
	}
	if len(s.req.Body) > 0 {
		if err := s.WriteBody(ctx); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s *stream) WriteBody(ctx context.Context) error {
	if err := s.c.watchWrite(ctx, func() error { return s.req.WriteBody(s.c.bw) }); err != nil {
		return fmt.Errorf("write request body: %w", err)
	}
	return nil
}

// ReadHeader returns 100 for a "100 Continue" only while the body is held
// back; other interim responses are recorded and skipped.
func (s *stream) ReadHeader(ctx context.Context) (int, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.c.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	method := s.req.Method
	if method == "" {
		method = http.MethodGet
	}
	for {
		resp, err := wire.ReadResponseHeader(s.c.br, method)
		if err != nil {
			if ctx.Err() != nil {
				return 0, context.Cause(ctx)
			}
			return 0, fmt.Errorf("read response header: %w", err)
		}
		if resp.StatusCode >= 100 && resp.StatusCode < 200 {
			s.interim = append(s.interim, resp.StatusCode)
			if resp.StatusCode == expect.StatusContinue && s.deferBody {
				s.deferBody = false
				return resp.StatusCode, nil
			}
			continue
		}
		s.final = resp
		return resp.StatusCode, nil
	}
}

func (c *Conn) watchWrite(ctx context.Context, write func() error) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(aLongTimeAgo)
	})
	defer stop()
	if err := write(); err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}
	return nil
}
