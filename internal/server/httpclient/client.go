package httpclient

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/yndnr/weft-go/internal/server/wire"
)

// Client sends requests to one server, keeping a single idle connection for
// reuse.
type Client struct {
	Addr            string
	Network         string
	TLSConfig       *tls.Config
	ContinueTimeout time.Duration
	MaxBody         int64
	UserAgent       string

	// OnHandshake is told the final state of every Expect: 100-continue
	// exchange.
	OnHandshake func(state string)

	mu   sync.Mutex
	idle *Conn
}

// Do sends req, dialing when no idle connection is available.
func (c *Client) Do(ctx context.Context, req *wire.ClientRequest) (*wire.ClientResponse, error) {
	if req.Host == "" {
		req.Host = c.Addr
		if c.Network == "unix" {
			req.Host = "localhost"
		}
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	conn, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := conn.RoundTrip(ctx, req)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.release(conn)
	if c.OnHandshake != nil && req.ExpectsContinue() {
		c.OnHandshake(resp.Handshake)
	}
	return resp, nil
}

// Close closes the idle connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.idle
	c.idle = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) conn(ctx context.Context) (*Conn, error) {
	c.mu.Lock()
	conn := c.idle
	c.idle = nil
	c.mu.Unlock()
	if conn != nil && conn.Reusable() {
		return conn, nil
	}
	if conn != nil {
		_ = conn.Close()
	}

	opts := []Option{WithContinueTimeout(c.ContinueTimeout)}
	if c.Network != "" {
		opts = append(opts, WithNetwork(c.Network))
	}
	if c.TLSConfig != nil {
		opts = append(opts, WithTLS(c.TLSConfig))
	}
	if c.MaxBody > 0 {
		opts = append(opts, WithMaxBody(c.MaxBody))
	}
	return Dial(ctx, c.Addr, opts...)
}

func (c *Client) release(conn *Conn) {
	if !conn.Reusable() {
		_ = conn.Close()
		return
	}
	c.mu.Lock()
	old := c.idle
	c.idle = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}
