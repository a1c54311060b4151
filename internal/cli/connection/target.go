package connection

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/yndnr/weft-go/internal/infra/buildinfo"
	"github.com/yndnr/weft-go/internal/infra/tlsroots"
	"github.com/yndnr/weft-go/internal/server/httpclient"
)

// Target describes one server endpoint.
type Target struct {
	Network         string // "tcp" (default) or "unix"
	Addr            string
	TLS             bool
	CAFile          string
	Insecure        bool
	ContinueTimeout time.Duration
	MaxBody         int64
}

// Client builds a client for t.
func (t Target) Client() (*httpclient.Client, error) {
	if t.Addr == "" {
		return nil, fmt.Errorf("server address is empty")
	}
	c := &httpclient.Client{
		Network:         t.Network,
		Addr:            t.Addr,
		ContinueTimeout: t.ContinueTimeout,
		MaxBody:         t.MaxBody,
		UserAgent:       "weft-cli/" + buildinfo.Version,
	}
	if !t.TLS {
		return c, nil
	}

	pool := tlsroots.NewPool()
	if t.CAFile != "" {
		pool = tlsroots.NewEmptyPool()
		if err := pool.AddCertFile(t.CAFile); err != nil {
			return nil, fmt.Errorf("load ca file: %w", err)
		}
	}
	host, _, err := net.SplitHostPort(t.Addr)
	if err != nil {
		host = t.Addr
	}
	if t.Network == "unix" {
		host = "localhost"
	}
	c.TLSConfig = pool.ClientConfig(host, t.Insecure)
	return c, nil
}

// ParseAddr splits a --server/--admin value into network and address.
// "unix:///run/weft.sock" and "unix:/run/weft.sock" name a unix socket;
// anything else is a TCP host:port.
func ParseAddr(s string) (network, addr string) {
	if rest, ok := strings.CutPrefix(s, "unix://"); ok {
		return "unix", rest
	}
	if rest, ok := strings.CutPrefix(s, "unix:"); ok {
		return "unix", rest
	}
	return "tcp", s
}
