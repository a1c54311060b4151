package httpclient

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/yndnr/weft-go/internal/core/router"
	"github.com/yndnr/weft-go/internal/server/wire"
	"github.com/yndnr/weft-go/internal/server/workerpool"
)

// scripted runs fn as the server side of a pipe and returns the client side.
func scripted(t *testing.T, fn func(br *bufio.Reader, w io.Writer)) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		fn(bufio.NewReader(server), server)
	}()
	t.Cleanup(func() {
		client.Close()
		<-done
	})
	return client
}

func postWithExpect(body string) *wire.ClientRequest {
	return &wire.ClientRequest{
		Method: http.MethodPost,
		Target: "/upload",
		Host:   "test",
		Header: http.Header{"Expect": {"100-continue"}},
		Body:   []byte(body),
	}
}

func TestConn_PlainRoundTripReuse(t *testing.T) {
	nc := scripted(t, func(br *bufio.Reader, w io.Writer) {
		for i := 0; i < 2; i++ {
			req, err := http.ReadRequest(br)
			if err != nil {
				return
			}
			_, _ = io.Copy(io.Discard, req.Body)
			_, _ = io.WriteString(w, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
		}
	})
	c := NewConn(nc)

	for i := 0; i < 2; i++ {
		resp, err := c.RoundTrip(context.Background(), &wire.ClientRequest{Method: http.MethodGet, Target: "/", Host: "test"})
		if err != nil {
			t.Fatalf("RoundTrip() #%d error = %v", i, err)
		}
		if resp.Status != http.StatusOK || string(resp.Body) != "ok" {
			t.Errorf("RoundTrip() #%d = %d %q", i, resp.Status, resp.Body)
		}
		if resp.Handshake != "awaiting" {
			t.Errorf("Handshake = %q, want awaiting", resp.Handshake)
		}
	}
	if !c.Reusable() {
		t.Error("Reusable() = false after keep-alive responses")
	}
}

func TestConn_ContinueReceived(t *testing.T) {
	nc := scripted(t, func(br *bufio.Reader, w io.Writer) {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		_, _ = io.WriteString(w, "HTTP/1.1 100 Continue\r\n\r\n")
		body, _ := io.ReadAll(req.Body)
		_, _ = io.WriteString(w, "HTTP/1.1 201 Created\r\nContent-Length: "+strconv.Itoa(len(body))+"\r\n\r\n"+string(body))
	})
	c := NewConn(nc, WithContinueTimeout(time.Hour))

	resp, err := c.RoundTrip(context.Background(), postWithExpect("data"))
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if resp.Status != http.StatusCreated || string(resp.Body) != "data" {
		t.Errorf("response = %d %q", resp.Status, resp.Body)
	}
	if resp.Handshake != "received" || !resp.BodySent {
		t.Errorf("Handshake = %q BodySent = %v, want received/true", resp.Handshake, resp.BodySent)
	}
	if len(resp.Interim) != 1 || resp.Interim[0] != http.StatusContinue {
		t.Errorf("Interim = %v, want [100]", resp.Interim)
	}
	if !c.Reusable() {
		t.Error("Reusable() = false after a received handshake")
	}
}

func TestConn_ContinueRejected(t *testing.T) {
	nc := scripted(t, func(br *bufio.Reader, w io.Writer) {
		if _, err := http.ReadRequest(br); err != nil {
			return
		}
		_, _ = io.WriteString(w, "HTTP/1.1 417 Expectation Failed\r\nContent-Length: 0\r\n\r\n")
		// Keep the stream open until the client hangs up.
		_, _ = io.Copy(io.Discard, br)
	})
	c := NewConn(nc, WithContinueTimeout(time.Hour))

	resp, err := c.RoundTrip(context.Background(), postWithExpect("data"))
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if resp.Status != http.StatusExpectationFailed {
		t.Errorf("status = %d, want 417", resp.Status)
	}
	if resp.Handshake != "cancelled" || resp.BodySent {
		t.Errorf("Handshake = %q BodySent = %v, want cancelled/false", resp.Handshake, resp.BodySent)
	}
	if c.Reusable() {
		t.Error("Reusable() = true after the body was withheld")
	}
	if _, err := c.RoundTrip(context.Background(), postWithExpect("x")); !errors.Is(err, ErrConnBroken) {
		t.Errorf("RoundTrip() on broken conn error = %v, want %v", err, ErrConnBroken)
	}
}

func TestConn_ContinueTimeoutSendsBody(t *testing.T) {
	nc := scripted(t, func(br *bufio.Reader, w io.Writer) {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		// Never answer with 100; wait for the body instead.
		body, _ := io.ReadAll(req.Body)
		_, _ = io.WriteString(w, "HTTP/1.1 200 OK\r\nContent-Length: "+strconv.Itoa(len(body))+"\r\n\r\n"+string(body))
	})
	c := NewConn(nc, WithContinueTimeout(20*time.Millisecond))

	resp, err := c.RoundTrip(context.Background(), postWithExpect("late"))
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if resp.Handshake != "received" || !resp.BodySent || string(resp.Body) != "late" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Interim) != 0 {
		t.Errorf("Interim = %v, want none", resp.Interim)
	}
}

func TestConn_CancelledContext(t *testing.T) {
	nc := scripted(t, func(br *bufio.Reader, w io.Writer) {
		_, _ = http.ReadRequest(br)
		_, _ = io.Copy(io.Discard, br)
	})
	c := NewConn(nc)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.RoundTrip(ctx, &wire.ClientRequest{Method: http.MethodGet, Target: "/"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RoundTrip() error = %v, want deadline exceeded", err)
	}
	if c.Reusable() {
		t.Error("Reusable() = true after an aborted exchange")
	}
}

func TestClient_AgainstPool(t *testing.T) {
	r := router.New()
	r.POST("/echo", router.StageFunc(func(c *router.Context) (router.Result, error) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return router.Next, err
		}
		return c.String(http.StatusOK, string(body))
	}))

	cfg := workerpool.DefaultConfig()
	cfg.Workers = 2
	p, err := workerpool.New(cfg, nil)
	if err != nil {
		t.Fatalf("workerpool.New() error = %v", err)
	}
	addr, err := p.Listen(context.Background(), workerpool.AcceptorConfig{Name: "test", Addr: "127.0.0.1:0"}, r)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	}()

	var states []string
	cl := &Client{
		Addr:            addr.String(),
		ContinueTimeout: time.Hour,
		OnHandshake:     func(state string) { states = append(states, state) },
	}
	defer cl.Close()

	for i := 0; i < 3; i++ {
		req := postWithExpect("hello")
		req.Target = "/echo"
		resp, err := cl.Do(context.Background(), req)
		if err != nil {
			t.Fatalf("Do() #%d error = %v", i, err)
		}
		if resp.Status != http.StatusOK || string(resp.Body) != "hello" {
			t.Errorf("Do() #%d = %d %q", i, resp.Status, resp.Body)
		}
		if resp.Handshake != "received" {
			t.Errorf("Do() #%d Handshake = %q, want received", i, resp.Handshake)
		}
	}

	if len(states) != 3 || states[0] != "received" {
		t.Errorf("OnHandshake states = %v, want 3 x received", states)
	}
	if _, err := cl.Do(context.Background(), &wire.ClientRequest{Method: http.MethodPost, Target: "/echo", Body: []byte("x")}); err != nil {
		t.Fatalf("Do() without expect error = %v", err)
	}
	if len(states) != 3 {
		t.Errorf("OnHandshake called for a request without Expect: %v", states)
	}

	waitStats := time.Now().Add(time.Second)
	for time.Now().Before(waitStats) {
		if p.Stats().Sessions == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s := p.Stats(); s.Sessions != 1 {
		t.Errorf("Sessions = %d, want 1 reused connection", s.Sessions)
	}
}
