package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/weft-go/internal/core/router"
	"github.com/yndnr/weft-go/internal/core/taskgroup"
)

// newCtx builds a context for one GET request from remote.
func newCtx(t *testing.T, method, target, remote string) *router.Context {
	t.Helper()
	c := router.NewContext(taskgroup.New(2), nil)
	c.Reset(context.Background())
	u, err := url.ParseRequestURI(target)
	if err != nil {
		t.Fatalf("bad target %q: %v", target, err)
	}
	c.Request = router.Request{
		Method:     method,
		Target:     target,
		URL:        u,
		Path:       u.Path,
		Header:     make(http.Header),
		RemoteAddr: remote,
		KeepAlive:  true,
	}
	c.Response.SetKeepAlive(true)
	return c
}

// okRouter answers "ok" on every GET after running stages.
func okRouter(stages ...router.Stage) *router.Router {
	r := router.New()
	r.Use(stages...)
	r.GET("/*path", router.StageFunc(func(c *router.Context) (router.Result, error) {
		return c.String(http.StatusOK, "ok")
	}))
	return r
}

func dispatch(t *testing.T, r *router.Router, c *router.Context) router.Result {
	t.Helper()
	res, err := r.Dispatch(c)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	c.RunDeferred()
	return res
}

func TestRequestID(t *testing.T) {
	var seen string
	r := router.New()
	r.Use(RequestID())
	r.GET("/", router.StageFunc(func(c *router.Context) (router.Result, error) {
		seen = GetRequestID(c)
		return c.String(http.StatusOK, "ok")
	}))

	t.Run("generates when absent", func(t *testing.T) {
		c := newCtx(t, http.MethodGet, "/", "10.0.0.1:1000")
		dispatch(t, r, c)
		got := c.Response.Header().Get(HeaderRequestID)
		if !strings.HasPrefix(got, "req-") || len(got) != len("req-")+26 {
			t.Errorf("X-Request-ID = %q, want req-<ulid>", got)
		}
		if seen != got {
			t.Errorf("GetRequestID() = %q, want %q", seen, got)
		}
	})

	t.Run("keeps caller id", func(t *testing.T) {
		c := newCtx(t, http.MethodGet, "/", "10.0.0.1:1000")
		c.Request.Header.Set(HeaderRequestID, "abc-123")
		dispatch(t, r, c)
		if got := c.Response.Header().Get(HeaderRequestID); got != "abc-123" {
			t.Errorf("X-Request-ID = %q, want abc-123", got)
		}
	})

	t.Run("unique ids", func(t *testing.T) {
		ids := make(map[string]bool)
		for i := 0; i < 50; i++ {
			id := newRequestID()
			if ids[id] {
				t.Fatalf("duplicate id %q", id)
			}
			ids[id] = true
		}
	})
}

func TestRateLimit(t *testing.T) {
	var mu sync.Mutex
	var rejected []string
	rl := NewRateLimiter(RateLimitConfig{
		Rate:  0.001,
		Burst: 2,
		OnReject: func(route string) {
			mu.Lock()
			rejected = append(rejected, route)
			mu.Unlock()
		},
	})
	r := okRouter(rl.Stage())

	for i := 0; i < 2; i++ {
		c := newCtx(t, http.MethodGet, "/a", "10.0.0.1:1000")
		dispatch(t, r, c)
		if c.Response.Status() != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, c.Response.Status())
		}
	}

	c := newCtx(t, http.MethodGet, "/a", "10.0.0.1:1000")
	if res := dispatch(t, r, c); res != router.Send {
		t.Errorf("result = %v, want Send", res)
	}
	if c.Response.Status() != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", c.Response.Status())
	}
	if c.Response.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if c.Response.Header().Get("X-Error-Code") != "WEFT-SYS-4290" {
		t.Errorf("X-Error-Code = %q", c.Response.Header().Get("X-Error-Code"))
	}

	// Another client has its own bucket.
	other := newCtx(t, http.MethodGet, "/a", "10.0.0.2:1000")
	dispatch(t, r, other)
	if other.Response.Status() != http.StatusOK {
		t.Errorf("other client status = %d, want 200", other.Response.Status())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(rejected) != 1 || rejected[0] != "/*path" {
		t.Errorf("OnReject routes = %v, want [/*path]", rejected)
	}
	if rl.Clients() != 2 {
		t.Errorf("Clients() = %d, want 2", rl.Clients())
	}
}

func TestRateLimit_Sweep(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Rate: 10, IdleTTL: time.Minute})
	r := okRouter(rl.Stage())
	dispatch(t, r, newCtx(t, http.MethodGet, "/", "10.0.0.1:1"))
	dispatch(t, r, newCtx(t, http.MethodGet, "/", "10.0.0.2:1"))

	if n := rl.Sweep(time.Now()); n != 0 {
		t.Errorf("Sweep(now) = %d, want 0", n)
	}
	if n := rl.Sweep(time.Now().Add(2 * time.Minute)); n != 2 {
		t.Errorf("Sweep(later) = %d, want 2", n)
	}
	if rl.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", rl.Clients())
	}

	keep := NewRateLimiter(RateLimitConfig{Rate: 10})
	dispatch(t, okRouter(keep.Stage()), newCtx(t, http.MethodGet, "/", "10.0.0.1:1"))
	if n := keep.Sweep(time.Now().Add(time.Hour)); n != 0 {
		t.Errorf("Sweep() without IdleTTL = %d, want 0", n)
	}
}

func TestRateLimitConcurrency(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Rate: 1000, Burst: 1000})
	r := okRouter(rl.Stage())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				c := newCtx(t, http.MethodGet, "/", "10.0.0.9:1")
				if _, err := r.Dispatch(c); err != nil {
					t.Errorf("Dispatch() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()
	if rl.Clients() != 1 {
		t.Errorf("Clients() = %d, want 1", rl.Clients())
	}
}

func TestNetworkACL(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	tests := []struct {
		name   string
		allow  []string
		remote string
		xff    string
		want   int
	}{
		{"empty allowlist", nil, "192.168.1.100:1", "", http.StatusOK},
		{"single IP", []string{"192.168.1.100"}, "192.168.1.100:1", "", http.StatusOK},
		{"CIDR", []string{"10.0.0.0/8"}, "10.1.2.3:1", "", http.StatusOK},
		{"IPv6 loopback", []string{"::1/128"}, "[::1]:1", "", http.StatusOK},
		{"outside", []string{"10.0.0.0/8"}, "192.168.1.1:1", "", http.StatusForbidden},
		{"forwarded header ignored", []string{"10.0.0.0/8"}, "192.168.1.1:1", "10.0.0.1", http.StatusForbidden},
		{"invalid entries skipped", []string{"bogus", "10.0.0.0/99", "10.0.0.1"}, "10.0.0.1:1", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := okRouter(NetworkACL(&NetworkACLConfig{AllowList: tt.allow, Logger: logger}))
			c := newCtx(t, http.MethodGet, "/admin/status", tt.remote)
			if tt.xff != "" {
				c.Request.Header.Set("X-Forwarded-For", tt.xff)
			}
			dispatch(t, r, c)
			if c.Response.Status() != tt.want {
				t.Errorf("status = %d, want %d", c.Response.Status(), tt.want)
			}
			if tt.want == http.StatusForbidden {
				var body errorBody
				if err := json.Unmarshal(c.Response.Body(), &body); err != nil {
					t.Fatalf("error body: %v", err)
				}
				if body.Code != "WEFT-ADMIN-4031" {
					t.Errorf("code = %q, want WEFT-ADMIN-4031", body.Code)
				}
			}
		})
	}
}

func TestCORS(t *testing.T) {
	t.Run("allowed origin", func(t *testing.T) {
		c := newCtx(t, http.MethodGet, "/", "10.0.0.1:1")
		c.Request.Header.Set("Origin", "https://app.example")
		dispatch(t, okRouter(CORS([]string{"https://app.example"})), c)
		if got := c.Response.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})

	t.Run("other origin", func(t *testing.T) {
		c := newCtx(t, http.MethodGet, "/", "10.0.0.1:1")
		c.Request.Header.Set("Origin", "https://evil.example")
		dispatch(t, okRouter(CORS([]string{"https://app.example"})), c)
		if got := c.Response.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want none", got)
		}
		if c.Response.Status() != http.StatusOK {
			t.Errorf("status = %d, want 200", c.Response.Status())
		}
	})

	t.Run("preflight", func(t *testing.T) {
		r := router.New()
		r.Use(CORS(nil))
		c := newCtx(t, http.MethodOptions, "/echo", "10.0.0.1:1")
		c.Request.Header.Set("Origin", "https://app.example")
		if res := dispatch(t, r, c); res != router.Send {
			t.Errorf("result = %v, want Send", res)
		}
		if c.Response.Status() != http.StatusNoContent {
			t.Errorf("status = %d, want 204", c.Response.Status())
		}
		if !strings.Contains(c.Response.Header().Get("Access-Control-Allow-Headers"), "Expect") {
			t.Error("Allow-Headers lacks Expect")
		}
	})
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := router.New()
	r.Use(RequestID(), Audit(logger, nil))
	r.GET("/ok", router.StageFunc(func(c *router.Context) (router.Result, error) {
		return c.String(http.StatusOK, "ok")
	}))

	tests := []struct {
		target string
		level  string
		status float64
	}{
		{"/ok", "INFO", 200},
		{"/missing", "WARN", 404},
	}
	for _, tt := range tests {
		buf.Reset()
		c := newCtx(t, http.MethodGet, tt.target, "10.0.0.1:1")
		dispatch(t, r, c)

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("%s: audit log not JSON: %v (%q)", tt.target, err, buf.String())
		}
		if entry["level"] != tt.level {
			t.Errorf("%s: level = %v, want %s", tt.target, entry["level"], tt.level)
		}
		if entry["status"] != tt.status || entry["path"] != tt.target {
			t.Errorf("%s: entry = %v", tt.target, entry)
		}
		if entry["request_id"] != c.Response.Header().Get(HeaderRequestID) {
			t.Errorf("%s: request_id = %v", tt.target, entry["request_id"])
		}
	}
}

func TestClientIPResolver(t *testing.T) {
	trusted := NewClientIPResolver([]string{"192.168.1.1", "10.1.0.0/16"}, nil)
	tests := []struct {
		name     string
		resolver *ClientIPResolver
		header   map[string]string
		remote   string
		want     string
	}{
		{"trusted X-Forwarded-For", trusted, map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "192.168.1.1:1", "10.0.0.2"},
		{"trusted hops skipped", trusted, map[string]string{"X-Forwarded-For": "10.0.0.1, 10.1.2.3"}, "192.168.1.1:1", "10.0.0.1"},
		{"all hops trusted", trusted, map[string]string{"X-Forwarded-For": "10.1.0.5, 10.1.2.3"}, "192.168.1.1:1", "10.1.0.5"},
		{"garbage hop", trusted, map[string]string{"X-Forwarded-For": "nonsense"}, "192.168.1.1:1", "192.168.1.1"},
		{"trusted X-Real-IP", trusted, map[string]string{"X-Real-IP": "10.0.0.3"}, "192.168.1.1:1", "10.0.0.3"},
		{"untrusted X-Forwarded-For", trusted, map[string]string{"X-Forwarded-For": "10.0.0.1"}, "172.16.0.9:1", "172.16.0.9"},
		{"untrusted X-Real-IP", trusted, map[string]string{"X-Real-IP": "10.0.0.3"}, "172.16.0.9:1", "172.16.0.9"},
		{"nil resolver", nil, map[string]string{"X-Forwarded-For": "10.0.0.1"}, "192.168.1.1:1", "192.168.1.1"},
		{"remote", trusted, nil, "192.168.1.1:12345", "192.168.1.1"},
		{"remote without port", nil, nil, "192.168.1.1", "192.168.1.1"},
	}
	for _, tt := range tests {
		c := newCtx(t, http.MethodGet, "/", tt.remote)
		for k, v := range tt.header {
			c.Request.Header.Set(k, v)
		}
		if got := tt.resolver.Resolve(c); got != tt.want {
			t.Errorf("%s: Resolve() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRateLimit_SpoofedForwardingHeaders(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Rate:     0.001,
		Burst:    1,
		ClientIP: NewClientIPResolver([]string{"10.9.9.9"}, nil),
	})
	r := okRouter(rl.Stage())

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		c := newCtx(t, http.MethodGet, "/a", "172.16.0.9:1000")
		c.Request.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		c.Request.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i))
		dispatch(t, r, c)
		statuses = append(statuses, c.Response.Status())
	}
	want := []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("request %d status = %d, want %d", i, statuses[i], want[i])
		}
	}
	if got := rl.Clients(); got != 1 {
		t.Errorf("Clients() = %d, want 1", got)
	}

	// Behind the trusted proxy each forwarded client gets its own bucket.
	for i := 0; i < 2; i++ {
		c := newCtx(t, http.MethodGet, "/a", "10.9.9.9:1000")
		c.Request.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		dispatch(t, r, c)
		if c.Response.Status() != http.StatusOK {
			t.Errorf("proxied request %d status = %d, want 200", i, c.Response.Status())
		}
	}
	if got := rl.Clients(); got != 3 {
		t.Errorf("Clients() = %d, want 3", got)
	}
}
