package router

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/weft-go/internal/core/taskgroup"
)

func newTestContext(method, target string) *Context {
	c := NewContext(taskgroup.New(4), nil)
	c.Reset(context.Background())
	c.Request.Method = method
	c.Request.Target = target
	if u, err := url.ParseRequestURI(target); err == nil {
		c.Request.URL = u
		c.Request.Path = u.Path
	}
	c.Request.Header = make(http.Header)
	c.Response.SetKeepAlive(true)
	return c
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) stage(name string, res Result) Stage {
	return StageFunc(func(c *Context) (Result, error) {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		return res, nil
	})
}

func (r *recorder) got() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.calls, ",")
}

func TestDispatch_Order(t *testing.T) {
	rec := &recorder{}
	r := New()
	r.Use(rec.stage("A", Next))
	r.GET("/x", rec.stage("B", Next))
	r.GET("/x", rec.stage("C", Next))

	c := newTestContext(http.MethodGet, "/x")
	res, err := r.Dispatch(c)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := rec.got(); got != "A,B,C" {
		t.Errorf("stages ran %q, want %q", got, "A,B,C")
	}
	// C returned Next, so the chain ran dry.
	if res != Send || c.Response.Status() != http.StatusNotFound {
		t.Errorf("Dispatch() = %v status %d, want send/404", res, c.Response.Status())
	}
}

func TestDispatch_SendStopsChain(t *testing.T) {
	rec := &recorder{}
	r := New()
	r.Use(rec.stage("A", Next))
	r.GET("/x", rec.stage("B", Send), rec.stage("C", Next))

	res, err := r.Dispatch(newTestContext(http.MethodGet, "/x"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res != Send {
		t.Errorf("Dispatch() = %v, want %v", res, Send)
	}
	if got := rec.got(); got != "A,B" {
		t.Errorf("stages ran %q, want %q", got, "A,B")
	}
}

func TestDispatch_CloseClearsKeepAlive(t *testing.T) {
	r := New()
	r.GET("/bye", StageFunc(func(c *Context) (Result, error) { return Close, nil }))

	c := newTestContext(http.MethodGet, "/bye")
	res, err := r.Dispatch(c)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res != Close {
		t.Errorf("Dispatch() = %v, want %v", res, Close)
	}
	if c.Response.KeepAlive() {
		t.Error("KeepAlive() = true after Close")
	}
}

func TestDispatch_NotFound(t *testing.T) {
	rec := &recorder{}
	r := New()
	r.Use(rec.stage("A", Next))
	r.GET("/x", rec.stage("B", Send))

	tests := []struct {
		method, target string
	}{
		{http.MethodGet, "/y"},
		{http.MethodPost, "/x"},
	}
	for _, tt := range tests {
		c := newTestContext(tt.method, tt.target)
		res, err := r.Dispatch(c)
		if err != nil {
			t.Fatalf("Dispatch(%s %s) error = %v", tt.method, tt.target, err)
		}
		if res != Send || c.Response.Status() != http.StatusNotFound {
			t.Errorf("Dispatch(%s %s) = %v status %d, want send/404", tt.method, tt.target, res, c.Response.Status())
		}
	}
	if got := rec.got(); got != "A,A" {
		t.Errorf("stages ran %q, want %q", got, "A,A")
	}
}

func TestDispatch_CustomNotFound(t *testing.T) {
	r := New(WithNotFound(StageFunc(func(c *Context) (Result, error) {
		return c.String(http.StatusTeapot, "nope")
	})))
	c := newTestContext(http.MethodGet, "/missing")
	if _, err := r.Dispatch(c); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if c.Response.Status() != http.StatusTeapot {
		t.Errorf("status = %d, want %d", c.Response.Status(), http.StatusTeapot)
	}
}

func TestDispatch_BadTargetStillDispatches(t *testing.T) {
	rec := &recorder{}
	r := New()
	r.Use(rec.stage("A", Next))

	c := newTestContext(http.MethodGet, "no-slash")
	c.Response.SetStatus(http.StatusBadRequest)
	if _, err := r.Dispatch(c); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if rec.got() != "A" {
		t.Errorf("stages ran %q, want A", rec.got())
	}
	if c.Response.Status() != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", c.Response.Status(), http.StatusBadRequest)
	}
}

func TestDispatch_FirstMatchWins(t *testing.T) {
	rec := &recorder{}
	r := New()
	r.GET("/files/*path", rec.stage("wild", Send))
	r.GET("/files/readme", rec.stage("exact", Send))

	if _, err := r.Dispatch(newTestContext(http.MethodGet, "/files/readme")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if rec.got() != "wild" {
		t.Errorf("stages ran %q, want wild", rec.got())
	}
}

func TestDispatch_AnyMethod(t *testing.T) {
	rec := &recorder{}
	r := New()
	r.Handle("*", "/any", rec.stage("any", Send))

	for _, m := range []string{http.MethodGet, http.MethodDelete} {
		if _, err := r.Dispatch(newTestContext(m, "/any")); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", m, err)
		}
	}
	if rec.got() != "any,any" {
		t.Errorf("stages ran %q, want any,any", rec.got())
	}
}

func TestDispatch_StageError(t *testing.T) {
	rec := &recorder{}
	want := errors.New("backend down")
	r := New()
	r.GET("/x", StageFunc(func(c *Context) (Result, error) { return Next, want }), rec.stage("C", Send))

	_, err := r.Dispatch(newTestContext(http.MethodGet, "/x"))
	if !errors.Is(err, want) {
		t.Fatalf("Dispatch() error = %v, want %v", err, want)
	}
	if rec.got() != "" {
		t.Errorf("stages after error ran: %q", rec.got())
	}
}

func TestDispatch_StagePanic(t *testing.T) {
	r := New()
	r.GET("/x", StageFunc(func(c *Context) (Result, error) { panic("boom") }))

	_, err := r.Dispatch(newTestContext(http.MethodGet, "/x"))
	if !errors.Is(err, ErrStagePanic) {
		t.Fatalf("Dispatch() error = %v, want %v", err, ErrStagePanic)
	}
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "boom" {
		t.Errorf("panic value = %v, want boom", err)
	}
}

func TestDispatch_Params(t *testing.T) {
	var got string
	r := New()
	r.GET("/users/:id/files/*path", StageFunc(func(c *Context) (Result, error) {
		got = c.Param("id") + "|" + c.Param("path")
		return Send, nil
	}))

	if _, err := r.Dispatch(newTestContext(http.MethodGet, "/users/42/files/a/b.txt")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got != "42|a/b.txt" {
		t.Errorf("params = %q, want %q", got, "42|a/b.txt")
	}
}

func TestDispatch_RoutePattern(t *testing.T) {
	r := New()
	r.GET("/users/:id", StageFunc(func(c *Context) (Result, error) { return Send, nil }))

	c := newTestContext(http.MethodGet, "/users/7")
	if _, err := r.Dispatch(c); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if c.Route() != "/users/:id" {
		t.Errorf("Route() = %q, want /users/:id", c.Route())
	}

	c.Reset(context.Background())
	if c.Route() != "" {
		t.Errorf("Route() after Reset = %q, want empty", c.Route())
	}
}

func TestDispatch_DetachResume(t *testing.T) {
	for _, tt := range []struct {
		resume Result
		want   string
	}{
		{Next, "A,D,C"},
		{Send, "A,D"},
		{Close, "A,D"},
	} {
		rec := &recorder{}
		r := New()
		r.Use(rec.stage("A", Next))
		r.GET("/x", StageFunc(func(c *Context) (Result, error) {
			rec.stage("D", Next).Invoke(c)
			resumer := c.Detach()
			go func() {
				time.Sleep(5 * time.Millisecond)
				if err := resumer.Resume(tt.resume); err != nil {
					t.Errorf("Resume() error = %v", err)
				}
			}()
			return Detach, nil
		}), rec.stage("C", Send))

		res, err := r.Dispatch(newTestContext(http.MethodGet, "/x"))
		if err != nil {
			t.Fatalf("resume %v: Dispatch() error = %v", tt.resume, err)
		}
		wantRes := tt.resume
		if wantRes == Next {
			wantRes = Send
		}
		if res != wantRes {
			t.Errorf("resume %v: Dispatch() = %v, want %v", tt.resume, res, wantRes)
		}
		if got := rec.got(); got != tt.want {
			t.Errorf("resume %v: stages ran %q, want %q", tt.resume, got, tt.want)
		}
	}
}

func TestResumer_AtMostOnce(t *testing.T) {
	r := newResumer()
	if err := r.Resume(Detach); !errors.Is(err, ErrInvalidResume) {
		t.Fatalf("Resume(Detach) error = %v, want %v", err, ErrInvalidResume)
	}
	if err := r.Resume(Send); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if err := r.Resume(Send); !errors.Is(err, ErrAlreadyResumed) {
		t.Fatalf("second Resume() error = %v, want %v", err, ErrAlreadyResumed)
	}
	if !r.Resumed() {
		t.Error("Resumed() = false")
	}
}

func TestDispatch_DetachWithoutResumer(t *testing.T) {
	r := New()
	r.GET("/x", StageFunc(func(c *Context) (Result, error) { return Detach, nil }))

	if _, err := r.Dispatch(newTestContext(http.MethodGet, "/x")); !errors.Is(err, ErrNoResumer) {
		t.Fatalf("Dispatch() error = %v, want %v", err, ErrNoResumer)
	}
}

func TestDispatch_DetachNeverResumed(t *testing.T) {
	r := New()
	r.GET("/x", StageFunc(func(c *Context) (Result, error) {
		c.Detach()
		return Detach, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	c := newTestContext(http.MethodGet, "/x")
	c.ctx = ctx

	if _, err := r.Dispatch(c); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dispatch() error = %v, want deadline exceeded", err)
	}
}

func TestContext_Background(t *testing.T) {
	r := New()
	r.GET("/ok", StageFunc(func(c *Context) (Result, error) {
		return c.Background(func(ctx context.Context) error {
			_, err := c.String(http.StatusAccepted, "done")
			return err
		})
	}))
	r.GET("/fail", StageFunc(func(c *Context) (Result, error) {
		return c.Background(func(ctx context.Context) error {
			return errors.New("nope")
		})
	}))

	c := newTestContext(http.MethodGet, "/ok")
	res, err := r.Dispatch(c)
	if err != nil || res != Send {
		t.Fatalf("Dispatch(/ok) = %v, %v, want send", res, err)
	}
	if c.Response.Status() != http.StatusAccepted || string(c.Response.Body()) != "done" {
		t.Errorf("response = %d %q", c.Response.Status(), c.Response.Body())
	}

	c = newTestContext(http.MethodGet, "/fail")
	res, err = r.Dispatch(c)
	if err != nil || res != Close {
		t.Fatalf("Dispatch(/fail) = %v, %v, want close", res, err)
	}
	if c.Response.Status() != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", c.Response.Status())
	}
	_ = c.Tasks().Join(context.Background())
}

func TestContext_BackgroundDrainedOnCancel(t *testing.T) {
	var finished atomic.Bool
	r := New()
	r.GET("/slow", StageFunc(func(c *Context) (Result, error) {
		return c.Background(func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return ctx.Err()
		})
	}))

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestContext(http.MethodGet, "/slow")
	c.ctx = ctx
	time.AfterFunc(10*time.Millisecond, cancel)

	if _, err := r.Dispatch(c); !errors.Is(err, context.Canceled) {
		t.Fatalf("Dispatch() error = %v, want canceled", err)
	}
	// The task and its response update are complete once Dispatch returns.
	if !finished.Load() {
		t.Error("background task still running after Dispatch returned")
	}
	if got := c.Response.Status(); got != http.StatusInternalServerError {
		t.Errorf("Response.Status() = %d, want 500", got)
	}
	if got := c.Tasks().Live(); got != 0 {
		t.Errorf("Tasks().Live() = %d, want 0", got)
	}
}

func TestContext_StoreLoadAndReset(t *testing.T) {
	type session struct{ user string }

	c := newTestContext(http.MethodGet, "/")
	Store(c, &session{user: "ada"})
	c.Set("k", 1)

	s, ok := Load[*session](c)
	if !ok || s.user != "ada" {
		t.Fatalf("Load() = %v, %v", s, ok)
	}
	if v, ok := c.Get("k"); !ok || v != 1 {
		t.Errorf("Get(k) = %v, %v", v, ok)
	}

	var order []int
	c.Defer(func(*Context) { order = append(order, 1) })
	c.Defer(func(*Context) { order = append(order, 2) })
	c.RunDeferred()
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("deferred order = %v, want [2 1]", order)
	}

	c.Response.Header().Set("X-Test", "1")
	c.Reset(context.Background())
	if _, ok := Load[*session](c); ok {
		t.Error("typed value survived Reset")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("keyed value survived Reset")
	}
	if c.Response.Header().Get("X-Test") != "" || c.Response.Status() != http.StatusOK {
		t.Error("response state survived Reset")
	}
}

func TestHTTPHandler(t *testing.T) {
	r := New()
	r.GET("/std", HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("X-Path", req.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})))

	c := newTestContext(http.MethodGet, "/std")
	if _, err := r.Dispatch(c); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if c.Response.Status() != http.StatusCreated || c.Response.Header().Get("X-Path") != "/std" {
		t.Errorf("response = %d %v", c.Response.Status(), c.Response.Header())
	}
}

func TestGroup_Prefix(t *testing.T) {
	rec := &recorder{}
	r := New()
	g := r.Group("/admin/", rec.stage("acl", Next))
	g.GET("/status", rec.stage("status", Send))

	if _, err := r.Dispatch(newTestContext(http.MethodGet, "/admin/status")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if rec.got() != "acl,status" {
		t.Errorf("stages ran %q, want acl,status", rec.got())
	}
}
