package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"runtime/debug"

	"github.com/yndnr/weft-go/internal/core/taskgroup"
)

// Request is the read-only view of a parsed request.
type Request struct {
	Method string
	// Target is the raw request target as it appeared on the request line.
	Target string
	// URL is nil when Target could not be parsed.
	URL        *url.URL
	Path       string
	Proto      string
	ProtoMajor int
	ProtoMinor int
	Header     http.Header
	Host       string
	RemoteAddr string
	TLS        bool
	// Body reads the request body. Reading it may emit "100 Continue".
	Body          io.Reader
	ContentLength int64
	// KeepAlive reports whether the client asked to keep the connection open.
	KeepAlive bool
	// ExpectContinue reports whether the client waits for "100 Continue".
	ExpectContinue bool
}

// Query returns the parsed query string.
func (r *Request) Query() url.Values {
	if r.URL == nil {
		return url.Values{}
	}
	return r.URL.Query()
}

// Response is the response under construction. It implements
// http.ResponseWriter so stdlib handlers can fill it in.
type Response struct {
	status      int
	header      http.Header
	body        bytes.Buffer
	keepAlive   bool
	wroteHeader bool
}

// Header returns the response header map.
func (w *Response) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

// WriteHeader sets the status code. Only the first call has an effect.
func (w *Response) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
}

// Write appends to the buffered body.
func (w *Response) Write(p []byte) (int, error) {
	w.wroteHeader = true
	return w.body.Write(p)
}

// SetStatus overrides the status code regardless of earlier writes.
func (w *Response) SetStatus(status int) {
	w.status = status
}

// Status returns the status code.
func (w *Response) Status() int {
	return w.status
}

// Body returns the buffered body.
func (w *Response) Body() []byte {
	return w.body.Bytes()
}

// ResetBody discards the buffered body.
func (w *Response) ResetBody() {
	w.body.Reset()
}

// KeepAlive reports whether the connection stays open after this response.
func (w *Response) KeepAlive() bool {
	return w.keepAlive
}

// SetKeepAlive sets the negotiated keep-alive flag.
func (w *Response) SetKeepAlive(v bool) {
	w.keepAlive = v
}

// Written reports whether a status or body was written.
func (w *Response) Written() bool {
	return w.wroteHeader
}

func (w *Response) reset(keepAlive bool) {
	w.status = http.StatusOK
	clear(w.header)
	w.body.Reset()
	w.keepAlive = keepAlive
	w.wroteHeader = false
}

// Context carries the state of one request/response cycle.
//
// A Context is owned by a single connection and reused across its cycles.
// Nothing set during one cycle is visible in the next.
type Context struct {
	Request  Request
	Response Response
	Params   Params

	ctx      context.Context
	tasks    *taskgroup.Group
	logger   *slog.Logger
	values   map[any]any
	deferred []func(*Context)
	resumer  *Resumer
	route    string
}

// NewContext returns a context bound to a connection's task group.
// A nil logger discards.
func NewContext(tasks *taskgroup.Group, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if tasks == nil {
		tasks = taskgroup.New(1)
	}
	c := &Context{tasks: tasks, logger: logger, ctx: context.Background()}
	c.Response.reset(false)
	return c
}

// Reset prepares c for a new cycle running under ctx.
func (c *Context) Reset(ctx context.Context) {
	c.Request = Request{}
	c.Response.reset(false)
	c.Params = c.Params[:0]
	clear(c.values)
	clear(c.deferred)
	c.deferred = c.deferred[:0]
	c.resumer = nil
	c.route = ""
	c.ctx = ctx
}

// Context returns the context of the current cycle. It is cancelled when the
// connection is torn down.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Tasks returns the connection's task group.
func (c *Context) Tasks() *taskgroup.Group {
	return c.tasks
}

// Logger returns the connection logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// SetLogger replaces the logger for the rest of the cycle.
func (c *Context) SetLogger(l *slog.Logger) {
	c.logger = l
}

// Route returns the pattern of the matched route, or "" when none matched.
func (c *Context) Route() string {
	return c.route
}

// Param returns the path parameter captured for name.
func (c *Context) Param(name string) string {
	return c.Params.ByName(name)
}

// Set stores a value under key for later stages of the same cycle.
func (c *Context) Set(key string, v any) {
	if c.values == nil {
		c.values = make(map[any]any)
	}
	c.values[key] = v
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

type typeKey struct{ t reflect.Type }

// Store saves v in c keyed by its type T.
func Store[T any](c *Context, v T) {
	if c.values == nil {
		c.values = make(map[any]any)
	}
	c.values[typeKey{reflect.TypeFor[T]()}] = v
}

// Load returns the value of type T saved with Store.
func Load[T any](c *Context) (T, bool) {
	v, ok := c.values[typeKey{reflect.TypeFor[T]()}]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Defer registers fn to run after the exchange was dispatched, before the
// response is written. Hooks run in reverse registration order.
func (c *Context) Defer(fn func(*Context)) {
	c.deferred = append(c.deferred, fn)
}

// RunDeferred runs and clears the hooks registered with Defer.
func (c *Context) RunDeferred() {
	for i := len(c.deferred) - 1; i >= 0; i-- {
		fn := c.deferred[i]
		c.deferred[i] = nil
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("deferred hook panicked", "panic", r)
				}
			}()
			fn(c)
		}()
	}
	c.deferred = c.deferred[:0]
}

// Detach creates the resumer for a stage that is about to return Detach.
func (c *Context) Detach() *Resumer {
	c.resumer = newResumer()
	return c.resumer
}

// Background runs task on the connection's task group and resumes dispatch
// when it returns: Send on success, Close with a 500 response on failure.
// The stage calling it must return its result.
//
//	r.GET("/slow", router.StageFunc(func(c *router.Context) (router.Result, error) {
//	    return c.Background(func(ctx context.Context) error { ... })
//	}))
func (c *Context) Background(task func(ctx context.Context) error) (Result, error) {
	r := c.Detach()
	_, err := c.tasks.Go(c.ctx, func(ctx context.Context) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: %v", ErrStagePanic, p)
				c.logger.Error("background task panicked", "panic", p, "stack", string(debug.Stack()))
			}
			if err != nil {
				c.Response.ResetBody()
				c.Response.SetStatus(http.StatusInternalServerError)
				_ = r.Resume(Close)
				return
			}
			_ = r.Resume(Send)
		}()
		return task(ctx)
	})
	if err != nil {
		c.resumer = nil
		return Next, err
	}
	return Detach, nil
}

// String writes a text/plain response and returns Send.
func (c *Context) String(status int, s string) (Result, error) {
	c.Response.Header().Set("Content-Type", "text/plain; charset=utf-8")
	c.Response.WriteHeader(status)
	_, _ = io.WriteString(&c.Response, s)
	return Send, nil
}

// JSON writes v as an application/json response and returns Send.
func (c *Context) JSON(status int, v any) (Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Next, fmt.Errorf("router: encode response: %w", err)
	}
	c.Response.Header().Set("Content-Type", "application/json")
	c.Response.WriteHeader(status)
	_, _ = c.Response.Write(data)
	return Send, nil
}
