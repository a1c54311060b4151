package router

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
)

var (
	// ErrStagePanic wraps the value of a panic raised by a stage.
	ErrStagePanic = errors.New("router: stage panicked")
	// ErrNoResumer is returned when a stage returns Detach without calling
	// Context.Detach first.
	ErrNoResumer = errors.New("router: stage detached without a resumer")
	// ErrUnknownResult is returned for a result outside the four verbs.
	ErrUnknownResult = errors.New("router: unknown stage result")
)

// PanicError is the error returned by Dispatch when a stage panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrStagePanic, e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrStagePanic
}

// Route is one entry of the route table.
type Route struct {
	Method  string
	Pattern *Pattern
	Stages  []Stage
}

func (rt *Route) matchMethod(method string) bool {
	return rt.Method == "" || rt.Method == "*" || rt.Method == method
}

// Router is a dispatch table. Build it before serving; it is read-only
// afterwards and safe for concurrent Dispatch calls.
type Router struct {
	middlewares []Stage
	routes      []*Route
	notFound    Stage
}

// Option configures a Router.
type Option func(*Router)

// WithNotFound replaces the stage run when the chain is exhausted.
func WithNotFound(s Stage) Option {
	return func(r *Router) {
		r.notFound = s
	}
}

// New creates an empty router.
func New(opts ...Option) *Router {
	r := &Router{notFound: StageFunc(NotFound)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NotFound is the default terminal stage. It answers 404, or keeps 400 when
// the request target could not be parsed.
func NotFound(c *Context) (Result, error) {
	if c.Request.URL == nil && c.Response.Status() == http.StatusBadRequest {
		return c.String(http.StatusBadRequest, "bad request\n")
	}
	return c.String(http.StatusNotFound, "not found\n")
}

// Use appends global stages. They run before any route stage, for every
// request, in registration order.
func (r *Router) Use(stages ...Stage) {
	r.middlewares = append(r.middlewares, stages...)
}

// Handle registers stages for method and pattern. Registering the same method
// and pattern again appends to the existing entry. It panics on an invalid
// pattern.
func (r *Router) Handle(method, pattern string, stages ...Stage) {
	method = strings.ToUpper(method)
	for _, rt := range r.routes {
		if rt.Method == method && rt.Pattern.raw == pattern {
			rt.Stages = append(rt.Stages, stages...)
			return
		}
	}
	r.routes = append(r.routes, &Route{
		Method:  method,
		Pattern: MustCompile(pattern),
		Stages:  append([]Stage(nil), stages...),
	})
}

func (r *Router) GET(pattern string, stages ...Stage)     { r.Handle(http.MethodGet, pattern, stages...) }
func (r *Router) HEAD(pattern string, stages ...Stage)    { r.Handle(http.MethodHead, pattern, stages...) }
func (r *Router) POST(pattern string, stages ...Stage)    { r.Handle(http.MethodPost, pattern, stages...) }
func (r *Router) PUT(pattern string, stages ...Stage)     { r.Handle(http.MethodPut, pattern, stages...) }
func (r *Router) PATCH(pattern string, stages ...Stage)   { r.Handle(http.MethodPatch, pattern, stages...) }
func (r *Router) DELETE(pattern string, stages ...Stage)  { r.Handle(http.MethodDelete, pattern, stages...) }
func (r *Router) OPTIONS(pattern string, stages ...Stage) { r.Handle(http.MethodOptions, pattern, stages...) }

// Routes returns the route table in registration order.
func (r *Router) Routes() []*Route {
	return r.routes
}

// Group returns a registration helper that prefixes patterns and prepends
// stages to every route it registers.
func (r *Router) Group(prefix string, stages ...Stage) *Group {
	return &Group{router: r, prefix: strings.TrimSuffix(prefix, "/"), stages: stages}
}

// Group registers routes under a common prefix.
type Group struct {
	router *Router
	prefix string
	stages []Stage
}

// Handle registers a route under the group prefix.
func (g *Group) Handle(method, pattern string, stages ...Stage) {
	all := make([]Stage, 0, len(g.stages)+len(stages))
	all = append(all, g.stages...)
	all = append(all, stages...)
	g.router.Handle(method, g.prefix+pattern, all...)
}

func (g *Group) GET(pattern string, stages ...Stage)    { g.Handle(http.MethodGet, pattern, stages...) }
func (g *Group) POST(pattern string, stages ...Stage)   { g.Handle(http.MethodPost, pattern, stages...) }
func (g *Group) PUT(pattern string, stages ...Stage)    { g.Handle(http.MethodPut, pattern, stages...) }
func (g *Group) DELETE(pattern string, stages ...Stage) { g.Handle(http.MethodDelete, pattern, stages...) }

// Match returns the first route matching method and path, in registration
// order, and appends its captured parameters to params.
func (r *Router) Match(method, path string, params Params) (*Route, Params) {
	for _, rt := range r.routes {
		if !rt.matchMethod(method) {
			continue
		}
		if out, ok := rt.Pattern.Match(path, params); ok {
			return rt, out
		}
	}
	return nil, params
}

// Dispatch runs the chain for the request held by c.
//
// It returns the result that ended the chain (Send or Close), or the first
// stage error. A Detach result waits for the stage's resumer, or for c's
// context to end, in which case the context's error is returned.
func (r *Router) Dispatch(c *Context) (Result, error) {
	rt, params := r.Match(c.Request.Method, c.Request.Path, c.Params[:0])
	c.Params = params
	if rt != nil {
		c.route = rt.Pattern.String()
	}

	res, err := r.walk(c, r.middlewares)
	if err != nil || res != Next {
		return res, err
	}
	if rt != nil {
		res, err = r.walk(c, rt.Stages)
		if err != nil || res != Next {
			return res, err
		}
	}
	res, err = r.walk(c, []Stage{r.notFound})
	if err == nil && res == Next {
		res = Send
	}
	return res, err
}

func (r *Router) walk(c *Context, stages []Stage) (Result, error) {
	for _, s := range stages {
		res, err := invoke(c, s)
		if err != nil {
			return res, err
		}
		if res == Detach {
			res, err = c.await()
			if err != nil {
				return res, err
			}
		}
		switch res {
		case Next:
			continue
		case Send:
			return Send, nil
		case Close:
			c.Response.SetKeepAlive(false)
			return Close, nil
		default:
			return res, fmt.Errorf("%w: %v", ErrUnknownResult, res)
		}
	}
	return Next, nil
}

func invoke(c *Context, s Stage) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return s.Invoke(c)
}

// await blocks until the pending resumer fires or the cycle's context ends.
// In the latter case it drains the task group first so no background task
// still touches the response once dispatch returns.
func (c *Context) await() (Result, error) {
	r := c.resumer
	if r == nil {
		return Detach, ErrNoResumer
	}
	c.resumer = nil
	select {
	case res := <-r.ch:
		return res, nil
	case <-c.ctx.Done():
		_ = c.tasks.Join(c.ctx)
		return Detach, c.ctx.Err()
	}
}
