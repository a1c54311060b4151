package router

import (
	"io"
	"net/http"
	"net/url"
)

// HTTPHandler adapts a stdlib handler to a Stage returning Send.
func HTTPHandler(h http.Handler) Stage {
	return StageFunc(func(c *Context) (Result, error) {
		h.ServeHTTP(&c.Response, c.HTTPRequest())
		return Send, nil
	})
}

// HTTPRequest builds an *http.Request view of the current request.
func (c *Context) HTTPRequest() *http.Request {
	req := &c.Request
	u := req.URL
	if u == nil {
		u = &url.URL{Path: req.Path}
	}
	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	hr := &http.Request{
		Method:        req.Method,
		URL:           u,
		Proto:         req.Proto,
		ProtoMajor:    req.ProtoMajor,
		ProtoMinor:    req.ProtoMinor,
		Header:        req.Header,
		Body:          io.NopCloser(body),
		ContentLength: req.ContentLength,
		Host:          req.Host,
		RemoteAddr:    req.RemoteAddr,
		RequestURI:    req.Target,
		Close:         !req.KeepAlive,
	}
	if hr.Header == nil {
		hr.Header = make(http.Header)
	}
	return hr.WithContext(c.ctx)
}
