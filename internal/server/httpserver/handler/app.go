package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yndnr/weft-go/internal/core/router"
	"github.com/yndnr/weft-go/internal/telemetry/logger"
)

// handleRoot handles GET /.
func (h *Handler) handleRoot(c *router.Context) (router.Result, error) {
	return c.String(http.StatusOK, "weft\n")
}

// handleEcho handles POST and PUT /echo. Reading the body is what triggers
// the interim 100 Continue for clients that asked for one.
func (h *Handler) handleEcho(c *router.Context) (router.Result, error) {
	if c.Request.ContentLength > h.cfg.MaxEchoBytes {
		// Never read the body: the client gets the final status instead of
		// 100 Continue, and the connection is not reused.
		if _, err := h.writeError(c, http.StatusRequestEntityTooLarge, "WEFT-ARG-4130", "body too large", nil); err != nil {
			return router.Next, err
		}
		return router.Close, nil
	}

	var body []byte
	if c.Request.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(c.Request.Body, h.cfg.MaxEchoBytes+1))
		if err != nil {
			return router.Next, fmt.Errorf("read body: %w", err)
		}
	}
	if int64(len(body)) > h.cfg.MaxEchoBytes {
		if _, err := h.writeError(c, http.StatusRequestEntityTooLarge, "WEFT-ARG-4130", "body too large", nil); err != nil {
			return router.Next, err
		}
		return router.Close, nil
	}

	return h.writeJSON(c, http.StatusOK, EchoResponse{
		Method:          c.Request.Method,
		Path:            c.Request.Path,
		Bytes:           len(body),
		Body:            string(body),
		ExpectContinue:  c.Request.ExpectContinue,
		ConnectionReuse: c.Request.KeepAlive,
	})
}

// handleHello handles GET /hello/:name?.
func (h *Handler) handleHello(c *router.Context) (router.Result, error) {
	name := c.Param("name")
	if name == "" {
		name = "world"
	}
	return c.String(http.StatusOK, "hello, "+name+"\n")
}

// handleStatic handles GET /static/*path by echoing the captured path.
func (h *Handler) handleStatic(c *router.Context) (router.Result, error) {
	return h.writeJSON(c, http.StatusOK, map[string]string{
		"path": c.Param("path"),
	})
}

// handleSlow handles GET /slow. The work runs on the connection's task group
// while the dispatch is detached.
func (h *Handler) handleSlow(c *router.Context) (router.Result, error) {
	delay := h.cfg.SlowDelay
	if v := c.Request.Query().Get("delay"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return h.writeError(c, http.StatusBadRequest, "WEFT-ARG-4000", "invalid delay", nil)
		}
		delay = d
	}

	start := time.Now()
	return c.Background(func(ctx context.Context) error {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			logger.FromContext(ctx).Debug("slow request cancelled",
				"delay", delay,
				"cause", context.Cause(ctx))
			return context.Cause(ctx)
		}
		_, err := h.writeJSON(c, http.StatusOK, map[string]string{
			"waited": time.Since(start).Round(time.Millisecond).String(),
		})
		return err
	})
}
