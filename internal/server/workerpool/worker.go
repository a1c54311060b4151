package workerpool

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yndnr/weft-go/internal/core/router"
	"github.com/yndnr/weft-go/internal/core/taskgroup"
	"github.com/yndnr/weft-go/internal/server/wire"
	tlog "github.com/yndnr/weft-go/internal/telemetry/logger"
)

// aLongTimeAgo is a deadline that makes pending I/O fail immediately.
var aLongTimeAgo = time.Unix(1, 0)

// errBadTarget marks a request target the router cannot route.
var errBadTarget = errors.New("workerpool: bad request target")

// worker is one connection slot. Everything except next and acceptor is
// touched only by the goroutine serving the slot's current connection.
type worker struct {
	index int
	next  int

	pool     *Pool
	acceptor *acceptor
	conn     net.Conn

	bw     *bufio.Writer
	reader *wire.Reader
	ser    *wire.Serializer
	tasks  *taskgroup.Group
	rc     *router.Context
}

func (w *worker) init(p *Pool, index int) {
	w.index = index
	w.pool = p
	w.bw = bufio.NewWriterSize(nil, 4096)
	w.reader = wire.NewReader(nil, w.bw)
	w.reader.MaxHeaderBytes = p.cfg.MaxHeaderBytes
	w.ser = wire.NewSerializer(w.bw)
	w.tasks = taskgroup.New(p.cfg.BackgroundTasks)
	w.rc = router.NewContext(w.tasks, p.logger)
}

// serve runs the session loop for w.conn until the connection ends.
func (w *worker) serve(parent context.Context) {
	a := w.acceptor
	p := w.pool
	conn := w.conn
	logger := p.logger.With("acceptor", a.cfg.Name, "remote", remoteAddr(conn))

	ctx, cancel := context.WithCancel(tlog.WithLogger(parent, logger))
	stopIO := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(aLongTimeAgo)
	})

	w.rc.SetLogger(logger)
	requests := 0
	p.observer.SessionStarted(a.cfg.Name)
	defer func() {
		cancel()
		stopIO()
		// Background work must not outlive the slot.
		_ = w.tasks.Join(ctx)
		_ = conn.Close()
		w.bw.Reset(nil)
		w.reader.Reset(nil, w.bw)
		p.observer.SessionEnded(a.cfg.Name, requests)
		logger.Debug("connection closed", "requests", requests)
	}()

	isTLS := false
	if a.cfg.TLS != nil {
		tc := tls.Server(conn, a.cfg.TLS)
		setReadDeadline(ctx, conn, p.cfg.ReadHeaderTimeout)
		err := tc.HandshakeContext(ctx)
		if err != nil {
			logger.Debug("tls handshake failed", "error", err)
			return
		}
		conn = tc
		isTLS = true
	}

	w.bw.Reset(conn)
	w.reader.Reset(conn, w.bw)
	w.ser.Reset(w.bw)

	first := true
	for {
		w.rc.Reset(ctx)

		wait := p.cfg.IdleTimeout
		if first {
			wait = p.cfg.ReadHeaderTimeout
		}
		first = false
		setReadDeadline(ctx, conn, wait)
		if err := w.reader.Ready(); err != nil {
			logReadError(logger, "connection idle read ended", err)
			return
		}

		setReadDeadline(ctx, conn, p.cfg.ReadHeaderTimeout)
		req, err := w.reader.ReadRequest()
		if err != nil {
			if wire.IsMalformed(err) {
				status := http.StatusBadRequest
				if errors.Is(err, wire.ErrHeaderTooLarge) {
					status = http.StatusRequestHeaderFieldsTooLarge
				}
				setWriteDeadline(ctx, conn, p.cfg.WriteTimeout)
				_ = w.ser.WriteError(status)
				logger.Debug("malformed request", "error", err)
				return
			}
			logReadError(logger, "request read ended", err)
			return
		}
		requests++
		setReadDeadline(ctx, conn, p.cfg.ReadTimeout)

		start := time.Now()
		w.fill(req, conn, isTLS)
		res, derr := a.router.Dispatch(w.rc)
		w.rc.RunDeferred()
		p.observer.RequestDone(a.cfg.Name, res, w.rc.Response.Status(), time.Since(start), derr)

		if derr != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dispatch failed",
				"method", req.Std.Method,
				"target", req.Std.RequestURI,
				"error", derr,
			)
			setWriteDeadline(ctx, conn, p.cfg.WriteTimeout)
			_ = w.ser.WriteError(http.StatusInternalServerError)
			return
		}

		keepAlive := w.rc.Response.KeepAlive() && res != router.Close && req.Reusable() && ctx.Err() == nil
		w.rc.Response.SetKeepAlive(keepAlive)

		setWriteDeadline(ctx, conn, p.cfg.WriteTimeout)
		err = w.ser.WriteResponse(req.Std.Method, req.Std.ProtoMinor, &wire.Response{
			Status:    w.rc.Response.Status(),
			Header:    w.rc.Response.Header(),
			Body:      w.rc.Response.Body(),
			KeepAlive: keepAlive,
		})
		if err != nil {
			logger.Debug("response write failed", "error", err)
			return
		}
		if !keepAlive {
			return
		}
		if err := req.Discard(p.cfg.MaxDiscardBytes); err != nil {
			logger.Debug("request body not drained", "error", err)
			return
		}
	}
}

// fill copies the parsed request into the router context and builds the
// response skeleton.
func (w *worker) fill(req *wire.Request, conn net.Conn, isTLS bool) {
	std := req.Std
	c := w.rc
	c.Request = router.Request{
		Method:         std.Method,
		Target:         std.RequestURI,
		Proto:          std.Proto,
		ProtoMajor:     std.ProtoMajor,
		ProtoMinor:     std.ProtoMinor,
		Header:         std.Header,
		Host:           std.Host,
		RemoteAddr:     remoteAddr(conn),
		TLS:            isTLS,
		Body:           req.Body(),
		ContentLength:  std.ContentLength,
		KeepAlive:      req.KeepAlive,
		ExpectContinue: req.ExpectContinue,
	}
	c.Response.SetKeepAlive(req.KeepAlive)

	u, err := parseTarget(std.RequestURI)
	if err != nil {
		c.Response.SetStatus(http.StatusBadRequest)
		return
	}
	c.Request.URL = u
	c.Request.Path = u.Path
}

// parseTarget accepts origin-form and absolute-form targets with a rooted
// path free of dot segments.
func parseTarget(target string) (*url.URL, error) {
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, err
	}
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}
	if !strings.HasPrefix(u.Path, "/") {
		return nil, errBadTarget
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "." || seg == ".." {
			return nil, errBadTarget
		}
	}
	return u, nil
}

// setReadDeadline arms a read deadline d from now (none when d <= 0). Once
// ctx is done every deadline stays in the past.
func setReadDeadline(ctx context.Context, c net.Conn, d time.Duration) {
	_ = c.SetReadDeadline(deadline(d))
	if ctx.Err() != nil {
		_ = c.SetDeadline(aLongTimeAgo)
	}
}

func setWriteDeadline(ctx context.Context, c net.Conn, d time.Duration) {
	_ = c.SetWriteDeadline(deadline(d))
	if ctx.Err() != nil {
		_ = c.SetDeadline(aLongTimeAgo)
	}
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func logReadError(logger *slog.Logger, msg string, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		logger.Debug("connection timed out")
		return
	}
	logger.Debug(msg, "error", err)
}

func remoteAddr(c net.Conn) string {
	if addr := c.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
