package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
)

// DefaultMaxHeaderBytes bounds the request line and header block.
const DefaultMaxHeaderBytes = 1 << 20

var (
	// ErrHeaderTooLarge is returned when the header block exceeds the limit.
	ErrHeaderTooLarge = errors.New("wire: request header too large")
	// ErrMalformed wraps parse failures of the request line or header.
	ErrMalformed = errors.New("wire: malformed request")
	// ErrBodyTooLarge is returned by Discard when the unread body exceeds the limit.
	ErrBodyTooLarge = errors.New("wire: unread body too large to discard")
)

// Reader parses requests from one connection. It is reused across requests.
type Reader struct {
	lr *io.LimitedReader
	br *bufio.Reader
	bw *bufio.Writer

	MaxHeaderBytes int64
}

// NewReader returns a reader over r. Interim responses are written to w.
func NewReader(r io.Reader, w *bufio.Writer) *Reader {
	lr := &io.LimitedReader{R: r, N: math.MaxInt64}
	return &Reader{lr: lr, br: bufio.NewReader(lr), bw: w, MaxHeaderBytes: DefaultMaxHeaderBytes}
}

// Reset rebinds the reader to a new connection.
func (r *Reader) Reset(src io.Reader, w *bufio.Writer) {
	r.lr.R = src
	r.lr.N = math.MaxInt64
	r.br.Reset(r.lr)
	r.bw = w
}

// Buffered returns the number of bytes already read from the connection but
// not yet consumed.
func (r *Reader) Buffered() int {
	return r.br.Buffered()
}

// Ready blocks until the next request starts arriving.
func (r *Reader) Ready() error {
	_, err := r.br.Peek(1)
	return err
}

// ReadRequest reads the next request header. The body is left on the
// connection and read through Request.Body.
func (r *Reader) ReadRequest() (*Request, error) {
	max := r.MaxHeaderBytes
	if max <= 0 {
		max = DefaultMaxHeaderBytes
	}
	// Slack for the bufio buffer, as net/http does.
	r.lr.N = max + 4096
	req, err := http.ReadRequest(r.br)
	headerExhausted := r.lr.N == 0
	r.lr.N = math.MaxInt64
	if err != nil {
		switch {
		case headerExhausted:
			return nil, ErrHeaderTooLarge
		case isConnError(err):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	out := &Request{
		Std:            req,
		KeepAlive:      !req.Close,
		ExpectContinue: expectsContinue(req),
	}
	out.body = &bodyReader{req: out, src: req.Body, bw: r.bw}
	if req.ContentLength == 0 && len(req.TransferEncoding) == 0 {
		out.body.eof = true
	}
	return out, nil
}

func expectsContinue(req *http.Request) bool {
	if req.ProtoMajor != 1 || req.ProtoMinor < 1 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(req.Header.Get("Expect")), "100-continue")
}

func isConnError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IsMalformed reports whether err describes bad input from the peer, as
// opposed to a connection failure.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrHeaderTooLarge)
}

// Request is one parsed request.
type Request struct {
	Std *http.Request

	KeepAlive      bool
	ExpectContinue bool

	body *bodyReader
}

// Body returns the request body. The first read answers an expectation with
// "100 Continue".
func (r *Request) Body() io.Reader {
	return r.body
}

// ContinueSent reports whether the interim response was written.
func (r *Request) ContinueSent() bool {
	return r.body.continued
}

// BodyComplete reports whether the whole body was consumed.
func (r *Request) BodyComplete() bool {
	return r.body.eof
}

// Reusable reports whether the connection can carry another request after
// this one, provided the body is drained. A client still waiting for
// permission may send its body at any time, so the stream is out of sync.
func (r *Request) Reusable() bool {
	if r.body.err != nil && !errors.Is(r.body.err, io.EOF) {
		return false
	}
	return !r.ExpectContinue || r.body.continued || r.body.eof
}

// Discard reads and drops up to max bytes of unread body.
func (r *Request) Discard(max int64) error {
	if r.body.eof {
		return nil
	}
	if r.ExpectContinue && !r.body.continued {
		return nil
	}
	n, err := io.CopyN(io.Discard, r.body, max+1)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	if n > max {
		return ErrBodyTooLarge
	}
	return nil
}

type bodyReader struct {
	req       *Request
	src       io.ReadCloser
	bw        *bufio.Writer
	continued bool
	eof       bool
	err       error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	if b.eof {
		return 0, io.EOF
	}
	if b.err != nil {
		return 0, b.err
	}
	if b.req.ExpectContinue && !b.continued {
		b.continued = true
		if b.bw != nil {
			if err := WriteContinue(b.bw); err != nil {
				b.err = err
				return 0, err
			}
		}
	}
	n, err := b.src.Read(p)
	if err == io.EOF {
		b.eof = true
	} else if err != nil {
		b.err = err
	}
	return n, err
}
