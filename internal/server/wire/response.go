package wire

import (
	"bufio"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Response is a complete response ready to be serialized.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	KeepAlive bool
}

// WriteContinue writes and flushes a "100 Continue" interim response.
func WriteContinue(bw *bufio.Writer) error {
	if _, err := bw.WriteString("HTTP/1.1 100 Continue\r\n\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// BodyAllowed reports whether a response with status to method may carry a body.
func BodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// Serializer writes responses to one connection.
type Serializer struct {
	bw  *bufio.Writer
	now func() time.Time
}

// NewSerializer returns a serializer writing to bw.
func NewSerializer(bw *bufio.Writer) *Serializer {
	return &Serializer{bw: bw, now: time.Now}
}

// Reset rebinds the serializer to a new connection writer.
func (s *Serializer) Reset(bw *bufio.Writer) {
	s.bw = bw
}

// Writer returns the underlying buffered writer.
func (s *Serializer) Writer() *bufio.Writer {
	return s.bw
}

// WriteResponse writes the status line, header and body of resp in answer to
// a request with the given method and protocol version, then flushes.
func (s *Serializer) WriteResponse(method string, protoMinor int, resp *Response) error {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	text := http.StatusText(status)
	if text == "" {
		text = "status code " + strconv.Itoa(status)
	}
	if _, err := fmt.Fprintf(s.bw, "HTTP/1.1 %03d %s\r\n", status, text); err != nil {
		return err
	}

	h := resp.Header
	if h == nil {
		h = make(http.Header)
	}
	h.Del("Transfer-Encoding")
	if h.Get("Date") == "" {
		h.Set("Date", s.now().UTC().Format(http.TimeFormat))
	}
	switch {
	case !resp.KeepAlive:
		h.Set("Connection", "close")
	case protoMinor == 0:
		h.Set("Connection", "keep-alive")
	default:
		h.Del("Connection")
	}

	withBody := BodyAllowed(method, status)
	if status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified {
		// HEAD answers advertise the length a GET would have produced.
		if h.Get("Content-Length") == "" || withBody {
			h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
		}
	} else {
		h.Del("Content-Length")
	}
	if withBody && len(resp.Body) > 0 && h.Get("Content-Type") == "" {
		h.Set("Content-Type", http.DetectContentType(resp.Body))
	}

	if err := h.Write(s.bw); err != nil {
		return err
	}
	if _, err := s.bw.WriteString("\r\n"); err != nil {
		return err
	}
	if withBody {
		if _, err := s.bw.Write(resp.Body); err != nil {
			return err
		}
	}
	return s.bw.Flush()
}

// WriteError writes a minimal response with status and closes the exchange.
func (s *Serializer) WriteError(status int) error {
	return s.WriteResponse(http.MethodGet, 1, &Response{
		Status: status,
		Header: http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:   []byte(http.StatusText(status) + "\n"),
	})
}
