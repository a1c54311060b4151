package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ClientRequest is a request to be written by a client connection.
type ClientRequest struct {
	Method string
	// Target is the request target, usually an absolute path.
	Target string
	Host   string
	Header http.Header
	Body   []byte
}

// ExpectsContinue reports whether the request asks for permission before
// sending its body.
func (r *ClientRequest) ExpectsContinue() bool {
	return len(r.Body) > 0 && strings.EqualFold(r.Header.Get("Expect"), "100-continue")
}

// WriteHeader writes the request line and header block and flushes.
func (r *ClientRequest) WriteHeader(bw *bufio.Writer) error {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	target := r.Target
	if target == "" {
		target = "/"
	}
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", method, target); err != nil {
		return err
	}

	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if r.Host != "" {
		h.Set("Host", r.Host)
	}
	if len(r.Body) > 0 || method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	if len(r.Body) == 0 {
		h.Del("Expect")
	}
	if err := h.Write(bw); err != nil {
		return err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteBody writes the request body and flushes.
func (r *ClientRequest) WriteBody(bw *bufio.Writer) error {
	if _, err := bw.Write(r.Body); err != nil {
		return err
	}
	return bw.Flush()
}

// ClientResponse is a fully read response.
type ClientResponse struct {
	Status    int
	Proto     string
	Header    http.Header
	Body      []byte
	KeepAlive bool
	// Interim lists the 1xx statuses received before the final response.
	Interim []int
	// BodySent reports whether the request body reached the wire.
	BodySent bool
	// Handshake is the resolved continue state: awaiting, received or cancelled.
	Handshake string
}

// ReadResponseHeader reads one response, leaving its body on the stream.
func ReadResponseHeader(br *bufio.Reader, method string) (*http.Response, error) {
	return http.ReadResponse(br, &http.Request{Method: method})
}

// ReadBody consumes the body of resp into a ClientResponse.
func ReadBody(resp *http.Response, maxBody int64) (*ClientResponse, error) {
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxBody)); err != nil {
		return nil, err
	}
	return &ClientResponse{
		Status:    resp.StatusCode,
		Proto:     resp.Proto,
		Header:    resp.Header,
		Body:      buf.Bytes(),
		KeepAlive: !resp.Close,
	}, nil
}
