package handler

import (
	"time"

	"github.com/yndnr/weft-go/internal/infra/buildinfo"
	"github.com/yndnr/weft-go/internal/server/workerpool"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// EchoResponse is the body of POST /echo.
type EchoResponse struct {
	Method          string `json:"method"`
	Path            string `json:"path"`
	Bytes           int    `json:"bytes"`
	Body            string `json:"body"`
	ExpectContinue  bool   `json:"expect_continue"`
	ConnectionReuse bool   `json:"keep_alive"`
}

// StatusResponse is the body of GET /admin/status.
type StatusResponse struct {
	Status  string           `json:"status"`
	Uptime  string           `json:"uptime"`
	Build   buildinfo.Info   `json:"build"`
	Pool    workerpool.Stats `json:"pool"`
	Started time.Time        `json:"started_at"`
}
