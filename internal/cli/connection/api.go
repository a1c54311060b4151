package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yndnr/weft-go/internal/server/httpclient"
	"github.com/yndnr/weft-go/internal/server/wire"
)

// APIError is a non-2xx reply carrying the server's error envelope.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("[%s] %s (request %s)", e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// Decode unpacks the data field of resp into target. Error statuses become
// *APIError.
func Decode(resp *wire.ClientResponse, target any) error {
	var env envelope
	jsonErr := json.Unmarshal(resp.Body, &env)

	if resp.Status >= 400 {
		apiErr := &APIError{Status: resp.Status}
		if jsonErr == nil {
			apiErr.Code = env.Code
			apiErr.Message = env.Message
			apiErr.RequestID = env.RequestID
		}
		return apiErr
	}
	if jsonErr != nil {
		return fmt.Errorf("parse response: %w", jsonErr)
	}
	if target == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("parse response data: %w", err)
	}
	return nil
}

// GetJSON fetches path and decodes its envelope into target.
func GetJSON(ctx context.Context, c *httpclient.Client, path string, target any) error {
	req := &wire.ClientRequest{
		Method: http.MethodGet,
		Target: path,
		Header: http.Header{"Accept": []string{"application/json"}},
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return Decode(resp, target)
}
