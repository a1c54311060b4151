package command

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/weft-go/internal/cli/output"
	"github.com/yndnr/weft-go/internal/server/wire"
	"github.com/yndnr/weft-go/internal/telemetry/logger"
	"github.com/yndnr/weft-go/internal/telemetry/metric"
)

// RequestCommand returns the request command.
func RequestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Aliases:   []string{"req"},
		Usage:     "Send a request to the application listener",
		ArgsUsage: "PATH",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "method",
				Aliases: []string{"X"},
				Usage:   "request method (default GET, or POST with a body)",
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "request body",
			},
			&cli.StringFlag{
				Name:  "data-file",
				Usage: "read the request body from a file",
			},
			&cli.StringSliceFlag{
				Name:    "header",
				Aliases: []string{"H"},
				Usage:   "extra header as 'Name: value' (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "expect-continue",
				Usage: "send Expect: 100-continue and wait before sending the body",
			},
			&cli.DurationFlag{
				Name:  "continue-timeout",
				Usage: "how long to wait for 100 Continue before sending the body anyway",
			},
			&cli.IntFlag{
				Name:  "repeat",
				Usage: "send the request this many times over one connection",
				Value: 1,
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "print client handshake metrics after the responses",
			},
		},
		Action: sendRequest,
	}
}

// RequestResult is one response as printed by the request command.
type RequestResult struct {
	Status    int               `json:"status"`
	Proto     string            `json:"proto"`
	Interim   []int             `json:"interim,omitempty"`
	Handshake string            `json:"handshake,omitempty"`
	BodySent  bool              `json:"body_sent"`
	KeepAlive bool              `json:"keep_alive"`
	Elapsed   string            `json:"elapsed"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body"`
}

// RequestResults is printed as one row per response.
type RequestResults []RequestResult

// Table implements output.Tabler.
func (rs RequestResults) Table() *output.Table {
	t := &output.Table{Headers: []string{"#", "STATUS", "INTERIM", "HANDSHAKE", "BODY SENT", "KEEP-ALIVE", "ELAPSED"}}
	for i, r := range rs {
		interim := make([]string, 0, len(r.Interim))
		for _, code := range r.Interim {
			interim = append(interim, strconv.Itoa(code))
		}
		handshake := r.Handshake
		if handshake == "" {
			handshake = "-"
		}
		t.AddRow(
			strconv.Itoa(i+1),
			strconv.Itoa(r.Status),
			strings.Join(interim, ",")+dashIfEmpty(interim),
			handshake,
			strconv.FormatBool(r.BodySent),
			strconv.FormatBool(r.KeepAlive),
			r.Elapsed,
		)
	}
	return t
}

func dashIfEmpty(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return ""
}

func sendRequest(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	req, err := buildRequest(c)
	if err != nil {
		return err
	}
	repeat := c.Int("repeat")
	if repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1")
	}

	target := flags.Target(false)
	if c.IsSet("continue-timeout") {
		target.ContinueTimeout = c.Duration("continue-timeout")
	}
	client, err := target.Client()
	if err != nil {
		return err
	}
	defer client.Close()

	var registry *metric.Registry
	if c.Bool("metrics") {
		registry = metric.NewRegistry()
		client.OnHandshake = registry.RecordHandshake
	}

	ctx, cancel := context.WithTimeout(c.Context, flags.Timeout)
	defer cancel()

	results := make(RequestResults, 0, repeat)
	for i := 0; i < repeat; i++ {
		start := time.Now()
		resp, err := client.Do(ctx, cloneRequest(req))
		if err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}
		results = append(results, toResult(resp, time.Since(start)))
	}

	if len(results) == 1 {
		err = render(c, flags.Output, results[0])
	} else {
		err = render(c, flags.Output, results)
	}
	if err != nil {
		return err
	}
	if registry != nil {
		return registry.WriteText(c.App.Writer, "weft_client_")
	}
	return nil
}

func buildRequest(c *cli.Context) (*wire.ClientRequest, error) {
	path := c.Args().First()
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var body []byte
	switch {
	case c.IsSet("data") && c.IsSet("data-file"):
		return nil, fmt.Errorf("--data and --data-file are mutually exclusive")
	case c.IsSet("data-file"):
		data, err := os.ReadFile(c.String("data-file"))
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
		body = data
	case c.IsSet("data"):
		body = []byte(c.String("data"))
	}

	method := strings.ToUpper(c.String("method"))
	if method == "" {
		method = http.MethodGet
		if len(body) > 0 {
			method = http.MethodPost
		}
	}

	header := make(http.Header)
	for _, raw := range c.StringSlice("header") {
		name, value, ok := strings.Cut(raw, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q (want 'Name: value')", raw)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if c.Bool("expect-continue") {
		if len(body) == 0 {
			return nil, fmt.Errorf("--expect-continue needs a request body")
		}
		header.Set("Expect", "100-continue")
	}
	if len(body) > 0 && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/octet-stream")
	}

	return &wire.ClientRequest{
		Method: method,
		Target: path,
		Header: header,
		Body:   body,
	}, nil
}

func cloneRequest(req *wire.ClientRequest) *wire.ClientRequest {
	out := *req
	out.Header = req.Header.Clone()
	return &out
}

func toResult(resp *wire.ClientResponse, elapsed time.Duration) RequestResult {
	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = logger.RedactHeader(name, resp.Header.Get(name))
	}
	return RequestResult{
		Status:    resp.Status,
		Proto:     resp.Proto,
		Interim:   resp.Interim,
		Handshake: resp.Handshake,
		BodySent:  resp.BodySent,
		KeepAlive: resp.KeepAlive,
		Elapsed:   elapsed.Round(time.Microsecond).String(),
		Headers:   headers,
		Body:      string(resp.Body),
	}
}
