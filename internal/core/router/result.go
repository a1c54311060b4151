package router

import "fmt"

// Result is the control-flow verb returned by a stage.
type Result uint8

const (
	Next Result = iota
	Send
	Close
	Detach
)

func (r Result) String() string {
	switch r {
	case Next:
		return "next"
	case Send:
		return "send"
	case Close:
		return "close"
	case Detach:
		return "detach"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// Stage is one step of a dispatch chain.
type Stage interface {
	Invoke(c *Context) (Result, error)
}

// StageFunc adapts a function to Stage.
type StageFunc func(c *Context) (Result, error)

// Invoke calls f(c).
func (f StageFunc) Invoke(c *Context) (Result, error) {
	return f(c)
}
