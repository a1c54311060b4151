package router

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPattern is returned when a route pattern cannot be compiled.
var ErrInvalidPattern = errors.New("router: invalid pattern")

type segmentKind uint8

const (
	segLiteral segmentKind = iota
	segParam
	segWildcard
)

type segment struct {
	kind     segmentKind
	value    string // literal text or parameter name
	optional bool
}

// Pattern is a compiled path pattern.
//
// Segments are separated by "/". A segment is a literal, a named parameter
// (":id"), or a trailing wildcard ("*path") capturing the rest of the path.
// Literals and parameters become optional with a "?" suffix.
type Pattern struct {
	raw      string
	segments []segment
}

// Param is one captured path parameter.
type Param struct {
	Key   string
	Value string
}

// Params holds the parameters captured by a match.
type Params []Param

// Get returns the value captured for name.
func (ps Params) Get(name string) (string, bool) {
	for _, p := range ps {
		if p.Key == name {
			return p.Value, true
		}
	}
	return "", false
}

// ByName returns the value captured for name, or "".
func (ps Params) ByName(name string) string {
	v, _ := ps.Get(name)
	return v
}

// Compile parses a pattern such as "/users/:id/files/*path".
func Compile(pattern string) (*Pattern, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("%w %q: must start with /", ErrInvalidPattern, pattern)
	}
	p := &Pattern{raw: pattern}
	trimmed := strings.TrimPrefix(pattern, "/")
	if trimmed == "" {
		return p, nil
	}

	names := make(map[string]bool)
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		var s segment
		if strings.HasSuffix(part, "?") && len(part) > 1 {
			s.optional = true
			part = strings.TrimSuffix(part, "?")
		}
		switch {
		case strings.HasPrefix(part, "*"):
			if i != len(parts)-1 {
				return nil, fmt.Errorf("%w %q: wildcard must be the last segment", ErrInvalidPattern, pattern)
			}
			if s.optional {
				return nil, fmt.Errorf("%w %q: wildcard cannot be optional", ErrInvalidPattern, pattern)
			}
			s.kind = segWildcard
			s.value = part[1:]
		case strings.HasPrefix(part, ":"):
			s.kind = segParam
			s.value = part[1:]
		default:
			s.kind = segLiteral
			s.value = part
		}
		if s.kind != segLiteral {
			if s.value == "" {
				return nil, fmt.Errorf("%w %q: unnamed parameter", ErrInvalidPattern, pattern)
			}
			if names[s.value] {
				return nil, fmt.Errorf("%w %q: duplicate parameter %q", ErrInvalidPattern, pattern, s.value)
			}
			names[s.value] = true
		}
		p.segments = append(p.segments, s)
	}
	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether path matches p and appends the captured parameters to
// params.
func (p *Pattern) Match(path string, params Params) (Params, bool) {
	if !strings.HasPrefix(path, "/") {
		return params, false
	}
	var parts []string
	if rest := path[1:]; rest != "" {
		parts = strings.Split(rest, "/")
	}
	mark := len(params)
	params, ok := matchSegments(p.segments, parts, params)
	if !ok {
		return params[:mark], false
	}
	return params, true
}

func matchSegments(segs []segment, parts []string, params Params) (Params, bool) {
	if len(segs) == 0 {
		return params, len(parts) == 0
	}
	s := segs[0]
	if s.kind == segWildcard {
		return append(params, Param{Key: s.value, Value: strings.Join(parts, "/")}), true
	}

	if len(parts) > 0 {
		switch {
		case s.kind == segLiteral && parts[0] == s.value:
			if out, ok := matchSegments(segs[1:], parts[1:], params); ok {
				return out, true
			}
		case s.kind == segParam && parts[0] != "":
			mark := len(params)
			out, ok := matchSegments(segs[1:], parts[1:], append(params, Param{Key: s.value, Value: parts[0]}))
			if ok {
				return out, true
			}
			params = out[:mark]
		}
	}
	if s.optional {
		return matchSegments(segs[1:], parts, params)
	}
	return params, false
}
