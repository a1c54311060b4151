package router

import (
	"errors"
	"testing"
)

func TestPattern_Match(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		match   bool
		params  map[string]string
	}{
		{"/", "/", true, nil},
		{"/", "/x", false, nil},
		{"/x", "/x", true, nil},
		{"/x", "/x/", false, nil},
		{"/x", "/y", false, nil},
		{"/users/:id", "/users/7", true, map[string]string{"id": "7"}},
		{"/users/:id", "/users/", false, nil},
		{"/users/:id", "/users", false, nil},
		{"/hello/:name?", "/hello", true, map[string]string{}},
		{"/hello/:name?", "/hello/bob", true, map[string]string{"name": "bob"}},
		{"/hello/:name?", "/hello/bob/x", false, nil},
		{"/api/v1?/items", "/api/items", true, nil},
		{"/api/v1?/items", "/api/v1/items", true, nil},
		{"/api/v1?/items", "/api/v2/items", false, nil},
		{"/static/*path", "/static", true, map[string]string{"path": ""}},
		{"/static/*path", "/static/css/site.css", true, map[string]string{"path": "css/site.css"}},
		{"/:a?/:b", "/only", true, map[string]string{"b": "only"}},
		{"/:a?/:b", "/one/two", true, map[string]string{"a": "one", "b": "two"}},
		{"/x", "x", false, nil},
	}

	for _, tt := range tests {
		p, err := Compile(tt.pattern)
		if err != nil {
			t.Fatalf("Compile(%q) error = %v", tt.pattern, err)
		}
		params, ok := p.Match(tt.path, nil)
		if ok != tt.match {
			t.Errorf("%q.Match(%q) = %v, want %v", tt.pattern, tt.path, ok, tt.match)
			continue
		}
		if !ok {
			if len(params) != 0 {
				t.Errorf("%q.Match(%q) leaked params %v", tt.pattern, tt.path, params)
			}
			continue
		}
		if tt.params != nil && len(params) != len(tt.params) {
			t.Errorf("%q.Match(%q) params = %v, want %v", tt.pattern, tt.path, params, tt.params)
		}
		for k, want := range tt.params {
			if got, ok := params.Get(k); !ok || got != want {
				t.Errorf("%q.Match(%q) param %s = %q, want %q", tt.pattern, tt.path, k, got, want)
			}
		}
	}
}

func TestCompile_Invalid(t *testing.T) {
	for _, pattern := range []string{
		"x",
		"/a/*rest/b",
		"/*rest?",
		"/:",
		"/:id/:id",
	} {
		if _, err := Compile(pattern); !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("Compile(%q) error = %v, want %v", pattern, err, ErrInvalidPattern)
		}
	}
}

func TestResult_String(t *testing.T) {
	tests := map[Result]string{
		Next:      "next",
		Send:      "send",
		Close:     "close",
		Detach:    "detach",
		Result(7): "result(7)",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("Result(%d).String() = %q, want %q", r, got, want)
		}
	}
}
