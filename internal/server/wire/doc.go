// Package wire adapts the HTTP/1.1 parsing and serialization of net/http to
// the session loop: a request reader with header limits and a continue-aware
// body, a buffered response serializer, and the client-side request writer
// and response reader.
package wire
