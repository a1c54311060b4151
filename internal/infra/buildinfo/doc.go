// Package buildinfo exposes build information for weft binaries.
//
// Version, Commit and BuildTime are injected via ldflags; Commit and
// BuildTime fall back to the VCS stamps the Go toolchain embeds, and
// GoVersion always comes from the runtime:
//
//	go build -ldflags "-X github.com/yndnr/weft-go/internal/infra/buildinfo.Version=v1.0.0"
package buildinfo
