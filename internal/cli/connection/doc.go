// Package connection turns weft-cli flags into a configured client and
// decodes the server's JSON envelope.
package connection
