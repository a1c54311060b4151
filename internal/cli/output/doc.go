// Package output renders weft-cli results.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: aligned tables and flattened key/value views
//   - json.go: indented JSON
//   - yaml.go: YAML
package output
