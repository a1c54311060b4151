// Package confloader loads layered configuration with koanf.
//
// Sources, lowest to highest priority:
//
//  1. Defaults already present in the target struct
//  2. A YAML file
//  3. Environment variables (WEFT_ prefix, "__" between levels)
//  4. Explicit overrides, usually command-line flags
//
// Watcher reports changes of individual files through fsnotify so callers
// can re-read what is safe to change at runtime.
package confloader
