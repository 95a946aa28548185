// Package config loads, validates, and normalizes the TOML configuration for
// the echo360 daemon and CLI.
package config
