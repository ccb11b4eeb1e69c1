// Package config loads and validates the TOML configuration file shared by
// every runpilot action.
package config
