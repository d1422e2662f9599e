// Package config loads application configuration from environment variables
// using envconfig, with defaults for every knob so the binary runs with zero
// configuration.
package config
