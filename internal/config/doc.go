// Package config handles configuration loading for coven-collab.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_COLLAB_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/collab.yaml
//  3. ~/.config/coven/collab.yaml
//
// Files ending in .toml are read as TOML; anything else is YAML. Both formats
// use the same keys.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_COLLAB_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	collab:
//	  heartbeat_interval: "25s"
//	  idle_timeout: "75s"
//	  typing_timeout: "10s"
//	  lock_timeout: "30m"
//
// An unset duration takes its default; an explicit "0s" disables that
// timeout.
package config
