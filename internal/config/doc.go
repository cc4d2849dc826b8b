// Package config loads, validates, and defaults the TOML configuration for
// the Scoville engine and CLI. Credentials are taken from the environment so
// their absence degrades features instead of failing startup.
package config
