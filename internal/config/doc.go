// Package config loads the runtime configuration shared by the binaries:
// a JSON file for base values, environment variables (optionally seeded
// from .env files) for overrides, and defaults for everything left unset.
package config
