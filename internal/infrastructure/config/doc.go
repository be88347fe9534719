// Package config loads and validates Hardpoint Core configuration.
//
// Configuration is read from a single YAML file and can be overridden by
// environment variables following the pattern HARDPOINT_SECTION_KEY
// (e.g. HARDPOINT_DATABASE_PATH, HARDPOINT_MQTT_HOST).
//
// Loading order:
//  1. Hardcoded defaults
//  2. YAML file values
//  3. Environment variable overrides
//
// The loaded configuration is validated before use; the daemon refuses to
// start with an invalid or insecure configuration.
package config
