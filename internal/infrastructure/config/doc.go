// Package config loads and validates Emberlink configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by EMBERLINK_* environment variables. Secrets
// (JWT signing key, hub credentials, InfluxDB token) should always come
// from the environment in production deployments.
package config
