// Package config loads, normalizes, and validates annolab configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and validates the auth token table. Always
// obtain settings through this package so downstream code receives sanitized
// paths, canonical log formats, and clear validation errors.
package config
