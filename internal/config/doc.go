// Package config loads, normalizes, and validates Atelier configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY and the AWS credential variables. The Config type centralizes
// every knob the daemon and CLI need, so image, reference, and upload
// directories plus provider and storage credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
