// Package config loads, normalizes, and validates audibridge configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AUDIBRIDGE_API_KEY and the AWS credential variables. Validation includes the
// marketplace table so an unsupported default country stops the process at
// startup instead of failing the first request.
package config
