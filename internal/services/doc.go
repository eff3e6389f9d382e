// Package services defines shared utilities consumed by the vendor client,
// the auth and acquisition components, and the HTTP daemon.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, ASINs, stage names, account
//     identities, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and the HTTPStatus
//     mapping that turns a marker into the status code returned to callers.
//   - Retry with capped exponential backoff and jitter for transient vendor
//     and download failures.
//
// Use these helpers when wiring new components so operational behaviour
// (error handling, observability, retries) stays uniform across the service.
package services
