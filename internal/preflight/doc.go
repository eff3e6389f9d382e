// Package preflight provides readiness checks for the external tools,
// directories, and object storage audibridge depends on.
//
// These checks run in two contexts:
//   - `audibridge serve` calls RunAll before binding the listener and refuses
//     to start when a required check fails.
//   - The CLI `audibridge preflight` and `audibridge status` commands render
//     the individual results as a table.
//
// Storage checks follow the configured backend; the S3 bucket probe is skipped
// when no default bucket is configured.
package preflight
