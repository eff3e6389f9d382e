// Package store persists the acquisition job ledger and the retired
// refresh-token ledger in SQLite.
//
// Job rows mirror the acquisition state machine so operators can inspect
// recent downloads after the fact. Retired token rows hold only SHA-256
// digests of refresh tokens that the vendor has already rotated away, which
// lets the token refresher refuse a stale token without contacting the vendor.
//
// The database is operational state, not an archive. Schema changes bump
// schemaVersion in schema.go; operators delete the database to adopt them.
package store
