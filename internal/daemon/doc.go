// Package daemon runs the long-lived audibridge HTTP service.
//
// It wires configuration, the job ledger, object storage, the vendor client,
// the credential service and the acquisition worker pool into one lifecycle
// guarded by a flock single-instance lock. A gocron janitor removes stale
// scratch directories and prunes old ledger rows while the daemon runs.
//
// Keep orchestration here: request handlers translate JSON to calls on the
// auth, library and acquisition packages and map their errors onto HTTP
// status codes with services.HTTPStatus.
package daemon
