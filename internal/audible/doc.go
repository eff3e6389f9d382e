// Package audible is the client for the audiobook vendor's private API.
//
// It covers the device-auth endpoints (code exchange, token refresh, player
// registration), catalog paging, licence resolution, and content download.
// Every non-2xx answer is classified into a services marker: 401/403 become
// AuthFailed, 429 RateLimited, 5xx and transport faults Transient, and
// anything unparseable Upstream. Retries are the caller's decision.
//
// The vendor-private derivations (activation bytes from registration
// material, AAXC key/IV from a voucher) sit behind KeyDeriver; CommandDeriver
// shells out to a helper program so the algorithm stays outside this module.
package audible
