// Package auth implements the device-linking login flow and the credential
// lifecycle that follows it.
//
// Key types:
//   - Challenge: PKCE verifier, derived S256 challenge, device serial and the
//     marketplace sign-in URL handed to the user's browser
//   - Service: exchanges the browser redirect for a Credential, refreshes
//     tokens, and resolves activation bytes
//
// Token refresh is serialized per account. Refresh tokens the vendor has
// rotated away are remembered as digests in a TokenLedger so a late caller
// holding the stale token fails with ErrAuthFailed instead of racing the
// vendor.
package auth
