package auth

import (
	"context"
	"errors"
	"strings"

	"audibridge/internal/audible"
	"audibridge/internal/logging"
	"audibridge/internal/services"
)

// defaultExpiresIn applies when the vendor omits expires_in.
const defaultExpiresIn = 3600

// Refresh obtains a new access token for cred. The returned credential keeps
// activation bytes, device serial, locale and every extra field of the input.
// Its Expires is always strictly greater than the input's.
//
// Refreshes for one account run one at a time. A refresh token that was
// already rotated away by an earlier refresh fails with ErrAuthFailed without
// contacting the vendor. A failed refresh is never retried.
func (s *Service) Refresh(ctx context.Context, cred audible.Credential) (audible.Credential, error) {
	refreshToken := strings.TrimSpace(cred.RefreshToken)
	if refreshToken == "" {
		return audible.Credential{}, services.Wrap(services.ErrValidation, "auth", "refresh", "refresh_token is required", nil)
	}
	m, err := s.Marketplace(cred)
	if err != nil {
		return audible.Credential{}, err
	}

	account := cred.AccountKey()
	ctx = services.WithAccount(ctx, account)
	logger := logging.WithContext(ctx, s.logger)

	unlock, err := s.locks.Lock(ctx, account)
	if err != nil {
		return audible.Credential{}, err
	}
	defer unlock()

	digest := audible.TokenDigest(refreshToken)
	retired, err := s.ledger.IsRetired(ctx, digest)
	if err != nil {
		s.metrics.TokenRefresh("error")
		return audible.Credential{}, services.Wrap(services.ErrStorageFailed, "auth", "refresh", "token ledger lookup", err)
	}
	if retired {
		s.metrics.TokenRefresh("stale")
		logging.WarnWithContext(logger, "refresh token already rotated", "token_refresh_stale",
			logging.String(logging.FieldErrorHint, "use the credential returned by the most recent refresh"),
		)
		return audible.Credential{}, services.Wrap(services.ErrAuthFailed, "auth", "refresh",
			"refresh token was already rotated", nil)
	}

	tokens, err := s.vendor.RefreshToken(ctx, m, refreshToken)
	if err != nil {
		mapped := vendorError("refresh", err)
		if errors.Is(mapped, services.ErrAuthFailed) {
			s.metrics.TokenRefresh("rejected")
		} else {
			s.metrics.TokenRefresh("error")
		}
		return audible.Credential{}, mapped
	}

	updated := cred.Clone()
	updated.AccessToken = tokens.AccessToken
	updated.Expires = nextExpiry(s.now().Unix(), tokens.ExpiresIn, cred.Expires)
	outcome := "success"
	if next := strings.TrimSpace(tokens.RefreshToken); next != "" && next != refreshToken {
		if err := s.ledger.RetireToken(ctx, digest, account); err != nil {
			// The vendor has already rotated, so the new token is still returned.
			logging.WarnWithContext(logger, "failed to record rotated refresh token", "token_ledger_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a caller still holding the old token will reach the vendor"),
			)
		}
		updated.RefreshToken = next
		outcome = "rotated"
	}
	s.metrics.TokenRefresh(outcome)
	logger.Info("tokens refreshed",
		logging.String(logging.FieldEventType, "token_refreshed"),
		logging.Bool("rotated", outcome == "rotated"),
		logging.Int64("expires", updated.Expires),
	)
	return updated, nil
}

// nextExpiry is now+expiresIn, bumped to previous+1 when that would not move
// the expiry forward.
func nextExpiry(now, expiresIn, previous int64) int64 {
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	next := now + expiresIn
	if next <= previous {
		next = previous + 1
	}
	return next
}
