package auth

import (
	"context"
	"net/url"
	"strings"

	"audibridge/internal/audible"
	"audibridge/internal/logging"
	"audibridge/internal/marketplace"
	"audibridge/internal/services"
)

const authorizationCodeParam = "openid.oa2.authorization_code"

// LoginRequest carries the browser redirect plus the values from the
// Challenge that started the attempt.
type LoginRequest struct {
	ResponseURL  string
	CodeVerifier string
	DeviceSerial string
	CountryCode  string
}

// Login exchanges the authorization code for tokens, registers the device as
// a player and derives its activation bytes.
func (s *Service) Login(ctx context.Context, req LoginRequest) (audible.Credential, error) {
	m, err := marketplace.Lookup(req.CountryCode)
	if err != nil {
		return audible.Credential{}, err
	}
	verifier := strings.TrimSpace(req.CodeVerifier)
	if n := len(verifier); n < 43 || n > 128 {
		return audible.Credential{}, services.Wrap(services.ErrValidation, "auth", "login",
			"code_verifier must be 43-128 characters", nil)
	}
	serial := strings.TrimSpace(req.DeviceSerial)
	if serial == "" {
		return audible.Credential{}, services.Wrap(services.ErrValidation, "auth", "login", "serial is required", nil)
	}
	code, err := authorizationCode(req.ResponseURL)
	if err != nil {
		return audible.Credential{}, err
	}

	ctx = services.WithAccount(ctx, serial)
	logger := logging.WithContext(ctx, s.logger)

	started := s.now()
	tokens, err := s.vendor.ExchangeCode(ctx, m, audible.CodeExchange{
		AuthorizationCode: code,
		CodeVerifier:      verifier,
		DeviceSerial:      serial,
	})
	if err != nil {
		return audible.Credential{}, vendorError("login", err)
	}

	activation, err := s.deriveActivation(ctx, m, tokens.AccessToken, serial, false)
	if err != nil {
		return audible.Credential{}, err
	}

	expiresIn := tokens.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	cred := audible.Credential{
		AccessToken:     tokens.AccessToken,
		RefreshToken:    tokens.RefreshToken,
		Expires:         started.Unix() + expiresIn,
		ActivationBytes: activation,
		DeviceSerial:    serial,
		LocaleCode:      m.CountryCode,
		Extra:           tokens.Extra,
	}
	logger.Info("device registered",
		logging.String(logging.FieldEventType, "login_completed"),
		logging.String("marketplace", m.CountryCode),
		logging.Int64("expires", cred.Expires),
	)
	return cred, nil
}

// authorizationCode extracts the code from the maplanding redirect.
func authorizationCode(responseURL string) (string, error) {
	raw := strings.TrimSpace(responseURL)
	if raw == "" {
		return "", services.Wrap(services.ErrAuthFailed, "auth", "login", "response_url is empty", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", services.Wrap(services.ErrAuthFailed, "auth", "login", "response_url is malformed", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", services.Wrap(services.ErrAuthFailed, "auth", "login", "response_url is not absolute", nil)
	}
	code := strings.TrimSpace(parsed.Query().Get(authorizationCodeParam))
	if code == "" {
		return "", services.Wrap(services.ErrAuthFailed, "auth", "login", "response_url carries no authorization code", nil)
	}
	return code, nil
}
