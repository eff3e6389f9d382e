package auth

import (
	"context"
	"errors"
	"strings"

	"audibridge/internal/audible"
	"audibridge/internal/logging"
	"audibridge/internal/marketplace"
	"audibridge/internal/services"
)

// ActivationBytes returns the credential's activation bytes, recovering them
// from the vendor when the credential does not carry a valid value. An
// already registered device is looked up rather than registered again.
func (s *Service) ActivationBytes(ctx context.Context, cred audible.Credential) (string, error) {
	if audible.ValidActivationBytes(cred.ActivationBytes) {
		return cred.ActivationBytes, nil
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		return "", services.Wrap(services.ErrValidation, "auth", "activation_bytes", "access_token is required", nil)
	}
	serial := strings.TrimSpace(cred.DeviceSerial)
	if serial == "" {
		return "", services.Wrap(services.ErrValidation, "auth", "activation_bytes", "device_serial is required", nil)
	}
	m, err := s.Marketplace(cred)
	if err != nil {
		return "", err
	}
	ctx = services.WithAccount(ctx, serial)
	return s.deriveActivation(ctx, m, cred.AccessToken, serial, true)
}

// deriveActivation fetches registration material and hands it to the key
// deriver. With lookupFirst the existing registration is recalled and a new
// one is made only when the vendor has none.
func (s *Service) deriveActivation(ctx context.Context, m marketplace.Marketplace, accessToken, serial string, lookupFirst bool) (string, error) {
	logger := logging.WithContext(ctx, s.logger)

	var (
		material []byte
		err      error
	)
	if lookupFirst {
		material, err = s.vendor.LookupPlayer(ctx, m, accessToken, serial)
		if errors.Is(err, services.ErrNotFound) {
			logger.Info("no player registration on record, registering device",
				logging.String(logging.FieldEventType, "player_register_fallback"),
			)
			material, err = s.vendor.RegisterPlayer(ctx, m, accessToken, serial)
		}
	} else {
		material, err = s.vendor.RegisterPlayer(ctx, m, accessToken, serial)
	}
	if err != nil {
		return "", vendorError("activation_bytes", err)
	}

	if s.deriver == nil {
		return "", errors.New("auth: no key deriver configured")
	}
	activation, err := s.deriver.ActivationBytes(ctx, material)
	if err != nil {
		return "", err
	}
	activation = strings.ToLower(strings.TrimSpace(activation))
	if !audible.ValidActivationBytes(activation) {
		return "", services.Wrap(services.ErrAuthFailed, "auth", "activation_bytes", "derived value is not 8 hex characters", nil)
	}
	return activation, nil
}
