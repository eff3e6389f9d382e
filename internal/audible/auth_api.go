package audible

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"audibridge/internal/marketplace"
	"audibridge/internal/services"
)

// Tokens is the result of a code exchange or refresh. Extra holds the
// device-auth material the vendor returns alongside the bearer tokens.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Extra        map[string]json.RawMessage
}

// CodeExchange is the input to ExchangeCode.
type CodeExchange struct {
	AuthorizationCode string
	CodeVerifier      string
	DeviceSerial      string
}

type registerResponse struct {
	Response struct {
		Success *struct {
			Tokens struct {
				Bearer struct {
					AccessToken  string  `json:"access_token"`
					RefreshToken string  `json:"refresh_token"`
					ExpiresIn    flexInt `json:"expires_in"`
				} `json:"bearer"`
				MacDMS struct {
					ADPToken         string `json:"adp_token"`
					DevicePrivateKey string `json:"device_private_key"`
				} `json:"mac_dms"`
				WebsiteCookies            json.RawMessage `json:"website_cookies"`
				StoreAuthenticationCookie json.RawMessage `json:"store_authentication_cookie"`
			} `json:"tokens"`
			Extensions struct {
				DeviceInfo   json.RawMessage `json:"device_info"`
				CustomerInfo json.RawMessage `json:"customer_info"`
			} `json:"extensions"`
		} `json:"success"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// ExchangeCode registers the device with an authorization code and PKCE
// verifier, yielding bearer tokens.
func (c *Client) ExchangeCode(ctx context.Context, m marketplace.Marketplace, in CodeExchange) (Tokens, error) {
	body, err := jsonBody(map[string]any{
		"requested_token_type": []string{"bearer", "mac_dms", "website_cookies", "store_authentication_cookie"},
		"cookies": map[string]any{
			"website_cookies": []any{},
			"domain":          "." + strings.TrimPrefix(m.SignInHost(), "www."),
		},
		"registration_data": map[string]string{
			"domain":           "Device",
			"app_version":      AppVersion,
			"device_serial":    in.DeviceSerial,
			"device_type":      DeviceType,
			"device_name":      "%FIRST_NAME%%FIRST_NAME_POSSESSIVE_STRING%%DUPE_STRATEGY_1ST%Audible for iPhone",
			"os_version":       OSVersion,
			"software_version": SoftwareVersion,
			"device_model":     DeviceModel,
			"app_name":         AppName,
		},
		"auth_data": map[string]string{
			"client_id":          ClientID(in.DeviceSerial),
			"authorization_code": in.AuthorizationCode,
			"code_verifier":      in.CodeVerifier,
			"code_algorithm":     "SHA-256",
			"client_domain":      "DeviceLegacy",
		},
		"requested_extensions": []string{"device_info", "customer_info"},
	})
	if err != nil {
		return Tokens{}, err
	}

	var resp registerResponse
	err = c.doJSON(ctx, request{
		method:   http.MethodPost,
		url:      c.authURL(m, "/auth/register"),
		endpoint: "auth_register",
		body:     body,
		ctype:    "application/json",
		authFlow: true,
	}, &resp)
	if err != nil {
		return Tokens{}, err
	}
	success := resp.Response.Success
	if success == nil {
		msg := "registration rejected"
		if resp.Response.Error != nil {
			msg = resp.Response.Error.Code + ": " + resp.Response.Error.Message
		}
		return Tokens{}, services.Wrap(services.ErrAuthFailed, "audible", "auth_register", msg, nil)
	}
	bearer := success.Tokens.Bearer
	if bearer.AccessToken == "" || bearer.RefreshToken == "" {
		return Tokens{}, services.Wrap(services.ErrUpstream, "audible", "auth_register", "bearer tokens missing", errMissingField)
	}

	extra := map[string]json.RawMessage{}
	putString(extra, "adp_token", success.Tokens.MacDMS.ADPToken)
	putString(extra, "device_private_key", success.Tokens.MacDMS.DevicePrivateKey)
	putRaw(extra, "website_cookies", success.Tokens.WebsiteCookies)
	putRaw(extra, "store_authentication_cookie", success.Tokens.StoreAuthenticationCookie)
	putRaw(extra, "device_info", success.Extensions.DeviceInfo)
	putRaw(extra, "customer_info", success.Extensions.CustomerInfo)

	return Tokens{
		AccessToken:  bearer.AccessToken,
		RefreshToken: bearer.RefreshToken,
		ExpiresIn:    int64(bearer.ExpiresIn),
		Extra:        extra,
	}, nil
}

// RefreshToken trades a refresh token for a new access token. When the vendor
// rotates the refresh token the new one is returned; otherwise RefreshToken in
// the result is empty. Never retried by this client.
func (c *Client) RefreshToken(ctx context.Context, m marketplace.Marketplace, refreshToken string) (Tokens, error) {
	form := url.Values{
		"app_name":             {AppName},
		"app_version":          {AppVersion},
		"source_token":         {refreshToken},
		"requested_token_type": {"access_token"},
		"source_token_type":    {"refresh_token"},
	}
	var resp struct {
		AccessToken  string  `json:"access_token"`
		RefreshToken string  `json:"refresh_token"`
		ExpiresIn    flexInt `json:"expires_in"`
		TokenType    string  `json:"token_type"`
	}
	err := c.doJSON(ctx, request{
		method:   http.MethodPost,
		url:      c.authURL(m, "/auth/token"),
		endpoint: "auth_token",
		body:     []byte(form.Encode()),
		ctype:    "application/x-www-form-urlencoded",
		authFlow: true,
	}, &resp)
	if err != nil {
		return Tokens{}, err
	}
	if resp.AccessToken == "" {
		return Tokens{}, services.Wrap(services.ErrUpstream, "audible", "auth_token", "access_token missing", errMissingField)
	}
	return Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken, ExpiresIn: int64(resp.ExpiresIn)}, nil
}

// maxRegistrationMaterial bounds the player-token blob.
const maxRegistrationMaterial = 64 << 10

// RegisterPlayer registers this device as a playback player and returns the
// opaque registration material.
func (c *Client) RegisterPlayer(ctx context.Context, m marketplace.Marketplace, accessToken, serial string) ([]byte, error) {
	return c.playerToken(ctx, m, accessToken, serial, "register")
}

// LookupPlayer recalls the registration material of an already registered
// player. A device that was never registered yields ErrNotFound.
func (c *Client) LookupPlayer(ctx context.Context, m marketplace.Marketplace, accessToken, serial string) ([]byte, error) {
	return c.playerToken(ctx, m, accessToken, serial, "lookup")
}

func (c *Client) playerToken(ctx context.Context, m marketplace.Marketplace, accessToken, serial, action string) ([]byte, error) {
	data, err := c.doBytes(ctx, request{
		method:   http.MethodGet,
		url:      c.apiURL(m, "/license/token"),
		endpoint: "license_token_" + action,
		query: url.Values{
			"action":       {action},
			"player_manuf": {"Audible,iPhone"},
			"player_model": {DeviceModel},
			"serial":       {serial},
		},
		bearer:   accessToken,
		authFlow: true,
	}, maxRegistrationMaterial)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrUpstream, "audible", "license_token_"+action, "empty registration material", nil)
	}
	return data, nil
}

func putString(dst map[string]json.RawMessage, key, value string) {
	if value == "" {
		return
	}
	if data, err := json.Marshal(value); err == nil {
		dst[key] = data
	}
}

func putRaw(dst map[string]json.RawMessage, key string, value json.RawMessage) {
	if len(value) == 0 || string(value) == "null" {
		return
	}
	dst[key] = append(json.RawMessage(nil), value...)
}
