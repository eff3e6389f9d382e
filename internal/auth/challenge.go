package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"audibridge/internal/audible"
	"audibridge/internal/marketplace"
)

// verifierBytes yields a 43 character base64url verifier.
const verifierBytes = 32

// Challenge is a single-use login attempt. It is produced before the user
// signs in and consumed by Service.Login.
type Challenge struct {
	CodeVerifier  string
	CodeChallenge string
	DeviceSerial  string
	CountryCode   string
	LoginURL      string
}

// NewChallenge builds a fresh challenge for the marketplace of countryCode.
func NewChallenge(countryCode string) (Challenge, error) {
	return newChallenge(countryCode, rand.Reader)
}

func newChallenge(countryCode string, random io.Reader) (Challenge, error) {
	m, err := marketplace.Lookup(countryCode)
	if err != nil {
		return Challenge{}, err
	}

	buf := make([]byte, verifierBytes)
	if _, err := io.ReadFull(random, buf); err != nil {
		return Challenge{}, fmt.Errorf("generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)

	id, err := uuid.NewRandomFromReader(random)
	if err != nil {
		return Challenge{}, fmt.Errorf("generate device serial: %w", err)
	}
	serial := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))

	challenge := CodeChallenge(verifier)
	return Challenge{
		CodeVerifier:  verifier,
		CodeChallenge: challenge,
		DeviceSerial:  serial,
		CountryCode:   m.CountryCode,
		LoginURL:      LoginURL(m, challenge, serial),
	}, nil
}

// CodeChallenge is the S256 transform of a verifier.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// LoginURL is the marketplace sign-in page that redirects to the maplanding
// page with an authorization code once the user completes login.
func LoginURL(m marketplace.Marketplace, codeChallenge, serial string) string {
	host := m.SignInHost()
	q := url.Values{
		"openid.oa2.response_type":         {"code"},
		"openid.oa2.code_challenge_method": {"S256"},
		"openid.oa2.code_challenge":        {codeChallenge},
		"openid.return_to":                 {"https://" + host + "/ap/maplanding"},
		"openid.assoc_handle":              {m.AssocHandle()},
		"openid.identity":                  {"http://specs.openid.net/auth/2.0/identifier_select"},
		"openid.claimed_id":                {"http://specs.openid.net/auth/2.0/identifier_select"},
		"openid.mode":                      {"checkid_setup"},
		"openid.ns":                        {"http://specs.openid.net/auth/2.0"},
		"openid.ns.oa2":                    {"http://www.amazon.com/ap/ext/oauth/2"},
		"openid.ns.pape":                   {"http://specs.openid.net/extensions/pape/1.0"},
		"openid.pape.max_auth_age":         {"0"},
		"openid.oa2.client_id":             {"device:" + audible.ClientID(serial)},
		"openid.oa2.scope":                 {"device_auth_access"},
		"pageId":                           {"amzn_audible_ios"},
		"accountStatusPolicy":              {"P1"},
		"marketPlaceId":                    {m.MarketplaceID},
		"forceMobileLayout":                {"true"},
	}
	return (&url.URL{Scheme: "https", Host: host, Path: "/ap/signin", RawQuery: q.Encode()}).String()
}
