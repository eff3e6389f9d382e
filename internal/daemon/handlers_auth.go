package daemon

import (
	"net/http"
	"strings"

	"audibridge/internal/audible"
	"audibridge/internal/auth"
	"audibridge/internal/services"
)

type loginURLRequest struct {
	CountryCode string `json:"country_code"`
	Locale      string `json:"locale"`
}

type loginURLResponse struct {
	Message      string `json:"message"`
	Status       string `json:"status"`
	LoginURL     string `json:"login_url"`
	CodeVerifier string `json:"code_verifier"`
	Serial       string `json:"serial"`
}

func (s *apiServer) handleGetLoginURL(w http.ResponseWriter, r *http.Request) {
	var req loginURLRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "Error generating login URL", err)
		return
	}
	country := firstNonEmpty(req.CountryCode, req.Locale, s.cfg.Vendor.DefaultCountry)
	challenge, err := auth.NewChallenge(country)
	if err != nil {
		s.fail(w, r, "Error generating login URL", err)
		return
	}
	s.writeJSON(w, http.StatusOK, loginURLResponse{
		Message:      "Login URL generated successfully",
		Status:       "success",
		LoginURL:     challenge.LoginURL,
		CodeVerifier: challenge.CodeVerifier,
		Serial:       challenge.DeviceSerial,
	})
}

type doLoginRequest struct {
	CodeVerifier string `json:"code_verifier"`
	ResponseURL  string `json:"response_url"`
	Serial       string `json:"serial"`
	CountryCode  string `json:"country_code"`
}

type doLoginResponse struct {
	Message string             `json:"message"`
	Status  string             `json:"status"`
	Auth    audible.Credential `json:"auth"`
}

func (s *apiServer) handleDoLogin(w http.ResponseWriter, r *http.Request) {
	var req doLoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "Error during login", err)
		return
	}
	cred, err := s.auth.Login(r.Context(), auth.LoginRequest{
		ResponseURL:  req.ResponseURL,
		CodeVerifier: req.CodeVerifier,
		DeviceSerial: req.Serial,
		CountryCode:  firstNonEmpty(req.CountryCode, s.cfg.Vendor.DefaultCountry),
	})
	if err != nil {
		s.fail(w, r, "Error during login", err)
		return
	}
	s.writeJSON(w, http.StatusOK, doLoginResponse{
		Message: "Login process completed successfully",
		Status:  "success",
		Auth:    cred,
	})
}

// credentialRequest is the body shared by every route that acts on behalf of
// an account.
type credentialRequest struct {
	Auth *audible.Credential `json:"auth"`
}

func (c credentialRequest) credential() (audible.Credential, error) {
	if c.Auth == nil {
		return audible.Credential{}, services.Wrap(services.ErrValidation, "api", "auth", "No auth data provided in the request body", nil)
	}
	return *c.Auth, nil
}

type refreshResponse struct {
	Message     string             `json:"message"`
	Status      string             `json:"status"`
	UpdatedAuth audible.Credential `json:"updated_auth"`
}

func (s *apiServer) handleRefreshTokens(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "Error refreshing Audible tokens", err)
		return
	}
	cred, err := req.credential()
	if err != nil {
		s.fail(w, r, "Error refreshing Audible tokens", err)
		return
	}
	updated, err := s.auth.Refresh(r.Context(), cred)
	if err != nil {
		s.fail(w, r, "Error refreshing Audible tokens", err)
		return
	}
	s.writeJSON(w, http.StatusOK, refreshResponse{
		Message:     "Audible tokens refreshed successfully",
		Status:      "success",
		UpdatedAuth: updated,
	})
}

type activationResponse struct {
	Message         string `json:"message"`
	Status          string `json:"status"`
	ActivationBytes string `json:"activation_bytes"`
}

func (s *apiServer) handleActivationBytes(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "Error retrieving activation bytes", err)
		return
	}
	cred, err := req.credential()
	if err != nil {
		s.fail(w, r, "Error retrieving activation bytes", err)
		return
	}
	value, err := s.auth.ActivationBytes(r.Context(), cred)
	if err != nil {
		s.fail(w, r, "Error retrieving activation bytes", err)
		return
	}
	s.writeJSON(w, http.StatusOK, activationResponse{
		Message:         "Activation bytes retrieved successfully",
		Status:          "success",
		ActivationBytes: value,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
