package testsupport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"audibridge/internal/audible"
)

// FakeVendor is an httptest server speaking the subset of the vendor protocol
// audible.Client uses. Refresh tokens rotate on every refresh and the
// previous one is rejected afterwards.
type FakeVendor struct {
	Server *httptest.Server

	mu            sync.Mutex
	validRefresh  string
	issued        int
	registered    map[string]bool
	library       []audible.LibraryItem
	failDownloads int
	requests      map[string]int
}

// Payload is the body served for every download.
const Payload = "encrypted container bytes"

// NewFakeVendor starts a FakeVendor and closes it when the test ends.
func NewFakeVendor(t testing.TB) *FakeVendor {
	t.Helper()
	v := &FakeVendor{registered: make(map[string]bool), requests: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", v.handleRegister)
	mux.HandleFunc("POST /auth/token", v.handleToken)
	mux.HandleFunc("GET /license/token", v.handlePlayerToken)
	mux.HandleFunc("GET /1.0/library", v.handleLibrary)
	mux.HandleFunc("POST /1.0/content/{asin}/licenserequest", v.handleLicense)
	mux.HandleFunc("GET /download/{asin}", v.handleDownload)
	v.Server = httptest.NewServer(mux)
	t.Cleanup(v.Server.Close)
	return v
}

// URL is the server base URL.
func (v *FakeVendor) URL() string { return v.Server.URL }

// SetLibrary replaces the catalog served by /1.0/library.
func (v *FakeVendor) SetLibrary(items []audible.LibraryItem) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.library = items
}

// FailDownloads makes the next n downloads answer 503.
func (v *FakeVendor) FailDownloads(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failDownloads = n
}

// SetRefreshToken makes token the only refresh token the vendor accepts.
func (v *FakeVendor) SetRefreshToken(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validRefresh = token
}

// Requests reports how many times a route was hit.
func (v *FakeVendor) Requests(route string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests[route]
}

func (v *FakeVendor) hit(route string) {
	v.mu.Lock()
	v.requests[route]++
	v.mu.Unlock()
}

func authorized(w http.ResponseWriter, r *http.Request) bool {
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if bearer == "" || bearer == "expired" {
		http.Error(w, `{"message":"invalid token"}`, http.StatusUnauthorized)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (v *FakeVendor) handleRegister(w http.ResponseWriter, r *http.Request) {
	v.hit("register")
	var body struct {
		AuthData struct {
			AuthorizationCode string `json:"authorization_code"`
			CodeVerifier      string `json:"code_verifier"`
		} `json:"auth_data"`
		RegistrationData struct {
			DeviceSerial string `json:"device_serial"`
		} `json:"registration_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AuthData.AuthorizationCode == "" || body.AuthData.CodeVerifier == "" {
		http.Error(w, `{"response":{"error":{"code":"InvalidValue"}}}`, http.StatusBadRequest)
		return
	}
	if body.AuthData.AuthorizationCode == "expired" {
		http.Error(w, `{"response":{"error":{"code":"InvalidValue","message":"code expired"}}}`, http.StatusBadRequest)
		return
	}

	v.mu.Lock()
	v.validRefresh = "Atnr|0"
	v.mu.Unlock()

	writeJSON(w, map[string]any{
		"response": map[string]any{
			"success": map[string]any{
				"tokens": map[string]any{
					"bearer": map[string]any{
						"access_token":  "Atna|0",
						"refresh_token": "Atnr|0",
						"expires_in":    "3600",
					},
					"mac_dms": map[string]any{
						"adp_token":          "{enc:adp}",
						"device_private_key": "MIIEfake",
					},
					"website_cookies": []map[string]string{{"Name": "session-id", "Value": "1"}},
				},
				"extensions": map[string]any{
					"device_info":   map[string]string{"device_serial_number": body.RegistrationData.DeviceSerial},
					"customer_info": map[string]string{"name": "Test Customer"},
				},
			},
		},
	})
}

func (v *FakeVendor) handleToken(w http.ResponseWriter, r *http.Request) {
	v.hit("token")
	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}
	source := r.PostForm.Get("source_token")

	v.mu.Lock()
	defer v.mu.Unlock()
	if source == "" || (v.validRefresh != "" && source != v.validRefresh) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	v.issued++
	v.validRefresh = fmt.Sprintf("Atnr|%d", v.issued)
	writeJSON(w, map[string]any{
		"access_token":  fmt.Sprintf("Atna|%d", v.issued),
		"refresh_token": v.validRefresh,
		"expires_in":    3600,
		"token_type":    "bearer",
	})
}

func (v *FakeVendor) handlePlayerToken(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	v.hit("player_" + action)
	if !authorized(w, r) {
		return
	}
	serial := r.URL.Query().Get("serial")

	v.mu.Lock()
	defer v.mu.Unlock()
	switch action {
	case "register":
		v.registered[serial] = true
	case "lookup":
		if !v.registered[serial] {
			http.Error(w, "no registration", http.StatusNotFound)
			return
		}
	default:
		http.Error(w, "bad action", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write([]byte("material:" + serial))
}

func (v *FakeVendor) handleLibrary(w http.ResponseWriter, r *http.Request) {
	v.hit("library")
	if !authorized(w, r) {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("num_results"))
	if page < 1 || size < 1 {
		http.Error(w, "bad paging", http.StatusBadRequest)
		return
	}
	v.mu.Lock()
	items := v.library
	v.mu.Unlock()

	start := (page - 1) * size
	out := []audible.LibraryItem{}
	for i := start; i < len(items) && i < start+size; i++ {
		out = append(out, items[i])
	}
	writeJSON(w, map[string]any{"items": out})
}

func (v *FakeVendor) handleLicense(w http.ResponseWriter, r *http.Request) {
	v.hit("license")
	if !authorized(w, r) {
		return
	}
	asin := r.PathValue("asin")
	var body struct {
		DRMType string `json:"drm_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if asin == "B000DENIED" {
		writeJSON(w, map[string]any{"content_license": map[string]any{"status_code": "Denied", "message": "not owned"}})
		return
	}
	license := map[string]any{
		"status_code": "Granted",
		"content_metadata": map[string]any{
			"content_url": map[string]string{"offline_url": v.Server.URL + "/download/" + asin},
		},
	}
	if body.DRMType == "Adrm" {
		license["license_response"] = base64.StdEncoding.EncodeToString([]byte("voucher:" + asin))
	}
	writeJSON(w, map[string]any{"content_license": license})
}

func (v *FakeVendor) handleDownload(w http.ResponseWriter, _ *http.Request) {
	v.hit("download")
	v.mu.Lock()
	fail := v.failDownloads > 0
	if fail {
		v.failDownloads--
	}
	v.mu.Unlock()
	if fail {
		http.Error(w, "try later", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(Payload)))
	_, _ = w.Write([]byte(Payload))
}
