package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"audibridge/internal/config"
)

// DaemonProbe reports what a running daemon's health endpoint returned.
type DaemonProbe struct {
	Reachable bool
	Status    string
	Version   string
	Detail    string
}

// CheckDaemon calls GET /healthz on a running daemon with the API key.
func CheckDaemon(ctx context.Context, baseURL, apiKey string) DaemonProbe {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return DaemonProbe{Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return DaemonProbe{Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	req.Header.Set("API-KEY", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return DaemonProbe{Detail: "not running"}
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusServiceUnavailable:
		return DaemonProbe{Reachable: true, Status: body.Status, Version: body.Version}
	case http.StatusUnauthorized:
		return DaemonProbe{Reachable: true, Detail: "auth failed (invalid api key)"}
	default:
		return DaemonProbe{Reachable: true, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
	}
}

// CheckDaemonFromConfig probes the daemon at the configured bind address.
func CheckDaemonFromConfig(ctx context.Context, cfg *config.Config) DaemonProbe {
	if cfg == nil {
		return DaemonProbe{Detail: "Unknown"}
	}
	return CheckDaemon(ctx, "http://"+cfg.API.Bind, cfg.API.APIKey)
}

// Summary renders a display-friendly line for status output.
func (p DaemonProbe) Summary() string {
	if !p.Reachable {
		return "Not running"
	}
	if p.Detail != "" {
		return p.Detail
	}
	if p.Version != "" {
		return fmt.Sprintf("%s (%s)", p.Status, p.Version)
	}
	return p.Status
}
