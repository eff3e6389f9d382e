package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audibridge/internal/audible"
	"audibridge/internal/daemon"
	"audibridge/internal/services"
	"audibridge/internal/testsupport"
)

const loginResponseURL = "https://www.amazon.com/ap/maplanding?openid.oa2.authorization_code=ANCODE"

var testVerifier = strings.Repeat("v", 43)

func loginToFile(t *testing.T, env *cliTestEnv) string {
	t.Helper()
	credPath := filepath.Join(t.TempDir(), "cred.json")
	_, stderr, err := env.run(t, "login",
		"--response-url", loginResponseURL,
		"--verifier", testVerifier,
		"--serial", "SERIAL1",
		"--out", credPath,
	)
	require.NoError(t, err)
	requireContains(t, stderr, "Credential written to")
	return credPath
}

func readCredentialFile(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestLoginURLJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "-o", "json", "login-url", "--country", "de")
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Contains(t, payload["login_url"], "https://www.amazon.de/ap/signin?")
	assert.Len(t, payload["serial"], 32)
	assert.Len(t, payload["code_verifier"], 43)
	assert.Equal(t, "de", payload["country_code"])
}

func TestLoginURLUnsupportedCountry(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := env.run(t, "login-url", "--country", "zz")
	require.Error(t, err)
}

func TestLoginRefreshActivationFlow(t *testing.T) {
	env := setupCLITestEnv(t)
	credPath := loginToFile(t, env)

	cred := readCredentialFile(t, credPath)
	assert.Equal(t, "Atna|0", cred["access_token"])
	assert.Equal(t, testsupport.FakeActivationBytes, cred["activation_bytes"])
	assert.Equal(t, "us", cred["locale_code"])
	assert.Equal(t, "{enc:adp}", cred["adp_token"], "vendor extras are kept")
	info, err := os.Stat(credPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	original, err := os.ReadFile(credPath)
	require.NoError(t, err)

	_, _, err = env.run(t, "refresh", "--auth", credPath, "--in-place")
	require.NoError(t, err)
	refreshed := readCredentialFile(t, credPath)
	assert.Equal(t, "Atna|1", refreshed["access_token"])
	assert.Equal(t, "Atnr|1", refreshed["refresh_token"])
	assert.Equal(t, testsupport.FakeActivationBytes, refreshed["activation_bytes"])
	assert.Greater(t, refreshed["expires"].(float64), cred["expires"].(float64))

	// The rotated-away token is rejected from the ledger without a vendor call.
	calls := env.vendor.Requests("token")
	stalePath := writeCredentialFile(t, t.TempDir(), string(original))
	_, _, err = env.run(t, "refresh", "--auth", stalePath)
	require.Error(t, err)
	assert.Equal(t, calls, env.vendor.Requests("token"))

	out, _, err := env.run(t, "-o", "json", "activation-bytes", "--auth", credPath)
	require.NoError(t, err)
	requireContains(t, out, `"activation_bytes": "1ceb00da"`)
}

func TestRefreshReadsStdin(t *testing.T) {
	env := setupCLITestEnv(t)
	env.vendor.SetRefreshToken("Atnr|0")

	body := `{"access_token":"Atna|0","refresh_token":"Atnr|0","expires":100,"device_serial":"SERIAL1","locale_code":"us","custom":{"kept":true}}`
	out, _, err := runCLI(t, env.deps(), body, []string{"--config", env.configPath, "refresh", "--auth", "-"})
	require.NoError(t, err)

	var cred audible.Credential
	require.NoError(t, json.Unmarshal([]byte(out), &cred))
	assert.Equal(t, "Atna|1", cred.AccessToken)
	assert.JSONEq(t, `{"kept":true}`, string(cred.Extra["custom"]))
}

func TestRefreshRequiresAuthFlag(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := env.run(t, "refresh")
	require.Error(t, err)
	requireContains(t, err.Error(), "--auth is required")
}

func TestLibraryTable(t *testing.T) {
	env := setupCLITestEnv(t)
	env.vendor.SetLibrary([]audible.LibraryItem{
		{ASIN: "B072LK1GSN", Title: "Sapiens", Authors: []audible.Person{{Name: "Yuval Noah Harari"}}, RuntimeLengthMin: 930},
		{ASIN: "B00B5HZGUG", Title: "Short Story", RuntimeLengthMin: 45},
	})
	credPath := loginToFile(t, env)

	out, _, err := env.run(t, "-o", "table", "library", "--auth", credPath)
	require.NoError(t, err)
	requireContains(t, out, "Sapiens")
	requireContains(t, out, "Yuval Noah Harari")
	requireContains(t, out, "15h30m")
	requireContains(t, out, "45m")
	requireContains(t, out, "2 titles")

	out, _, err = env.run(t, "-o", "json", "library", "--auth", credPath)
	require.NoError(t, err)
	var items []audible.LibraryItem
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	assert.Len(t, items, 2)
}

func TestDownloadAndJobs(t *testing.T) {
	env := setupCLITestEnv(t)
	credPath := loginToFile(t, env)

	out, _, err := env.run(t, "-o", "json", "download", "b072lk1gsn",
		"--auth", credPath, "--path", "UserData/uid/Uploads/AudibleRaw")
	require.NoError(t, err)

	var res downloadOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "UserData/uid/Uploads/AudibleRaw/B072LK1GSN.aaxc", res.RawPath)
	assert.Equal(t, "UserData/uid/Uploads/AudibleRaw/B072LK1GSN.m4b", res.M4BPath)
	assert.Equal(t, "audiobooks", res.Bucket)
	assert.Len(t, res.Metadata.Chapters, 3)

	raw, ok := env.objects.Get("audiobooks", res.RawPath)
	require.True(t, ok)
	assert.Equal(t, testsupport.Payload, string(raw))

	out, _, err = env.run(t, "-o", "json", "jobs")
	require.NoError(t, err)
	var jobs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, res.JobID, jobs[0]["id"])
	assert.Equal(t, "complete", jobs[0]["state"])

	out, _, err = env.run(t, "-o", "table", "jobs", "show", res.JobID)
	require.NoError(t, err)
	requireContains(t, out, "complete")
	requireContains(t, out, "B072LK1GSN")
}

func TestDownloadRejectsBadInput(t *testing.T) {
	env := setupCLITestEnv(t)
	credPath := loginToFile(t, env)

	_, _, err := env.run(t, "download", "B072LK1GSN", "--auth", credPath, "--format", "mp3")
	require.Error(t, err)

	_, _, err = env.run(t, "download", "NOT-AN-ASIN", "--auth", credPath)
	require.Error(t, err)
	assert.Zero(t, env.vendor.Requests("license"))
}

func TestJobsEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "-o", "table", "jobs")
	require.NoError(t, err)
	requireContains(t, out, "No jobs recorded")

	_, _, err = env.run(t, "jobs", "show", "missing")
	require.ErrorIs(t, err, services.ErrNotFound)
	assert.Contains(t, err.Error(), "job missing not found")
}

func TestMarketplacesJSON(t *testing.T) {
	out, _, err := runCLI(t, daemon.Dependencies{}, "", []string{"-o", "json", "marketplaces"})
	require.NoError(t, err)

	var entries []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	found := false
	for _, e := range entries {
		if e["country_code"] == "uk" {
			found = true
			assert.Equal(t, "co.uk", e["domain"])
			assert.Equal(t, "United Kingdom", e["name"])
		}
	}
	assert.True(t, found)
}

func TestRejectsUnknownOutputMode(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := env.run(t, "-o", "yaml", "jobs")
	require.Error(t, err)
	requireContains(t, err.Error(), "unsupported --output")
}

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.API.Bind = "127.0.0.1:1"
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := env.run(t, "-o", "json", "status")
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, false, payload["running"])
	assert.Equal(t, "Not running", payload["daemon"])
	assert.Equal(t, env.configPath, payload["config_path"])
}

func TestPreflightReportsFailures(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Transcode.KeyHelper = "clearly-not-present-helper"
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := env.run(t, "-o", "table", "preflight")
	require.Error(t, err)
	requireContains(t, err.Error(), "preflight check(s) failed")
	requireContains(t, out, "Key helper")
	requireContains(t, out, "FAIL")
}

func TestServeRequiresAPIKey(t *testing.T) {
	t.Setenv("AUDIBRIDGE_API_KEY", "")
	env := setupCLITestEnv(t, testsupport.WithAPIKey(""))

	_, _, err := env.run(t, "serve", "--skip-preflight")
	require.Error(t, err)
	requireContains(t, err.Error(), "api.api_key is required")
}
