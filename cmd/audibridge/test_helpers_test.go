package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"audibridge/internal/config"
	"audibridge/internal/daemon"
	"audibridge/internal/storage"
	"audibridge/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	vendor     *testsupport.FakeVendor
	media      *testsupport.FakeMedia
	objects    *storage.Memory
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	vendor := testsupport.NewFakeVendor(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithVendorURL(vendor.URL())}, opts...)...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		vendor:     vendor,
		media:      testsupport.NewFakeMedia(),
		objects:    storage.NewMemory(),
	}
}

func (e *cliTestEnv) deps() daemon.Dependencies {
	return daemon.Dependencies{
		Objects: e.objects,
		Deriver: testsupport.FakeDeriver{},
		Runner:  e.media,
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, e.deps(), "", append([]string{"--config", e.configPath}, args...))
}

func runCLI(t *testing.T, deps daemon.Dependencies, stdin string, args []string) (string, string, error) {
	t.Helper()
	cmd := buildRootCommand(deps)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeCredentialFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "credential.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write credential: %v", err)
	}
	return path
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
