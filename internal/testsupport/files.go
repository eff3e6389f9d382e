package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"audibridge/internal/config"
)

// ScratchJob lays out a job scratch directory the way the pipeline names
// them, holding a partial download of the title, and backdates it by age.
// It returns the directory.
func ScratchJob(t testing.TB, cfg *config.Config, asin string, age time.Duration) string {
	t.Helper()

	dir := filepath.Join(cfg.Paths.ScratchDir, asin+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	partial := filepath.Join(dir, asin+".aaxc")
	if err := os.WriteFile(partial, []byte(Payload[:len(Payload)/2]), 0o600); err != nil {
		t.Fatalf("write %s: %v", partial, err)
	}
	if age > 0 {
		stamp := time.Now().Add(-age)
		if err := os.Chtimes(dir, stamp, stamp); err != nil {
			t.Fatalf("chtimes %s: %v", dir, err)
		}
	}
	return dir
}

// ScratchEntries lists what is left in the scratch directory. A missing
// directory counts as empty.
func ScratchEntries(t testing.TB, cfg *config.Config) []string {
	t.Helper()

	entries, err := os.ReadDir(cfg.Paths.ScratchDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
