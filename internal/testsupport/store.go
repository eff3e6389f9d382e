package testsupport

import (
	"context"
	"testing"

	"audibridge/internal/config"
	"audibridge/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewJob inserts a pending ledger row for tests.
func NewJob(t testing.TB, st *store.Store, id, asin string) *store.JobRecord {
	t.Helper()

	job := &store.JobRecord{
		ID:          id,
		ASIN:        asin,
		CountryCode: "us",
		Format:      "aaxc",
		Bucket:      "audiobooks",
		Prefix:      "books",
		State:       "pending",
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}
