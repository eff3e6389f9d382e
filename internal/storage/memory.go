package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"audibridge/internal/services"
)

// Memory is an in-process ObjectStore. FailPut, when set, is consulted before
// each Put and its error returned unchanged.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	FailPut func(bucket, key string) error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put records a copy of body.
func (m *Memory) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, _ int64) error {
	if err := validateLocation(bucket, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailPut != nil {
		if err := m.FailPut(bucket, key); err != nil {
			return err
		}
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = buf.Bytes()
	return nil
}

// Promote moves an object to a new key.
func (m *Memory) Promote(_ context.Context, bucket, from, to string) error {
	if err := validateLocation(bucket, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+from]
	if !ok {
		return services.Wrap(services.ErrStorageFailed, "storage", "promote", "missing "+from, nil)
	}
	m.objects[bucket+"/"+to] = data
	delete(m.objects, bucket+"/"+from)
	return nil
}

// Delete forgets an object.
func (m *Memory) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

// Get returns the stored bytes for bucket/key.
func (m *Memory) Get(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	return data, ok
}

// Keys lists stored objects as bucket/key, sorted.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
