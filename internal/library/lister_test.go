package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audibridge/internal/audible"
	"audibridge/internal/marketplace"
	"audibridge/internal/services"
)

type fakePager struct {
	mu      sync.Mutex
	total   int
	calls   []int
	failing map[int][]error
	domain  string
}

func (f *fakePager) LibraryPage(_ context.Context, m marketplace.Marketplace, _ string, page, pageSize int, _ []string) ([]audible.LibraryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, page)
	f.domain = m.Domain
	if errs := f.failing[page]; len(errs) > 0 {
		f.failing[page] = errs[1:]
		return nil, errs[0]
	}
	start := (page - 1) * pageSize
	var out []audible.LibraryItem
	for i := start; i < f.total && i < start+pageSize; i++ {
		out = append(out, audible.LibraryItem{ASIN: fmt.Sprintf("B%09d", i), Title: fmt.Sprintf("Title %d", i)})
	}
	return out, nil
}

func fastOptions(pageSize int) Options {
	return Options{
		PageSize: pageSize,
		Retry:    services.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}
}

func cred() audible.Credential {
	return audible.Credential{AccessToken: "Atna|x", DeviceSerial: "SERIAL", LocaleCode: "ca"}
}

func TestListAggregatesPages(t *testing.T) {
	pager := &fakePager{total: 5}
	items, err := NewLister(pager, fastOptions(2)).List(context.Background(), cred())
	require.NoError(t, err)

	require.Len(t, items, 5)
	assert.Equal(t, "B000000000", items[0].ASIN)
	assert.Equal(t, "Title 4", items[4].Title)
	assert.Equal(t, []int{1, 2, 3}, pager.calls)
	assert.Equal(t, "ca", pager.domain)
}

func TestListExactMultipleFetchesTrailingEmptyPage(t *testing.T) {
	pager := &fakePager{total: 4}
	items, err := NewLister(pager, fastOptions(2)).List(context.Background(), cred())
	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Equal(t, []int{1, 2, 3}, pager.calls)
}

func TestListEmptyAccount(t *testing.T) {
	items, err := NewLister(&fakePager{}, fastOptions(2)).List(context.Background(), cred())
	require.NoError(t, err)
	require.NotNil(t, items)
	assert.Empty(t, items)
}

func TestListRetriesTransientPage(t *testing.T) {
	pager := &fakePager{total: 3, failing: map[int][]error{
		2: {
			services.Wrap(services.ErrTransient, "audible", "library", "status 503", nil),
			services.Wrap(services.ErrRateLimited, "audible", "library", "status 429", nil),
		},
	}}
	items, err := NewLister(pager, fastOptions(2)).List(context.Background(), cred())
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, []int{1, 2, 2, 2}, pager.calls)
}

func TestListExhaustedRetriesIsDownloadFailed(t *testing.T) {
	transient := services.Wrap(services.ErrTransient, "audible", "library", "status 502", nil)
	pager := &fakePager{total: 3, failing: map[int][]error{1: {transient, transient, transient, transient}}}
	_, err := NewLister(pager, fastOptions(2)).List(context.Background(), cred())
	require.ErrorIs(t, err, services.ErrDownloadFailed)
	assert.False(t, services.IsRetriable(err))
	assert.Len(t, pager.calls, 3)
}

func TestListAuthFailureNotRetried(t *testing.T) {
	pager := &fakePager{total: 3, failing: map[int][]error{
		1: {services.Wrap(services.ErrAuthFailed, "audible", "library", "status 401", nil)},
	}}
	_, err := NewLister(pager, fastOptions(2)).List(context.Background(), cred())
	require.ErrorIs(t, err, services.ErrAuthFailed)
	assert.Equal(t, []int{1}, pager.calls)
}

func TestListValidation(t *testing.T) {
	lister := NewLister(&fakePager{}, fastOptions(2))

	_, err := lister.List(context.Background(), audible.Credential{})
	require.ErrorIs(t, err, services.ErrValidation)

	bad := cred()
	bad.LocaleCode = "zz"
	_, err = lister.List(context.Background(), bad)
	require.ErrorIs(t, err, services.ErrUnsupported)
}

func TestListCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pager := &fakePager{failing: map[int][]error{1: {context.Canceled}}}
	_, err := NewLister(pager, fastOptions(2)).List(ctx, cred())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNormalizeComposesUnicode(t *testing.T) {
	item := normalize(audible.LibraryItem{
		Title:   "Cafe\u0301",
		Authors: []audible.Person{{Name: "Ame\u0301lie"}},
	})
	assert.Equal(t, "Caf\u00e9", item.Title)
	assert.Equal(t, "Am\u00e9lie", item.Authors[0].Name)
	assert.NotNil(t, item.Narrators)
}
