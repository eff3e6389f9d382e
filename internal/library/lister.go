// Package library aggregates the paginated purchased-title catalog into one
// ordered list.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"audibridge/internal/audible"
	"audibridge/internal/logging"
	"audibridge/internal/marketplace"
	"audibridge/internal/services"
)

// maxPages stops a vendor that never returns a short page.
const maxPages = 1000

// Pager fetches one catalog page. *audible.Client satisfies it.
type Pager interface {
	LibraryPage(ctx context.Context, m marketplace.Marketplace, accessToken string, page, pageSize int, responseGroups []string) ([]audible.LibraryItem, error)
}

// Options configures a Lister.
type Options struct {
	PageSize       int
	ResponseGroups []string
	DefaultCountry string
	Retry          services.RetryPolicy
	Logger         *slog.Logger
}

// Lister walks the library endpoint page by page.
type Lister struct {
	pager Pager
	opts  Options
	log   *slog.Logger
}

// NewLister builds a Lister. Zero options fall back to a 200 item page size,
// the us marketplace and services.DefaultRetryPolicy.
func NewLister(pager Pager, opts Options) *Lister {
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	if opts.DefaultCountry == "" {
		opts.DefaultCountry = "us"
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = services.DefaultRetryPolicy()
	}
	return &Lister{pager: pager, opts: opts, log: logging.NewComponentLogger(opts.Logger, "library")}
}

// List returns every purchased title, newest purchase first. Each page is
// retried on transient failures; authorization failures surface at once. An
// account without purchases yields an empty, non-nil slice.
func (l *Lister) List(ctx context.Context, cred audible.Credential) ([]audible.LibraryItem, error) {
	if strings.TrimSpace(cred.AccessToken) == "" {
		return nil, services.Wrap(services.ErrValidation, "library", "list", "access_token is required", nil)
	}
	code := cred.LocaleCode
	if code == "" {
		code = l.opts.DefaultCountry
	}
	m, err := marketplace.Lookup(code)
	if err != nil {
		return nil, err
	}
	ctx = services.WithAccount(ctx, cred.DeviceSerial)
	logger := logging.WithContext(ctx, l.log)

	items := make([]audible.LibraryItem, 0)
	for page := 1; page <= maxPages; page++ {
		var batch []audible.LibraryItem
		err := services.Retry(ctx, l.opts.Retry, func(ctx context.Context, attempt int) error {
			var fetchErr error
			batch, fetchErr = l.pager.LibraryPage(ctx, m, cred.AccessToken, page, l.opts.PageSize, l.opts.ResponseGroups)
			if fetchErr != nil && services.IsRetriable(fetchErr) {
				logger.Debug("library page failed, retrying",
					logging.Int("page", page),
					logging.Int("attempt", attempt),
					logging.Error(fetchErr),
				)
			}
			return fetchErr
		})
		if err != nil {
			return nil, boundaryError(page, err)
		}
		for _, item := range batch {
			items = append(items, normalize(item))
		}
		if len(batch) < l.opts.PageSize {
			logger.Debug("library listed",
				logging.Int("pages", page),
				logging.Int("items", len(items)),
			)
			return items, nil
		}
	}
	return nil, services.Wrap(services.ErrUpstream, "library", "list",
		fmt.Sprintf("catalog did not end after %d pages", maxPages), nil)
}

// boundaryError turns exhausted transient failures into ErrDownloadFailed;
// other markers already carry their boundary meaning.
func boundaryError(page int, err error) error {
	if errors.Is(err, services.ErrTransient) {
		return services.Wrap(services.ErrDownloadFailed, "library", "list", fmt.Sprintf("page %d: retries exhausted", page), err)
	}
	return err
}

func normalize(item audible.LibraryItem) audible.LibraryItem {
	item.Title = norm.NFC.String(item.Title)
	item.Subtitle = norm.NFC.String(item.Subtitle)
	item.Authors = normalizePeople(item.Authors)
	item.Narrators = normalizePeople(item.Narrators)
	return item
}

func normalizePeople(people []audible.Person) []audible.Person {
	if people == nil {
		return []audible.Person{}
	}
	out := make([]audible.Person, len(people))
	for i, p := range people {
		out[i] = audible.Person{ASIN: p.ASIN, Name: norm.NFC.String(p.Name)}
	}
	return out
}
