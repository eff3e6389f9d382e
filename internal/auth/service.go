package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"audibridge/internal/audible"
	"audibridge/internal/logging"
	"audibridge/internal/marketplace"
	"audibridge/internal/metrics"
	"audibridge/internal/services"
)

// Vendor is the subset of the vendor API the credential lifecycle needs.
// *audible.Client satisfies it.
type Vendor interface {
	ExchangeCode(ctx context.Context, m marketplace.Marketplace, in audible.CodeExchange) (audible.Tokens, error)
	RefreshToken(ctx context.Context, m marketplace.Marketplace, refreshToken string) (audible.Tokens, error)
	RegisterPlayer(ctx context.Context, m marketplace.Marketplace, accessToken, serial string) ([]byte, error)
	LookupPlayer(ctx context.Context, m marketplace.Marketplace, accessToken, serial string) ([]byte, error)
}

// TokenLedger remembers digests of refresh tokens the vendor rotated away.
// *store.Store satisfies it.
type TokenLedger interface {
	IsRetired(ctx context.Context, digest string) (bool, error)
	RetireToken(ctx context.Context, digest, account string) error
}

// Option customizes a Service.
type Option func(*Service)

// WithDefaultCountry sets the marketplace used when a credential carries no
// locale_code.
func WithDefaultCountry(code string) Option {
	return func(s *Service) { s.defaultCountry = strings.ToLower(strings.TrimSpace(code)) }
}

// WithMetrics records refresh outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns login, refresh and activation-bytes resolution.
type Service struct {
	vendor         Vendor
	deriver        audible.KeyDeriver
	ledger         TokenLedger
	locks          *keyedMutex
	defaultCountry string
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time
}

// NewService wires the credential lifecycle. A nil ledger falls back to an
// in-memory one, which only protects callers within this process.
func NewService(vendor Vendor, deriver audible.KeyDeriver, ledger TokenLedger, opts ...Option) *Service {
	s := &Service{
		vendor:         vendor,
		deriver:        deriver,
		ledger:         ledger,
		locks:          newKeyedMutex(),
		defaultCountry: "us",
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledger == nil {
		s.ledger = NewMemoryLedger()
	}
	s.logger = logging.NewComponentLogger(s.logger, "auth")
	return s
}

// Marketplace resolves the marketplace for a credential: its locale_code when
// present, the configured default otherwise.
func (s *Service) Marketplace(cred audible.Credential) (marketplace.Marketplace, error) {
	code := cred.LocaleCode
	if code == "" {
		code = s.defaultCountry
	}
	return marketplace.Lookup(code)
}

// vendorError maps a vendor failure on a non-retried call onto the boundary
// taxonomy. Transport problems become ErrUpstream; auth and throttling
// markers pass through.
func vendorError(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, services.ErrAuthFailed), errors.Is(err, services.ErrRateLimited),
		errors.Is(err, services.ErrUpstream), errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrUnsupported):
		return err
	case errors.Is(err, services.ErrTransient):
		return services.Wrap(services.ErrUpstream, "auth", operation, "vendor unreachable", err)
	case errors.Is(err, services.ErrNotFound):
		return services.Wrap(services.ErrAuthFailed, "auth", operation, "vendor rejected request", err)
	default:
		return err
	}
}

// MemoryLedger is a process-local TokenLedger.
type MemoryLedger struct {
	mu      sync.Mutex
	retired map[string]string
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{retired: make(map[string]string)}
}

// IsRetired reports whether digest was retired.
func (l *MemoryLedger) IsRetired(_ context.Context, digest string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.retired[digest]
	return ok, nil
}

// RetireToken records digest.
func (l *MemoryLedger) RetireToken(_ context.Context, digest, account string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retired[digest] = account
	return nil
}
