package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audibridge/internal/audible"
	"audibridge/internal/marketplace"
	"audibridge/internal/services"
)

type fakeVendor struct {
	mu sync.Mutex

	exchangeErr error
	registerErr error
	lookupErr   error
	refreshErr  error
	rotate      bool
	expiresIn   int64

	validRefresh  string
	refreshCalls  int
	registerCalls int
	lookupCalls   int
	lastExchange  audible.CodeExchange
	issued        int
}

func (f *fakeVendor) ExchangeCode(_ context.Context, _ marketplace.Marketplace, in audible.CodeExchange) (audible.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastExchange = in
	if f.exchangeErr != nil {
		return audible.Tokens{}, f.exchangeErr
	}
	f.validRefresh = "Atnr|initial"
	return audible.Tokens{
		AccessToken:  "Atna|initial",
		RefreshToken: f.validRefresh,
		ExpiresIn:    f.expiresIn,
		Extra:        rawExtra(`{"adp_token":"{enc:abc}","device_private_key":"MIIE"}`),
	}, nil
}

func (f *fakeVendor) RefreshToken(_ context.Context, _ marketplace.Marketplace, refreshToken string) (audible.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return audible.Tokens{}, f.refreshErr
	}
	if f.validRefresh != "" && refreshToken != f.validRefresh {
		return audible.Tokens{}, services.Wrap(services.ErrAuthFailed, "audible", "auth_token", "status 400", nil)
	}
	f.issued++
	out := audible.Tokens{AccessToken: fmt.Sprintf("Atna|%d", f.issued), ExpiresIn: f.expiresIn}
	if f.rotate {
		f.validRefresh = fmt.Sprintf("Atnr|%d", f.issued)
		out.RefreshToken = f.validRefresh
	}
	return out, nil
}

func (f *fakeVendor) RegisterPlayer(context.Context, marketplace.Marketplace, string, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return []byte("registered-material"), nil
}

func (f *fakeVendor) LookupPlayer(context.Context, marketplace.Marketplace, string, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCalls++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return []byte("existing-material"), nil
}

type fakeDeriver struct {
	value     string
	err       error
	materials [][]byte
}

func (d *fakeDeriver) ActivationBytes(_ context.Context, material []byte) (string, error) {
	d.materials = append(d.materials, material)
	return d.value, d.err
}

func (d *fakeDeriver) Voucher(context.Context, audible.VoucherRequest) (audible.VoucherKey, error) {
	return audible.VoucherKey{}, errors.New("not used")
}

func rawExtra(doc string) map[string]json.RawMessage {
	var out map[string]json.RawMessage
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		panic(err)
	}
	return out
}

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestService(v *fakeVendor, d *fakeDeriver) *Service {
	return NewService(v, d, nil, WithClock(func() time.Time { return fixedNow }))
}

const testVerifier = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ"

var hexSerial = regexp.MustCompile(`^[0-9A-F]{32}$`)

func TestNewChallengeForEveryMarketplace(t *testing.T) {
	for _, m := range marketplace.All() {
		t.Run(m.CountryCode, func(t *testing.T) {
			ch, err := NewChallenge(m.CountryCode)
			require.NoError(t, err)

			assert.GreaterOrEqual(t, len(ch.CodeVerifier), 43)
			assert.LessOrEqual(t, len(ch.CodeVerifier), 128)
			assert.Equal(t, CodeChallenge(ch.CodeVerifier), ch.CodeChallenge)
			assert.Regexp(t, hexSerial, ch.DeviceSerial)

			u, err := url.Parse(ch.LoginURL)
			require.NoError(t, err)
			assert.Equal(t, "www.amazon."+m.Domain, u.Host)
			q := u.Query()
			assert.Equal(t, ch.CodeChallenge, q.Get("openid.oa2.code_challenge"))
			assert.Equal(t, "S256", q.Get("openid.oa2.code_challenge_method"))
			assert.Equal(t, "device:"+audible.ClientID(ch.DeviceSerial), q.Get("openid.oa2.client_id"))
			assert.Equal(t, m.MarketplaceID, q.Get("marketPlaceId"))
			assert.Equal(t, "https://www.amazon."+m.Domain+"/ap/maplanding", q.Get("openid.return_to"))
		})
	}
}

func TestNewChallengeCanada(t *testing.T) {
	ch, err := NewChallenge("CA")
	require.NoError(t, err)
	assert.Contains(t, ch.LoginURL, "amazon.ca")
	assert.NotEmpty(t, ch.CodeVerifier)
	assert.NotEmpty(t, ch.DeviceSerial)
	assert.Equal(t, "ca", ch.CountryCode)
}

func TestNewChallengeUnsupported(t *testing.T) {
	for _, code := range []string{"", "xx", "usa"} {
		_, err := NewChallenge(code)
		require.ErrorIs(t, err, services.ErrUnsupported, code)
	}
}

func TestNewChallengeIsRandom(t *testing.T) {
	a, err := NewChallenge("us")
	require.NoError(t, err)
	b, err := NewChallenge("us")
	require.NoError(t, err)
	assert.NotEqual(t, a.CodeVerifier, b.CodeVerifier)
	assert.NotEqual(t, a.DeviceSerial, b.DeviceSerial)
}

func TestNewChallengeRandomFailure(t *testing.T) {
	_, err := newChallenge("us", strings.NewReader("short"))
	require.Error(t, err)
}

func loginRequest() LoginRequest {
	return LoginRequest{
		ResponseURL:  "https://www.amazon.com/ap/maplanding?openid.oa2.authorization_code=ANcode123&openid.mode=id_res",
		CodeVerifier: testVerifier,
		DeviceSerial: "0123456789ABCDEF0123456789ABCDEF",
		CountryCode:  "us",
	}
}

func TestLoginProducesCompleteCredential(t *testing.T) {
	vendor := &fakeVendor{expiresIn: 3600}
	deriver := &fakeDeriver{value: "1CEB00DA"}
	svc := newTestService(vendor, deriver)

	cred, err := svc.Login(context.Background(), loginRequest())
	require.NoError(t, err)

	assert.Equal(t, "Atna|initial", cred.AccessToken)
	assert.Equal(t, "Atnr|initial", cred.RefreshToken)
	assert.Equal(t, fixedNow.Unix()+3600, cred.Expires)
	assert.Equal(t, "1ceb00da", cred.ActivationBytes)
	assert.Len(t, cred.ActivationBytes, 8)
	assert.Equal(t, "0123456789ABCDEF0123456789ABCDEF", cred.DeviceSerial)
	assert.Equal(t, "us", cred.LocaleCode)
	assert.Contains(t, cred.Extra, "adp_token")

	assert.Equal(t, "ANcode123", vendor.lastExchange.AuthorizationCode)
	assert.Equal(t, testVerifier, vendor.lastExchange.CodeVerifier)
	assert.Equal(t, 1, vendor.registerCalls)
	assert.Zero(t, vendor.lookupCalls)
	require.Len(t, deriver.materials, 1)
	assert.Equal(t, "registered-material", string(deriver.materials[0]))
}

func TestLoginFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*LoginRequest, *fakeVendor, *fakeDeriver)
		want   error
	}{
		{"unsupported country", func(r *LoginRequest, _ *fakeVendor, _ *fakeDeriver) { r.CountryCode = "zz" }, services.ErrUnsupported},
		{"short verifier", func(r *LoginRequest, _ *fakeVendor, _ *fakeDeriver) { r.CodeVerifier = "short" }, services.ErrValidation},
		{"missing serial", func(r *LoginRequest, _ *fakeVendor, _ *fakeDeriver) { r.DeviceSerial = " " }, services.ErrValidation},
		{"empty response url", func(r *LoginRequest, _ *fakeVendor, _ *fakeDeriver) { r.ResponseURL = "" }, services.ErrAuthFailed},
		{"relative response url", func(r *LoginRequest, _ *fakeVendor, _ *fakeDeriver) { r.ResponseURL = "/ap/maplanding?x=1" }, services.ErrAuthFailed},
		{"malformed response url", func(r *LoginRequest, _ *fakeVendor, _ *fakeDeriver) { r.ResponseURL = "https://%zz" }, services.ErrAuthFailed},
		{"no code", func(r *LoginRequest, _ *fakeVendor, _ *fakeDeriver) {
			r.ResponseURL = "https://www.amazon.com/ap/maplanding?openid.mode=cancel"
		}, services.ErrAuthFailed},
		{"code rejected", func(_ *LoginRequest, v *fakeVendor, _ *fakeDeriver) {
			v.exchangeErr = services.Wrap(services.ErrAuthFailed, "audible", "auth_register", "status 400", nil)
		}, services.ErrAuthFailed},
		{"vendor unreachable", func(_ *LoginRequest, v *fakeVendor, _ *fakeDeriver) {
			v.exchangeErr = services.Wrap(services.ErrTransient, "audible", "auth_register", "dial", nil)
		}, services.ErrUpstream},
		{"registration rejected", func(_ *LoginRequest, v *fakeVendor, _ *fakeDeriver) {
			v.registerErr = services.Wrap(services.ErrAuthFailed, "audible", "license_token_register", "status 403", nil)
		}, services.ErrAuthFailed},
		{"malformed derivation", func(_ *LoginRequest, _ *fakeVendor, d *fakeDeriver) { d.value = "nothex!!" }, services.ErrAuthFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vendor := &fakeVendor{expiresIn: 3600}
			deriver := &fakeDeriver{value: "1ceb00da"}
			req := loginRequest()
			tc.mutate(&req, vendor, deriver)

			_, err := newTestService(vendor, deriver).Login(context.Background(), req)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func baseCredential() audible.Credential {
	return audible.Credential{
		AccessToken:     "Atna|old",
		RefreshToken:    "Atnr|initial",
		Expires:         1000,
		ActivationBytes: "1ceb00da",
		DeviceSerial:    "0123456789ABCDEF0123456789ABCDEF",
		LocaleCode:      "us",
		Extra:           rawExtra(`{"adp_token":"{enc:abc}","website_cookies":{"session-id":"1"}}`),
	}
}

func TestRefreshAdvancesExpiryAndKeepsActivation(t *testing.T) {
	vendor := &fakeVendor{expiresIn: 3600}
	svc := newTestService(vendor, &fakeDeriver{})
	in := baseCredential()

	out, err := svc.Refresh(context.Background(), in)
	require.NoError(t, err)

	assert.Greater(t, out.Expires, in.Expires)
	assert.Equal(t, fixedNow.Unix()+3600, out.Expires)
	assert.Equal(t, in.ActivationBytes, out.ActivationBytes)
	assert.Equal(t, "Atna|1", out.AccessToken)
	assert.Equal(t, in.RefreshToken, out.RefreshToken, "no rotation keeps the input token")
	assert.JSONEq(t, string(in.Extra["website_cookies"]), string(out.Extra["website_cookies"]))
	assert.Equal(t, in.Extra["adp_token"], out.Extra["adp_token"])
	assert.Equal(t, "Atna|old", in.AccessToken, "input must not be mutated")
}

func TestRefreshNeverMovesExpiryBackwards(t *testing.T) {
	vendor := &fakeVendor{expiresIn: 60}
	svc := newTestService(vendor, &fakeDeriver{})
	in := baseCredential()
	in.Expires = fixedNow.Unix() + 7200

	out, err := svc.Refresh(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in.Expires+1, out.Expires)
}

func TestNextExpiry(t *testing.T) {
	assert.Equal(t, int64(4600), nextExpiry(1000, 3600, 1000))
	assert.Equal(t, int64(1001), nextExpiry(500, 100, 1000))
	assert.Equal(t, int64(1000+defaultExpiresIn), nextExpiry(1000, 0, 0))
}

func TestRefreshRequiresRefreshToken(t *testing.T) {
	svc := newTestService(&fakeVendor{}, &fakeDeriver{})
	in := baseCredential()
	in.RefreshToken = ""

	_, err := svc.Refresh(context.Background(), in)
	require.ErrorIs(t, err, services.ErrValidation)
}

func TestRefreshUnknownLocale(t *testing.T) {
	svc := newTestService(&fakeVendor{}, &fakeDeriver{})
	in := baseCredential()
	in.LocaleCode = "zz"

	_, err := svc.Refresh(context.Background(), in)
	require.ErrorIs(t, err, services.ErrUnsupported)
}

func TestRefreshFailuresAreNotRetried(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"rejected", services.Wrap(services.ErrAuthFailed, "audible", "auth_token", "status 401", nil), services.ErrAuthFailed},
		{"unreachable", services.Wrap(services.ErrTransient, "audible", "auth_token", "reset", nil), services.ErrUpstream},
		{"throttled", services.Wrap(services.ErrRateLimited, "audible", "auth_token", "status 429", nil), services.ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vendor := &fakeVendor{refreshErr: tc.err}
			_, err := newTestService(vendor, &fakeDeriver{}).Refresh(context.Background(), baseCredential())
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, 1, vendor.refreshCalls)
		})
	}
}

type brokenLedger struct{}

func (brokenLedger) IsRetired(context.Context, string) (bool, error) {
	return false, errors.New("database is locked")
}

func (brokenLedger) RetireToken(context.Context, string, string) error { return nil }

func TestRefreshLedgerFailureIsStorageError(t *testing.T) {
	vendor := &fakeVendor{}
	svc := NewService(vendor, &fakeDeriver{}, brokenLedger{}, WithClock(func() time.Time { return fixedNow }))

	_, err := svc.Refresh(context.Background(), baseCredential())
	require.ErrorIs(t, err, services.ErrStorageFailed)
	assert.NotErrorIs(t, err, services.ErrTransient)
	assert.Equal(t, 0, vendor.refreshCalls)
}

func TestConcurrentRefreshWithStaleTokenFails(t *testing.T) {
	vendor := &fakeVendor{rotate: true, expiresIn: 3600, validRefresh: "Atnr|initial"}
	svc := newTestService(vendor, &fakeDeriver{})
	in := baseCredential()

	const callers = 2
	var wg sync.WaitGroup
	results := make([]error, callers)
	creds := make([]audible.Credential, callers)
	start := make(chan struct{})
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			creds[i], results[i] = svc.Refresh(context.Background(), in)
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, rejected int
	for i, err := range results {
		switch {
		case err == nil:
			ok++
			assert.Equal(t, "Atnr|1", creds[i].RefreshToken)
		case errors.Is(err, services.ErrAuthFailed):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 1, vendor.refreshCalls, "stale token must not reach the vendor")
	assert.Zero(t, svc.locks.size())
}

func TestRefreshAfterRotationUsesNewToken(t *testing.T) {
	vendor := &fakeVendor{rotate: true, expiresIn: 3600, validRefresh: "Atnr|initial"}
	svc := newTestService(vendor, &fakeDeriver{})

	first, err := svc.Refresh(context.Background(), baseCredential())
	require.NoError(t, err)
	second, err := svc.Refresh(context.Background(), first)
	require.NoError(t, err)
	assert.Greater(t, second.Expires, first.Expires)
	assert.Equal(t, "Atnr|2", second.RefreshToken)

	_, err = svc.Refresh(context.Background(), first)
	require.ErrorIs(t, err, services.ErrAuthFailed)
}

func TestActivationBytesReturnsExisting(t *testing.T) {
	vendor := &fakeVendor{}
	svc := newTestService(vendor, &fakeDeriver{value: "deadbeef"})

	got, err := svc.ActivationBytes(context.Background(), baseCredential())
	require.NoError(t, err)
	assert.Equal(t, "1ceb00da", got)
	assert.Zero(t, vendor.lookupCalls+vendor.registerCalls)
}

func TestActivationBytesLookupAndFallback(t *testing.T) {
	in := baseCredential()
	in.ActivationBytes = ""

	vendor := &fakeVendor{}
	deriver := &fakeDeriver{value: "DEADBEEF"}
	got, err := newTestService(vendor, deriver).ActivationBytes(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", got)
	assert.Equal(t, 1, vendor.lookupCalls)
	assert.Zero(t, vendor.registerCalls)
	assert.Equal(t, "existing-material", string(deriver.materials[0]))

	vendor = &fakeVendor{lookupErr: services.Wrap(services.ErrNotFound, "audible", "license_token_lookup", "status 404", nil)}
	deriver = &fakeDeriver{value: "deadbeef"}
	got, err = newTestService(vendor, deriver).ActivationBytes(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", got)
	assert.Equal(t, 1, vendor.registerCalls)
	assert.Equal(t, "registered-material", string(deriver.materials[0]))
}

func TestActivationBytesFailures(t *testing.T) {
	in := baseCredential()
	in.ActivationBytes = "bogus"

	vendor := &fakeVendor{lookupErr: services.Wrap(services.ErrAuthFailed, "audible", "license_token_lookup", "status 401", nil)}
	_, err := newTestService(vendor, &fakeDeriver{value: "deadbeef"}).ActivationBytes(context.Background(), in)
	require.ErrorIs(t, err, services.ErrAuthFailed)
	assert.Zero(t, vendor.registerCalls)

	noToken := in
	noToken.AccessToken = ""
	_, err = newTestService(&fakeVendor{}, &fakeDeriver{}).ActivationBytes(context.Background(), noToken)
	require.ErrorIs(t, err, services.ErrValidation)

	noSerial := in
	noSerial.DeviceSerial = ""
	_, err = newTestService(&fakeVendor{}, &fakeDeriver{}).ActivationBytes(context.Background(), noSerial)
	require.ErrorIs(t, err, services.ErrValidation)

	deriveErr := services.Wrap(services.ErrAuthFailed, "keyhelper", "activation_bytes", "exit status 1", nil)
	_, err = newTestService(&fakeVendor{}, &fakeDeriver{err: deriveErr}).ActivationBytes(context.Background(), in)
	require.ErrorIs(t, err, services.ErrAuthFailed)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := newKeyedMutex()
	ctx := context.Background()

	unlockA, err := km.Lock(ctx, "a")
	require.NoError(t, err)

	unlockB, err := km.Lock(ctx, "b")
	require.NoError(t, err, "different keys must not block each other")
	unlockB()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(waitCtx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlockA()
	unlockA()
	assert.Zero(t, km.size())

	again, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	again()
}
