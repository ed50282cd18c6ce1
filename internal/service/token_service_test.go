package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/maheshrc27/marketing-dispatch/configs"
	"github.com/maheshrc27/marketing-dispatch/internal/apperrors"
	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/testutil"
	"github.com/maheshrc27/marketing-dispatch/internal/transfer"
	"github.com/maheshrc27/marketing-dispatch/pkg/utils"
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		ChannelCallTimeout: 5 * time.Second,
		TokenRefreshMargin: 5 * 24 * time.Hour,
		Graph: config.Graph{
			BaseURL:          baseURL,
			Version:          "v19.0",
			InstagramBaseURL: baseURL,
			AppID:            "app",
			AppSecret:        "app-secret",
		},
		WhatsApp: config.WhatsApp{
			PhoneNumberID:      "PNID",
			AccessToken:        "env-wa-token",
			DefaultCountryCode: "91",
			Concurrency:        4,
			FailurePolicy:      "tolerate",
		},
		Instagram: config.Instagram{
			UserID:       "IGUSER",
			AccessToken:  "env-ig-token",
			PollInterval: time.Millisecond,
			PollAttempts: 36,
			PollBudget:   time.Minute,
		},
	}
}

type stubRefresher struct {
	mu    sync.Mutex
	calls int
	token string
	ttl   time.Duration
	err   error
	delay time.Duration
}

func (r *stubRefresher) Refresh(ctx context.Context, _ string, _ string) (*RefreshedToken, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	exp := time.Now().Add(r.ttl)
	return &RefreshedToken{AccessToken: r.token, ExpiresAt: &exp}, nil
}

func (r *stubRefresher) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type tokenFixture struct {
	svc       *tokenService
	store     *testutil.MemoryTokenStore
	refresher *stubRefresher
	cipher    *utils.Cipher
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	c, err := utils.NewCipher("test-secret")
	require.NoError(t, err)
	store := testutil.NewMemoryTokenStore()
	refresher := &stubRefresher{token: "fresh-token", ttl: 60 * 24 * time.Hour}
	svc := NewTokenService(testConfig("http://graph.invalid"), store, refresher, NewLocalLocker(), c).(*tokenService)
	return &tokenFixture{svc: svc, store: store, refresher: refresher, cipher: c}
}

func (f *tokenFixture) put(t *testing.T, platform, token string, expiry *time.Time) int64 {
	t.Helper()
	sealed, err := f.cipher.Encrypt(token)
	require.NoError(t, err)
	return f.store.Put(&models.ChannelToken{
		StoreID:     "store-1",
		Platform:    platform,
		LongToken:   sealed,
		TokenExpiry: expiry,
	})
}

func at(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func TestGetTokenFallsBackToEnvironment(t *testing.T) {
	f := newTokenFixture(t)

	tok, err := f.svc.GetToken(context.Background(), "store-1", models.PlatformWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "env-wa-token", tok)

	_, err = f.svc.GetToken(context.Background(), "store-1", models.PlatformFacebook)
	var nf *apperrors.NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.Zero(t, f.refresher.Calls())
}

func TestGetTokenOutsideMarginIsServedAsIs(t *testing.T) {
	f := newTokenFixture(t)
	f.put(t, models.PlatformInstagram, "stored-token", at(30*24*time.Hour))

	tok, err := f.svc.GetToken(context.Background(), "store-1", models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, "stored-token", tok)
	assert.Zero(t, f.refresher.Calls())
}

func TestGetTokenRefreshesInsideMargin(t *testing.T) {
	f := newTokenFixture(t)
	id := f.put(t, models.PlatformInstagram, "stored-token", at(24*time.Hour))

	tok, err := f.svc.GetToken(context.Background(), "store-1", models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok)
	assert.Equal(t, 1, f.refresher.Calls())

	rec := f.store.Get(id)
	require.NotNil(t, rec)
	plain, err := f.cipher.Decrypt(rec.LongToken)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", plain)
	assert.Equal(t, models.RefreshStatusValid, rec.RefreshStatus)
	assert.NotNil(t, rec.LastRefreshAt)
	assert.True(t, rec.TokenExpiry.After(time.Now().Add(50*24*time.Hour)))
	assert.Equal(t, []string{models.RefreshStatusRefreshing, models.RefreshStatusValid}, f.store.Statuses)
}

func TestGetTokenRefreshFailure(t *testing.T) {
	t.Run("old token still valid", func(t *testing.T) {
		f := newTokenFixture(t)
		f.refresher.err = errors.New("graph said no")
		id := f.put(t, models.PlatformWhatsApp, "stored-token", at(2*time.Hour))

		tok, err := f.svc.GetToken(context.Background(), "store-1", models.PlatformWhatsApp)
		require.NoError(t, err)
		assert.Equal(t, "stored-token", tok)

		rec := f.store.Get(id)
		assert.Equal(t, models.RefreshStatusFailed, rec.RefreshStatus)
		require.NotNil(t, rec.RefreshError)
		assert.Contains(t, *rec.RefreshError, "graph said no")
	})

	t.Run("old token expired", func(t *testing.T) {
		f := newTokenFixture(t)
		f.refresher.err = errors.New("graph said no")
		id := f.put(t, models.PlatformWhatsApp, "stored-token", at(-time.Hour))

		_, err := f.svc.GetToken(context.Background(), "store-1", models.PlatformWhatsApp)
		var auth *apperrors.ChannelAuthError
		require.ErrorAs(t, err, &auth)
		assert.Equal(t, models.PlatformWhatsApp, auth.Platform)
		assert.Equal(t, models.RefreshStatusExpired, f.store.Get(id).RefreshStatus)
	})
}

func TestForceRefresh(t *testing.T) {
	f := newTokenFixture(t)

	_, err := f.svc.ForceRefresh(context.Background(), "store-1", models.PlatformInstagram)
	var nf *apperrors.NotFoundError
	require.ErrorAs(t, err, &nf)

	f.put(t, models.PlatformInstagram, "stored-token", at(30*24*time.Hour))
	tok, err := f.svc.ForceRefresh(context.Background(), "store-1", models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok)
	assert.Equal(t, 1, f.refresher.Calls())

	_, err = f.svc.ForceRefresh(context.Background(), "store-1", "tiktok")
	var ve *apperrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestConcurrentGetTokenRefreshesOnce(t *testing.T) {
	f := newTokenFixture(t)
	f.refresher.delay = 20 * time.Millisecond
	f.put(t, models.PlatformInstagram, "stored-token", at(time.Hour))

	var wg sync.WaitGroup
	results := make([]string, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.GetToken(context.Background(), "store-1", models.PlatformInstagram)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh-token", results[i])
	}
	assert.Equal(t, 1, f.refresher.Calls())
}

func TestCancelledCallerDoesNotAbortSharedRefresh(t *testing.T) {
	f := newTokenFixture(t)
	f.refresher.delay = 50 * time.Millisecond
	id := f.put(t, models.PlatformInstagram, "stored-token", at(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.svc.GetToken(ctx, "store-1", models.PlatformInstagram)
		firstErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	second := make(chan string, 1)
	go func() {
		tok, err := f.svc.GetToken(context.Background(), "store-1", models.PlatformInstagram)
		assert.NoError(t, err)
		second <- tok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	assert.Equal(t, "fresh-token", <-second)
	assert.Equal(t, 1, f.refresher.Calls())
	assert.Equal(t, models.RefreshStatusValid, f.store.Get(id).RefreshStatus)
}

func TestRefreshStoreFailureIsRecorded(t *testing.T) {
	f := newTokenFixture(t)
	id := f.put(t, models.PlatformInstagram, "stored-token", at(time.Hour))
	f.store.SetTokenErr = errors.New("connection reset")

	_, err := f.svc.ForceRefresh(context.Background(), "store-1", models.PlatformInstagram)
	var pe *apperrors.PersistenceError
	require.ErrorAs(t, err, &pe)

	rec := f.store.Get(id)
	assert.Equal(t, models.RefreshStatusFailed, rec.RefreshStatus)
	require.NotNil(t, rec.RefreshError)
	assert.Contains(t, *rec.RefreshError, "connection reset")
	assert.Equal(t, []string{models.RefreshStatusRefreshing, models.RefreshStatusFailed}, f.store.Statuses)
}

func TestSaveTokenEncryptsAtRest(t *testing.T) {
	f := newTokenFixture(t)

	rec, err := f.svc.SaveToken(context.Background(), "store-1", &transfer.SaveTokenRequest{
		Platform:  models.PlatformWhatsApp,
		AccountID: "PN-123",
		LongToken: "EAAG-secret",
	})
	require.NoError(t, err)
	assert.NotEqual(t, "EAAG-secret", rec.LongToken)

	tok, err := f.svc.GetToken(context.Background(), "store-1", models.PlatformWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "EAAG-secret", tok)

	accountID, err := f.svc.AccountID(context.Background(), "store-1", models.PlatformWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "PN-123", accountID)

	_, err = f.svc.SaveToken(context.Background(), "store-1", &transfer.SaveTokenRequest{Platform: models.PlatformWhatsApp})
	var ve *apperrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestAccountIDFallsBackToConfig(t *testing.T) {
	f := newTokenFixture(t)

	id, err := f.svc.AccountID(context.Background(), "store-1", models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, "IGUSER", id)

	_, err = f.svc.AccountID(context.Background(), "store-1", models.PlatformFacebook)
	var auth *apperrors.ChannelAuthError
	assert.ErrorAs(t, err, &auth)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	release()
	release()
	again, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	again()
}
