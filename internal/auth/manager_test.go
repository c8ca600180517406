package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailcove/mailcove/internal/enum"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/logger"
	"github.com/mailcove/mailcove/internal/models"
)

type fakeTokenRepository struct {
	mu      sync.Mutex
	bundles map[string]*models.TokenBundle
	saves   int
}

func newFakeTokenRepository() *fakeTokenRepository {
	return &fakeTokenRepository{bundles: map[string]*models.TokenBundle{}}
}

func (r *fakeTokenRepository) Save(ctx context.Context, accountID string, bundle *models.TokenBundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles[accountID] = bundle
	r.saves++
	return nil
}

func (r *fakeTokenRepository) Get(ctx context.Context, accountID string) (*models.TokenBundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bundles[accountID], nil
}

func (r *fakeTokenRepository) Delete(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bundles, accountID)
	return nil
}

type fakeOAuthProvider struct {
	refreshes int32
	refreshFn func(refreshToken string) (*models.TokenBundle, error)
}

func (p *fakeOAuthProvider) BeginAuthorization(provider enum.EmailProvider, state string) (string, error) {
	return "https://auth.example.com/consent", nil
}

func (p *fakeOAuthProvider) CompleteAuthorization(ctx context.Context, provider enum.EmailProvider, code string) (*models.TokenBundle, error) {
	return nil, nil
}

func (p *fakeOAuthProvider) Refresh(ctx context.Context, provider enum.EmailProvider, refreshToken string) (*models.TokenBundle, error) {
	atomic.AddInt32(&p.refreshes, 1)
	// Simulate network latency so concurrent callers pile onto one flight.
	time.Sleep(20 * time.Millisecond)
	return p.refreshFn(refreshToken)
}

func testLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func oauthAccount() *models.Account {
	return &models.Account{
		ID:       "acct_test",
		Provider: enum.EmailProviderGmail,
		AuthKind: enum.AuthKindOAuth2,
	}
}

func TestAccessTokenReturnsValidTokenWithoutRefresh(t *testing.T) {
	repo := newFakeTokenRepository()
	provider := &fakeOAuthProvider{}
	manager := NewTokenManager(repo, provider, testLogger())

	require.NoError(t, repo.Save(context.Background(), "acct_test", &models.TokenBundle{
		AccessToken:  "still-good",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}))

	token, err := manager.AccessToken(context.Background(), oauthAccount())
	require.NoError(t, err)
	assert.Equal(t, "still-good", token)
	assert.Equal(t, int32(0), atomic.LoadInt32(&provider.refreshes))
}

func TestAccessTokenRefreshesExpiringToken(t *testing.T) {
	repo := newFakeTokenRepository()
	provider := &fakeOAuthProvider{
		refreshFn: func(refreshToken string) (*models.TokenBundle, error) {
			return &models.TokenBundle{
				AccessToken:  "fresh",
				RefreshToken: refreshToken,
				ExpiresAt:    time.Now().UTC().Add(time.Hour),
			}, nil
		},
	}
	manager := NewTokenManager(repo, provider, testLogger())

	// Inside the five minute margin.
	require.NoError(t, repo.Save(context.Background(), "acct_test", &models.TokenBundle{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Minute),
	}))

	token, err := manager.AccessToken(context.Background(), oauthAccount())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.refreshes))

	stored, err := repo.Get(context.Background(), "acct_test")
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.AccessToken)
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	repo := newFakeTokenRepository()
	provider := &fakeOAuthProvider{
		refreshFn: func(refreshToken string) (*models.TokenBundle, error) {
			return &models.TokenBundle{
				AccessToken:  "fresh",
				RefreshToken: refreshToken,
				ExpiresAt:    time.Now().UTC().Add(time.Hour),
			}, nil
		},
	}
	manager := NewTokenManager(repo, provider, testLogger())

	require.NoError(t, repo.Save(context.Background(), "acct_test", &models.TokenBundle{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().UTC().Add(-time.Minute),
	}))

	var wg sync.WaitGroup
	results := make([]string, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = manager.AccessToken(context.Background(), oauthAccount())
		}(i)
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh", results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.refreshes))
}

func TestRevokedRefreshTokenSurfacesNotAuthenticated(t *testing.T) {
	repo := newFakeTokenRepository()
	provider := &fakeOAuthProvider{
		refreshFn: func(refreshToken string) (*models.TokenBundle, error) {
			return nil, coveerr.ErrNotAuthenticated
		},
	}
	manager := NewTokenManager(repo, provider, testLogger())

	require.NoError(t, repo.Save(context.Background(), "acct_test", &models.TokenBundle{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().UTC().Add(-time.Hour),
	}))

	_, err := manager.AccessToken(context.Background(), oauthAccount())
	assert.ErrorIs(t, err, coveerr.ErrNotAuthenticated)
	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.refreshes))
}

func TestRevokedCredentialNotRetriedUntilReauthorized(t *testing.T) {
	repo := newFakeTokenRepository()
	provider := &fakeOAuthProvider{
		refreshFn: func(refreshToken string) (*models.TokenBundle, error) {
			return nil, coveerr.ErrNotAuthenticated
		},
	}
	manager := NewTokenManager(repo, provider, testLogger())

	require.NoError(t, repo.Save(context.Background(), "acct_test", &models.TokenBundle{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().UTC().Add(-time.Hour),
	}))

	_, err := manager.AccessToken(context.Background(), oauthAccount())
	require.ErrorIs(t, err, coveerr.ErrNotAuthenticated)

	// Later calls fail fast without hitting the provider again.
	_, err = manager.AccessToken(context.Background(), oauthAccount())
	require.ErrorIs(t, err, coveerr.ErrNotAuthenticated)
	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.refreshes))

	// Re-authorization clears the latch.
	require.NoError(t, manager.StoreBundle(context.Background(), "acct_test", &models.TokenBundle{
		AccessToken:  "reauthorized",
		RefreshToken: "new-refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}))

	token, err := manager.AccessToken(context.Background(), oauthAccount())
	require.NoError(t, err)
	assert.Equal(t, "reauthorized", token)
}

func TestAccessTokenWithoutBundle(t *testing.T) {
	manager := NewTokenManager(newFakeTokenRepository(), &fakeOAuthProvider{}, testLogger())

	_, err := manager.AccessToken(context.Background(), oauthAccount())
	assert.ErrorIs(t, err, coveerr.ErrNotAuthenticated)
}

func TestPasswordAccountRejected(t *testing.T) {
	manager := NewTokenManager(newFakeTokenRepository(), &fakeOAuthProvider{}, testLogger())

	account := oauthAccount()
	account.AuthKind = enum.AuthKindPassword
	_, err := manager.AccessToken(context.Background(), account)
	assert.ErrorIs(t, err, coveerr.ErrNotAuthenticated)
}

func TestInvalidateDropsCachedBundle(t *testing.T) {
	repo := newFakeTokenRepository()
	provider := &fakeOAuthProvider{}
	manager := NewTokenManager(repo, provider, testLogger())

	require.NoError(t, manager.StoreBundle(context.Background(), "acct_test", &models.TokenBundle{
		AccessToken:  "cached",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}))

	manager.Invalidate("acct_test")
	require.NoError(t, repo.Delete(context.Background(), "acct_test"))

	_, err := manager.AccessToken(context.Background(), oauthAccount())
	assert.ErrorIs(t, err, coveerr.ErrNotAuthenticated)
}
