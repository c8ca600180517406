package auth

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/sync/singleflight"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/enum"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/logger"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/tracing"
)

// ExpiryMargin is the window before expiry inside which a token is treated as
// already expired, so a sync pass never starts with a token about to die.
const ExpiryMargin = 5 * time.Minute

// TokenManager caches decrypted bundles in memory and refreshes them through
// the OAuth provider. Concurrent callers for one account share a single
// in-flight refresh.
type TokenManager struct {
	tokens   interfaces.TokenRepository
	provider interfaces.OAuthProvider
	log      logger.Logger

	group singleflight.Group

	mu      sync.RWMutex
	cache   map[string]*models.TokenBundle
	invalid map[string]bool
}

func NewTokenManager(tokens interfaces.TokenRepository, provider interfaces.OAuthProvider, log logger.Logger) *TokenManager {
	return &TokenManager{
		tokens:   tokens,
		provider: provider,
		log:      log,
		cache:    map[string]*models.TokenBundle{},
		invalid:  map[string]bool{},
	}
}

// AccessToken returns a token valid for at least the expiry margin. Password
// accounts never reach this path.
func (m *TokenManager) AccessToken(ctx context.Context, account *models.Account) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TokenManager.AccessToken")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, account.ID)

	if account.AuthKind != enum.AuthKindOAuth2 {
		return "", coveerr.ErrNotAuthenticated
	}

	// A revoked credential stays invalid until the user re-authorizes; no
	// amount of retrying fixes it.
	m.mu.RLock()
	revoked := m.invalid[account.ID]
	m.mu.RUnlock()
	if revoked {
		return "", coveerr.ErrNotAuthenticated
	}

	bundle, err := m.bundle(ctx, account.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if bundle == nil {
		return "", coveerr.ErrNotAuthenticated
	}

	if !bundle.ExpiringWithin(ExpiryMargin) {
		return bundle.AccessToken, nil
	}

	refreshed, err, _ := m.group.Do(account.ID, func() (interface{}, error) {
		return m.refresh(ctx, account)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return refreshed.(*models.TokenBundle).AccessToken, nil
}

func (m *TokenManager) bundle(ctx context.Context, accountID string) (*models.TokenBundle, error) {
	m.mu.RLock()
	cached, ok := m.cache[accountID]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	bundle, err := m.tokens.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if bundle != nil {
		m.mu.Lock()
		m.cache[accountID] = bundle
		m.mu.Unlock()
	}
	return bundle, nil
}

func (m *TokenManager) refresh(ctx context.Context, account *models.Account) (*models.TokenBundle, error) {
	// Re-read under the single flight: the winner of a concurrent burst has
	// usually already refreshed by the time the others get here.
	m.mu.RLock()
	cached, ok := m.cache[account.ID]
	m.mu.RUnlock()
	if ok && !cached.ExpiringWithin(ExpiryMargin) {
		return cached, nil
	}

	current, err := m.bundle(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		return nil, coveerr.ErrNotAuthenticated
	}

	m.log.Infof("refreshing oauth token for account %s", account.ID)
	refreshed, err := m.provider.Refresh(ctx, account.Provider, current.RefreshToken)
	if err != nil {
		if err == coveerr.ErrNotAuthenticated {
			m.mu.Lock()
			m.invalid[account.ID] = true
			m.mu.Unlock()
			return nil, err
		}
		if coveerr.IsRetryable(err) {
			return nil, err
		}
		return nil, coveerr.Retryable(err)
	}

	if err := m.tokens.Save(ctx, account.ID, refreshed); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[account.ID] = refreshed
	m.mu.Unlock()
	return refreshed, nil
}

// StoreBundle persists a freshly authorized bundle and primes the cache.
func (m *TokenManager) StoreBundle(ctx context.Context, accountID string, bundle *models.TokenBundle) error {
	if err := m.tokens.Save(ctx, accountID, bundle); err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[accountID] = bundle
	delete(m.invalid, accountID)
	m.mu.Unlock()
	return nil
}

// Invalidate drops the in-memory state for an account.
func (m *TokenManager) Invalidate(accountID string) {
	m.mu.Lock()
	delete(m.cache, accountID)
	delete(m.invalid, accountID)
	m.mu.Unlock()
}
