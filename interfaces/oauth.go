package interfaces

import (
	"context"

	"github.com/mailcove/mailcove/internal/enum"
	"github.com/mailcove/mailcove/internal/models"
)

// OAuthProvider performs the authorization-code and refresh exchanges.
// Browser mechanics (opening the consent URL, receiving the redirect) belong
// to the embedding application.
type OAuthProvider interface {
	// BeginAuthorization returns the consent URL the user must visit.
	BeginAuthorization(provider enum.EmailProvider, state string) (string, error)

	// CompleteAuthorization exchanges the redirect code for a token bundle.
	CompleteAuthorization(ctx context.Context, provider enum.EmailProvider, code string) (*models.TokenBundle, error)

	// Refresh exchanges a refresh token for a fresh bundle.
	Refresh(ctx context.Context, provider enum.EmailProvider, refreshToken string) (*models.TokenBundle, error)
}

// TokenManager hands out usable bearer tokens, refreshing behind the scenes.
type TokenManager interface {
	// AccessToken returns a token valid for at least the safety margin,
	// refreshing through the OAuth provider when needed. A revoked refresh
	// token surfaces as ErrNotAuthenticated.
	AccessToken(ctx context.Context, account *models.Account) (string, error)

	// StoreBundle persists a freshly authorized bundle for the account.
	StoreBundle(ctx context.Context, accountID string, bundle *models.TokenBundle) error

	// Invalidate drops any cached token state for the account.
	Invalidate(accountID string)
}
