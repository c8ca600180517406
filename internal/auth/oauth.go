package auth

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/mailcove/mailcove/config"
	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/enum"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/models"
)

var gmailScopes = []string{"https://mail.google.com/"}

var outlookScopes = []string{
	"https://outlook.office.com/IMAP.AccessAsUser.All",
	"https://outlook.office.com/SMTP.Send",
	"offline_access",
}

var yahooScopes = []string{"mail-w"}

type oauthProvider struct {
	cfg *config.OAuthConfig
}

func NewOAuthProvider(cfg *config.OAuthConfig) interfaces.OAuthProvider {
	return &oauthProvider{cfg: cfg}
}

func (p *oauthProvider) oauthConfig(provider enum.EmailProvider) (*oauth2.Config, error) {
	switch provider {
	case enum.EmailProviderGmail:
		return &oauth2.Config{
			ClientID:     p.cfg.GoogleClientID,
			ClientSecret: p.cfg.GoogleClientSecret,
			Endpoint:     endpoints.Google,
			RedirectURL:  p.cfg.RedirectURL,
			Scopes:       gmailScopes,
		}, nil
	case enum.EmailProviderOutlook:
		return &oauth2.Config{
			ClientID:     p.cfg.MicrosoftClientID,
			ClientSecret: p.cfg.MicrosoftClientSecret,
			Endpoint:     endpoints.Microsoft,
			RedirectURL:  p.cfg.RedirectURL,
			Scopes:       outlookScopes,
		}, nil
	case enum.EmailProviderYahoo:
		return &oauth2.Config{
			ClientID:     p.cfg.YahooClientID,
			ClientSecret: p.cfg.YahooClientSecret,
			Endpoint:     endpoints.Yahoo,
			RedirectURL:  p.cfg.RedirectURL,
			Scopes:       yahooScopes,
		}, nil
	default:
		return nil, errors.Errorf("provider %s does not support oauth", provider)
	}
}

func (p *oauthProvider) BeginAuthorization(provider enum.EmailProvider, state string) (string, error) {
	cfg, err := p.oauthConfig(provider)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

func (p *oauthProvider) CompleteAuthorization(ctx context.Context, provider enum.EmailProvider, code string) (*models.TokenBundle, error) {
	cfg, err := p.oauthConfig(provider)
	if err != nil {
		return nil, err
	}
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "authorization code exchange")
	}
	return bundleFromToken(token), nil
}

// Refresh exchanges a refresh token for a fresh bundle. A rejected refresh
// token means the grant was revoked: ErrNotAuthenticated, never a retry.
func (p *oauthProvider) Refresh(ctx context.Context, provider enum.EmailProvider, refreshToken string) (*models.TokenBundle, error) {
	cfg, err := p.oauthConfig(provider)
	if err != nil {
		return nil, err
	}

	source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, coveerr.ErrNotAuthenticated
		}
		return nil, coveerr.Retryable(err)
	}
	bundle := bundleFromToken(token)
	if bundle.RefreshToken == "" {
		// Some providers rotate refresh tokens only sometimes.
		bundle.RefreshToken = refreshToken
	}
	return bundle, nil
}

func bundleFromToken(token *oauth2.Token) *models.TokenBundle {
	return &models.TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.UTC(),
	}
}
