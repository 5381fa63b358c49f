// Package provider wraps the two social identity providers behind a common
// client interface: authorization-code exchange, identity lookup, token
// refresh, and account unlink.
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Provider names routed by the auth endpoints.
const (
	Kakao = "kakao"
	Naver = "naver"
)

var (
	// ErrExchangeFailed indicates the authorization code could not be exchanged.
	ErrExchangeFailed = errors.New("provider.exchange_failed")
	// ErrIdentityFetch indicates the userinfo call failed or returned no usable identity.
	ErrIdentityFetch = errors.New("provider.identity_fetch_failed")
	// ErrUnlinkFailed indicates the provider-side revoke call failed.
	ErrUnlinkFailed = errors.New("provider.unlink_failed")
	// ErrRefreshFailed indicates the provider token refresh failed.
	ErrRefreshFailed = errors.New("provider.refresh_failed")
)

// Token is the provider's own credential set, cached for later unlink calls.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Identity is the provider-scoped user identity resolved after login.
type Identity struct {
	ProviderUserID string
	Email          string
	DisplayName    string
}

// Client is one configured social identity provider.
type Client interface {
	Name() string
	// AuthCodeURL builds the consent-screen URL carrying the anti-CSRF state.
	AuthCodeURL(state string) string
	// Exchange swaps an authorization code for the provider's tokens.
	Exchange(ctx context.Context, code string) (Token, error)
	// FetchIdentity resolves the provider-scoped identity with a provider access token.
	FetchIdentity(ctx context.Context, accessToken string) (Identity, error)
	// Refresh obtains a fresh provider token set from a provider refresh token.
	Refresh(ctx context.Context, refreshToken string) (Token, error)
	// Unlink severs the provider-side linkage for the given access token.
	Unlink(ctx context.Context, accessToken string) error
}

// Settings configures one provider client. Endpoint URLs are explicit so tests
// and regional deployments can point at their own hosts.
type Settings struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	UnlinkURL    string
}

const providerCallTimeout = 5 * time.Second

func oauthConfig(settings Settings) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		RedirectURL:  settings.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  settings.AuthURL,
			TokenURL: settings.TokenURL,
		},
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: providerCallTimeout}
}

// exchangeContext injects the short-timeout client into oauth2 calls.
func exchangeContext(ctx context.Context, httpClient *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, httpClient)
}

func tokenFromOAuth2(exchanged *oauth2.Token) Token {
	return Token{
		AccessToken:  exchanged.AccessToken,
		RefreshToken: exchanged.RefreshToken,
		ExpiresAt:    exchanged.Expiry,
	}
}
