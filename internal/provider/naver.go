package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// NaverClient drives the Naver authorization-code flow.
type NaverClient struct {
	settings   Settings
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewNaverClient constructs a Naver provider client.
func NewNaverClient(settings Settings) *NaverClient {
	return &NaverClient{
		settings:   settings,
		oauth:      oauthConfig(settings),
		httpClient: newHTTPClient(),
	}
}

// Name returns the provider name.
func (client *NaverClient) Name() string {
	return Naver
}

// AuthCodeURL builds the Naver consent URL.
func (client *NaverClient) AuthCodeURL(state string) string {
	return client.oauth.AuthCodeURL(state)
}

// Exchange swaps an authorization code for Naver tokens.
func (client *NaverClient) Exchange(ctx context.Context, code string) (Token, error) {
	exchanged, exchangeErr := client.oauth.Exchange(exchangeContext(ctx, client.httpClient), code)
	if exchangeErr != nil {
		return Token{}, fmt.Errorf("provider.naver.exchange: %w", ErrExchangeFailed)
	}
	return tokenFromOAuth2(exchanged), nil
}

type naverUserResponse struct {
	ResultCode string `json:"resultcode"`
	Message    string `json:"message"`
	Response   struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Nickname string `json:"nickname"`
	} `json:"response"`
}

// FetchIdentity resolves the Naver user id, email, and nickname.
func (client *NaverClient) FetchIdentity(ctx context.Context, accessToken string) (Identity, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, client.settings.UserInfoURL, nil)
	if requestErr != nil {
		return Identity{}, fmt.Errorf("provider.naver.userinfo: %w", requestErr)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)

	response, callErr := client.httpClient.Do(request)
	if callErr != nil {
		return Identity{}, fmt.Errorf("provider.naver.userinfo: %w", ErrIdentityFetch)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("provider.naver.userinfo.status_%d: %w", response.StatusCode, ErrIdentityFetch)
	}

	var payload naverUserResponse
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return Identity{}, fmt.Errorf("provider.naver.userinfo.decode: %w", ErrIdentityFetch)
	}
	if payload.ResultCode != "00" || payload.Response.ID == "" {
		return Identity{}, fmt.Errorf("provider.naver.userinfo.result_%s: %w", payload.ResultCode, ErrIdentityFetch)
	}
	return Identity{
		ProviderUserID: payload.Response.ID,
		Email:          payload.Response.Email,
		DisplayName:    payload.Response.Nickname,
	}, nil
}

// Refresh obtains fresh Naver tokens from a refresh token.
func (client *NaverClient) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	source := client.oauth.TokenSource(exchangeContext(ctx, client.httpClient), &oauth2.Token{RefreshToken: refreshToken})
	refreshed, refreshErr := source.Token()
	if refreshErr != nil {
		return Token{}, fmt.Errorf("provider.naver.refresh: %w", ErrRefreshFailed)
	}
	token := tokenFromOAuth2(refreshed)
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

// Unlink revokes the Naver-side grant. Naver deletes grants through its token
// endpoint with grant_type=delete rather than a dedicated unlink resource.
func (client *NaverClient) Unlink(ctx context.Context, accessToken string) error {
	form := url.Values{}
	form.Set("grant_type", "delete")
	form.Set("client_id", client.settings.ClientID)
	form.Set("client_secret", client.settings.ClientSecret)
	form.Set("access_token", accessToken)
	form.Set("service_provider", "NAVER")

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, client.settings.UnlinkURL, strings.NewReader(form.Encode()))
	if requestErr != nil {
		return fmt.Errorf("provider.naver.unlink: %w", requestErr)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, callErr := client.httpClient.Do(request)
	if callErr != nil {
		return fmt.Errorf("provider.naver.unlink: %w", ErrUnlinkFailed)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("provider.naver.unlink.status_%d: %w", response.StatusCode, ErrUnlinkFailed)
	}
	return nil
}
