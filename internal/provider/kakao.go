package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// KakaoClient drives the Kakao authorization-code flow.
type KakaoClient struct {
	settings   Settings
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewKakaoClient constructs a Kakao provider client.
func NewKakaoClient(settings Settings) *KakaoClient {
	return &KakaoClient{
		settings:   settings,
		oauth:      oauthConfig(settings),
		httpClient: newHTTPClient(),
	}
}

// Name returns the provider name.
func (client *KakaoClient) Name() string {
	return Kakao
}

// AuthCodeURL builds the Kakao consent URL.
func (client *KakaoClient) AuthCodeURL(state string) string {
	return client.oauth.AuthCodeURL(state)
}

// Exchange swaps an authorization code for Kakao tokens.
func (client *KakaoClient) Exchange(ctx context.Context, code string) (Token, error) {
	exchanged, exchangeErr := client.oauth.Exchange(exchangeContext(ctx, client.httpClient), code)
	if exchangeErr != nil {
		return Token{}, fmt.Errorf("provider.kakao.exchange: %w", ErrExchangeFailed)
	}
	return tokenFromOAuth2(exchanged), nil
}

type kakaoUserResponse struct {
	ID         int64 `json:"id"`
	Properties struct {
		Nickname string `json:"nickname"`
	} `json:"properties"`
	KakaoAccount struct {
		Email string `json:"email"`
	} `json:"kakao_account"`
}

// FetchIdentity resolves the Kakao user id, email, and nickname.
func (client *KakaoClient) FetchIdentity(ctx context.Context, accessToken string) (Identity, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, client.settings.UserInfoURL, nil)
	if requestErr != nil {
		return Identity{}, fmt.Errorf("provider.kakao.userinfo: %w", requestErr)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)

	response, callErr := client.httpClient.Do(request)
	if callErr != nil {
		return Identity{}, fmt.Errorf("provider.kakao.userinfo: %w", ErrIdentityFetch)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("provider.kakao.userinfo.status_%d: %w", response.StatusCode, ErrIdentityFetch)
	}

	var payload kakaoUserResponse
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return Identity{}, fmt.Errorf("provider.kakao.userinfo.decode: %w", ErrIdentityFetch)
	}
	if payload.ID == 0 {
		return Identity{}, fmt.Errorf("provider.kakao.userinfo.empty_id: %w", ErrIdentityFetch)
	}
	return Identity{
		ProviderUserID: strconv.FormatInt(payload.ID, 10),
		Email:          payload.KakaoAccount.Email,
		DisplayName:    payload.Properties.Nickname,
	}, nil
}

// Refresh obtains fresh Kakao tokens from a refresh token.
func (client *KakaoClient) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	source := client.oauth.TokenSource(exchangeContext(ctx, client.httpClient), &oauth2.Token{RefreshToken: refreshToken})
	refreshed, refreshErr := source.Token()
	if refreshErr != nil {
		return Token{}, fmt.Errorf("provider.kakao.refresh: %w", ErrRefreshFailed)
	}
	token := tokenFromOAuth2(refreshed)
	if token.RefreshToken == "" {
		// Kakao omits the refresh token unless it is near expiry.
		token.RefreshToken = refreshToken
	}
	return token, nil
}

// Unlink severs the Kakao-side linkage for the access token.
func (client *KakaoClient) Unlink(ctx context.Context, accessToken string) error {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, client.settings.UnlinkURL, strings.NewReader(""))
	if requestErr != nil {
		return fmt.Errorf("provider.kakao.unlink: %w", requestErr)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)

	response, callErr := client.httpClient.Do(request)
	if callErr != nil {
		return fmt.Errorf("provider.kakao.unlink: %w", ErrUnlinkFailed)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("provider.kakao.unlink.status_%d: %w", response.StatusCode, ErrUnlinkFailed)
	}
	return nil
}
