package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newKakaoTestServer fakes the Kakao token, userinfo, and unlink endpoints.
func newKakaoTestServer(t *testing.T) (*httptest.Server, *KakaoClient) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(writer http.ResponseWriter, request *http.Request) {
		if parseErr := request.ParseForm(); parseErr != nil {
			http.Error(writer, "bad form", http.StatusBadRequest)
			return
		}
		grantType := request.PostFormValue("grant_type")
		switch grantType {
		case "authorization_code":
			if request.PostFormValue("code") != "good-code" {
				http.Error(writer, `{"error":"invalid_grant"}`, http.StatusBadRequest)
				return
			}
			writer.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(writer).Encode(map[string]any{
				"access_token":  "kakao-access",
				"refresh_token": "kakao-refresh",
				"token_type":    "bearer",
				"expires_in":    21600,
			})
		case "refresh_token":
			writer.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(writer).Encode(map[string]any{
				"access_token": "kakao-access-renewed",
				"token_type":   "bearer",
				"expires_in":   21600,
			})
		default:
			http.Error(writer, "unsupported grant", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/v2/user/me", func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "Bearer kakao-access" {
			http.Error(writer, "unauthorized", http.StatusUnauthorized)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"id":12345,"properties":{"nickname":"Tester"},"kakao_account":{"email":"tester@example.com"}}`))
	})
	mux.HandleFunc("/v1/user/unlink", func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost {
			http.Error(writer, "method", http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasPrefix(request.Header.Get("Authorization"), "Bearer ") {
			http.Error(writer, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = writer.Write([]byte(`{"id":12345}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewKakaoClient(Settings{
		ClientID:     "kakao-client",
		ClientSecret: "kakao-secret",
		RedirectURI:  "http://localhost:8080/auth/login/kakao/callback",
		AuthURL:      server.URL + "/oauth/authorize",
		TokenURL:     server.URL + "/oauth/token",
		UserInfoURL:  server.URL + "/v2/user/me",
		UnlinkURL:    server.URL + "/v1/user/unlink",
	})
	return server, client
}

func TestKakaoAuthCodeURLCarriesState(t *testing.T) {
	_, client := newKakaoTestServer(t)
	consentURL := client.AuthCodeURL("state-token")
	if !strings.Contains(consentURL, "state=state-token") {
		t.Fatalf("consent URL missing state: %s", consentURL)
	}
	if !strings.Contains(consentURL, "client_id=kakao-client") {
		t.Fatalf("consent URL missing client id: %s", consentURL)
	}
}

func TestKakaoExchange(t *testing.T) {
	_, client := newKakaoTestServer(t)

	token, exchangeErr := client.Exchange(context.Background(), "good-code")
	if exchangeErr != nil {
		t.Fatalf("exchange error: %v", exchangeErr)
	}
	if token.AccessToken != "kakao-access" || token.RefreshToken != "kakao-refresh" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if token.ExpiresAt.IsZero() {
		t.Fatalf("expected expiry from expires_in")
	}
}

func TestKakaoExchangeBadCode(t *testing.T) {
	_, client := newKakaoTestServer(t)
	if _, exchangeErr := client.Exchange(context.Background(), "bad-code"); !errors.Is(exchangeErr, ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed, got %v", exchangeErr)
	}
}

func TestKakaoFetchIdentity(t *testing.T) {
	_, client := newKakaoTestServer(t)

	identity, identityErr := client.FetchIdentity(context.Background(), "kakao-access")
	if identityErr != nil {
		t.Fatalf("identity error: %v", identityErr)
	}
	if identity.ProviderUserID != "12345" {
		t.Fatalf("expected numeric id formatted as string, got %s", identity.ProviderUserID)
	}
	if identity.Email != "tester@example.com" || identity.DisplayName != "Tester" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestKakaoFetchIdentityRejected(t *testing.T) {
	_, client := newKakaoTestServer(t)
	if _, identityErr := client.FetchIdentity(context.Background(), "wrong-token"); !errors.Is(identityErr, ErrIdentityFetch) {
		t.Fatalf("expected ErrIdentityFetch, got %v", identityErr)
	}
}

func TestKakaoRefreshKeepsOldRefreshToken(t *testing.T) {
	_, client := newKakaoTestServer(t)

	token, refreshErr := client.Refresh(context.Background(), "kakao-refresh")
	if refreshErr != nil {
		t.Fatalf("refresh error: %v", refreshErr)
	}
	if token.AccessToken != "kakao-access-renewed" {
		t.Fatalf("unexpected renewed access token: %s", token.AccessToken)
	}
	if token.RefreshToken != "kakao-refresh" {
		t.Fatalf("refresh token must be carried forward when the response omits one, got %s", token.RefreshToken)
	}
}

func TestKakaoUnlink(t *testing.T) {
	_, client := newKakaoTestServer(t)
	if unlinkErr := client.Unlink(context.Background(), "kakao-access"); unlinkErr != nil {
		t.Fatalf("unlink error: %v", unlinkErr)
	}
}

// newNaverTestServer fakes the Naver token, profile, and grant-delete endpoints.
func newNaverTestServer(t *testing.T) (*httptest.Server, *NaverClient, *[]string) {
	t.Helper()
	var deleteGrants []string

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2.0/token", func(writer http.ResponseWriter, request *http.Request) {
		if parseErr := request.ParseForm(); parseErr != nil {
			http.Error(writer, "bad form", http.StatusBadRequest)
			return
		}
		if request.PostFormValue("grant_type") == "delete" || request.FormValue("grant_type") == "delete" {
			deleteGrants = append(deleteGrants, request.FormValue("access_token"))
			_, _ = writer.Write([]byte(`{"access_token":"naver-access","result":"success"}`))
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(map[string]any{
			"access_token":  "naver-access",
			"refresh_token": "naver-refresh",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/v1/nid/me", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		if request.Header.Get("Authorization") != "Bearer naver-access" {
			_, _ = writer.Write([]byte(`{"resultcode":"024","message":"Authentication failed"}`))
			return
		}
		_, _ = writer.Write([]byte(`{"resultcode":"00","message":"success","response":{"id":"naver-uid-7","email":"naver@example.com","nickname":"NaverTester"}}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewNaverClient(Settings{
		ClientID:     "naver-client",
		ClientSecret: "naver-secret",
		RedirectURI:  "http://localhost:8080/auth/login/naver/callback",
		AuthURL:      server.URL + "/oauth2.0/authorize",
		TokenURL:     server.URL + "/oauth2.0/token",
		UserInfoURL:  server.URL + "/v1/nid/me",
		UnlinkURL:    server.URL + "/oauth2.0/token",
	})
	return server, client, &deleteGrants
}

func TestNaverExchangeAndIdentity(t *testing.T) {
	_, client, _ := newNaverTestServer(t)

	token, exchangeErr := client.Exchange(context.Background(), "good-code")
	if exchangeErr != nil {
		t.Fatalf("exchange error: %v", exchangeErr)
	}
	if token.AccessToken != "naver-access" {
		t.Fatalf("unexpected token: %+v", token)
	}

	identity, identityErr := client.FetchIdentity(context.Background(), token.AccessToken)
	if identityErr != nil {
		t.Fatalf("identity error: %v", identityErr)
	}
	if identity.ProviderUserID != "naver-uid-7" || identity.Email != "naver@example.com" || identity.DisplayName != "NaverTester" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestNaverFetchIdentityNonZeroResultCode(t *testing.T) {
	_, client, _ := newNaverTestServer(t)
	if _, identityErr := client.FetchIdentity(context.Background(), "wrong-token"); !errors.Is(identityErr, ErrIdentityFetch) {
		t.Fatalf("expected ErrIdentityFetch, got %v", identityErr)
	}
}

func TestNaverUnlinkDeletesGrant(t *testing.T) {
	_, client, deleteGrants := newNaverTestServer(t)

	if unlinkErr := client.Unlink(context.Background(), "naver-access"); unlinkErr != nil {
		t.Fatalf("unlink error: %v", unlinkErr)
	}
	if len(*deleteGrants) != 1 || (*deleteGrants)[0] != "naver-access" {
		t.Fatalf("expected one delete-grant call for naver-access, got %v", *deleteGrants)
	}
}
