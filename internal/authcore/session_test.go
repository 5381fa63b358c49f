package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dayone-kr/authcore/internal/provider"
)

func TestRefreshAccessIssuesNewAccessToken(t *testing.T) {
	fixture := newServiceFixture(t)
	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}

	fixture.clock.Advance(time.Hour)
	accessToken, accessExpiresAt, refreshErr := fixture.service.RefreshAccess(context.Background(), login.RefreshToken)
	if refreshErr != nil {
		t.Fatalf("refresh error: %v", refreshErr)
	}
	if accessToken == login.AccessToken {
		t.Fatalf("expected a fresh access token")
	}
	if wantExpiry := fixture.clock.Now().Add(fixture.config.AccessTTL); !accessExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, accessExpiresAt)
	}

	claims, parseErr := ParseSessionToken(accessToken, fixture.config.JWTIssuer, fixture.config.JWTSigningKey, fixture.clock)
	if parseErr != nil {
		t.Fatalf("parse error: %v", parseErr)
	}
	if claims.AccountID != login.Account.ID || claims.TokenKind != TokenKindAccess {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	record, findErr := fixture.refreshTokens.FindByAccount(context.Background(), login.Account.ID)
	if findErr != nil {
		t.Fatalf("refresh row missing: %v", findErr)
	}
	if record.UsageCount != 1 {
		t.Fatalf("expected usage count 1, got %d", record.UsageCount)
	}
	if fixture.metrics.Count(MetricRefreshSuccess) != 1 {
		t.Fatalf("expected one refresh success metric")
	}
}

func TestRefreshAccessRepeatedUseBumpsCounter(t *testing.T) {
	fixture := newServiceFixture(t)
	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}

	for round := 0; round < 3; round++ {
		if _, _, refreshErr := fixture.service.RefreshAccess(context.Background(), login.RefreshToken); refreshErr != nil {
			t.Fatalf("refresh round %d error: %v", round, refreshErr)
		}
	}
	record, _ := fixture.refreshTokens.FindByAccount(context.Background(), login.Account.ID)
	if record.UsageCount != 3 {
		t.Fatalf("expected usage count 3, got %d", record.UsageCount)
	}
}

func TestRefreshAccessMissingToken(t *testing.T) {
	fixture := newServiceFixture(t)
	_, _, refreshErr := fixture.service.RefreshAccess(context.Background(), "")
	if !errors.Is(refreshErr, ErrRefreshMissing) {
		t.Fatalf("expected ErrRefreshMissing, got %v", refreshErr)
	}
}

func TestRefreshAccessExpiredToken(t *testing.T) {
	fixture := newServiceFixture(t)
	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}

	fixture.clock.Advance(fixture.config.RefreshTTL + time.Hour)
	_, _, refreshErr := fixture.service.RefreshAccess(context.Background(), login.RefreshToken)
	if !errors.Is(refreshErr, ErrRefreshExpired) {
		t.Fatalf("expected ErrRefreshExpired, got %v", refreshErr)
	}
}

func TestRefreshAccessRejectsAccessTokenKind(t *testing.T) {
	fixture := newServiceFixture(t)
	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}

	_, _, refreshErr := fixture.service.RefreshAccess(context.Background(), login.AccessToken)
	if !errors.Is(refreshErr, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid for access-kind token, got %v", refreshErr)
	}
}

func TestRefreshAccessRejectsSupersededToken(t *testing.T) {
	fixture := newServiceFixture(t)
	first, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code-1")
	if loginErr != nil {
		t.Fatalf("first login error: %v", loginErr)
	}
	fixture.clock.Advance(time.Minute)
	if _, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code-2"); loginErr != nil {
		t.Fatalf("second login error: %v", loginErr)
	}

	_, _, refreshErr := fixture.service.RefreshAccess(context.Background(), first.RefreshToken)
	if !errors.Is(refreshErr, ErrRefreshInvalid) {
		t.Fatalf("expected superseded token to be invalid, got %v", refreshErr)
	}
}

func TestRefreshAccessRejectsWithdrawnAccount(t *testing.T) {
	fixture := newServiceFixture(t)
	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}
	if deleteErr := fixture.accounts.SoftDelete(context.Background(), login.Account.ID); deleteErr != nil {
		t.Fatalf("soft delete error: %v", deleteErr)
	}

	_, _, refreshErr := fixture.service.RefreshAccess(context.Background(), login.RefreshToken)
	if !errors.Is(refreshErr, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid for withdrawn account, got %v", refreshErr)
	}
}

func TestLogoutRevokesAccessAndDropsRefreshRow(t *testing.T) {
	fixture := newServiceFixture(t)
	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}

	if logoutErr := fixture.service.Logout(context.Background(), login.AccessToken); logoutErr != nil {
		t.Fatalf("logout error: %v", logoutErr)
	}

	revoked, containsErr := fixture.revocations.Contains(context.Background(), login.AccessToken)
	if containsErr != nil {
		t.Fatalf("contains error: %v", containsErr)
	}
	if !revoked {
		t.Fatalf("access token must be blacklisted after logout")
	}

	if _, findErr := fixture.refreshTokens.FindByAccount(context.Background(), login.Account.ID); !errors.Is(findErr, ErrNotFound) {
		t.Fatalf("refresh row must be deleted after logout, got %v", findErr)
	}
}

func TestLogoutRejectsInvalidToken(t *testing.T) {
	fixture := newServiceFixture(t)
	if logoutErr := fixture.service.Logout(context.Background(), "garbage"); !errors.Is(logoutErr, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", logoutErr)
	}
}

func TestLogoutRejectsRefreshToken(t *testing.T) {
	fixture := newServiceFixture(t)
	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}
	if logoutErr := fixture.service.Logout(context.Background(), login.RefreshToken); !errors.Is(logoutErr, ErrUnauthenticated) {
		t.Fatalf("expected refresh-kind token to be rejected, got %v", logoutErr)
	}
}
