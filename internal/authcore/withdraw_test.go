package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dayone-kr/authcore/internal/provider"
)

func TestWithdrawRevokesUnlinksAndSoftDeletes(t *testing.T) {
	fixture := newServiceFixture(t)
	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}

	processedProvider, withdrawErr := fixture.service.Withdraw(context.Background(), login.Account.ID, "", login.AccessToken)
	if withdrawErr != nil {
		t.Fatalf("withdraw error: %v", withdrawErr)
	}
	if processedProvider != provider.Kakao {
		t.Fatalf("expected inferred provider kakao, got %s", processedProvider)
	}

	if len(fixture.kakaoClient.unlinkTokens) != 1 {
		t.Fatalf("expected one unlink call, got %d", len(fixture.kakaoClient.unlinkTokens))
	}
	if fixture.kakaoClient.unlinkTokens[0] != "kakao-access" {
		t.Fatalf("unlink must use the cached provider access token, got %s", fixture.kakaoClient.unlinkTokens[0])
	}

	account, _ := fixture.accounts.FindByID(context.Background(), login.Account.ID)
	if !account.Withdrawn() {
		t.Fatalf("account must be soft-deleted")
	}

	revoked, _ := fixture.revocations.Contains(context.Background(), login.AccessToken)
	if !revoked {
		t.Fatalf("current access token must be blacklisted")
	}

	if fixture.kakaoTokens.has(login.Account.ID) {
		t.Fatalf("cached provider tokens must be removed")
	}
	if _, findErr := fixture.refreshTokens.FindByAccount(context.Background(), login.Account.ID); !errors.Is(findErr, ErrNotFound) {
		t.Fatalf("refresh row must be removed, got %v", findErr)
	}
	if fixture.metrics.Count(MetricWithdrawCompleted) != 1 {
		t.Fatalf("expected one withdraw metric")
	}
}

func TestWithdrawRefreshesExpiredProviderTokenBeforeUnlink(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.kakaoClient.exchangeToken.ExpiresAt = fixture.clock.Now().Add(time.Minute)
	fixture.kakaoClient.refreshedToken = provider.Token{
		AccessToken:  "kakao-access-renewed",
		RefreshToken: "kakao-refresh",
		ExpiresAt:    fixture.clock.Now().Add(6 * time.Hour),
	}

	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}

	fixture.clock.Advance(10 * time.Minute)
	if _, withdrawErr := fixture.service.Withdraw(context.Background(), login.Account.ID, "", login.AccessToken); withdrawErr != nil {
		t.Fatalf("withdraw error: %v", withdrawErr)
	}

	if fixture.kakaoClient.refreshCalls != 1 {
		t.Fatalf("expected one provider refresh call, got %d", fixture.kakaoClient.refreshCalls)
	}
	if len(fixture.kakaoClient.unlinkTokens) != 1 || fixture.kakaoClient.unlinkTokens[0] != "kakao-access-renewed" {
		t.Fatalf("unlink must use the renewed access token, got %v", fixture.kakaoClient.unlinkTokens)
	}
}

func TestWithdrawProceedsPastUnlinkFailure(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.kakaoClient.unlinkErr = provider.ErrUnlinkFailed

	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}

	if _, withdrawErr := fixture.service.Withdraw(context.Background(), login.Account.ID, "", login.AccessToken); withdrawErr != nil {
		t.Fatalf("withdraw must survive upstream unlink failure: %v", withdrawErr)
	}

	account, _ := fixture.accounts.FindByID(context.Background(), login.Account.ID)
	if !account.Withdrawn() {
		t.Fatalf("account must still be withdrawn")
	}
}

func TestWithdrawProviderMismatch(t *testing.T) {
	fixture := newServiceFixture(t)
	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}

	_, withdrawErr := fixture.service.Withdraw(context.Background(), login.Account.ID, provider.Naver, login.AccessToken)
	if !errors.Is(withdrawErr, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized on provider mismatch, got %v", withdrawErr)
	}

	account, _ := fixture.accounts.FindByID(context.Background(), login.Account.ID)
	if account.Withdrawn() {
		t.Fatalf("mismatched withdrawal must not delete the account")
	}
}

func TestWithdrawUnknownAccount(t *testing.T) {
	fixture := newServiceFixture(t)
	_, withdrawErr := fixture.service.Withdraw(context.Background(), "kakao:missing", "", "")
	if !errors.Is(withdrawErr, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", withdrawErr)
	}
}

func TestWithdrawAlreadyWithdrawnAccount(t *testing.T) {
	fixture := newServiceFixture(t)
	login, loginErr := fixture.service.Login(context.Background(), provider.Kakao, "code")
	if loginErr != nil {
		t.Fatalf("login error: %v", loginErr)
	}
	if _, withdrawErr := fixture.service.Withdraw(context.Background(), login.Account.ID, "", login.AccessToken); withdrawErr != nil {
		t.Fatalf("first withdraw error: %v", withdrawErr)
	}

	_, withdrawErr := fixture.service.Withdraw(context.Background(), login.Account.ID, "", "")
	if !errors.Is(withdrawErr, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for repeated withdrawal, got %v", withdrawErr)
	}
}
