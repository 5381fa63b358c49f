package authcore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LoginResult is the outcome of a completed login sequence.
type LoginResult struct {
	Account          Account
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Login runs the end-to-end sequence: exchange the authorization code, resolve
// the provider identity, upsert the account, gate on the rejoin hold, issue
// credentials, then persist the refresh row and provider tokens best-effort.
// Everything up to issuance fails closed; the two persistence steps only log,
// because the credentials already issued are independently valid for their TTL.
func (service *Service) Login(ctx context.Context, providerName string, code string) (LoginResult, error) {
	client, found := service.providers[providerName]
	if !found {
		return LoginResult{}, fmt.Errorf("login.%s: %w", providerName, ErrUnknownProvider)
	}

	providerToken, exchangeErr := client.Exchange(ctx, code)
	if exchangeErr != nil {
		service.metrics.Increment(MetricLoginFailed)
		return LoginResult{}, fmt.Errorf("login.%s.exchange: %w", providerName, ErrProviderExchange)
	}

	identity, identityErr := client.FetchIdentity(ctx, providerToken.AccessToken)
	if identityErr != nil {
		service.metrics.Increment(MetricLoginFailed)
		return LoginResult{}, fmt.Errorf("login.%s.identity: %w", providerName, ErrProviderExchange)
	}

	account, upsertErr := service.accounts.UpsertByProviderID(ctx, providerName, identity.ProviderUserID, identity.Email, identity.DisplayName)
	if upsertErr != nil {
		service.metrics.Increment(MetricLoginFailed)
		return LoginResult{}, fmt.Errorf("login.%s.account: %w", providerName, upsertErr)
	}

	// The withdrawn gate runs before any credential exists so a held account
	// never silently re-activates.
	if account.InsideRejoinHold(service.clock.Now(), service.config.RejoinHold) {
		service.metrics.Increment(MetricLoginWithdrawn)
		return LoginResult{}, fmt.Errorf("login.%s.account_%s: %w", providerName, account.ID, ErrWithdrawnMember)
	}
	if account.Withdrawn() {
		reactivated, reactivateErr := service.accounts.Reactivate(ctx, account.ID)
		if reactivateErr != nil {
			service.metrics.Increment(MetricLoginFailed)
			return LoginResult{}, fmt.Errorf("login.%s.reactivate: %w", providerName, reactivateErr)
		}
		account = reactivated
	}

	accessToken, accessExpiresAt, accessErr := MintAccessToken(service.clock, account.ID, account.Role, service.config.JWTIssuer, service.config.JWTSigningKey, service.config.AccessTTL)
	if accessErr != nil {
		service.metrics.Increment(MetricLoginFailed)
		return LoginResult{}, fmt.Errorf("login.%s.mint_access: %w", providerName, accessErr)
	}
	refreshToken, refreshExpiresAt, refreshErr := MintRefreshToken(service.clock, account.ID, service.config.JWTIssuer, service.config.JWTSigningKey, service.config.RefreshTTL)
	if refreshErr != nil {
		service.metrics.Increment(MetricLoginFailed)
		return LoginResult{}, fmt.Errorf("login.%s.mint_refresh: %w", providerName, refreshErr)
	}

	service.persistBestEffort(ctx, "login.persist_refresh", account.ID, func() error {
		return service.refreshTokens.Upsert(ctx, account.ID, refreshToken, refreshExpiresAt)
	})
	if tokenStore, ok := service.providerTokens[providerName]; ok {
		service.persistBestEffort(ctx, "login.persist_provider_tokens", account.ID, func() error {
			return tokenStore.Upsert(ctx, account.ID, providerToken.AccessToken, providerToken.RefreshToken, providerToken.ExpiresAt)
		})
	}

	service.metrics.Increment(MetricLoginSuccess)
	service.logger.Info("login completed",
		zap.String("provider", providerName),
		zap.String("account_id", account.ID))

	return LoginResult{
		Account:          account,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// persistBestEffort runs a post-issuance storage action whose failure must not
// fail the surrounding operation.
func (service *Service) persistBestEffort(ctx context.Context, code string, accountID string, action func() error) {
	if err := action(); err != nil {
		service.metrics.Increment(MetricStorageDegraded)
		service.logger.Warn("best-effort persistence failed",
			zap.String("code", code),
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}
