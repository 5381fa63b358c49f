package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RefreshAccess exchanges a refresh credential for a new access credential.
// The refresh row's usage counter is bumped as an observational side effect;
// no maximum is enforced.
func (service *Service) RefreshAccess(ctx context.Context, refreshTokenValue string) (string, time.Time, error) {
	if refreshTokenValue == "" {
		service.metrics.Increment(MetricRefreshRejected)
		return "", time.Time{}, fmt.Errorf("refresh.exchange: %w", ErrRefreshMissing)
	}

	claims, parseErr := ParseSessionToken(refreshTokenValue, service.config.JWTIssuer, service.config.JWTSigningKey, service.clock)
	if parseErr != nil {
		service.metrics.Increment(MetricRefreshRejected)
		if errors.Is(parseErr, ErrTokenExpired) {
			return "", time.Time{}, fmt.Errorf("refresh.exchange: %w", ErrRefreshExpired)
		}
		return "", time.Time{}, fmt.Errorf("refresh.exchange: %w", ErrRefreshInvalid)
	}
	if claims.TokenKind != TokenKindRefresh {
		service.metrics.Increment(MetricRefreshRejected)
		return "", time.Time{}, fmt.Errorf("refresh.exchange.wrong_kind: %w", ErrRefreshInvalid)
	}

	record, findErr := service.refreshTokens.FindValid(ctx, refreshTokenValue)
	if findErr != nil {
		service.metrics.Increment(MetricRefreshRejected)
		return "", time.Time{}, fmt.Errorf("refresh.exchange.lookup: %w", ErrRefreshInvalid)
	}
	if record.AccountID != claims.AccountID {
		service.metrics.Increment(MetricRefreshRejected)
		return "", time.Time{}, fmt.Errorf("refresh.exchange.subject_mismatch: %w", ErrRefreshInvalid)
	}

	account, accountErr := service.accounts.FindByID(ctx, claims.AccountID)
	if accountErr != nil || account.Withdrawn() {
		service.metrics.Increment(MetricRefreshRejected)
		return "", time.Time{}, fmt.Errorf("refresh.exchange.account: %w", ErrRefreshInvalid)
	}

	accessToken, accessExpiresAt, mintErr := MintAccessToken(service.clock, account.ID, account.Role, service.config.JWTIssuer, service.config.JWTSigningKey, service.config.AccessTTL)
	if mintErr != nil {
		return "", time.Time{}, fmt.Errorf("refresh.exchange.mint: %w", mintErr)
	}

	service.persistBestEffort(ctx, "refresh.usage_count", account.ID, func() error {
		return service.refreshTokens.IncrementUsage(ctx, refreshTokenValue)
	})

	service.metrics.Increment(MetricRefreshSuccess)
	return accessToken, accessExpiresAt, nil
}

// Logout blacklists the presented access credential and deletes the account's
// refresh row. The access token must be valid; nothing else is required.
func (service *Service) Logout(ctx context.Context, accessTokenValue string) error {
	claims, parseErr := ParseSessionToken(accessTokenValue, service.config.JWTIssuer, service.config.JWTSigningKey, service.clock)
	if parseErr != nil || claims.TokenKind != TokenKindAccess {
		return fmt.Errorf("logout: %w", ErrUnauthenticated)
	}

	if addErr := service.revocations.Add(ctx, accessTokenValue); addErr != nil {
		return fmt.Errorf("logout.revoke: %w", addErr)
	}
	service.metrics.Increment(MetricRevocationAdded)

	service.persistBestEffort(ctx, "logout.delete_refresh", claims.AccountID, func() error {
		return service.refreshTokens.DeleteByAccount(ctx, claims.AccountID)
	})

	service.logger.Info("logout completed", zap.String("account_id", claims.AccountID))
	return nil
}
