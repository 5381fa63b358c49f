package authcore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Withdraw revokes provider-side linkage and withdraws the account. The
// provider revoke call and token cleanup are best-effort: the account-level
// withdrawal proceeds past upstream failures. requiredProvider may be empty,
// in which case the provider is inferred from the account row. The processed
// provider name is returned.
func (service *Service) Withdraw(ctx context.Context, accountID string, requiredProvider string, currentAccessToken string) (string, error) {
	account, findErr := service.accounts.FindByID(ctx, accountID)
	if findErr != nil {
		return "", fmt.Errorf("withdraw.account_%s: %w", accountID, ErrNotFound)
	}
	if account.Withdrawn() {
		return "", fmt.Errorf("withdraw.account_%s.already_withdrawn: %w", accountID, ErrNotFound)
	}

	processedProvider := account.Provider
	if requiredProvider != "" {
		if account.Provider != requiredProvider {
			return "", fmt.Errorf("withdraw.account_%s.provider_mismatch: %w", accountID, ErrUnauthorized)
		}
		processedProvider = requiredProvider
	}

	client, clientFound := service.providers[processedProvider]
	if !clientFound {
		return "", fmt.Errorf("withdraw.account_%s.provider_%s: %w", accountID, processedProvider, ErrUnknownProvider)
	}

	service.unlinkBestEffort(ctx, client.Name(), accountID)

	if tokenStore, ok := service.providerTokens[processedProvider]; ok {
		// Cleared regardless of the unlink outcome; the row is useless either way.
		service.persistBestEffort(ctx, "withdraw.delete_provider_tokens", accountID, func() error {
			return tokenStore.Delete(ctx, accountID)
		})
	}

	if currentAccessToken != "" {
		if addErr := service.revocations.Add(ctx, currentAccessToken); addErr != nil {
			return "", fmt.Errorf("withdraw.account_%s.revoke: %w", accountID, addErr)
		}
		service.metrics.Increment(MetricRevocationAdded)
	}

	if deleteErr := service.accounts.SoftDelete(ctx, accountID); deleteErr != nil {
		return "", fmt.Errorf("withdraw.account_%s.soft_delete: %w", accountID, deleteErr)
	}

	service.persistBestEffort(ctx, "withdraw.delete_refresh", accountID, func() error {
		return service.refreshTokens.DeleteByAccount(ctx, accountID)
	})

	service.metrics.Increment(MetricWithdrawCompleted)
	service.logger.Info("withdrawal completed",
		zap.String("account_id", accountID),
		zap.String("provider", processedProvider))
	return processedProvider, nil
}

// unlinkBestEffort calls the provider's revoke endpoint using the cached
// provider tokens, refreshing them first when the access token has expired.
// Failures are logged; withdrawal continues.
func (service *Service) unlinkBestEffort(ctx context.Context, providerName string, accountID string) {
	client, clientFound := service.providers[providerName]
	tokenStore, storeFound := service.providerTokens[providerName]
	if !clientFound || !storeFound {
		return
	}

	record, findErr := tokenStore.FindValid(ctx, accountID)
	if findErr != nil {
		service.logger.Warn("no usable provider tokens for unlink",
			zap.String("code", "withdraw.unlink.no_tokens"),
			zap.String("provider", providerName),
			zap.String("account_id", accountID))
		return
	}

	accessToken := record.AccessToken
	if !service.clock.Now().Before(record.ExpiresAt) && record.RefreshToken != "" {
		refreshed, refreshErr := client.Refresh(ctx, record.RefreshToken)
		if refreshErr != nil {
			service.logger.Warn("provider token refresh before unlink failed",
				zap.String("code", "withdraw.unlink.refresh_failed"),
				zap.String("provider", providerName),
				zap.String("account_id", accountID),
				zap.Error(refreshErr))
			return
		}
		accessToken = refreshed.AccessToken
	}

	if unlinkErr := client.Unlink(ctx, accessToken); unlinkErr != nil {
		service.logger.Warn("provider unlink call failed",
			zap.String("code", "withdraw.unlink.upstream_failed"),
			zap.String("provider", providerName),
			zap.String("account_id", accountID),
			zap.Error(unlinkErr))
	}
}
