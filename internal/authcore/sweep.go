package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartSweeper runs a periodic best-effort cleanup of expired refresh rows and
// unusable provider-token rows. It is idempotent, off the critical path, and
// stops when the context is cancelled.
func StartSweeper(ctx context.Context, interval time.Duration, clock Clock, logger *zap.Logger, refreshTokens RefreshTokenStore, providerTokens map[string]ProviderTokenStore) {
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepOnce(ctx, clock.Now(), logger, refreshTokens, providerTokens)
			}
		}
	}()
}

func sweepOnce(ctx context.Context, now time.Time, logger *zap.Logger, refreshTokens RefreshTokenStore, providerTokens map[string]ProviderTokenStore) {
	if refreshTokens != nil {
		removed, sweepErr := refreshTokens.DeleteExpired(ctx, now)
		if sweepErr != nil {
			logger.Warn("refresh token sweep failed",
				zap.String("code", "sweep.refresh_failed"),
				zap.Error(sweepErr))
		} else if removed > 0 {
			logger.Info("swept expired refresh tokens", zap.Int64("removed", removed))
		}
	}
	for providerName, tokenStore := range providerTokens {
		removed, sweepErr := tokenStore.DeleteUnusable(ctx, now)
		if sweepErr != nil {
			logger.Warn("provider token sweep failed",
				zap.String("code", "sweep.provider_failed"),
				zap.String("provider", providerName),
				zap.Error(sweepErr))
		} else if removed > 0 {
			logger.Info("swept unusable provider tokens",
				zap.String("provider", providerName),
				zap.Int64("removed", removed))
		}
	}
}
