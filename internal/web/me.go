package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dayone-kr/authcore/internal/authcore"
)

// HandleMe resolves the authenticated account's profile payload.
func HandleMe(logger *zap.Logger, accounts authcore.AccountStore) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if accounts == nil {
		panic("account store is required")
	}

	return func(contextGin *gin.Context) {
		claims, found := authcore.ClaimsFromContext(contextGin)
		if !found {
			logger.Warn("missing auth claims on context",
				zap.String("code", "api.me.missing_claims"))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		account, findErr := accounts.FindByID(contextGin, claims.AccountID)
		if findErr != nil {
			if errors.Is(findErr, authcore.ErrNotFound) {
				logger.Warn("account missing for valid session",
					zap.String("code", "api.me.account_missing"),
					zap.String("account_id", claims.AccountID))
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
				return
			}
			logger.Error("account lookup error",
				zap.String("code", "api.me.account_error"),
				zap.String("account_id", claims.AccountID),
				zap.Error(findErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		expiresAt := time.Time{}
		if claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"account_id": account.ID,
			"provider":   account.Provider,
			"email":      account.Email,
			"display":    account.DisplayName,
			"role":       claims.Role,
			"expires":    expiresAt,
		})
	}
}
