package authcore

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dayone-kr/authcore/internal/provider"
)

// Callback error codes surfaced to the front-end.
const (
	errorCodeInvalidState     = "INVALID_STATE"
	errorCodeUnknownProvider  = "UNKNOWN_PROVIDER"
	errorCodeWithdrawnMember  = "WITHDRAWN_MEMBER"
	errorCodeProviderExchange = "PROVIDER_EXCHANGE_FAILED"
	errorCodeLoginFailed      = "LOGIN_FAILED"
)

// MountAuthRoutes registers the login, callback, refresh, logout, and withdraw
// endpoints. The bridge delivery is injected because it owns the embedded
// popup document; the redirect delivery is built from the service config.
func MountAuthRoutes(router gin.IRouter, service *Service, bridgeDelivery DeliveryStrategy) {
	config := service.Config()
	redirectDelivery := NewRedirectCookieDelivery(config, service.Clock())

	deliveryFor := func(providerName string) DeliveryStrategy {
		// Naver logins run inside the front-end's popup flow; Kakao logins are
		// plain server-side redirects.
		if providerName == provider.Naver && bridgeDelivery != nil {
			return bridgeDelivery
		}
		return redirectDelivery
	}

	router.GET("/auth/login/:provider", func(contextGin *gin.Context) {
		providerName := contextGin.Param("provider")
		client, found := service.Provider(providerName)
		if !found {
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
			return
		}

		stateToken, stateErr := GenerateStateToken()
		if stateErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		origin := ResolveOrigin(contextGin.Request, contextGin.Query("redirectUri"), config)
		stateMaxAge := int(config.StateTTL.Seconds())
		writeEphemeralCookie(contextGin, config.StateCookieName, stateToken, stateMaxAge, !origin.IsLocal)
		writeEphemeralCookie(contextGin, config.RedirectCookieName, origin.FrontendURL, stateMaxAge, !origin.IsLocal)

		contextGin.Redirect(http.StatusFound, client.AuthCodeURL(stateToken))
	})

	router.GET("/auth/login/:provider/callback", func(contextGin *gin.Context) {
		providerName := contextGin.Param("provider")

		preferredOrigin := ""
		if redirectCookie, cookieErr := contextGin.Request.Cookie(config.RedirectCookieName); cookieErr == nil && redirectCookie != nil {
			preferredOrigin = redirectCookie.Value
		}
		expectedState := ""
		if stateCookie, cookieErr := contextGin.Request.Cookie(config.StateCookieName); cookieErr == nil && stateCookie != nil {
			expectedState = stateCookie.Value
		}

		// Single use: the handshake cookies are cleared whatever happens next.
		clearEphemeralCookie(contextGin, config.StateCookieName)
		clearEphemeralCookie(contextGin, config.RedirectCookieName)

		origin := ResolveOrigin(contextGin.Request, preferredOrigin, config)
		delivery := deliveryFor(providerName)

		if _, found := service.Provider(providerName); !found {
			delivery.DeliverFailure(contextGin, origin, errorCodeUnknownProvider)
			return
		}

		callbackState := contextGin.Query("state")
		if expectedState == "" || callbackState == "" || callbackState != expectedState {
			delivery.DeliverFailure(contextGin, origin, errorCodeInvalidState)
			return
		}

		result, loginErr := service.Login(contextGin, providerName, contextGin.Query("code"))
		if loginErr != nil {
			delivery.DeliverFailure(contextGin, origin, callbackErrorCode(loginErr))
			return
		}

		delivery.DeliverSuccess(contextGin, origin, DeliveryPayload{
			AccessToken:      result.AccessToken,
			AccessExpiresAt:  result.AccessExpiresAt,
			RefreshToken:     result.RefreshToken,
			RefreshExpiresAt: result.RefreshExpiresAt,
		})
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		var inbound struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = contextGin.ShouldBindJSON(&inbound)

		refreshTokenValue := strings.TrimSpace(inbound.RefreshToken)
		if refreshTokenValue == "" {
			if refreshCookie, cookieErr := contextGin.Request.Cookie(config.RefreshCookieName); cookieErr == nil && refreshCookie != nil {
				refreshTokenValue = refreshCookie.Value
			}
		}

		accessToken, accessExpiresAt, refreshErr := service.RefreshAccess(contextGin, refreshTokenValue)
		if refreshErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": refreshErrorCode(refreshErr)})
			return
		}

		origin := ResolveOrigin(contextGin.Request, "", config)
		expiresIn := accessExpiresAt.Sub(service.Clock().Now()).Milliseconds()
		writeSessionCookie(contextGin, config.AccessCookieName, accessToken, int(expiresIn/1000), origin)

		contextGin.JSON(http.StatusOK, gin.H{
			"accessToken": accessToken,
			"expiresIn":   expiresIn,
		})
	})

	sessionRequired := RequireSession(config, service.Revocations(), service.Clock())

	router.POST("/auth/logout", sessionRequired, func(contextGin *gin.Context) {
		tokenValue, _ := contextGin.Get(ContextKeyAccessToken)
		accessTokenValue, _ := tokenValue.(string)

		if logoutErr := service.Logout(contextGin, accessTokenValue); logoutErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		origin := ResolveOrigin(contextGin.Request, "", config)
		clearSessionCookie(contextGin, config.AccessCookieName, origin)
		clearSessionCookie(contextGin, config.RefreshCookieName, origin)
		contextGin.JSON(http.StatusOK, gin.H{"message": "logged out"})
	})

	withdrawHandler := func(requiredProvider string) gin.HandlerFunc {
		return func(contextGin *gin.Context) {
			claims, found := ClaimsFromContext(contextGin)
			if !found {
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
				return
			}
			tokenValue, _ := contextGin.Get(ContextKeyAccessToken)
			accessTokenValue, _ := tokenValue.(string)

			processedProvider, withdrawErr := service.Withdraw(contextGin, claims.AccountID, requiredProvider, accessTokenValue)
			if withdrawErr != nil {
				status := http.StatusInternalServerError
				errorCode := "withdraw_failed"
				switch {
				case errors.Is(withdrawErr, ErrNotFound):
					status = http.StatusNotFound
					errorCode = "account_not_found"
				case errors.Is(withdrawErr, ErrUnauthorized):
					status = http.StatusBadRequest
					errorCode = "provider_mismatch"
				case errors.Is(withdrawErr, ErrUnknownProvider):
					status = http.StatusBadRequest
					errorCode = "unknown_provider"
				}
				contextGin.AbortWithStatusJSON(status, gin.H{"error": errorCode})
				return
			}

			origin := ResolveOrigin(contextGin.Request, "", config)
			clearSessionCookie(contextGin, config.AccessCookieName, origin)
			clearSessionCookie(contextGin, config.RefreshCookieName, origin)
			contextGin.JSON(http.StatusOK, gin.H{
				"message":  "withdrawn",
				"provider": processedProvider,
			})
		}
	}

	router.DELETE("/auth/withdraw", sessionRequired, withdrawHandler(""))
	router.DELETE("/auth/withdraw/:provider", sessionRequired, func(contextGin *gin.Context) {
		withdrawHandler(contextGin.Param("provider"))(contextGin)
	})
}

func callbackErrorCode(loginErr error) string {
	switch {
	case errors.Is(loginErr, ErrWithdrawnMember):
		return errorCodeWithdrawnMember
	case errors.Is(loginErr, ErrProviderExchange):
		return errorCodeProviderExchange
	case errors.Is(loginErr, ErrUnknownProvider):
		return errorCodeUnknownProvider
	default:
		return errorCodeLoginFailed
	}
}

func refreshErrorCode(refreshErr error) string {
	switch {
	case errors.Is(refreshErr, ErrRefreshMissing):
		return "refresh_missing"
	case errors.Is(refreshErr, ErrRefreshExpired):
		return "refresh_expired"
	default:
		return "refresh_invalid"
	}
}
