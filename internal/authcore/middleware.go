package authcore

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Gin context keys populated by RequireSession.
const (
	ContextKeyClaims      = "auth_claims"
	ContextKeyAccessToken = "access_token_value"
)

// RequireSession validates the access credential on every protected request:
// signature, expiry, kind, and absence from the revocation list. It never
// calls out to the identity provider.
func RequireSession(config ServerConfig, revocations RevocationList, clock Clock) gin.HandlerFunc {
	if clock == nil {
		clock = NewSystemClock()
	}
	return func(contextGin *gin.Context) {
		tokenValue := ExtractAccessToken(contextGin.Request, config.AccessCookieName)
		if tokenValue == "" {
			abortUnauthenticated(contextGin)
			return
		}
		claims, parseErr := ParseSessionToken(tokenValue, config.JWTIssuer, config.JWTSigningKey, clock)
		if parseErr != nil || claims.TokenKind != TokenKindAccess {
			abortUnauthenticated(contextGin)
			return
		}
		revoked, containsErr := revocations.Contains(contextGin, tokenValue)
		if containsErr != nil || revoked {
			abortUnauthenticated(contextGin)
			return
		}
		contextGin.Set(ContextKeyClaims, claims)
		contextGin.Set(ContextKeyAccessToken, tokenValue)
		contextGin.Next()
	}
}

// ExtractAccessToken reads the bearer Authorization header, falling back to the
// access cookie.
func ExtractAccessToken(request *http.Request, cookieName string) string {
	authorization := request.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return strings.TrimSpace(authorization[len("bearer "):])
	}
	cookie, cookieErr := request.Cookie(cookieName)
	if cookieErr != nil || cookie == nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

// ClaimsFromContext returns the session claims injected by RequireSession.
func ClaimsFromContext(contextGin *gin.Context) (*SessionClaims, bool) {
	claimsValue, found := contextGin.Get(ContextKeyClaims)
	if !found {
		return nil, false
	}
	claims, ok := claimsValue.(*SessionClaims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}

func abortUnauthenticated(contextGin *gin.Context) {
	contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
}
