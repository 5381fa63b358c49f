package authcore

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const stateTokenByteLength = 32

// GenerateStateToken creates the single-use anti-CSRF nonce carried between
// login start and callback.
func GenerateStateToken() (string, error) {
	randomBytes := make([]byte, stateTokenByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("oauth_state.random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// writeEphemeralCookie sets a short-lived host-scoped cookie for the OAuth handshake.
func writeEphemeralCookie(contextGin *gin.Context, name string, value string, maxAgeSeconds int, secure bool) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAgeSeconds,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearEphemeralCookie drops the handshake cookie regardless of callback outcome.
func clearEphemeralCookie(contextGin *gin.Context, name string) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
