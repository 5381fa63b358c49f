// Package sessionvalidator validates access credentials issued by the auth
// service. Sibling services embed it to protect their own endpoints without
// calling back into the auth service.
package sessionvalidator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// RevocationChecker reports whether a token value has been blacklisted.
// Services that share the auth service's revocation list wire it in here;
// leaving it nil skips the check.
type RevocationChecker interface {
	Contains(ctx context.Context, tokenValue string) (bool, error)
}

// Config configures the Validator.
type Config struct {
	SigningKey  []byte
	Issuer      string
	CookieName  string
	Clock       Clock
	Revocations RevocationChecker
}

// DefaultContextKey is used by GinMiddleware when no explicit key is provided.
const DefaultContextKey = "auth_claims"

// DefaultCookieName is used when Config.CookieName is empty.
const DefaultCookieName = "access_token"

const tokenKindAccess = "access"

// Sentinel errors exposed by the validator.
var (
	ErrMissingSigningKey = errors.New("session.validator.missing_signing_key")
	ErrMissingIssuer     = errors.New("session.validator.missing_issuer")
	ErrMissingToken      = errors.New("session.validator.missing_token")
	ErrInvalidToken      = errors.New("session.validator.invalid_token")
	ErrInvalidIssuer     = errors.New("session.validator.invalid_issuer")
	ErrWrongKind         = errors.New("session.validator.wrong_kind")
	ErrTokenExpired      = errors.New("session.validator.expired")
	ErrTokenRevoked      = errors.New("session.validator.revoked")
)

// Claims represent the payload embedded inside access tokens.
type Claims struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
	TokenKind string `json:"token_kind"`
	jwt.RegisteredClaims
}

// GetAccountID returns the account identifier from the session.
func (claims *Claims) GetAccountID() string {
	if claims == nil {
		return ""
	}
	return claims.AccountID
}

// GetRole returns the role snapshot captured at issuance.
func (claims *Claims) GetRole() string {
	if claims == nil {
		return ""
	}
	return claims.Role
}

// GetExpiresAt returns the expiry timestamp.
func (claims *Claims) GetExpiresAt() time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Validator validates access tokens minted by the auth service.
type Validator struct {
	signingKey  []byte
	issuer      string
	cookieName  string
	clock       Clock
	revocations RevocationChecker
}

// New constructs a Validator after validating the supplied configuration.
func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingIssuer)
	}
	cookieName := configuration.CookieName
	if strings.TrimSpace(cookieName) == "" {
		cookieName = DefaultCookieName
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Validator{
		signingKey:  configuration.SigningKey,
		issuer:      configuration.Issuer,
		cookieName:  cookieName,
		clock:       clock,
		revocations: configuration.Revocations,
	}, nil
}

// ValidateToken validates the provided JWT string and returns the parsed claims.
func (validator *Validator) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrMissingToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return validator.clock.Now()
	}))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("session.validator.validate_token: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidToken)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok || claims.AccountID == "" {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidToken)
	}
	if claims.Issuer != validator.issuer {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidIssuer)
	}
	if claims.TokenKind != tokenKindAccess {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrWrongKind)
	}
	return claims, nil
}

// ValidateRequest reads the bearer header or the configured cookie from the
// request, validates the token, and applies the revocation check.
func (validator *Validator) ValidateRequest(request *http.Request) (*Claims, error) {
	if request == nil {
		return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingToken)
	}
	tokenValue := bearerToken(request)
	if tokenValue == "" {
		cookie, cookieErr := request.Cookie(validator.cookieName)
		if cookieErr != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
			return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingToken)
		}
		tokenValue = cookie.Value
	}
	claims, validateErr := validator.ValidateToken(tokenValue)
	if validateErr != nil {
		return nil, validateErr
	}
	if validator.revocations != nil {
		revoked, containsErr := validator.revocations.Contains(request.Context(), tokenValue)
		if containsErr != nil || revoked {
			return nil, fmt.Errorf("session.validator.validate_request: %w", ErrTokenRevoked)
		}
	}
	return claims, nil
}

// GinMiddleware returns a Gin middleware that validates the session and
// injects claims under the given context key.
func (validator *Validator) GinMiddleware(contextKey string) gin.HandlerFunc {
	if strings.TrimSpace(contextKey) == "" {
		contextKey = DefaultContextKey
	}
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		contextGin.Set(contextKey, claims)
		contextGin.Next()
	}
}

func bearerToken(request *http.Request) string {
	authorization := request.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return strings.TrimSpace(authorization[len("bearer "):])
	}
	return ""
}
