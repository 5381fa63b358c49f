package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds carried in the token_kind claim.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// clockSkewLeeway bounds the tolerated drift between issuer and validator clocks.
const clockSkewLeeway = 5 * time.Second

var (
	// ErrTokenMalformed indicates the token text could not be parsed at all.
	ErrTokenMalformed = errors.New("jwt.malformed")
	// ErrTokenSignature indicates the signature did not verify against the server key.
	ErrTokenSignature = errors.New("jwt.invalid_signature")
	// ErrTokenExpired indicates the token's expiry has passed.
	ErrTokenExpired = errors.New("jwt.expired")
	// ErrTokenInvalid covers remaining validation failures (issuer, nbf, claims shape).
	ErrTokenInvalid = errors.New("jwt.invalid")

	errEmptySubject = errors.New("jwt.mint.empty_subject")
)

// SessionClaims is the payload embedded in access and refresh tokens.
type SessionClaims struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
	TokenKind string `json:"token_kind"`
	jwt.RegisteredClaims
}

// MintAccessToken creates a signed HS256 access token carrying the role snapshot.
func MintAccessToken(clock Clock, accountID string, role string, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	return mintSessionToken(clock, accountID, role, TokenKindAccess, issuer, signingKey, ttl)
}

// MintRefreshToken creates a signed HS256 refresh token.
func MintRefreshToken(clock Clock, accountID string, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	return mintSessionToken(clock, accountID, "", TokenKindRefresh, issuer, signingKey, ttl)
}

func mintSessionToken(clock Clock, accountID string, role string, kind string, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", errEmptySubject)
	}
	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		AccountID: accountID,
		Role:      role,
		TokenKind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-clockSkewLeeway)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, signErr := token.SignedString(signingKey)
	if signErr != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", signErr)
	}
	return signed, expiresAt, nil
}

// ParseSessionToken validates signature, expiry, and issuer, and returns the claims.
func ParseSessionToken(tokenString string, issuer string, signingKey []byte, clock Clock) (*SessionClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("jwt.parse: %w", ErrTokenMalformed)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkewLeeway),
		jwt.WithTimeFunc(func() time.Time { return clock.Now() }),
	)
	if parseErr != nil {
		switch {
		case errors.Is(parseErr, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("jwt.parse: %w", ErrTokenMalformed)
		case errors.Is(parseErr, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("jwt.parse: %w", ErrTokenSignature)
		case errors.Is(parseErr, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("jwt.parse: %w", ErrTokenExpired)
		default:
			return nil, fmt.Errorf("jwt.parse: %w", ErrTokenInvalid)
		}
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("jwt.parse: %w", ErrTokenInvalid)
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok || claims.AccountID == "" {
		return nil, fmt.Errorf("jwt.parse: %w", ErrTokenInvalid)
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("jwt.parse: %w", ErrTokenInvalid)
	}
	return claims, nil
}

// IsRefreshKind reports whether the token carries kind=refresh without failing on expiry.
func IsRefreshKind(tokenString string, issuer string, signingKey []byte, clock Clock) bool {
	claims, err := ParseSessionToken(tokenString, issuer, signingKey, clock)
	if err != nil {
		return false
	}
	return claims.TokenKind == TokenKindRefresh
}

// SubjectOf extracts the account id from a valid token.
func SubjectOf(tokenString string, issuer string, signingKey []byte, clock Clock) (string, error) {
	claims, err := ParseSessionToken(tokenString, issuer, signingKey, clock)
	if err != nil {
		return "", err
	}
	return claims.AccountID, nil
}
