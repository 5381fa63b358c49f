package authcore

import "errors"

var (
	// ErrInvalidState indicates the callback state did not match the issued nonce.
	ErrInvalidState = errors.New("login.invalid_state")
	// ErrProviderExchange indicates the authorization code could not be exchanged.
	ErrProviderExchange = errors.New("login.provider_exchange_failed")
	// ErrWithdrawnMember indicates the account was withdrawn inside the rejoin-hold window.
	ErrWithdrawnMember = errors.New("login.withdrawn_member")
	// ErrUnknownProvider indicates no client is registered for the provider name.
	ErrUnknownProvider = errors.New("login.unknown_provider")

	// ErrUnauthenticated indicates a missing, invalid, expired, or blacklisted access token.
	ErrUnauthenticated = errors.New("session.unauthenticated")
	// ErrUnauthorized indicates a valid session acting outside its permissions.
	ErrUnauthorized = errors.New("session.unauthorized")
	// ErrNotFound indicates the referenced account or record does not exist.
	ErrNotFound = errors.New("session.not_found")

	// ErrRefreshMissing indicates no refresh token was supplied by body or cookie.
	ErrRefreshMissing = errors.New("refresh.missing")
	// ErrRefreshExpired indicates the refresh token exceeded its expiry.
	ErrRefreshExpired = errors.New("refresh.expired")
	// ErrRefreshInvalid indicates the refresh token is unknown or malformed.
	ErrRefreshInvalid = errors.New("refresh.invalid")
)
