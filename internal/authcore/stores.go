package authcore

import (
	"context"
	"time"
)

// Account is the application-level member referenced by sessions.
type Account struct {
	ID             string
	Provider       string
	ProviderUserID string
	Email          string
	DisplayName    string
	Role           string
	DeletedAt      *time.Time
	CreatedAt      time.Time
	LoginCount     int64
}

// Withdrawn reports whether the account is soft-deleted.
func (account Account) Withdrawn() bool {
	return account.DeletedAt != nil
}

// InsideRejoinHold reports whether a withdrawn account is still blocked from re-login.
func (account Account) InsideRejoinHold(now time.Time, hold time.Duration) bool {
	if account.DeletedAt == nil {
		return false
	}
	return now.Before(account.DeletedAt.Add(hold))
}

// AccountStore persists and retrieves application accounts.
type AccountStore interface {
	// UpsertByProviderID creates the account on first login and loads it afterwards.
	// It returns the stored row as-is, including soft-deleted accounts; the caller
	// applies the rejoin-hold policy.
	UpsertByProviderID(ctx context.Context, providerName string, providerUserID string, userEmail string, userDisplayName string) (Account, error)
	FindByID(ctx context.Context, accountID string) (Account, error)
	SoftDelete(ctx context.Context, accountID string) error
	// Reactivate clears the soft-delete flag once the rejoin hold has passed.
	Reactivate(ctx context.Context, accountID string) (Account, error)
}

// RefreshRecord is the single live refresh credential row per account.
type RefreshRecord struct {
	AccountID  string
	TokenValue string
	ExpiresAt  time.Time
	UsageCount int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RefreshTokenStore keeps at most one live refresh credential per account.
type RefreshTokenStore interface {
	// Upsert atomically replaces the account's refresh credential. A fresh row
	// starts with UsageCount 0; replacing an existing row keeps the counter.
	Upsert(ctx context.Context, accountID string, tokenValue string, expiresAt time.Time) error
	// FindValid looks up by token value, treating expired rows as absent.
	FindValid(ctx context.Context, tokenValue string) (RefreshRecord, error)
	FindByAccount(ctx context.Context, accountID string) (RefreshRecord, error)
	DeleteByAccount(ctx context.Context, accountID string) error
	// IncrementUsage bumps the observational counter after a refresh-for-access exchange.
	IncrementUsage(ctx context.Context, tokenValue string) error
	// DeleteExpired removes rows whose expiry has passed. Off the critical path.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ProviderTokenRecord caches a provider's own tokens for later unlink calls.
type ProviderTokenRecord struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Usable reports whether the record can still reach the provider: either the
// access token has not expired or a refresh token remains to obtain a new one.
func (record ProviderTokenRecord) Usable(now time.Time) bool {
	if record.RefreshToken != "" {
		return true
	}
	return record.AccessToken != "" && now.Before(record.ExpiresAt)
}

// ProviderTokenStore is a per-provider cache of provider-issued tokens.
type ProviderTokenStore interface {
	Upsert(ctx context.Context, accountID string, accessToken string, refreshToken string, expiresAt time.Time) error
	// FindValid returns the record if it is still usable, else ErrNotFound.
	FindValid(ctx context.Context, accountID string) (ProviderTokenRecord, error)
	Delete(ctx context.Context, accountID string) error
	// DeleteUnusable removes rows with an expired access token and no refresh token.
	DeleteUnusable(ctx context.Context, now time.Time) (int64, error)
}
