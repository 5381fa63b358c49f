// Package store provides the persistence implementations behind the auth
// core's store interfaces: in-memory variants for dev and tests, and
// GORM-backed variants for SQLite and PostgreSQL.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dayone-kr/authcore/internal/authcore"
)

// MemoryAccountStore keeps accounts in a mutex-guarded map.
type MemoryAccountStore struct {
	mutex    sync.Mutex
	accounts map[string]authcore.Account
	clock    authcore.Clock
}

// NewMemoryAccountStore constructs an empty in-memory account store.
func NewMemoryAccountStore(clock authcore.Clock) *MemoryAccountStore {
	if clock == nil {
		clock = authcore.NewSystemClock()
	}
	return &MemoryAccountStore{
		accounts: make(map[string]authcore.Account),
		clock:    clock,
	}
}

// UpsertByProviderID creates the account on first login and refreshes profile
// fields afterwards. Soft-deleted rows are returned as-is: the caller applies
// the rejoin-hold policy before any reactivation.
func (s *MemoryAccountStore) UpsertByProviderID(ctx context.Context, providerName string, providerUserID string, userEmail string, userDisplayName string) (authcore.Account, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	accountID := providerName + ":" + providerUserID
	existing, found := s.accounts[accountID]
	if !found {
		created := authcore.Account{
			ID:             accountID,
			Provider:       providerName,
			ProviderUserID: providerUserID,
			Email:          userEmail,
			DisplayName:    userDisplayName,
			Role:           "member",
			CreatedAt:      s.clock.Now(),
			LoginCount:     1,
		}
		s.accounts[accountID] = created
		return created, nil
	}

	existing.Email = userEmail
	existing.DisplayName = userDisplayName
	if !existing.Withdrawn() {
		existing.LoginCount++
	}
	s.accounts[accountID] = existing
	return existing, nil
}

// FindByID returns the account or authcore.ErrNotFound.
func (s *MemoryAccountStore) FindByID(ctx context.Context, accountID string) (authcore.Account, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	account, found := s.accounts[accountID]
	if !found {
		return authcore.Account{}, fmt.Errorf("account_store.find_%s: %w", accountID, authcore.ErrNotFound)
	}
	return account, nil
}

// SoftDelete marks the account as withdrawn.
func (s *MemoryAccountStore) SoftDelete(ctx context.Context, accountID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	account, found := s.accounts[accountID]
	if !found {
		return fmt.Errorf("account_store.soft_delete_%s: %w", accountID, authcore.ErrNotFound)
	}
	deletedAt := s.clock.Now()
	account.DeletedAt = &deletedAt
	s.accounts[accountID] = account
	return nil
}

// Reactivate clears the soft-delete flag.
func (s *MemoryAccountStore) Reactivate(ctx context.Context, accountID string) (authcore.Account, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	account, found := s.accounts[accountID]
	if !found {
		return authcore.Account{}, fmt.Errorf("account_store.reactivate_%s: %w", accountID, authcore.ErrNotFound)
	}
	account.DeletedAt = nil
	account.LoginCount++
	s.accounts[accountID] = account
	return account, nil
}

// MemoryRefreshTokenStore keeps one refresh row per account in memory.
type MemoryRefreshTokenStore struct {
	mutex     sync.Mutex
	byAccount map[string]authcore.RefreshRecord
	byToken   map[string]string
	clock     authcore.Clock
}

// NewMemoryRefreshTokenStore constructs an empty in-memory refresh store.
func NewMemoryRefreshTokenStore(clock authcore.Clock) *MemoryRefreshTokenStore {
	if clock == nil {
		clock = authcore.NewSystemClock()
	}
	return &MemoryRefreshTokenStore{
		byAccount: make(map[string]authcore.RefreshRecord),
		byToken:   make(map[string]string),
		clock:     clock,
	}
}

// Upsert replaces the account's refresh credential, keeping the usage counter
// across overwrites and starting fresh rows at zero.
func (s *MemoryRefreshTokenStore) Upsert(ctx context.Context, accountID string, tokenValue string, expiresAt time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.clock.Now()
	existing, found := s.byAccount[accountID]
	if found {
		delete(s.byToken, existing.TokenValue)
		existing.TokenValue = tokenValue
		existing.ExpiresAt = expiresAt
		existing.UpdatedAt = now
		s.byAccount[accountID] = existing
	} else {
		s.byAccount[accountID] = authcore.RefreshRecord{
			AccountID:  accountID,
			TokenValue: tokenValue,
			ExpiresAt:  expiresAt,
			UsageCount: 0,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	s.byToken[tokenValue] = accountID
	return nil
}

// FindValid looks up by token value, treating expired rows as absent.
func (s *MemoryRefreshTokenStore) FindValid(ctx context.Context, tokenValue string) (authcore.RefreshRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	accountID, found := s.byToken[tokenValue]
	if !found {
		return authcore.RefreshRecord{}, fmt.Errorf("refresh_store.find_valid: %w", authcore.ErrNotFound)
	}
	record := s.byAccount[accountID]
	if !s.clock.Now().Before(record.ExpiresAt) {
		return authcore.RefreshRecord{}, fmt.Errorf("refresh_store.find_valid.expired: %w", authcore.ErrNotFound)
	}
	return record, nil
}

// FindByAccount returns the account's refresh row regardless of expiry.
func (s *MemoryRefreshTokenStore) FindByAccount(ctx context.Context, accountID string) (authcore.RefreshRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	record, found := s.byAccount[accountID]
	if !found {
		return authcore.RefreshRecord{}, fmt.Errorf("refresh_store.find_by_account_%s: %w", accountID, authcore.ErrNotFound)
	}
	return record, nil
}

// DeleteByAccount removes the account's refresh row.
func (s *MemoryRefreshTokenStore) DeleteByAccount(ctx context.Context, accountID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	record, found := s.byAccount[accountID]
	if found {
		delete(s.byToken, record.TokenValue)
		delete(s.byAccount, accountID)
	}
	return nil
}

// IncrementUsage bumps the observational counter.
func (s *MemoryRefreshTokenStore) IncrementUsage(ctx context.Context, tokenValue string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	accountID, found := s.byToken[tokenValue]
	if !found {
		return fmt.Errorf("refresh_store.increment_usage: %w", authcore.ErrNotFound)
	}
	record := s.byAccount[accountID]
	record.UsageCount++
	record.UpdatedAt = s.clock.Now()
	s.byAccount[accountID] = record
	return nil
}

// DeleteExpired removes rows whose expiry has passed.
func (s *MemoryRefreshTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var removed int64
	for accountID, record := range s.byAccount {
		if !now.Before(record.ExpiresAt) {
			delete(s.byToken, record.TokenValue)
			delete(s.byAccount, accountID)
			removed++
		}
	}
	return removed, nil
}

// MemoryProviderTokenStore caches provider tokens per account in memory.
type MemoryProviderTokenStore struct {
	mutex   sync.Mutex
	records map[string]authcore.ProviderTokenRecord
	clock   authcore.Clock
}

// NewMemoryProviderTokenStore constructs an empty in-memory provider token store.
func NewMemoryProviderTokenStore(clock authcore.Clock) *MemoryProviderTokenStore {
	if clock == nil {
		clock = authcore.NewSystemClock()
	}
	return &MemoryProviderTokenStore{
		records: make(map[string]authcore.ProviderTokenRecord),
		clock:   clock,
	}
}

// Upsert replaces the account's cached provider tokens.
func (s *MemoryProviderTokenStore) Upsert(ctx context.Context, accountID string, accessToken string, refreshToken string, expiresAt time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.records[accountID] = authcore.ProviderTokenRecord{
		AccountID:    accountID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}
	return nil
}

// FindValid returns the record if it is still usable.
func (s *MemoryProviderTokenStore) FindValid(ctx context.Context, accountID string) (authcore.ProviderTokenRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	record, found := s.records[accountID]
	if !found || !record.Usable(s.clock.Now()) {
		return authcore.ProviderTokenRecord{}, fmt.Errorf("provider_token_store.find_valid_%s: %w", accountID, authcore.ErrNotFound)
	}
	return record, nil
}

// Delete removes the account's cached provider tokens.
func (s *MemoryProviderTokenStore) Delete(ctx context.Context, accountID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.records, accountID)
	return nil
}

// DeleteUnusable removes records that can no longer reach the provider.
func (s *MemoryProviderTokenStore) DeleteUnusable(ctx context.Context, now time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var removed int64
	for accountID, record := range s.records {
		if !record.Usable(now) {
			delete(s.records, accountID)
			removed++
		}
	}
	return removed, nil
}
