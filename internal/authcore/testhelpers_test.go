package authcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dayone-kr/authcore/internal/provider"
)

type controllableClock struct {
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.current = clock.current.Add(duration)
}

func newControllableClock() *controllableClock {
	return &controllableClock{current: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func newTestServerConfig() ServerConfig {
	return ServerConfig{
		JWTSigningKey:          []byte("test-signing-key"),
		JWTIssuer:              "authcore-test",
		AccessTTL:              30 * time.Minute,
		RefreshTTL:             7 * 24 * time.Hour,
		StateTTL:               10 * time.Minute,
		RejoinHold:             7 * 24 * time.Hour,
		DefaultFrontendOrigin:  "http://localhost:3000",
		AllowedFrontendOrigins: nil,
		AccessCookieName:       "access_token",
		RefreshCookieName:      "refresh_token",
		StateCookieName:        "oauth_state",
		RedirectCookieName:     "oauth_redirect",
	}
}

// fakeProviderClient scripts the provider calls made during login and withdrawal.
type fakeProviderClient struct {
	name string

	exchangeToken provider.Token
	exchangeErr   error

	identity    provider.Identity
	identityErr error

	refreshedToken provider.Token
	refreshErr     error
	refreshCalls   int

	unlinkErr    error
	unlinkTokens []string
}

func (client *fakeProviderClient) Name() string {
	return client.name
}

func (client *fakeProviderClient) AuthCodeURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (client *fakeProviderClient) Exchange(ctx context.Context, code string) (provider.Token, error) {
	if client.exchangeErr != nil {
		return provider.Token{}, client.exchangeErr
	}
	return client.exchangeToken, nil
}

func (client *fakeProviderClient) FetchIdentity(ctx context.Context, accessToken string) (provider.Identity, error) {
	if client.identityErr != nil {
		return provider.Identity{}, client.identityErr
	}
	return client.identity, nil
}

func (client *fakeProviderClient) Refresh(ctx context.Context, refreshToken string) (provider.Token, error) {
	client.refreshCalls++
	if client.refreshErr != nil {
		return provider.Token{}, client.refreshErr
	}
	return client.refreshedToken, nil
}

func (client *fakeProviderClient) Unlink(ctx context.Context, accessToken string) error {
	client.unlinkTokens = append(client.unlinkTokens, accessToken)
	return client.unlinkErr
}

// fakeAccountStore is a map-backed AccountStore for service tests.
type fakeAccountStore struct {
	mutex    sync.Mutex
	accounts map[string]Account
	clock    Clock
}

func newFakeAccountStore(clock Clock) *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[string]Account), clock: clock}
}

func (s *fakeAccountStore) UpsertByProviderID(ctx context.Context, providerName string, providerUserID string, userEmail string, userDisplayName string) (Account, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	accountID := providerName + ":" + providerUserID
	existing, found := s.accounts[accountID]
	if !found {
		created := Account{
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

func (s *fakeAccountStore) FindByID(ctx context.Context, accountID string) (Account, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	account, found := s.accounts[accountID]
	if !found {
		return Account{}, fmt.Errorf("fake account store: %w", ErrNotFound)
	}
	return account, nil
}

func (s *fakeAccountStore) SoftDelete(ctx context.Context, accountID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	account, found := s.accounts[accountID]
	if !found {
		return fmt.Errorf("fake account store: %w", ErrNotFound)
	}
	deletedAt := s.clock.Now()
	account.DeletedAt = &deletedAt
	s.accounts[accountID] = account
	return nil
}

func (s *fakeAccountStore) Reactivate(ctx context.Context, accountID string) (Account, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	account, found := s.accounts[accountID]
	if !found {
		return Account{}, fmt.Errorf("fake account store: %w", ErrNotFound)
	}
	account.DeletedAt = nil
	account.LoginCount++
	s.accounts[accountID] = account
	return account, nil
}

// fakeRefreshStore is a map-backed RefreshTokenStore for service tests.
type fakeRefreshStore struct {
	mutex     sync.Mutex
	byAccount map[string]RefreshRecord
	clock     Clock

	upsertErr    error
	incrementErr error
}

func newFakeRefreshStore(clock Clock) *fakeRefreshStore {
	return &fakeRefreshStore{byAccount: make(map[string]RefreshRecord), clock: clock}
}

func (s *fakeRefreshStore) Upsert(ctx context.Context, accountID string, tokenValue string, expiresAt time.Time) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	now := s.clock.Now()
	existing, found := s.byAccount[accountID]
	if found {
		existing.TokenValue = tokenValue
		existing.ExpiresAt = expiresAt
		existing.UpdatedAt = now
		s.byAccount[accountID] = existing
		return nil
	}
	s.byAccount[accountID] = RefreshRecord{
		AccountID:  accountID,
		TokenValue: tokenValue,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (s *fakeRefreshStore) FindValid(ctx context.Context, tokenValue string) (RefreshRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, record := range s.byAccount {
		if record.TokenValue == tokenValue && s.clock.Now().Before(record.ExpiresAt) {
			return record, nil
		}
	}
	return RefreshRecord{}, fmt.Errorf("fake refresh store: %w", ErrNotFound)
}

func (s *fakeRefreshStore) FindByAccount(ctx context.Context, accountID string) (RefreshRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	record, found := s.byAccount[accountID]
	if !found {
		return RefreshRecord{}, fmt.Errorf("fake refresh store: %w", ErrNotFound)
	}
	return record, nil
}

func (s *fakeRefreshStore) DeleteByAccount(ctx context.Context, accountID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.byAccount, accountID)
	return nil
}

func (s *fakeRefreshStore) IncrementUsage(ctx context.Context, tokenValue string) error {
	if s.incrementErr != nil {
		return s.incrementErr
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for accountID, record := range s.byAccount {
		if record.TokenValue == tokenValue {
			record.UsageCount++
			s.byAccount[accountID] = record
			return nil
		}
	}
	return fmt.Errorf("fake refresh store: %w", ErrNotFound)
}

func (s *fakeRefreshStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var removed int64
	for accountID, record := range s.byAccount {
		if !now.Before(record.ExpiresAt) {
			delete(s.byAccount, accountID)
			removed++
		}
	}
	return removed, nil
}

// fakeProviderTokenStore is a map-backed ProviderTokenStore for service tests.
type fakeProviderTokenStore struct {
	mutex   sync.Mutex
	records map[string]ProviderTokenRecord
	clock   Clock

	upsertErr error
}

func newFakeProviderTokenStore(clock Clock) *fakeProviderTokenStore {
	return &fakeProviderTokenStore{records: make(map[string]ProviderTokenRecord), clock: clock}
}

func (s *fakeProviderTokenStore) Upsert(ctx context.Context, accountID string, accessToken string, refreshToken string, expiresAt time.Time) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.records[accountID] = ProviderTokenRecord{
		AccountID:    accountID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}
	return nil
}

func (s *fakeProviderTokenStore) FindValid(ctx context.Context, accountID string) (ProviderTokenRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	record, found := s.records[accountID]
	if !found || !record.Usable(s.clock.Now()) {
		return ProviderTokenRecord{}, fmt.Errorf("fake provider token store: %w", ErrNotFound)
	}
	return record, nil
}

func (s *fakeProviderTokenStore) Delete(ctx context.Context, accountID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.records, accountID)
	return nil
}

func (s *fakeProviderTokenStore) DeleteUnusable(ctx context.Context, now time.Time) (int64, error) {
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

func (s *fakeProviderTokenStore) has(accountID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, found := s.records[accountID]
	return found
}

// failingRevocationList reports an error on every call.
type failingRevocationList struct{}

func (failingRevocationList) Add(ctx context.Context, tokenValue string) error {
	return errors.New("revocation unavailable")
}

func (failingRevocationList) Contains(ctx context.Context, tokenValue string) (bool, error) {
	return false, errors.New("revocation unavailable")
}
