package authcorepg

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dayone-kr/authcore/internal/authcore"
)

// PostgresAccountStore persists accounts in PostgreSQL.
type PostgresAccountStore struct {
	pool  *pgxpool.Pool
	clock authcore.Clock
}

// NewPostgresAccountStore constructs a Postgres account store.
func NewPostgresAccountStore(pool *pgxpool.Pool, clock authcore.Clock) *PostgresAccountStore {
	if clock == nil {
		clock = authcore.NewSystemClock()
	}
	return &PostgresAccountStore{pool: pool, clock: clock}
}

// UpsertByProviderID inserts or refreshes the account row in one statement.
func (store *PostgresAccountStore) UpsertByProviderID(ctx context.Context, providerName string, providerUserID string, userEmail string, userDisplayName string) (authcore.Account, error) {
	accountID := providerName + ":" + providerUserID
	row := store.pool.QueryRow(ctx, `
INSERT INTO accounts (id, provider, provider_user_id, email, display_name, role, deleted_at_unix, created_at_unix, login_count)
VALUES ($1, $2, $3, $4, $5, 'member', 0, $6, 1)
ON CONFLICT (id) DO UPDATE SET
    email = EXCLUDED.email,
    display_name = EXCLUDED.display_name,
    login_count = CASE WHEN accounts.deleted_at_unix = 0 THEN accounts.login_count + 1 ELSE accounts.login_count END
RETURNING id, provider, provider_user_id, email, display_name, role, deleted_at_unix, created_at_unix, login_count
`, accountID, providerName, providerUserID, userEmail, userDisplayName, store.clock.Now().Unix())
	account, scanErr := scanAccount(row)
	if scanErr != nil {
		return authcore.Account{}, fmt.Errorf("account_store.pg.upsert: %w", scanErr)
	}
	return account, nil
}

// FindByID returns the account or authcore.ErrNotFound.
func (store *PostgresAccountStore) FindByID(ctx context.Context, accountID string) (authcore.Account, error) {
	row := store.pool.QueryRow(ctx, `
SELECT id, provider, provider_user_id, email, display_name, role, deleted_at_unix, created_at_unix, login_count
FROM accounts WHERE id = $1
`, accountID)
	account, scanErr := scanAccount(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return authcore.Account{}, fmt.Errorf("account_store.pg.find: %w", authcore.ErrNotFound)
		}
		return authcore.Account{}, fmt.Errorf("account_store.pg.find: %w", scanErr)
	}
	return account, nil
}

// SoftDelete stamps the deletion time on a live account.
func (store *PostgresAccountStore) SoftDelete(ctx context.Context, accountID string) error {
	tag, execErr := store.pool.Exec(ctx, `
UPDATE accounts SET deleted_at_unix = $2 WHERE id = $1 AND deleted_at_unix = 0
`, accountID, store.clock.Now().Unix())
	if execErr != nil {
		return fmt.Errorf("account_store.pg.soft_delete: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account_store.pg.soft_delete: %w", authcore.ErrNotFound)
	}
	return nil
}

// Reactivate clears the soft-delete stamp and bumps the login counter.
func (store *PostgresAccountStore) Reactivate(ctx context.Context, accountID string) (authcore.Account, error) {
	row := store.pool.QueryRow(ctx, `
UPDATE accounts SET deleted_at_unix = 0, login_count = login_count + 1 WHERE id = $1
RETURNING id, provider, provider_user_id, email, display_name, role, deleted_at_unix, created_at_unix, login_count
`, accountID)
	account, scanErr := scanAccount(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return authcore.Account{}, fmt.Errorf("account_store.pg.reactivate: %w", authcore.ErrNotFound)
		}
		return authcore.Account{}, fmt.Errorf("account_store.pg.reactivate: %w", scanErr)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (authcore.Account, error) {
	var account authcore.Account
	var deletedAtUnix int64
	var createdAtUnix int64
	scanErr := row.Scan(&account.ID, &account.Provider, &account.ProviderUserID, &account.Email, &account.DisplayName, &account.Role, &deletedAtUnix, &createdAtUnix, &account.LoginCount)
	if scanErr != nil {
		return authcore.Account{}, scanErr
	}
	account.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	if deletedAtUnix != 0 {
		deletedAt := time.Unix(deletedAtUnix, 0).UTC()
		account.DeletedAt = &deletedAt
	}
	return account, nil
}

// PostgresRefreshTokenStore persists one hashed refresh row per account.
type PostgresRefreshTokenStore struct {
	pool  *pgxpool.Pool
	clock authcore.Clock
}

// NewPostgresRefreshTokenStore constructs a Postgres refresh token store.
func NewPostgresRefreshTokenStore(pool *pgxpool.Pool, clock authcore.Clock) *PostgresRefreshTokenStore {
	if clock == nil {
		clock = authcore.NewSystemClock()
	}
	return &PostgresRefreshTokenStore{pool: pool, clock: clock}
}

// Upsert atomically replaces the account's refresh credential.
func (store *PostgresRefreshTokenStore) Upsert(ctx context.Context, accountID string, tokenValue string, expiresAt time.Time) error {
	now := store.clock.Now().Unix()
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO refresh_tokens (account_id, token_hash, expires_unix, usage_count, created_at_unix, updated_at_unix)
VALUES ($1, $2, $3, 0, $4, $4)
ON CONFLICT (account_id) DO UPDATE SET
    token_hash = EXCLUDED.token_hash,
    expires_unix = EXCLUDED.expires_unix,
    updated_at_unix = EXCLUDED.updated_at_unix
`, accountID, hashTokenValue(tokenValue), expiresAt.Unix(), now)
	if execErr != nil {
		return fmt.Errorf("refresh_store.pg.upsert: %w", execErr)
	}
	return nil
}

// FindValid looks up by token value, treating expired rows as absent.
func (store *PostgresRefreshTokenStore) FindValid(ctx context.Context, tokenValue string) (authcore.RefreshRecord, error) {
	return store.findWhere(ctx, "token_hash = $1", hashTokenValue(tokenValue), true)
}

// FindByAccount returns the account's refresh row regardless of expiry.
func (store *PostgresRefreshTokenStore) FindByAccount(ctx context.Context, accountID string) (authcore.RefreshRecord, error) {
	return store.findWhere(ctx, "account_id = $1", accountID, false)
}

func (store *PostgresRefreshTokenStore) findWhere(ctx context.Context, condition string, argument string, filterExpired bool) (authcore.RefreshRecord, error) {
	row := store.pool.QueryRow(ctx, `
SELECT account_id, expires_unix, usage_count, created_at_unix, updated_at_unix
FROM refresh_tokens WHERE `+condition, argument)
	var record authcore.RefreshRecord
	var expiresUnix, createdAtUnix, updatedAtUnix int64
	scanErr := row.Scan(&record.AccountID, &expiresUnix, &record.UsageCount, &createdAtUnix, &updatedAtUnix)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return authcore.RefreshRecord{}, fmt.Errorf("refresh_store.pg.find: %w", authcore.ErrNotFound)
		}
		return authcore.RefreshRecord{}, fmt.Errorf("refresh_store.pg.find: %w", scanErr)
	}
	record.ExpiresAt = time.Unix(expiresUnix, 0).UTC()
	record.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	record.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()
	if filterExpired && !store.clock.Now().Before(record.ExpiresAt) {
		return authcore.RefreshRecord{}, fmt.Errorf("refresh_store.pg.find.expired: %w", authcore.ErrNotFound)
	}
	return record, nil
}

// DeleteByAccount removes the account's refresh row.
func (store *PostgresRefreshTokenStore) DeleteByAccount(ctx context.Context, accountID string) error {
	_, execErr := store.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE account_id = $1`, accountID)
	if execErr != nil {
		return fmt.Errorf("refresh_store.pg.delete: %w", execErr)
	}
	return nil
}

// IncrementUsage bumps the observational counter.
func (store *PostgresRefreshTokenStore) IncrementUsage(ctx context.Context, tokenValue string) error {
	tag, execErr := store.pool.Exec(ctx, `
UPDATE refresh_tokens SET usage_count = usage_count + 1, updated_at_unix = $2 WHERE token_hash = $1
`, hashTokenValue(tokenValue), store.clock.Now().Unix())
	if execErr != nil {
		return fmt.Errorf("refresh_store.pg.increment_usage: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refresh_store.pg.increment_usage: %w", authcore.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes rows whose expiry has passed.
func (store *PostgresRefreshTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, execErr := store.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_unix <= $1`, now.Unix())
	if execErr != nil {
		return 0, fmt.Errorf("refresh_store.pg.sweep: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// PostgresProviderTokenStore caches one provider's tokens per account.
type PostgresProviderTokenStore struct {
	pool      *pgxpool.Pool
	tableName string
	clock     authcore.Clock
}

// NewPostgresProviderTokenStore constructs a token store for one provider.
func NewPostgresProviderTokenStore(pool *pgxpool.Pool, providerName string, clock authcore.Clock) *PostgresProviderTokenStore {
	if clock == nil {
		clock = authcore.NewSystemClock()
	}
	return &PostgresProviderTokenStore{pool: pool, tableName: providerName + "_tokens", clock: clock}
}

// Upsert atomically replaces the account's cached provider tokens.
func (store *PostgresProviderTokenStore) Upsert(ctx context.Context, accountID string, accessToken string, refreshToken string, expiresAt time.Time) error {
	_, execErr := store.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (account_id, access_token, refresh_token, expires_unix)
VALUES ($1, $2, $3, $4)
ON CONFLICT (account_id) DO UPDATE SET
    access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    expires_unix = EXCLUDED.expires_unix
`, store.tableName), accountID, accessToken, refreshToken, expiresAt.Unix())
	if execErr != nil {
		return fmt.Errorf("provider_token_store.pg.upsert.%s: %w", store.tableName, execErr)
	}
	return nil
}

// FindValid returns the record if it is still usable.
func (store *PostgresProviderTokenStore) FindValid(ctx context.Context, accountID string) (authcore.ProviderTokenRecord, error) {
	row := store.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT account_id, access_token, refresh_token, expires_unix FROM %s WHERE account_id = $1
`, store.tableName), accountID)
	var record authcore.ProviderTokenRecord
	var expiresUnix int64
	scanErr := row.Scan(&record.AccountID, &record.AccessToken, &record.RefreshToken, &expiresUnix)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return authcore.ProviderTokenRecord{}, fmt.Errorf("provider_token_store.pg.find.%s: %w", store.tableName, authcore.ErrNotFound)
		}
		return authcore.ProviderTokenRecord{}, fmt.Errorf("provider_token_store.pg.find.%s: %w", store.tableName, scanErr)
	}
	record.ExpiresAt = time.Unix(expiresUnix, 0).UTC()
	if !record.Usable(store.clock.Now()) {
		return authcore.ProviderTokenRecord{}, fmt.Errorf("provider_token_store.pg.find.unusable.%s: %w", store.tableName, authcore.ErrNotFound)
	}
	return record, nil
}

// Delete removes the account's cached provider tokens.
func (store *PostgresProviderTokenStore) Delete(ctx context.Context, accountID string) error {
	_, execErr := store.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE account_id = $1`, store.tableName), accountID)
	if execErr != nil {
		return fmt.Errorf("provider_token_store.pg.delete.%s: %w", store.tableName, execErr)
	}
	return nil
}

// DeleteUnusable removes rows with an expired access token and no refresh token.
func (store *PostgresProviderTokenStore) DeleteUnusable(ctx context.Context, now time.Time) (int64, error) {
	tag, execErr := store.pool.Exec(ctx, fmt.Sprintf(`
DELETE FROM %s WHERE expires_unix <= $1 AND refresh_token = ''
`, store.tableName), now.Unix())
	if execErr != nil {
		return 0, fmt.Errorf("provider_token_store.pg.sweep.%s: %w", store.tableName, execErr)
	}
	return tag.RowsAffected(), nil
}

func hashTokenValue(tokenValue string) string {
	sum := sha256.Sum256([]byte(tokenValue))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
