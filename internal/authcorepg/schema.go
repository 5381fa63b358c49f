package authcorepg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the auth tables if they do not exist, including one
// token table per configured provider.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, providerNames []string) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    provider TEXT NOT NULL,
    provider_user_id TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'member',
    deleted_at_unix BIGINT NOT NULL DEFAULT 0,
    created_at_unix BIGINT NOT NULL,
    login_count BIGINT NOT NULL DEFAULT 0,
    UNIQUE (provider, provider_user_id)
);
CREATE TABLE IF NOT EXISTS refresh_tokens (
    account_id TEXT PRIMARY KEY,
    token_hash TEXT NOT NULL UNIQUE,
    expires_unix BIGINT NOT NULL,
    usage_count BIGINT NOT NULL DEFAULT 0,
    created_at_unix BIGINT NOT NULL,
    updated_at_unix BIGINT NOT NULL
);
`)
	if err != nil {
		return err
	}
	for _, providerName := range providerNames {
		tableName := providerName + "_tokens"
		_, tableErr := pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    account_id TEXT PRIMARY KEY,
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL DEFAULT '',
    expires_unix BIGINT NOT NULL
);
`, tableName))
		if tableErr != nil {
			return tableErr
		}
	}
	return nil
}
