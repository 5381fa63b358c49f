package store

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dayone-kr/authcore/internal/authcore"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("store.unsupported_dialect")

	errEmptyDatabaseURL = errors.New("store.empty_database_url")
	errSQLiteEmptyPath  = errors.New("store.sqlite.empty_path")
)

// Database bundles the GORM-backed store implementations over one connection.
type Database struct {
	db          *gorm.DB
	driverLabel string
	clock       authcore.Clock
}

// Driver exposes the selected database driver label.
func (database *Database) Driver() string {
	return database.driverLabel
}

// OpenDatabase connects via the URL scheme (postgres:// or sqlite://) and
// migrates the auth tables, including one token table per provider.
func OpenDatabase(ctx context.Context, databaseURL string, providerNames []string, clock authcore.Clock) (*Database, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("store.open: %w", errEmptyDatabaseURL)
	}
	if clock == nil {
		clock = authcore.NewSystemClock()
	}
	dialector, driverLabel, dialectErr := resolveDialector(databaseURL)
	if dialectErr != nil {
		return nil, dialectErr
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&accountRecord{}, &refreshRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("store.migrate.%s: %w", driverLabel, migrateErr)
	}
	for _, providerName := range providerNames {
		if migrateErr := gormDB.WithContext(ctx).Table(providerTokenTableName(providerName)).AutoMigrate(&providerTokenRecord{}); migrateErr != nil {
			return nil, fmt.Errorf("store.migrate.%s.%s: %w", driverLabel, providerName, migrateErr)
		}
	}
	return &Database{db: gormDB, driverLabel: driverLabel, clock: clock}, nil
}

// Accounts returns the GORM-backed account store.
func (database *Database) Accounts() *DatabaseAccountStore {
	return &DatabaseAccountStore{database: database}
}

// RefreshTokens returns the GORM-backed refresh token store.
func (database *Database) RefreshTokens() *DatabaseRefreshTokenStore {
	return &DatabaseRefreshTokenStore{database: database}
}

// ProviderTokens returns the GORM-backed token store for one provider.
func (database *Database) ProviderTokens(providerName string) *DatabaseProviderTokenStore {
	return &DatabaseProviderTokenStore{database: database, tableName: providerTokenTableName(providerName)}
}

func providerTokenTableName(providerName string) string {
	return providerName + "_tokens"
}

type accountRecord struct {
	ID             string `gorm:"column:id;primaryKey"`
	Provider       string `gorm:"column:provider;uniqueIndex:idx_accounts_provider_uid;not null"`
	ProviderUserID string `gorm:"column:provider_user_id;uniqueIndex:idx_accounts_provider_uid;not null"`
	Email          string `gorm:"column:email;not null;default:''"`
	DisplayName    string `gorm:"column:display_name;not null;default:''"`
	Role           string `gorm:"column:role;not null;default:'member'"`
	DeletedAtUnix  int64  `gorm:"column:deleted_at_unix;not null;default:0"`
	CreatedAtUnix  int64  `gorm:"column:created_at_unix;not null"`
	LoginCount     int64  `gorm:"column:login_count;not null;default:0"`
}

func (accountRecord) TableName() string {
	return "accounts"
}

func (record accountRecord) toDomain() authcore.Account {
	account := authcore.Account{
		ID:             record.ID,
		Provider:       record.Provider,
		ProviderUserID: record.ProviderUserID,
		Email:          record.Email,
		DisplayName:    record.DisplayName,
		Role:           record.Role,
		CreatedAt:      time.Unix(record.CreatedAtUnix, 0).UTC(),
		LoginCount:     record.LoginCount,
	}
	if record.DeletedAtUnix != 0 {
		deletedAt := time.Unix(record.DeletedAtUnix, 0).UTC()
		account.DeletedAt = &deletedAt
	}
	return account
}

// DatabaseAccountStore persists accounts using GORM.
type DatabaseAccountStore struct {
	database *Database
}

// UpsertByProviderID inserts the account or refreshes its profile fields in a
// single ON CONFLICT statement, so two concurrent logins cannot race into two
// rows. Soft-deleted rows are returned as-is.
func (store *DatabaseAccountStore) UpsertByProviderID(ctx context.Context, providerName string, providerUserID string, userEmail string, userDisplayName string) (authcore.Account, error) {
	accountID := providerName + ":" + providerUserID
	record := accountRecord{
		ID:             accountID,
		Provider:       providerName,
		ProviderUserID: providerUserID,
		Email:          userEmail,
		DisplayName:    userDisplayName,
		Role:           "member",
		CreatedAtUnix:  store.database.clock.Now().Unix(),
		LoginCount:     1,
	}
	upsertErr := store.database.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"email":        userEmail,
			"display_name": userDisplayName,
			"login_count":  gorm.Expr("CASE WHEN accounts.deleted_at_unix = 0 THEN accounts.login_count + 1 ELSE accounts.login_count END"),
		}),
	}).Create(&record).Error
	if upsertErr != nil {
		return authcore.Account{}, fmt.Errorf("account_store.upsert.%s: %w", store.database.driverLabel, upsertErr)
	}

	var stored accountRecord
	if findErr := store.database.db.WithContext(ctx).Where("id = ?", accountID).Take(&stored).Error; findErr != nil {
		return authcore.Account{}, fmt.Errorf("account_store.upsert.reload.%s: %w", store.database.driverLabel, findErr)
	}
	return stored.toDomain(), nil
}

// FindByID returns the account or authcore.ErrNotFound.
func (store *DatabaseAccountStore) FindByID(ctx context.Context, accountID string) (authcore.Account, error) {
	var record accountRecord
	findErr := store.database.db.WithContext(ctx).Where("id = ?", accountID).Take(&record).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return authcore.Account{}, fmt.Errorf("account_store.find.%s: %w", store.database.driverLabel, authcore.ErrNotFound)
		}
		return authcore.Account{}, fmt.Errorf("account_store.find.%s: %w", store.database.driverLabel, findErr)
	}
	return record.toDomain(), nil
}

// SoftDelete stamps the deletion time on a live account.
func (store *DatabaseAccountStore) SoftDelete(ctx context.Context, accountID string) error {
	result := store.database.db.WithContext(ctx).Model(&accountRecord{}).
		Where("id = ? AND deleted_at_unix = 0", accountID).
		Update("deleted_at_unix", store.database.clock.Now().Unix())
	if result.Error != nil {
		return fmt.Errorf("account_store.soft_delete.%s: %w", store.database.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account_store.soft_delete.%s: %w", store.database.driverLabel, authcore.ErrNotFound)
	}
	return nil
}

// Reactivate clears the soft-delete stamp and bumps the login counter.
func (store *DatabaseAccountStore) Reactivate(ctx context.Context, accountID string) (authcore.Account, error) {
	result := store.database.db.WithContext(ctx).Model(&accountRecord{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"deleted_at_unix": 0,
			"login_count":     gorm.Expr("login_count + 1"),
		})
	if result.Error != nil {
		return authcore.Account{}, fmt.Errorf("account_store.reactivate.%s: %w", store.database.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return authcore.Account{}, fmt.Errorf("account_store.reactivate.%s: %w", store.database.driverLabel, authcore.ErrNotFound)
	}
	return store.FindByID(ctx, accountID)
}

type refreshRecord struct {
	AccountID     string `gorm:"column:account_id;primaryKey"`
	TokenHash     string `gorm:"column:token_hash;uniqueIndex;not null"`
	ExpiresUnix   int64  `gorm:"column:expires_unix;not null"`
	UsageCount    int64  `gorm:"column:usage_count;not null;default:0"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (refreshRecord) TableName() string {
	return "refresh_tokens"
}

func (record refreshRecord) toDomain() authcore.RefreshRecord {
	return authcore.RefreshRecord{
		AccountID:  record.AccountID,
		TokenValue: "", // only the hash is stored
		ExpiresAt:  time.Unix(record.ExpiresUnix, 0).UTC(),
		UsageCount: record.UsageCount,
		CreatedAt:  time.Unix(record.CreatedAtUnix, 0).UTC(),
		UpdatedAt:  time.Unix(record.UpdatedAtUnix, 0).UTC(),
	}
}

// DatabaseRefreshTokenStore persists one refresh row per account using GORM.
// Token values are stored hashed.
type DatabaseRefreshTokenStore struct {
	database *Database
}

// Upsert atomically replaces the account's refresh credential. The primary key
// on account_id enforces the one-live-row invariant at the store level.
func (store *DatabaseRefreshTokenStore) Upsert(ctx context.Context, accountID string, tokenValue string, expiresAt time.Time) error {
	now := store.database.clock.Now().Unix()
	record := refreshRecord{
		AccountID:     accountID,
		TokenHash:     hashTokenValue(tokenValue),
		ExpiresUnix:   expiresAt.Unix(),
		UsageCount:    0,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	upsertErr := store.database.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"token_hash":      record.TokenHash,
			"expires_unix":    record.ExpiresUnix,
			"updated_at_unix": now,
		}),
	}).Create(&record).Error
	if upsertErr != nil {
		return fmt.Errorf("refresh_store.upsert.%s: %w", store.database.driverLabel, upsertErr)
	}
	return nil
}

// FindValid looks up by token value, treating expired rows as absent.
func (store *DatabaseRefreshTokenStore) FindValid(ctx context.Context, tokenValue string) (authcore.RefreshRecord, error) {
	var record refreshRecord
	findErr := store.database.db.WithContext(ctx).Where("token_hash = ?", hashTokenValue(tokenValue)).Take(&record).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return authcore.RefreshRecord{}, fmt.Errorf("refresh_store.find_valid.%s: %w", store.database.driverLabel, authcore.ErrNotFound)
		}
		return authcore.RefreshRecord{}, fmt.Errorf("refresh_store.find_valid.%s: %w", store.database.driverLabel, findErr)
	}
	if !store.database.clock.Now().Before(time.Unix(record.ExpiresUnix, 0)) {
		return authcore.RefreshRecord{}, fmt.Errorf("refresh_store.find_valid.expired.%s: %w", store.database.driverLabel, authcore.ErrNotFound)
	}
	return record.toDomain(), nil
}

// FindByAccount returns the account's refresh row regardless of expiry.
func (store *DatabaseRefreshTokenStore) FindByAccount(ctx context.Context, accountID string) (authcore.RefreshRecord, error) {
	var record refreshRecord
	findErr := store.database.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&record).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return authcore.RefreshRecord{}, fmt.Errorf("refresh_store.find_by_account.%s: %w", store.database.driverLabel, authcore.ErrNotFound)
		}
		return authcore.RefreshRecord{}, fmt.Errorf("refresh_store.find_by_account.%s: %w", store.database.driverLabel, findErr)
	}
	return record.toDomain(), nil
}

// DeleteByAccount removes the account's refresh row.
func (store *DatabaseRefreshTokenStore) DeleteByAccount(ctx context.Context, accountID string) error {
	deleteErr := store.database.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&refreshRecord{}).Error
	if deleteErr != nil {
		return fmt.Errorf("refresh_store.delete.%s: %w", store.database.driverLabel, deleteErr)
	}
	return nil
}

// IncrementUsage bumps the observational counter in a single statement.
func (store *DatabaseRefreshTokenStore) IncrementUsage(ctx context.Context, tokenValue string) error {
	result := store.database.db.WithContext(ctx).Model(&refreshRecord{}).
		Where("token_hash = ?", hashTokenValue(tokenValue)).
		Updates(map[string]interface{}{
			"usage_count":     gorm.Expr("usage_count + 1"),
			"updated_at_unix": store.database.clock.Now().Unix(),
		})
	if result.Error != nil {
		return fmt.Errorf("refresh_store.increment_usage.%s: %w", store.database.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("refresh_store.increment_usage.%s: %w", store.database.driverLabel, authcore.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes rows whose expiry has passed.
func (store *DatabaseRefreshTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := store.database.db.WithContext(ctx).Where("expires_unix <= ?", now.Unix()).Delete(&refreshRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("refresh_store.sweep.%s: %w", store.database.driverLabel, result.Error)
	}
	return result.RowsAffected, nil
}

type providerTokenRecord struct {
	AccountID    string `gorm:"column:account_id;primaryKey"`
	AccessToken  string `gorm:"column:access_token;not null"`
	RefreshToken string `gorm:"column:refresh_token;not null;default:''"`
	ExpiresUnix  int64  `gorm:"column:expires_unix;not null"`
}

// DatabaseProviderTokenStore persists one provider's token cache using GORM.
// Each provider gets its own isolated table.
type DatabaseProviderTokenStore struct {
	database  *Database
	tableName string
}

// Upsert atomically replaces the account's cached provider tokens.
func (store *DatabaseProviderTokenStore) Upsert(ctx context.Context, accountID string, accessToken string, refreshToken string, expiresAt time.Time) error {
	record := providerTokenRecord{
		AccountID:    accountID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresUnix:  expiresAt.Unix(),
	}
	upsertErr := store.database.db.WithContext(ctx).Table(store.tableName).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_unix":  record.ExpiresUnix,
		}),
	}).Create(&record).Error
	if upsertErr != nil {
		return fmt.Errorf("provider_token_store.upsert.%s: %w", store.tableName, upsertErr)
	}
	return nil
}

// FindValid returns the record if it is still usable: either the access token
// has not expired or a refresh token remains.
func (store *DatabaseProviderTokenStore) FindValid(ctx context.Context, accountID string) (authcore.ProviderTokenRecord, error) {
	var record providerTokenRecord
	findErr := store.database.db.WithContext(ctx).Table(store.tableName).Where("account_id = ?", accountID).Take(&record).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return authcore.ProviderTokenRecord{}, fmt.Errorf("provider_token_store.find_valid.%s: %w", store.tableName, authcore.ErrNotFound)
		}
		return authcore.ProviderTokenRecord{}, fmt.Errorf("provider_token_store.find_valid.%s: %w", store.tableName, findErr)
	}
	domain := authcore.ProviderTokenRecord{
		AccountID:    record.AccountID,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		ExpiresAt:    time.Unix(record.ExpiresUnix, 0).UTC(),
	}
	if !domain.Usable(store.database.clock.Now()) {
		return authcore.ProviderTokenRecord{}, fmt.Errorf("provider_token_store.find_valid.unusable.%s: %w", store.tableName, authcore.ErrNotFound)
	}
	return domain, nil
}

// Delete removes the account's cached provider tokens.
func (store *DatabaseProviderTokenStore) Delete(ctx context.Context, accountID string) error {
	deleteErr := store.database.db.WithContext(ctx).Table(store.tableName).Where("account_id = ?", accountID).Delete(&providerTokenRecord{}).Error
	if deleteErr != nil {
		return fmt.Errorf("provider_token_store.delete.%s: %w", store.tableName, deleteErr)
	}
	return nil
}

// DeleteUnusable removes rows with an expired access token and no refresh token.
func (store *DatabaseProviderTokenStore) DeleteUnusable(ctx context.Context, now time.Time) (int64, error) {
	result := store.database.db.WithContext(ctx).Table(store.tableName).
		Where("expires_unix <= ? AND refresh_token = ''", now.Unix()).
		Delete(&providerTokenRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("provider_token_store.sweep.%s: %w", store.tableName, result.Error)
	}
	return result.RowsAffected, nil
}

func hashTokenValue(tokenValue string) string {
	sum := sha256.Sum256([]byte(tokenValue))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, parseErr := url.Parse(databaseURL)
	if parseErr != nil {
		return nil, "", fmt.Errorf("store.parse_url: %w", parseErr)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		builder.WriteString(parsed.Path)
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
