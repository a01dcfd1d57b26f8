package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lolerskatez/landio/internal/database"
)

// SettingsRepository defines the data access contract for system and
// per-user settings.
type SettingsRepository interface {
	// Get resolves key for a user: the user's own value if present, else the
	// system value. userID 0 reads the system value only.
	Get(ctx context.Context, userID int64, key string) (string, bool, error)

	// GetSystem reads a system value.
	GetSystem(ctx context.Context, key string) (string, bool, error)

	// GetAllSystem returns every system value.
	GetAllSystem(ctx context.Context) (map[string]string, error)

	// SetSystem upserts a system value.
	SetSystem(ctx context.Context, key, value string) error

	// SetUser upserts a single per-user value.
	SetUser(ctx context.Context, userID int64, key, value string) error

	// GetUserValues returns the user's own values for the given keys. Absent
	// keys are missing from the map.
	GetUserValues(ctx context.Context, userID int64, keys ...string) (map[string]string, error)

	// SetUserValues upserts several per-user values in one transaction.
	SetUserValues(ctx context.Context, userID int64, values map[string]string) error

	// DeleteUserValues removes several per-user values in one statement.
	DeleteUserValues(ctx context.Context, userID int64, keys ...string) error

	// UpdateUserValue runs a read-modify-write on one per-user value with the
	// row locked. If fn returns an error nothing is written.
	UpdateUserValue(ctx context.Context, userID int64, key string, fn func(current string, found bool) (string, error)) error
}

// settingsRepository implements SettingsRepository using MariaDB.
type settingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a new settings repository backed by MariaDB.
func NewSettingsRepository(db *sql.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

// Get resolves a value with the user's row taking priority.
func (r *settingsRepository) Get(ctx context.Context, userID int64, key string) (string, bool, error) {
	if userID == 0 {
		return r.GetSystem(ctx, key)
	}

	query := `SELECT setting_value, 0 AS priority FROM user_settings WHERE user_id = ? AND setting_key = ?
	          UNION ALL
	          SELECT setting_value, 1 AS priority FROM system_settings WHERE setting_key = ?
	          ORDER BY priority LIMIT 1`

	var value string
	var priority int
	err := r.db.QueryRowContext(ctx, query, userID, key, key).Scan(&value, &priority)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying setting %q for user %d: %w", key, userID, err)
	}
	return value, true, nil
}

// GetSystem retrieves a single system value by its key.
func (r *settingsRepository) GetSystem(ctx context.Context, key string) (string, bool, error) {
	query := `SELECT setting_value FROM system_settings WHERE setting_key = ?`

	var value string
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying setting %q: %w", key, err)
	}
	return value, true, nil
}

// GetAllSystem returns all system settings as a key-value map.
func (r *settingsRepository) GetAllSystem(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT setting_key, setting_value FROM system_settings`)
	if err != nil {
		return nil, fmt.Errorf("querying all settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}
	return result, nil
}

// SetSystem upserts a system value using INSERT ... ON DUPLICATE KEY UPDATE.
func (r *settingsRepository) SetSystem(ctx context.Context, key, value string) error {
	query := `INSERT INTO system_settings (setting_key, setting_value)
	          VALUES (?, ?)
	          ON DUPLICATE KEY UPDATE setting_value = VALUES(setting_value)`

	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("upserting setting %q: %w", key, err)
	}
	return nil
}

const upsertUserValue = `INSERT INTO user_settings (user_id, setting_key, setting_value)
	          VALUES (?, ?, ?)
	          ON DUPLICATE KEY UPDATE setting_value = VALUES(setting_value)`

// SetUser upserts one per-user value.
func (r *settingsRepository) SetUser(ctx context.Context, userID int64, key, value string) error {
	if _, err := r.db.ExecContext(ctx, upsertUserValue, userID, key, value); err != nil {
		return fmt.Errorf("upserting user setting %q: %w", key, err)
	}
	return nil
}

// GetUserValues reads several per-user values at once.
func (r *settingsRepository) GetUserValues(ctx context.Context, userID int64, keys ...string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	args := make([]any, 0, len(keys)+1)
	args = append(args, userID)
	for _, k := range keys {
		args = append(args, k)
	}

	query := `SELECT setting_key, setting_value FROM user_settings
	          WHERE user_id = ? AND setting_key IN (` + placeholders(len(keys)) + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying user settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning user setting row: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user settings: %w", err)
	}
	return result, nil
}

// SetUserValues writes all values or none. Keys are written in sorted order
// so concurrent writers lock rows in the same sequence.
func (r *settingsRepository) SetUserValues(ctx context.Context, userID int64, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, upsertUserValue, userID, k, values[k]); err != nil {
				return fmt.Errorf("upserting user setting %q: %w", k, err)
			}
		}
		return nil
	})
}

// DeleteUserValues removes the given keys for a user in a single statement.
func (r *settingsRepository) DeleteUserValues(ctx context.Context, userID int64, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, userID)
	for _, k := range keys {
		args = append(args, k)
	}

	query := `DELETE FROM user_settings WHERE user_id = ? AND setting_key IN (` + placeholders(len(keys)) + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting user settings: %w", err)
	}
	return nil
}

// UpdateUserValue locks the row with SELECT ... FOR UPDATE so two requests
// can never both consume the same single-use value.
func (r *settingsRepository) UpdateUserValue(ctx context.Context, userID int64, key string, fn func(current string, found bool) (string, error)) error {
	return database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		var current string
		found := true
		err := tx.QueryRowContext(ctx,
			`SELECT setting_value FROM user_settings WHERE user_id = ? AND setting_key = ? FOR UPDATE`,
			userID, key,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
		} else if err != nil {
			return fmt.Errorf("locking user setting %q: %w", key, err)
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, upsertUserValue, userID, key, next); err != nil {
			return fmt.Errorf("upserting user setting %q: %w", key, err)
		}
		return nil
	})
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
