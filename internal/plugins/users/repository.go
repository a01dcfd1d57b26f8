package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/lolerskatez/landio/internal/apperror"
)

// mysqlDuplicateEntry is the MariaDB error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// UserRepository defines the data access contract for user records.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	FindByExternalIdentity(ctx context.Context, id ExternalIdentity) (*User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	CountUsers(ctx context.Context) (int, error)
	List(ctx context.Context, offset, limit int) ([]User, int, error)
	Update(ctx context.Context, id int64, upd UserUpdate) error

	// Lockout counters. Increment happens in SQL, not read-modify-write.
	RecordFailedLogin(ctx context.Context, id int64, at time.Time) error
	ResetFailedLogins(ctx context.Context, id int64) error

	// RecordLogin stamps last_login_at and bumps login_count.
	RecordLogin(ctx context.Context, id int64, at time.Time) error

	// SyncFederated refreshes provider-owned fields on an SSO login. It also
	// reactivates the account.
	SyncFederated(ctx context.Context, id int64, in SyncInput) error
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// userColumns is the column list shared by every single-user SELECT.
const userColumns = `id, username, email, display_name, password_hash, role, is_active,
	failed_login_attempts, last_failed_login_at, last_login_at, login_count,
	sso_issuer, sso_subject, sso_groups, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads one row selected with userColumns.
func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var role string
	var groups sql.NullString
	if err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.PasswordHash, &role, &u.IsActive,
		&u.FailedLoginAttempts, &u.LastFailedLoginAt, &u.LastLoginAt, &u.LoginCount,
		&u.SSOIssuer, &u.SSOSubject, &groups, &u.CreatedAt,
	); err != nil {
		return nil, err
	}
	u.Role = ParseRole(role)
	if groups.Valid && groups.String != "" {
		if err := json.Unmarshal([]byte(groups.String), &u.Groups); err != nil {
			return nil, fmt.Errorf("decoding sso_groups: %w", err)
		}
	}
	return u, nil
}

// encodeGroups returns the JSON column value for a group list, or nil.
func encodeGroups(groups []string) (any, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(groups)
	if err != nil {
		return nil, fmt.Errorf("encoding groups: %w", err)
	}
	return string(b), nil
}

// isDuplicate reports whether err is a unique key violation.
func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

// conflictFor turns a duplicate key error into an AccountConflict naming the
// column that collided.
func conflictFor(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "uq_users_username"):
		return apperror.NewAccountConflict("That username is already taken.")
	case strings.Contains(msg, "uq_users_email"):
		return apperror.NewAccountConflict("An account with that email already exists.")
	case strings.Contains(msg, "uq_users_sso_identity"):
		return apperror.NewAccountConflict("That identity is already linked to an account.")
	}
	return apperror.NewAccountConflict("An account with those details already exists.")
}

// Create inserts a new user row and sets user.ID. Invalid users are rejected
// before reaching the database.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	if err := user.Validate(); err != nil {
		return apperror.NewValidation(err.Error())
	}

	groups, err := encodeGroups(user.Groups)
	if err != nil {
		return err
	}

	query := `INSERT INTO users (username, email, display_name, password_hash, role, is_active,
	                             sso_issuer, sso_subject, sso_groups, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		user.Username,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		string(user.Role),
		user.IsActive,
		user.SSOIssuer,
		user.SSOSubject,
		groups,
		user.CreatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return conflictFor(err)
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted user id: %w", err)
	}
	user.ID = id
	return nil
}

// FindByID retrieves a user by id.
// Returns apperror.NotFound if no user exists with this ID.
func (r *userRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return user, nil
}

// FindByIdentifier retrieves a user by username or email. A username match
// wins over an email match.
func (r *userRepository) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	ident := NormalizeIdentifier(identifier)
	query := `SELECT ` + userColumns + ` FROM users
	          WHERE username = ? OR email = ?
	          ORDER BY (username = ?) DESC LIMIT 1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, ident, ident, ident))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by identifier: %w", err)
	}
	return user, nil
}

// FindByExternalIdentity retrieves the account linked to an (issuer, subject) pair.
func (r *userRepository) FindByExternalIdentity(ctx context.Context, id ExternalIdentity) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE sso_issuer = ? AND sso_subject = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id.Issuer, id.Subject))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by external identity: %w", err)
	}
	return user, nil
}

// UsernameExists returns true if the username is taken.
func (r *userRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`,
		NormalizeIdentifier(username),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking username existence: %w", err)
	}
	return exists, nil
}

// CountUsers returns the total number of accounts.
func (r *userRepository) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// List returns a page of users ordered by creation date, plus the total.
func (r *userRepository) List(ctx context.Context, offset, limit int) ([]User, int, error) {
	total, err := r.CountUsers(ctx)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning user row: %w", err)
		}
		out = append(out, *u)
	}
	return out, total, rows.Err()
}

// Update writes the non-nil fields of upd. Returns NotFound when no row
// matched. Clearing the password of a local-only account is rejected by the
// schema's CHECK constraint.
func (r *userRepository) Update(ctx context.Context, id int64, upd UserUpdate) error {
	if upd.empty() {
		return nil
	}

	var sets []string
	var args []any
	if upd.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *upd.DisplayName)
	}
	if upd.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, NormalizeIdentifier(*upd.Email))
	}
	if upd.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *upd.PasswordHash)
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return apperror.NewValidation("invalid role")
		}
		sets = append(sets, "role = ?")
		args = append(args, string(*upd.Role))
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *upd.IsActive)
	}
	args = append(args, id)

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isDuplicate(err) {
			return conflictFor(err)
		}
		return fmt.Errorf("updating user: %w", err)
	}
	return requireRow(result)
}

// RecordFailedLogin increments the failure counter and stamps the attempt.
func (r *userRepository) RecordFailedLogin(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE users
	          SET failed_login_attempts = failed_login_attempts + 1, last_failed_login_at = ?
	          WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("recording failed login: %w", err)
	}
	return requireRow(result)
}

// ResetFailedLogins clears the failure counter and its timestamp.
func (r *userRepository) ResetFailedLogins(ctx context.Context, id int64) error {
	query := `UPDATE users SET failed_login_attempts = 0, last_failed_login_at = NULL WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("resetting failed logins: %w", err)
	}
	return requireRow(result)
}

// RecordLogin stamps a successful sign-in.
func (r *userRepository) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE users SET last_login_at = ?, login_count = login_count + 1 WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	return requireRow(result)
}

// SyncFederated refreshes display name, role and groups from the provider,
// reactivates the account and records the login, all in one statement.
func (r *userRepository) SyncFederated(ctx context.Context, id int64, in SyncInput) error {
	if !in.Role.Valid() {
		return apperror.NewValidation("invalid role")
	}
	groups, err := encodeGroups(in.Groups)
	if err != nil {
		return err
	}

	query := `UPDATE users
	          SET display_name = ?, role = ?, sso_groups = ?, is_active = 1,
	              last_login_at = ?, login_count = login_count + 1
	          WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, in.DisplayName, string(in.Role), groups, in.At.UTC(), id)
	if err != nil {
		return fmt.Errorf("syncing federated user: %w", err)
	}
	return requireRow(result)
}

// requireRow maps "no rows affected" to NotFound so callers never see a
// silent success for an absent id. The DSN sets clientFoundRows, so an
// update that leaves values unchanged still counts the matched row.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}
