package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditRepository defines the data access contract for audit log operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type AuditRepository interface {
	// Log inserts a new entry and sets entry.ID.
	Log(ctx context.Context, entry *Entry) error

	// ListRecent returns a page of entries, most recent first, plus the total.
	ListRecent(ctx context.Context, limit, offset int) ([]Entry, int, error)

	// ListByUser returns the most recent entries for one account.
	ListByUser(ctx context.Context, userID int64, limit int) ([]Entry, error)
}

// auditRepository implements AuditRepository with MariaDB queries.
type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new repository backed by the given DB pool.
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Log inserts a new audit entry.
func (r *auditRepository) Log(ctx context.Context, entry *Entry) error {
	query := `INSERT INTO activity_log (user_id, action, details, ip_address, created_at)
	          VALUES (?, ?, ?, ?, ?)`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		entry.UserID, entry.Action, entry.Details, entry.IPAddress, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting audit entry id: %w", err)
	}
	entry.ID = id

	return nil
}

// ListRecent returns entries ordered by most recent first. Joins users to
// include the username.
func (r *auditRepository) ListRecent(ctx context.Context, limit, offset int) ([]Entry, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT a.id, a.user_id, a.action, a.details, a.ip_address, a.created_at,
	                 COALESCE(u.username, '') AS username
	          FROM activity_log a
	          LEFT JOIN users u ON u.id = a.user_id
	          ORDER BY a.created_at DESC, a.id DESC
	          LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanAuditRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListByUser returns the most recent entries for a single account.
func (r *auditRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]Entry, error) {
	query := `SELECT a.id, a.user_id, a.action, a.details, a.ip_address, a.created_at,
	                 COALESCE(u.username, '') AS username
	          FROM activity_log a
	          LEFT JOIN users u ON u.id = a.user_id
	          WHERE a.user_id = ?
	          ORDER BY a.created_at DESC, a.id DESC
	          LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing user audit entries: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// scanAuditRows scans rows from an activity_log query.
// Expects columns: id, user_id, action, details, ip_address, created_at, username.
func scanAuditRows(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var details sql.NullString
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Action, &details, &e.IPAddress, &e.CreatedAt, &e.Username,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Details = details.String
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}

	return entries, nil
}
