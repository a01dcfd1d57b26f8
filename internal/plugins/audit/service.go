package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lolerskatez/landio/internal/apperror"
)

// perPage is the number of audit entries per page in the activity list.
const perPage = 50

// maxUserHistoryEntries caps the history returned for a single account.
const maxUserHistoryEntries = 100

// maxDetailsLength truncates free-text details before storage.
const maxDetailsLength = 1000

// AuditService handles business logic for the audit log.
type AuditService interface {
	// Log records an entry. Fire-and-forget friendly: failures are logged
	// here, so callers may ignore the returned error.
	Log(ctx context.Context, entry *Entry) error

	// ListRecent returns a page (1-indexed) of entries and the total count.
	ListRecent(ctx context.Context, page int) ([]Entry, int, error)

	// ListByUser returns the recent history of one account.
	ListByUser(ctx context.Context, userID int64) ([]Entry, error)
}

// auditService implements AuditService.
type auditService struct {
	repo AuditRepository
}

// NewAuditService creates a new audit service with the given repository.
func NewAuditService(repo AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// Log validates and persists an entry.
func (s *auditService) Log(ctx context.Context, entry *Entry) error {
	if entry.Action == "" {
		return apperror.NewBadRequest("action is required for audit entry")
	}
	if len(entry.Details) > maxDetailsLength {
		entry.Details = entry.Details[:maxDetailsLength]
	}

	if err := s.repo.Log(ctx, entry); err != nil {
		attrs := []any{
			slog.String("action", entry.Action),
			slog.Any("error", err),
		}
		if entry.UserID != nil {
			attrs = append(attrs, slog.Int64("user_id", *entry.UserID))
		}
		slog.Error("failed to write audit log entry", attrs...)
		return apperror.NewInternal(fmt.Errorf("writing audit entry: %w", err))
	}

	return nil
}

// ListRecent returns a page of the activity list. Invalid page numbers are
// clamped to 1.
func (s *auditService) ListRecent(ctx context.Context, page int) ([]Entry, int, error) {
	if page < 1 {
		page = 1
	}

	entries, total, err := s.repo.ListRecent(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing activity: %w", err))
	}
	return entries, total, nil
}

// ListByUser returns an account's history, limited to maxUserHistoryEntries.
func (s *auditService) ListByUser(ctx context.Context, userID int64) ([]Entry, error) {
	if userID <= 0 {
		return nil, apperror.NewBadRequest("user ID is required")
	}

	entries, err := s.repo.ListByUser(ctx, userID, maxUserHistoryEntries)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing user activity: %w", err))
	}
	return entries, nil
}
