package sso

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/plugins/users"
)

// Federator resolves a federated identity to a local account.
type Federator interface {
	// Resolve returns the account linked to id, re-syncing it from the
	// provider's claims, or creates a password-less account on first login.
	// created reports which happened.
	Resolve(ctx context.Context, id Identity) (user *users.User, created bool, err error)
}

// federator implements Federator over the credential store.
type federator struct {
	users users.UserRepository
	now   func() time.Time
}

// NewFederator creates a federator.
func NewFederator(repo users.UserRepository) Federator {
	return &federator{users: repo, now: time.Now}
}

func (f *federator) Resolve(ctx context.Context, id Identity) (*users.User, bool, error) {
	now := f.now().UTC()

	existing, err := f.users.FindByExternalIdentity(ctx, id.External())
	if err == nil {
		// Re-sync also reactivates the account.
		if err := f.users.SyncFederated(ctx, existing.ID, users.SyncInput{
			DisplayName: id.DisplayName,
			Role:        id.Role,
			Groups:      id.Groups,
			At:          now,
		}); err != nil {
			return nil, false, fmt.Errorf("syncing federated user %d: %w", existing.ID, err)
		}
		u, err := f.users.FindByID(ctx, existing.ID)
		if err != nil {
			return nil, false, fmt.Errorf("reloading federated user %d: %w", existing.ID, err)
		}
		return u, false, nil
	}
	if !apperror.Is(err, apperror.TypeNotFound) {
		return nil, false, fmt.Errorf("looking up external identity: %w", err)
	}

	// An existing local account with this email is never linked implicitly.
	if _, err := f.users.FindByIdentifier(ctx, id.Email); err == nil {
		slog.Warn("sso login matches an existing local account",
			slog.String("issuer", id.Issuer),
			slog.String("email", id.Email),
		)
		return nil, false, apperror.NewAccountConflict(
			"An account with this email already exists. Ask an administrator to link it to single sign-on.")
	} else if !apperror.Is(err, apperror.TypeNotFound) {
		return nil, false, fmt.Errorf("looking up user by email: %w", err)
	}

	username, err := DeriveUsername(ctx, f.users.UsernameExists, id.Email)
	if err != nil {
		return nil, false, err
	}

	u, err := users.NewFederatedUser(username, id.Email, id.DisplayName, id.External(), id.Role, id.Groups)
	if err != nil {
		return nil, false, apperror.NewValidation(err.Error())
	}
	if err := f.users.Create(ctx, u); err != nil {
		return nil, false, err
	}
	if err := f.users.RecordLogin(ctx, u.ID, now); err != nil {
		return nil, false, fmt.Errorf("recording first login for user %d: %w", u.ID, err)
	}
	u.LastLoginAt = &now
	u.LoginCount++

	slog.Info("federated account created",
		slog.Int64("user_id", u.ID),
		slog.String("username", u.Username),
		slog.String("role", string(u.Role)),
	)
	return u, true, nil
}
