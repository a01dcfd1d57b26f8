// Package testutil holds stateful in-memory fakes of the credential store,
// the settings store and the audit sink. They behave like the MariaDB
// implementations closely enough for service tests across packages.
//
// Use the *Err fields to inject errors for specific operations.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/plugins/audit"
	"github.com/lolerskatez/landio/internal/plugins/settings"
	"github.com/lolerskatez/landio/internal/plugins/users"
)

// --- Users ---

// UserStore implements users.UserRepository over a map.
type UserStore struct {
	CreateErr error
	FindErr   error
	UpdateErr error
	RecordErr error

	users  map[int64]*users.User
	nextID int64
	mu     sync.Mutex
}

var _ users.UserRepository = (*UserStore)(nil)

// NewUserStore returns a store seeded with the given users. Seeded users
// without an ID are assigned one.
func NewUserStore(seed ...*users.User) *UserStore {
	s := &UserStore{users: make(map[int64]*users.User)}
	for _, u := range seed {
		if u.ID == 0 {
			s.nextID++
			u.ID = s.nextID
		} else if u.ID > s.nextID {
			s.nextID = u.ID
		}
		s.users[u.ID] = clone(u)
	}
	return s
}

func clone(u *users.User) *users.User {
	c := *u
	if u.Groups != nil {
		c.Groups = append([]string(nil), u.Groups...)
	}
	return &c
}

// Get returns a copy of the stored user, or nil. For assertions.
func (s *UserStore) Get(id int64) *users.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	return clone(u)
}

func (s *UserStore) conflict(u *users.User, skipID int64) error {
	for id, other := range s.users {
		if id == skipID {
			continue
		}
		if other.Username == u.Username {
			return apperror.NewAccountConflict("That username is already taken.")
		}
		if other.Email == u.Email {
			return apperror.NewAccountConflict("An account with that email already exists.")
		}
		a, okA := other.External()
		b, okB := u.External()
		if okA && okB && a == b {
			return apperror.NewAccountConflict("That identity is already linked to an account.")
		}
	}
	return nil
}

func (s *UserStore) Create(_ context.Context, u *users.User) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	if err := u.Validate(); err != nil {
		return apperror.NewValidation(err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conflict(u, 0); err != nil {
		return err
	}
	s.nextID++
	u.ID = s.nextID
	s.users[u.ID] = clone(u)
	return nil
}

func (s *UserStore) find(match func(*users.User) bool) (*users.User, error) {
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if match(s.users[id]) {
			return clone(s.users[id]), nil
		}
	}
	return nil, apperror.NewNotFound("user not found")
}

func (s *UserStore) FindByID(_ context.Context, id int64) (*users.User, error) {
	return s.find(func(u *users.User) bool { return u.ID == id })
}

func (s *UserStore) FindByIdentifier(_ context.Context, identifier string) (*users.User, error) {
	ident := users.NormalizeIdentifier(identifier)
	if u, err := s.find(func(u *users.User) bool { return u.Username == ident }); err == nil {
		return u, nil
	}
	return s.find(func(u *users.User) bool { return u.Email == ident })
}

func (s *UserStore) FindByExternalIdentity(_ context.Context, id users.ExternalIdentity) (*users.User, error) {
	return s.find(func(u *users.User) bool {
		ext, ok := u.External()
		return ok && ext == id
	})
}

func (s *UserStore) UsernameExists(_ context.Context, username string) (bool, error) {
	name := users.NormalizeIdentifier(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *UserStore) CountUsers(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

func (s *UserStore) List(_ context.Context, offset, limit int) ([]users.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	var out []users.User
	for i, id := range ids {
		if i < offset || len(out) >= limit {
			continue
		}
		out = append(out, *clone(s.users[id]))
	}
	return out, len(ids), nil
}

// mutate applies fn to a stored user under the lock.
func (s *UserStore) mutate(id int64, injected error, fn func(u *users.User) error) error {
	if injected != nil {
		return injected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperror.NewNotFound("user not found")
	}
	next := clone(u)
	if err := fn(next); err != nil {
		return err
	}
	s.users[id] = next
	return nil
}

func (s *UserStore) Update(_ context.Context, id int64, upd users.UserUpdate) error {
	return s.mutate(id, s.UpdateErr, func(u *users.User) error {
		if upd.DisplayName != nil {
			u.DisplayName = *upd.DisplayName
		}
		if upd.Email != nil {
			u.Email = users.NormalizeIdentifier(*upd.Email)
		}
		if upd.PasswordHash != nil {
			h := *upd.PasswordHash
			u.PasswordHash = &h
		}
		if upd.Role != nil {
			if !upd.Role.Valid() {
				return apperror.NewValidation("invalid role")
			}
			u.Role = *upd.Role
		}
		if upd.IsActive != nil {
			u.IsActive = *upd.IsActive
		}
		if err := u.Validate(); err != nil {
			return apperror.NewValidation(err.Error())
		}
		return s.conflict(u, id)
	})
}

func (s *UserStore) RecordFailedLogin(_ context.Context, id int64, at time.Time) error {
	return s.mutate(id, s.RecordErr, func(u *users.User) error {
		u.FailedLoginAttempts++
		t := at.UTC()
		u.LastFailedLoginAt = &t
		return nil
	})
}

func (s *UserStore) ResetFailedLogins(_ context.Context, id int64) error {
	return s.mutate(id, s.RecordErr, func(u *users.User) error {
		u.FailedLoginAttempts = 0
		u.LastFailedLoginAt = nil
		return nil
	})
}

func (s *UserStore) RecordLogin(_ context.Context, id int64, at time.Time) error {
	return s.mutate(id, s.RecordErr, func(u *users.User) error {
		t := at.UTC()
		u.LastLoginAt = &t
		u.LoginCount++
		return nil
	})
}

func (s *UserStore) SyncFederated(_ context.Context, id int64, in users.SyncInput) error {
	return s.mutate(id, s.UpdateErr, func(u *users.User) error {
		u.DisplayName = in.DisplayName
		u.Role = in.Role
		u.Groups = append([]string(nil), in.Groups...)
		u.IsActive = true
		t := in.At.UTC()
		u.LastLoginAt = &t
		u.LoginCount++
		return nil
	})
}

// --- Settings ---

// SettingsStore implements settings.SettingsRepository over maps.
type SettingsStore struct {
	GetErr   error
	WriteErr error

	System map[string]string
	User   map[int64]map[string]string

	mu sync.Mutex
}

var _ settings.SettingsRepository = (*SettingsStore)(nil)

// NewSettingsStore returns a store seeded with system values.
func NewSettingsStore(system map[string]string) *SettingsStore {
	s := &SettingsStore{System: map[string]string{}, User: map[int64]map[string]string{}}
	for k, v := range system {
		s.System[k] = v
	}
	return s
}

func (s *SettingsStore) Get(_ context.Context, userID int64, key string) (string, bool, error) {
	if s.GetErr != nil {
		return "", false, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID != 0 {
		if v, ok := s.User[userID][key]; ok {
			return v, true, nil
		}
	}
	v, ok := s.System[key]
	return v, ok, nil
}

func (s *SettingsStore) GetSystem(ctx context.Context, key string) (string, bool, error) {
	return s.Get(ctx, 0, key)
}

func (s *SettingsStore) GetAllSystem(context.Context) (map[string]string, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.System))
	for k, v := range s.System {
		out[k] = v
	}
	return out, nil
}

func (s *SettingsStore) SetSystem(_ context.Context, key, value string) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.System[key] = value
	return nil
}

func (s *SettingsStore) SetUser(ctx context.Context, userID int64, key, value string) error {
	return s.SetUserValues(ctx, userID, map[string]string{key: value})
}

func (s *SettingsStore) GetUserValues(_ context.Context, userID int64, keys ...string) (map[string]string, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := s.User[userID][k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// SetUserValues is all-or-nothing: WriteErr leaves the store untouched.
func (s *SettingsStore) SetUserValues(_ context.Context, userID int64, values map[string]string) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.User[userID] == nil {
		s.User[userID] = map[string]string{}
	}
	for k, v := range values {
		s.User[userID][k] = v
	}
	return nil
}

func (s *SettingsStore) DeleteUserValues(_ context.Context, userID int64, keys ...string) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.User[userID], k)
	}
	return nil
}

// UpdateUserValue holds the store lock for the whole read-modify-write,
// mirroring SELECT ... FOR UPDATE.
func (s *SettingsStore) UpdateUserValue(_ context.Context, userID int64, key string, fn func(string, bool) (string, error)) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.User[userID][key]
	next, err := fn(cur, ok)
	if err != nil {
		return err
	}
	if s.User[userID] == nil {
		s.User[userID] = map[string]string{}
	}
	s.User[userID][key] = next
	return nil
}

// UserValue returns a stored per-user value. For assertions.
func (s *SettingsStore) UserValue(userID int64, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.User[userID][key]
	return v, ok
}

// --- Audit ---

// AuditRecorder implements audit.AuditService by keeping entries in memory.
type AuditRecorder struct {
	Entries []audit.Entry
	mu      sync.Mutex
}

var _ audit.AuditService = (*AuditRecorder)(nil)

func (a *AuditRecorder) Log(_ context.Context, e *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Entries = append(a.Entries, *e)
	return nil
}

func (a *AuditRecorder) ListRecent(context.Context, int) ([]audit.Entry, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Entry(nil), a.Entries...), len(a.Entries), nil
}

func (a *AuditRecorder) ListByUser(_ context.Context, userID int64) ([]audit.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Entry
	for _, e := range a.Entries {
		if e.UserID != nil && *e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Actions returns the recorded action tags in order.
func (a *AuditRecorder) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.Entries))
	for i, e := range a.Entries {
		out[i] = e.Action
	}
	return out
}

// Has reports whether an entry with the given action was recorded.
func (a *AuditRecorder) Has(action string) bool {
	for _, got := range a.Actions() {
		if got == action {
			return true
		}
	}
	return false
}
