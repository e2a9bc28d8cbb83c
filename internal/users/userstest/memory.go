// Package userstest provides an in-memory users.Store for tests.
package userstest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

// Store keeps users in maps and enforces the same uniqueness rules as the SQL schema.
type Store struct {
	mu      sync.Mutex
	users   map[uuid.UUID]users.User
	parents map[uuid.UUID][]uuid.UUID // child -> parents
	perms   map[uuid.UUID][]string

	// Err, when set, is returned by every method
	Err error
}

var _ users.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:   make(map[uuid.UUID]users.User),
		parents: make(map[uuid.UUID][]uuid.UUID),
		perms:   make(map[uuid.UUID][]string),
	}
}

func (s *Store) CreateUser(_ context.Context, user *users.User, parentIDs ...uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if err := s.checkUnique(user); err != nil {
		return err
	}
	for _, pid := range parentIDs {
		if _, ok := s.users[pid]; !ok {
			return users.ErrParentNotFound
		}
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = *user
	if len(parentIDs) > 0 {
		s.parents[user.ID] = append(s.parents[user.ID], parentIDs...)
	}
	return nil
}

func (s *Store) checkUnique(user *users.User) error {
	for id, u := range s.users {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(u.Email, user.Email) {
			return users.ErrEmailTaken
		}
		if u.UserHash == user.UserHash {
			return users.ErrUserHashTaken
		}
		if u.PhoneNumber == user.PhoneNumber {
			return users.ErrPhoneTaken
		}
	}
	return nil
}

func (s *Store) UpdateUser(_ context.Context, user *users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	current, ok := s.users[user.ID]
	if !ok {
		return users.ErrUserNotFound
	}
	if err := s.checkUnique(user); err != nil {
		return err
	}
	updated := *user
	updated.UserHash = current.UserHash
	updated.PasswordHash = current.PasswordHash
	updated.LastLogin = current.LastLogin
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	s.users[user.ID] = updated
	user.UpdatedAt = updated.UpdatedAt
	return nil
}

func (s *Store) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	u, ok := s.users[id]
	if !ok {
		return users.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	s.users[id] = u
	return nil
}

func (s *Store) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	u, ok := s.users[id]
	if !ok {
		return users.ErrUserNotFound
	}
	u.LastLogin = &at
	if ip != "" {
		u.IPAddress = ip
	}
	s.users[id] = u
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			found := u
			return &found, nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (s *Store) ListUsers(_ context.Context, filter users.ListFilter) ([]users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	var out []users.User
	for _, u := range s.users {
		if search != "" && !strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		if filter.IsAdmin != nil && u.IsAdmin != *filter.IsAdmin {
			continue
		}
		if since, ok := filter.LastLogin.Since(now); ok && (u.LastLogin == nil || u.LastLogin.Before(since)) {
			continue
		}
		if since, ok := filter.CreatedAt.Since(now); ok && u.CreatedAt.Before(since) {
			continue
		}
		if since, ok := filter.UpdatedAt.Since(now); ok && u.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, u)
	}

	column, desc := filter.Order()
	sort.SliceStable(out, func(i, j int) bool {
		less := lessBy(column, out[i], out[j])
		if desc {
			return lessBy(column, out[j], out[i])
		}
		return less
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = users.DefaultListLimit
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func lessBy(column string, a, b users.User) bool {
	switch column {
	case "is_admin":
		return !a.IsAdmin && b.IsAdmin
	case "last_login":
		if a.LastLogin == nil || b.LastLogin == nil {
			return a.LastLogin == nil && b.LastLogin != nil
		}
		return a.LastLogin.Before(*b.LastLogin)
	case "created_at":
		return a.CreatedAt.Before(b.CreatedAt)
	case "updated_at":
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.Email < b.Email
}

func (s *Store) ListParentAccounts(_ context.Context) ([]users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []users.User
	for _, u := range s.users {
		if u.IsParent {
			out = append(out, u)
		}
	}
	sortByEmail(out)
	return out, nil
}

func (s *Store) HasParentAccounts(ctx context.Context) (bool, error) {
	parents, err := s.ListParentAccounts(ctx)
	return len(parents) > 0, err
}

func (s *Store) ListParents(_ context.Context, userID uuid.UUID) ([]users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []users.User
	for _, pid := range s.parents[userID] {
		out = append(out, s.users[pid])
	}
	sortByEmail(out)
	return out, nil
}

func (s *Store) ListChildren(_ context.Context, userID uuid.UUID) ([]users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []users.User
	for child, parents := range s.parents {
		for _, pid := range parents {
			if pid == userID {
				out = append(out, s.users[child])
			}
		}
	}
	sortByEmail(out)
	return out, nil
}

func (s *Store) ListPermissions(_ context.Context, userID uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]string(nil), s.perms[userID]...), nil
}

// Grant gives a permission codename to a user
func (s *Store) Grant(userID uuid.UUID, codename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[userID] = append(s.perms[userID], codename)
}

// Put stores a user as is, bypassing uniqueness checks
func (s *Store) Put(user users.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// Count returns the number of stored users
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func sortByEmail(list []users.User) {
	sort.Slice(list, func(i, j int) bool { return list[i].Email < list[j].Email })
}
