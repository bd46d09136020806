package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"flhub.app/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. Used by
// tests and local development without Postgres.
type InMemory struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{users: make(map[string]*User)}
}

func (s *InMemory) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = RoleBasic
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if _, ok := s.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range s.users {
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return ErrAlreadyExists
		}
		if u.TelegramID != nil && existing.TelegramID != nil && *existing.TelegramID == *u.TelegramID {
			return ErrAlreadyExists
		}
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email != "" && strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) FindByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u := s.byTelegramLocked(telegramID); u != nil {
		return cloneUser(u), nil
	}
	return nil, ErrNotFound
}

func (s *InMemory) FindOrCreateByTelegram(ctx context.Context, profile TelegramProfile) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.byTelegramLocked(profile.ID); u != nil {
		u.TelegramUsername = profile.Username
		u.FirstName = profile.FirstName
		u.LastName = profile.LastName
		return cloneUser(u), nil
	}
	tid := profile.ID
	u := &User{
		ID:               ids.New(),
		TelegramID:       &tid,
		TelegramUsername: profile.Username,
		FirstName:        profile.FirstName,
		LastName:         profile.LastName,
		Role:             RoleBasic,
		CreatedAt:        time.Now().UTC(),
	}
	s.users[u.ID] = u
	return cloneUser(u), nil
}

func (s *InMemory) SetEntitlement(ctx context.Context, id string, role Role, expiresAt *time.Time) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Role == RoleCEO {
		return nil, ErrForbidden
	}
	u.Role = role
	u.VIPExpiresAt = copyTime(expiresAt)
	return cloneUser(u), nil
}

func (s *InMemory) DemoteExpired(ctx context.Context, now time.Time) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var demoted []*User
	for _, u := range s.users {
		if u.Role == RoleVIP && u.VIPExpiresAt != nil && u.VIPExpiresAt.Before(now) {
			u.Role = RoleBasic
			u.VIPExpiresAt = nil
			demoted = append(demoted, cloneUser(u))
		}
	}
	return demoted, nil
}

func (s *InMemory) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *InMemory) byTelegramLocked(telegramID int64) *User {
	for _, u := range s.users {
		if u.TelegramID != nil && *u.TelegramID == telegramID {
			return u
		}
	}
	return nil
}

func cloneUser(u *User) *User {
	out := *u
	out.TelegramID = copyInt64(u.TelegramID)
	out.VIPExpiresAt = copyTime(u.VIPExpiresAt)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
