// Package memory is an in-process implementation of every domain store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/modclaw/pkg/store"
)

type Store struct {
	mu        sync.RWMutex
	users     map[string]store.User
	roles     map[string]store.Role
	userRoles map[string]map[string]bool // userID -> roleID set
	timeouts  map[string]store.Timeout
	settings  map[string]string
	messages  map[string]store.Message
	now       func() time.Time
}

func New() *Store {
	return &Store{
		users:     make(map[string]store.User),
		roles:     make(map[string]store.Role),
		userRoles: make(map[string]map[string]bool),
		timeouts:  make(map[string]store.Timeout),
		settings:  make(map[string]string),
		messages:  make(map[string]store.Message),
		now:       time.Now,
	}
}

// WithClock swaps the time source used for expiry checks and deletions.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Users and Messages are views over the shared state; their method sets
// overlap (FindByID) so they cannot live on Store itself.
type (
	Users    struct{ *Store }
	Messages struct{ *Store }
)

func (s *Store) Users() Users       { return Users{s} }
func (s *Store) Messages() Messages { return Messages{s} }

// Stores exposes s through every store interface.
func (s *Store) Stores() store.Stores {
	return store.Stores{Users: s.Users(), Roles: s, Timeouts: s, Settings: s, Messages: s.Messages()}
}

// --- seeding ---

func (s *Store) CreateUser(_ context.Context, u store.User) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return store.User{}, fmt.Errorf("user %q: %w", u.Username, store.ErrAlreadyExists)
		}
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) CreateRole(_ context.Context, r store.Role) (store.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	for _, existing := range s.roles {
		if existing.Slug == r.Slug {
			return store.Role{}, fmt.Errorf("role %q: %w", r.Slug, store.ErrAlreadyExists)
		}
	}
	s.roles[r.ID] = r
	return r, nil
}

func (s *Store) CreateMessage(_ context.Context, m store.Message) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.messages[m.ID] = m
	return m, nil
}

// --- users ---

func (s Users) FindByUsername(_ context.Context, username string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (s Users) FindByID(_ context.Context, id string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

// --- roles ---

func (s *Store) FindBySlug(_ context.Context, slug string) (store.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.roles {
		if r.Slug == slug {
			return r, nil
		}
	}
	return store.Role{}, store.ErrNotFound
}

func (s *Store) Grant(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("role %s: %w", roleID, store.ErrNotFound)
	}
	held := s.userRoles[userID]
	if held == nil {
		held = make(map[string]bool)
		s.userRoles[userID] = held
	}
	if held[roleID] {
		return store.ErrAlreadyExists
	}
	held[roleID] = true
	return nil
}

func (s *Store) Revoke(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	held := s.userRoles[userID]
	if !held[roleID] {
		return store.ErrNotFound
	}
	delete(held, roleID)
	return nil
}

func (s *Store) RolesOf(_ context.Context, userID string) ([]store.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Role, 0, len(s.userRoles[userID]))
	for roleID := range s.userRoles[userID] {
		if r, ok := s.roles[roleID]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// --- timeouts ---

func (s *Store) FindActive(_ context.Context, userID string) (store.Timeout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.timeouts[userID]
	if !ok || !t.Active(s.now()) {
		return store.Timeout{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) Upsert(_ context.Context, t store.Timeout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.timeouts[t.UserID] = t
	return nil
}

// --- settings ---

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.settings[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

// --- messages ---

func (s Messages) FindByID(_ context.Context, id string) (store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (s Messages) ListSince(_ context.Context, since time.Time) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Message
	for _, m := range s.messages {
		if m.Deleted() || m.CreatedAt.Before(since) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s Messages) SoftDelete(_ context.Context, id, deleterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	if m.Deleted() {
		return nil
	}
	now := s.now()
	m.DeletedAt = &now
	m.DeletedBy = deleterID
	s.messages[id] = m
	return nil
}

func (s Messages) BulkSoftDelete(_ context.Context, ids []string, deleterID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	changed := 0
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || m.Deleted() || m.CreatedAt.Before(since) {
			continue
		}
		deletedAt := now
		m.DeletedAt = &deletedAt
		m.DeletedBy = deleterID
		s.messages[id] = m
		changed++
	}
	return changed, nil
}
