// Package store declares the domain stores mutated by moderation commands.
// Each store owns its own consistency; callers never get a cross-store
// transaction.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

type User struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Permissions []string `json:"permissions,omitempty"`
}

type Role struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

type Timeout struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason,omitempty"`
	IssuerID  string    `json:"issuer_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the timeout still applies at now.
func (t Timeout) Active(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

type Message struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`
}

func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

type UserStore interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
}

type RoleStore interface {
	FindBySlug(ctx context.Context, slug string) (Role, error)
	// Grant attaches role to user. Granting a held role returns ErrAlreadyExists.
	Grant(ctx context.Context, userID, roleID string) error
	// Revoke detaches role from user. Revoking an absent role returns ErrNotFound.
	Revoke(ctx context.Context, userID, roleID string) error
	RolesOf(ctx context.Context, userID string) ([]Role, error)
}

type TimeoutStore interface {
	// FindActive returns ErrNotFound when the user has no unexpired timeout.
	FindActive(ctx context.Context, userID string) (Timeout, error)
	Upsert(ctx context.Context, t Timeout) error
}

type SettingStore interface {
	// Get returns ErrNotFound for keys that were never set.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type MessageStore interface {
	FindByID(ctx context.Context, id string) (Message, error)
	// ListSince returns undeleted messages created at or after since, oldest first.
	ListSince(ctx context.Context, since time.Time) ([]Message, error)
	SoftDelete(ctx context.Context, id, deleterID string) error
	// BulkSoftDelete deletes the listed messages that are undeleted and created
	// at or after since. It returns how many rows changed.
	BulkSoftDelete(ctx context.Context, ids []string, deleterID string, since time.Time) (int, error)
}

// Stores bundles every domain store a command handler can reach.
type Stores struct {
	Users    UserStore
	Roles    RoleStore
	Timeouts TimeoutStore
	Settings SettingStore
	Messages MessageStore
}

// Well-known setting keys.
const (
	SettingSlowMode = "chat.slow_mode_seconds"
)

// Well-known role slugs.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

// Seeder is implemented by stores that can be populated directly, outside of
// command execution (fixtures, the seed command).
type Seeder interface {
	CreateUser(ctx context.Context, u User) (User, error)
	CreateRole(ctx context.Context, r Role) (Role, error)
	CreateMessage(ctx context.Context, m Message) (Message, error)
}
