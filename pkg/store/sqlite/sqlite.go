// Package sqlite persists the domain stores in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sipeed/modclaw/pkg/logger"
	"github.com/sipeed/modclaw/pkg/store"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE COLLATE NOCASE,
		permissions TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		permissions TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL REFERENCES users(id),
		role_id TEXT NOT NULL REFERENCES roles(id),
		PRIMARY KEY (user_id, role_id)
	)`,
	`CREATE TABLE IF NOT EXISTS timeouts (
		user_id TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		issuer_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		deleted_at INTEGER,
		deleted_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at)`,
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of concurrent dispatches.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.DebugCF("store", "SQLite store opened", map[string]any{"path": path})
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// WithClock swaps the time source used for expiry checks and deletions.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

type (
	Users    struct{ *Store }
	Messages struct{ *Store }
)

func (s *Store) Users() Users       { return Users{s} }
func (s *Store) Messages() Messages { return Messages{s} }

func (s *Store) Stores() store.Stores {
	return store.Stores{Users: s.Users(), Roles: s, Timeouts: s, Settings: s, Messages: s.Messages()}
}

func encodePerms(perms []string) string {
	if perms == nil {
		perms = []string{}
	}
	data, _ := json.Marshal(perms)
	return string(data)
}

func decodePerms(raw string) []string {
	var perms []string
	if err := json.Unmarshal([]byte(raw), &perms); err != nil || len(perms) == 0 {
		return nil
	}
	return perms
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

// --- seeding ---

func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, permissions) VALUES (?, ?, ?)",
		u.ID, u.Username, encodePerms(u.Permissions))
	if isUniqueViolation(err) {
		return store.User{}, fmt.Errorf("user %q: %w", u.Username, store.ErrAlreadyExists)
	}
	if err != nil {
		return store.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) CreateRole(ctx context.Context, r store.Role) (store.Role, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO roles (id, slug, name, permissions) VALUES (?, ?, ?, ?)",
		r.ID, r.Slug, r.Name, encodePerms(r.Permissions))
	if isUniqueViolation(err) {
		return store.Role{}, fmt.Errorf("role %q: %w", r.Slug, store.ErrAlreadyExists)
	}
	if err != nil {
		return store.Role{}, fmt.Errorf("insert role: %w", err)
	}
	return r, nil
}

func (s *Store) CreateMessage(ctx context.Context, m store.Message) (store.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, user_id, content, created_at) VALUES (?, ?, ?, ?)",
		m.ID, m.UserID, m.Content, unixNano(m.CreatedAt))
	if err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

// --- users ---

func (s Users) FindByUsername(ctx context.Context, username string) (store.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, permissions FROM users WHERE username = ?", username))
}

func (s Users) FindByID(ctx context.Context, id string) (store.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, permissions FROM users WHERE id = ?", id))
}

func (s Users) scanUser(row *sql.Row) (store.User, error) {
	var u store.User
	var perms string
	if err := row.Scan(&u.ID, &u.Username, &perms); err != nil {
		return store.User{}, notFound(err)
	}
	u.Permissions = decodePerms(perms)
	return u, nil
}

// --- roles ---

func (s *Store) FindBySlug(ctx context.Context, slug string) (store.Role, error) {
	var r store.Role
	var perms string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, slug, name, permissions FROM roles WHERE slug = ?", slug).
		Scan(&r.ID, &r.Slug, &r.Name, &perms)
	if err != nil {
		return store.Role{}, notFound(err)
	}
	r.Permissions = decodePerms(perms)
	return r, nil
}

func (s *Store) Grant(ctx context.Context, userID, roleID string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", userID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles WHERE id = ?", roleID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("role %s: %w", roleID, store.ErrNotFound)
	}

	_, err := s.db.ExecContext(ctx, "INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)", userID, roleID)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (s *Store) Revoke(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = ? AND role_id = ?", userID, roleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RolesOf(ctx context.Context, userID string) ([]store.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.slug, r.name, r.permissions
		FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ?
		ORDER BY r.slug`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Role
	for rows.Next() {
		var r store.Role
		var perms string
		if err := rows.Scan(&r.ID, &r.Slug, &r.Name, &perms); err != nil {
			return nil, err
		}
		r.Permissions = decodePerms(perms)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- timeouts ---

func (s *Store) FindActive(ctx context.Context, userID string) (store.Timeout, error) {
	var t store.Timeout
	var expires, created int64
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, expires_at, reason, issuer_id, created_at FROM timeouts WHERE user_id = ? AND expires_at > ?",
		userID, unixNano(s.now())).
		Scan(&t.UserID, &expires, &t.Reason, &t.IssuerID, &created)
	if err != nil {
		return store.Timeout{}, notFound(err)
	}
	t.ExpiresAt = fromUnixNano(expires)
	t.CreatedAt = fromUnixNano(created)
	return t, nil
}

func (s *Store) Upsert(ctx context.Context, t store.Timeout) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timeouts (user_id, expires_at, reason, issuer_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			expires_at = excluded.expires_at,
			reason = excluded.reason,
			issuer_id = excluded.issuer_id,
			created_at = excluded.created_at`,
		t.UserID, unixNano(t.ExpiresAt), t.Reason, t.IssuerID, unixNano(t.CreatedAt))
	return err
}

// --- settings ---

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	if err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&v); err != nil {
		return "", notFound(err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

// --- messages ---

const messageColumns = "id, user_id, content, created_at, deleted_at, deleted_by"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (store.Message, error) {
	var m store.Message
	var created int64
	var deleted sql.NullInt64
	if err := row.Scan(&m.ID, &m.UserID, &m.Content, &created, &deleted, &m.DeletedBy); err != nil {
		return store.Message{}, err
	}
	m.CreatedAt = fromUnixNano(created)
	if deleted.Valid {
		at := fromUnixNano(deleted.Int64)
		m.DeletedAt = &at
	}
	return m, nil
}

func (s Messages) FindByID(ctx context.Context, id string) (store.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", id))
	if err != nil {
		return store.Message{}, notFound(err)
	}
	return m, nil
}

func (s Messages) ListSince(ctx context.Context, since time.Time) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE deleted_at IS NULL AND created_at >= ? ORDER BY created_at, id",
		unixNano(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s Messages) SoftDelete(ctx context.Context, id, deleterID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET deleted_at = COALESCE(deleted_at, ?), deleted_by = CASE WHEN deleted_at IS NULL THEN ? ELSE deleted_by END WHERE id = ?",
		unixNano(s.now()), deleterID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s Messages) BulkSoftDelete(ctx context.Context, ids []string, deleterID string, since time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+3)
	args = append(args, unixNano(s.now()), deleterID, unixNano(since))
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET deleted_at = ?, deleted_by = ? WHERE deleted_at IS NULL AND created_at >= ? AND id IN ("+placeholders+")",
		args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
