package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sipeed/modclaw/pkg/commands"
	"github.com/sipeed/modclaw/pkg/store"
)

// Summary counts what Populate created. Existing rows are left alone.
type Summary struct {
	Roles    int
	Users    int
	Grants   int
	Messages int
}

type demoUser struct {
	name  string
	roles []string
	lines []string
}

var demoRoles = []store.Role{
	{Slug: store.RoleAdmin, Name: "Admin"},
	{
		Slug: store.RoleModerator,
		Name: "Moderator",
		Permissions: []string{
			commands.PermTimeout,
			commands.PermSlowMode,
			commands.PermBroadcast,
			commands.PermDeleteMessages,
			commands.PermNukeMessages,
		},
	},
	{Slug: "vip", Name: "VIP"},
}

var demoUsers = []demoUser{
	{name: "admin", roles: []string{store.RoleAdmin}, lines: []string{"Welcome to the stream!"}},
	{name: "mod", roles: []string{store.RoleModerator}, lines: []string{"Please keep it friendly."}},
	{name: "alice", lines: []string{"hi chat", "BUY FOLLOWERS NOW", "BUY FOLLOWERS NOW"}},
	{name: "bob", roles: []string{"vip"}, lines: []string{"gg"}},
	{name: "carol", lines: []string{"what game is this?"}},
}

// Populate creates the demo roles, users, grants and chat history. Running it
// again only fills in what is missing.
func Populate(ctx context.Context, seeder store.Seeder, stores store.Stores, now time.Time) (Summary, error) {
	var sum Summary

	roles := make(map[string]store.Role, len(demoRoles))
	for _, r := range demoRoles {
		created, err := seeder.CreateRole(ctx, r)
		switch {
		case err == nil:
			sum.Roles++
		case errors.Is(err, store.ErrAlreadyExists):
			created, err = stores.Roles.FindBySlug(ctx, r.Slug)
			if err != nil {
				return sum, fmt.Errorf("find role %s: %w", r.Slug, err)
			}
		default:
			return sum, fmt.Errorf("create role %s: %w", r.Slug, err)
		}
		roles[r.Slug] = created
	}

	for _, du := range demoUsers {
		u, err := seeder.CreateUser(ctx, store.User{Username: du.name})
		fresh := err == nil
		switch {
		case fresh:
			sum.Users++
		case errors.Is(err, store.ErrAlreadyExists):
			u, err = stores.Users.FindByUsername(ctx, du.name)
			if err != nil {
				return sum, fmt.Errorf("find user %s: %w", du.name, err)
			}
		default:
			return sum, fmt.Errorf("create user %s: %w", du.name, err)
		}

		for _, slug := range du.roles {
			err := stores.Roles.Grant(ctx, u.ID, roles[slug].ID)
			switch {
			case err == nil:
				sum.Grants++
			case errors.Is(err, store.ErrAlreadyExists):
			default:
				return sum, fmt.Errorf("grant %s to %s: %w", slug, du.name, err)
			}
		}

		if !fresh {
			continue
		}
		for i, line := range du.lines {
			_, err := seeder.CreateMessage(ctx, store.Message{
				UserID:    u.ID,
				Content:   line,
				CreatedAt: now.Add(-time.Duration(len(du.lines)-i) * time.Minute),
			})
			if err != nil {
				return sum, fmt.Errorf("create message for %s: %w", du.name, err)
			}
			sum.Messages++
		}
	}
	return sum, nil
}
