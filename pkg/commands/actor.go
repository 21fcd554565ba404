package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/sipeed/modclaw/pkg/store"
)

// Actor is the chat participant invoking a command, with the capabilities it
// holds directly or through its roles.
type Actor struct {
	ID           string
	Username     string
	capabilities map[string]struct{}
	roles        map[string]struct{}
}

func NewActor(id, username string, capabilities, roles []string) Actor {
	a := Actor{
		ID:           id,
		Username:     username,
		capabilities: make(map[string]struct{}, len(capabilities)),
		roles:        make(map[string]struct{}, len(roles)),
	}
	for _, c := range capabilities {
		a.capabilities[c] = struct{}{}
	}
	for _, r := range roles {
		a.roles[r] = struct{}{}
	}
	return a
}

func (a Actor) HasCapability(capability string) bool {
	_, ok := a.capabilities[capability]
	return ok
}

func (a Actor) HasRole(slug string) bool {
	_, ok := a.roles[slug]
	return ok
}

// HasAnyRole reports whether a holds at least one of slugs.
func (a Actor) HasAnyRole(slugs ...string) bool {
	for _, s := range slugs {
		if a.HasRole(s) {
			return true
		}
	}
	return false
}

func (a Actor) Roles() []string {
	return sortedKeys(a.roles)
}

func (a Actor) Capabilities() []string {
	return sortedKeys(a.capabilities)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadActor assembles an Actor from a stored user: direct permissions plus the
// permissions of every role the user holds.
func LoadActor(ctx context.Context, users store.UserStore, roles store.RoleStore, userID string) (Actor, error) {
	u, err := users.FindByID(ctx, userID)
	if err != nil {
		return Actor{}, fmt.Errorf("load actor %s: %w", userID, err)
	}
	return actorFromUser(ctx, roles, u)
}

// LoadActorByUsername is LoadActor keyed by username.
func LoadActorByUsername(ctx context.Context, users store.UserStore, roles store.RoleStore, username string) (Actor, error) {
	u, err := users.FindByUsername(ctx, username)
	if err != nil {
		return Actor{}, fmt.Errorf("load actor %q: %w", username, err)
	}
	return actorFromUser(ctx, roles, u)
}

func actorFromUser(ctx context.Context, roles store.RoleStore, u store.User) (Actor, error) {
	held, err := roles.RolesOf(ctx, u.ID)
	if err != nil {
		return Actor{}, fmt.Errorf("roles of %s: %w", u.ID, err)
	}

	caps := append([]string(nil), u.Permissions...)
	slugs := make([]string, 0, len(held))
	for _, r := range held {
		slugs = append(slugs, r.Slug)
		caps = append(caps, r.Permissions...)
	}
	return NewActor(u.ID, u.Username, caps, slugs), nil
}
