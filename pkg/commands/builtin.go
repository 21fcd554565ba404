package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sipeed/modclaw/pkg/bus"
	"github.com/sipeed/modclaw/pkg/config"
	"github.com/sipeed/modclaw/pkg/store"
)

// Capabilities checked by the builtin commands.
const (
	PermTimeout        = "chat.timeout"
	PermSlowMode       = "chat.slowmode"
	PermBroadcast      = "chat.broadcast"
	PermManageRoles    = "roles.manage"
	PermDeleteMessages = "messages.delete"
	PermNukeMessages   = "messages.nuke"
)

// Deps are the collaborators the builtin commands act on.
type Deps struct {
	Stores store.Stores
	Config *config.Config
	Now    func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d Deps) elevatedRoles() []string {
	if d.Config == nil {
		return []string{store.RoleAdmin}
	}
	return d.Config.Commands.ElevatedRoles
}

// protectedRoles are the roles whose holders cannot be moderated.
func (d Deps) protectedRoles() []string {
	return append(append([]string(nil), d.elevatedRoles()...), store.RoleModerator)
}

func BuiltinDefinitions(deps Deps) []Definition {
	defs := []Definition{
		{
			Name:        "help",
			Description: "List the commands you can use, or show how to use one",
			Signature:   "<command?>",
			Aliases:     []string{"commands", "?"},
			Authorize:   Always(),
			Handler:     handleHelp,
		},
	}
	defs = append(defs, moderationDefinitions(deps)...)
	defs = append(defs, chatDefinitions(deps)...)
	defs = append(defs, roleDefinitions(deps)...)
	defs = append(defs, messageDefinitions(deps)...)
	return defs
}

func handleHelp(_ context.Context, req Request) error {
	name, ok := req.Params.Lookup("command")
	if !ok {
		req.Reply(bus.SeverityInfo, FormatHelpMessage(req.Catalog.List(req.Actor), req.Prefix))
		return nil
	}

	name = strings.TrimLeft(strings.ToLower(name), "/!")
	for _, def := range req.Catalog.List(req.Actor) {
		if def.matches(name) {
			req.Reply(bus.SeverityInfo, FormatCommandDetail(def, req.Prefix))
			return nil
		}
	}
	return &TargetNotFoundError{Entity: fmt.Sprintf("Command %q", name)}
}

func FormatHelpMessage(defs []Definition, prefix string) string {
	if len(defs) == 0 {
		return "No commands available."
	}

	lines := make([]string, 0, len(defs))
	for _, def := range defs {
		desc := def.Description
		if desc == "" {
			desc = "No description"
		}
		lines = append(lines, fmt.Sprintf("%s - %s", def.Usage(prefix), desc))
	}
	return strings.Join(lines, "\n")
}

// FormatCommandDetail renders usage, aliases and parameters of one command.
func FormatCommandDetail(def Definition, prefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s", def.Usage(prefix), def.Description)
	if len(def.Aliases) > 0 {
		aliases := make([]string, 0, len(def.Aliases))
		for _, a := range def.Aliases {
			aliases = append(aliases, prefix+a)
		}
		fmt.Fprintf(&b, "\nAliases: %s", strings.Join(aliases, ", "))
	}
	for _, p := range def.ParamSpecs() {
		req := "optional"
		if p.Required {
			req = "required"
		}
		line := fmt.Sprintf("\n  %s (%s)", p.Name, req)
		if p.Description != "" {
			line += ": " + p.Description
		}
		if len(p.Enum) > 0 {
			line += fmt.Sprintf(" [%s]", strings.Join(p.Enum, "|"))
		}
		b.WriteString(line)
	}
	return b.String()
}

// findUser resolves a username argument, accepting an optional leading "@".
func (d Deps) findUser(ctx context.Context, username string) (store.User, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	u, err := d.Stores.Users.FindByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, &TargetNotFoundError{Entity: fmt.Sprintf("User %q", username)}
	}
	if err != nil {
		return store.User{}, fmt.Errorf("find user %q: %w", username, err)
	}
	return u, nil
}

func (d Deps) holdsAny(ctx context.Context, userID string, slugs []string) (bool, error) {
	roles, err := d.Stores.Roles.RolesOf(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("roles of %s: %w", userID, err)
	}
	for _, r := range roles {
		if containsFold(slugs, r.Slug) {
			return true, nil
		}
	}
	return false, nil
}

// isProtected reports whether userID holds a staff role.
func (d Deps) isProtected(ctx context.Context, userID string) (bool, error) {
	return d.holdsAny(ctx, userID, d.protectedRoles())
}

func (d Deps) isElevated(ctx context.Context, userID string) (bool, error) {
	return d.holdsAny(ctx, userID, d.elevatedRoles())
}

// humanDuration prints whole units the way moderators type them: 90s, 5m, 2h, 3d.
func humanDuration(dur time.Duration) string {
	switch {
	case dur >= 24*time.Hour && dur%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", dur/(24*time.Hour))
	case dur >= time.Hour && dur%time.Hour == 0:
		return fmt.Sprintf("%dh", dur/time.Hour)
	case dur >= time.Minute && dur%time.Minute == 0:
		return fmt.Sprintf("%dm", dur/time.Minute)
	default:
		return dur.String()
	}
}
