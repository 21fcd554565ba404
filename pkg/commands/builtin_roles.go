package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sipeed/modclaw/pkg/bus"
	"github.com/sipeed/modclaw/pkg/store"
)

func roleDefinitions(deps Deps) []Definition {
	return []Definition{
		{
			Name:        "badge",
			Description: "Grant or revoke a role badge",
			Signature:   "<action> <username> <role>",
			Aliases:     []string{"role"},
			Params: []Param{
				{Name: "action", Required: true, Enum: []string{"grant", "revoke"}},
				{Name: "username", Required: true, Description: "user to update"},
				{Name: "role", Required: true, Description: "role slug, e.g. moderator"},
			},
			Permission: PermManageRoles,
			Handler: func(ctx context.Context, req Request) error {
				return deps.handleBadge(ctx, req)
			},
		},
	}
}

func (d Deps) handleBadge(ctx context.Context, req Request) error {
	action := strings.ToLower(req.Params.Get("action"))
	slug := strings.ToLower(req.Params.Get("role"))

	target, err := d.findUser(ctx, req.Params.Get("username"))
	if err != nil {
		return err
	}
	role, err := d.Stores.Roles.FindBySlug(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return &TargetNotFoundError{Entity: fmt.Sprintf("Role %q", slug)}
	}
	if err != nil {
		return fmt.Errorf("find role %q: %w", slug, err)
	}

	roleName := role.Name
	if roleName == "" {
		roleName = role.Slug
	}

	switch action {
	case "grant":
		err = d.Stores.Roles.Grant(ctx, target.ID, role.ID)
		if errors.Is(err, store.ErrAlreadyExists) {
			req.Reply(bus.SeverityWarning, fmt.Sprintf("%s already has the %s role.", target.Username, roleName))
			return nil
		}
		if err != nil {
			return fmt.Errorf("grant %s: %w", role.Slug, err)
		}
		req.Reply(bus.SeveritySuccess, fmt.Sprintf("%s is now %s.", target.Username, roleName))
		req.Notify(target.ID, bus.SeverityInfo, fmt.Sprintf("You were given the %s role by %s.", roleName, req.Actor.Username))

	case "revoke":
		if target.ID == req.Actor.ID && containsFold(d.elevatedRoles(), role.Slug) {
			return &ProtectedTargetError{Reason: fmt.Sprintf("You cannot remove your own %s role.", roleName)}
		}
		err = d.Stores.Roles.Revoke(ctx, target.ID, role.ID)
		if errors.Is(err, store.ErrNotFound) {
			req.Reply(bus.SeverityWarning, fmt.Sprintf("%s does not have the %s role.", target.Username, roleName))
			return nil
		}
		if err != nil {
			return fmt.Errorf("revoke %s: %w", role.Slug, err)
		}
		req.Reply(bus.SeveritySuccess, fmt.Sprintf("%s is no longer %s.", target.Username, roleName))
		req.Notify(target.ID, bus.SeverityInfo, fmt.Sprintf("Your %s role was removed by %s.", roleName, req.Actor.Username))

	default:
		return Invalid("The action must be one of {grant, revoke}.")
	}

	req.Broadcast("user.badges", "", bus.SeverityInfo, map[string]any{
		"user_id": target.ID,
		"role":    role.Slug,
		"action":  action,
	})
	return nil
}
