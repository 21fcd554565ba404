package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sipeed/modclaw/pkg/bus"
	"github.com/sipeed/modclaw/pkg/store"
)

const maxTimeout = 14 * 24 * time.Hour

func moderationDefinitions(deps Deps) []Definition {
	timeout := Definition{
		Name:        "timeout",
		Description: "Temporarily stop a user from chatting",
		Signature:   "<username> <duration=5m> <reason?>",
		Aliases:     []string{"to", "mute"},
		Params: []Param{
			{Name: "username", Required: true, Description: "user to time out"},
			{Name: "duration", Required: true, Type: TypeDuration, Description: "how long, e.g. 30s, 5m, 1h, 1d"},
			{Name: "reason", Description: "shown to the user"},
		},
		Permission: PermTimeout,
		Roles:      []string{store.RoleModerator},
		Handler: func(ctx context.Context, req Request) error {
			return deps.handleTimeout(ctx, req)
		},
	}
	timeout.Validate = func(_ context.Context, _ Actor, params Params) []string {
		violations := DefaultViolations(timeout, params)
		if dur, err := ParseDuration(params.Get("duration")); err == nil && dur > maxTimeout {
			violations = append(violations, "The duration may not exceed 14d.")
		}
		return violations
	}

	return []Definition{
		timeout,
		{
			Name:        "untimeout",
			Description: "Lift a user's timeout early",
			Signature:   "<username>",
			Aliases:     []string{"unmute"},
			Permission:  PermTimeout,
			Roles:       []string{store.RoleModerator},
			Handler: func(ctx context.Context, req Request) error {
				return deps.handleUntimeout(ctx, req)
			},
		},
	}
}

func (d Deps) handleTimeout(ctx context.Context, req Request) error {
	target, err := d.findUser(ctx, req.Params.Get("username"))
	if err != nil {
		return err
	}
	if target.ID == req.Actor.ID {
		return &ProtectedTargetError{Reason: "You cannot timeout yourself."}
	}
	protected, err := d.isProtected(ctx, target.ID)
	if err != nil {
		return err
	}
	if protected {
		return &ProtectedTargetError{Reason: fmt.Sprintf("%s is a staff member and cannot be timed out.", target.Username)}
	}

	dur, err := ParseDuration(req.Params.Get("duration"))
	if err != nil {
		return Invalid("The duration must be a duration such as 30s, 5m or 1h.")
	}
	reason, hasReason := req.Params.Lookup("reason")

	now := d.now()
	if err := d.Stores.Timeouts.Upsert(ctx, store.Timeout{
		UserID:    target.ID,
		ExpiresAt: now.Add(dur),
		Reason:    reason,
		IssuerID:  req.Actor.ID,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("store timeout: %w", err)
	}

	actorMsg := fmt.Sprintf("%s has been timed out for %s.", target.Username, humanDuration(dur))
	targetMsg := fmt.Sprintf("You have been timed out for %s by %s.", humanDuration(dur), req.Actor.Username)
	if hasReason {
		actorMsg += " Reason: " + reason
		targetMsg += " Reason: " + reason
	}
	req.Reply(bus.SeveritySuccess, actorMsg)
	req.Notify(target.ID, bus.SeverityWarning, targetMsg)
	return nil
}

func (d Deps) handleUntimeout(ctx context.Context, req Request) error {
	target, err := d.findUser(ctx, req.Params.Get("username"))
	if err != nil {
		return err
	}

	active, err := d.Stores.Timeouts.FindActive(ctx, target.ID)
	if errors.Is(err, store.ErrNotFound) {
		req.Reply(bus.SeverityWarning, fmt.Sprintf("%s is not timed out.", target.Username))
		return nil
	}
	if err != nil {
		return fmt.Errorf("find timeout: %w", err)
	}

	active.ExpiresAt = d.now()
	active.IssuerID = req.Actor.ID
	if err := d.Stores.Timeouts.Upsert(ctx, active); err != nil {
		return fmt.Errorf("lift timeout: %w", err)
	}

	req.Reply(bus.SeveritySuccess, fmt.Sprintf("%s's timeout has been lifted.", target.Username))
	req.Notify(target.ID, bus.SeverityInfo, fmt.Sprintf("Your timeout was lifted by %s.", req.Actor.Username))
	return nil
}
