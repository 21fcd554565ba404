package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sipeed/modclaw/pkg/bus"
	"github.com/sipeed/modclaw/pkg/logger"
	"github.com/sipeed/modclaw/pkg/store"
)

// EventMessagesDeleted carries {"ids": []string} so clients can drop the lines.
const EventMessagesDeleted = "messages.deleted"

const (
	maxNukeWindow        = 24 * time.Hour
	defaultNukeBatchSize = 50
)

func messageDefinitions(deps Deps) []Definition {
	nuke := Definition{
		Name:        "nuke",
		Description: "Delete recent messages from everyone or from one user",
		Signature:   "<scope> <window=5m>",
		Aliases:     []string{"purge"},
		Params: []Param{
			{Name: "scope", Required: true, Description: `"all" or a username`},
			{Name: "window", Required: true, Type: TypeDuration, Description: "how far back to delete, e.g. 10m"},
		},
		Permission: PermNukeMessages,
		Roles:      []string{store.RoleModerator},
		Handler: func(ctx context.Context, req Request) error {
			return deps.handleNuke(ctx, req)
		},
	}
	nuke.Validate = func(_ context.Context, _ Actor, params Params) []string {
		violations := DefaultViolations(nuke, params)
		if window, err := ParseDuration(params.Get("window")); err == nil && window > maxNukeWindow {
			violations = append(violations, "The window may not exceed 24h.")
		}
		return violations
	}

	return []Definition{
		{
			Name:        "delete",
			Description: "Delete a single chat message",
			Signature:   "<message_id>",
			Aliases:     []string{"del", "rm"},
			Permission:  PermDeleteMessages,
			Roles:       []string{store.RoleModerator},
			Handler: func(ctx context.Context, req Request) error {
				return deps.handleDelete(ctx, req)
			},
		},
		nuke,
	}
}

func (d Deps) handleDelete(ctx context.Context, req Request) error {
	id := strings.TrimSpace(req.Params.Get("message_id"))

	msg, err := d.Stores.Messages.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return &TargetNotFoundError{Entity: fmt.Sprintf("Message %q", id)}
	}
	if err != nil {
		return fmt.Errorf("find message %s: %w", id, err)
	}
	if msg.Deleted() {
		req.Reply(bus.SeverityWarning, "That message was already deleted.")
		return nil
	}

	if msg.UserID != req.Actor.ID && !req.Actor.HasAnyRole(d.elevatedRoles()...) {
		elevated, err := d.isElevated(ctx, msg.UserID)
		if err != nil {
			return err
		}
		if elevated {
			return &ProtectedTargetError{Reason: "Messages from administrators cannot be deleted."}
		}
	}

	if err := d.Stores.Messages.SoftDelete(ctx, msg.ID, req.Actor.ID); err != nil {
		return fmt.Errorf("delete message %s: %w", msg.ID, err)
	}

	req.Broadcast(EventMessagesDeleted, "A message was removed by a moderator.", bus.SeverityInfo, map[string]any{
		"ids": []string{msg.ID},
	})
	req.Reply(bus.SeveritySuccess, "Message deleted.")
	return nil
}

func (d Deps) nukeBatchSize() int {
	if d.Config == nil || d.Config.Feedback.NukeBatchSize <= 0 {
		return defaultNukeBatchSize
	}
	return d.Config.Feedback.NukeBatchSize
}

// nukePacer spaces out batch broadcasts so a large purge does not flood clients.
// It only gates announcements; deletes never wait on it.
func (d Deps) nukePacer() *rate.Limiter {
	if d.Config == nil || d.Config.Feedback.BatchesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(d.Config.Feedback.BatchesPerSecond), 1)
}

func (d Deps) handleNuke(ctx context.Context, req Request) error {
	scope := strings.TrimSpace(req.Params.Get("scope"))
	window, err := ParseDuration(req.Params.Get("window"))
	if err != nil {
		return Invalid("The window must be a duration such as 30s, 5m or 1h.")
	}
	since := d.now().Add(-window)

	authorID := ""
	if !strings.EqualFold(scope, "all") {
		target, err := d.findUser(ctx, scope)
		if err != nil {
			return err
		}
		protected, err := d.isProtected(ctx, target.ID)
		if err != nil {
			return err
		}
		if protected {
			return &ProtectedTargetError{Reason: fmt.Sprintf("Messages from %s cannot be nuked.", target.Username)}
		}
		authorID = target.ID
	}

	recent, err := d.Stores.Messages.ListSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	// Precondition checks first: resolve every author's status before any write.
	exempt := make(map[string]bool)
	var ids []string
	for _, m := range recent {
		if authorID != "" && m.UserID != authorID {
			continue
		}
		skip, seen := exempt[m.UserID]
		if !seen {
			skip, err = d.isProtected(ctx, m.UserID)
			if err != nil {
				return err
			}
			exempt[m.UserID] = skip
		}
		if !skip {
			ids = append(ids, m.ID)
		}
	}

	if len(ids) == 0 {
		req.Reply(bus.SeverityInfo, fmt.Sprintf("No messages to delete from the last %s.", humanDuration(window)))
		return nil
	}

	size := d.nukeBatchSize()
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		batches = append(batches, ids[start:min(start+size, len(ids))])
	}

	total := 0
	for i, batch := range batches {
		n, err := d.Stores.Messages.BulkSoftDelete(ctx, batch, req.Actor.ID, since)
		if err != nil {
			return fmt.Errorf("nuke batch %d/%d: %w", i+1, len(batches), err)
		}
		total += n
	}

	go d.announceNuke(req, batches)

	logger.InfoCF("commands", "Nuke completed", map[string]any{
		"actor":   req.Actor.ID,
		"scope":   scope,
		"window":  window.String(),
		"deleted": total,
		"batches": len(batches),
	})
	req.Reply(bus.SeveritySuccess, fmt.Sprintf("Deleted %d messages from the last %s.", total, humanDuration(window)))
	return nil
}

// announceNuke broadcasts one messages.deleted event per batch at the
// configured pace. It runs in the background so dispatch never waits on it.
func (d Deps) announceNuke(req Request, batches [][]string) {
	pacer := d.nukePacer()
	for i, batch := range batches {
		if err := pacer.Wait(context.Background()); err != nil {
			logger.WarnCF("commands", "Nuke announcement pacing failed", map[string]any{"error": err.Error()})
			return
		}
		req.Broadcast(EventMessagesDeleted, fmt.Sprintf("%d messages were removed by a moderator.", len(batch)), bus.SeverityInfo, map[string]any{
			"ids":     batch,
			"batch":   i + 1,
			"batches": len(batches),
		})
	}
}
