package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sipeed/modclaw/pkg/bus"
	"github.com/sipeed/modclaw/pkg/store"
)

const maxSlowModeSeconds = 3600

func chatDefinitions(deps Deps) []Definition {
	slowmode := Definition{
		Name:        "slowmode",
		Description: "Limit how often each user may send a message",
		Signature:   "<seconds>",
		Aliases:     []string{"slow"},
		Params: []Param{
			{Name: "seconds", Required: true, Description: `seconds between messages, or "off"`},
		},
		Permission: PermSlowMode,
		Roles:      []string{store.RoleModerator},
		Validate: func(_ context.Context, _ Actor, params Params) []string {
			value := params.Get("seconds")
			if strings.TrimSpace(value) == "" {
				return []string{"The seconds field is required."}
			}
			if _, err := parseSlowMode(value); err != nil {
				return []string{fmt.Sprintf(`The seconds must be "off" or a number between 1 and %d.`, maxSlowModeSeconds)}
			}
			return nil
		},
		Handler: func(ctx context.Context, req Request) error {
			return deps.handleSlowMode(ctx, req)
		},
	}

	broadcast := Definition{
		Name:        "broadcast",
		Description: "Send an announcement to everyone in chat",
		Signature:   "<message>",
		Aliases:     []string{"announce", "bc"},
		Permission:  PermBroadcast,
		Roles:       []string{store.RoleModerator},
		Handler: func(ctx context.Context, req Request) error {
			return deps.handleBroadcast(ctx, req)
		},
	}
	broadcast.Validate = func(_ context.Context, _ Actor, params Params) []string {
		violations := DefaultViolations(broadcast, params)
		if limit := deps.maxBroadcastChars(); limit > 0 && utf8.RuneCountInString(params.Get("message")) > limit {
			violations = append(violations, fmt.Sprintf("The message may not be longer than %d characters.", limit))
		}
		return violations
	}

	return []Definition{slowmode, broadcast}
}

func (d Deps) maxBroadcastChars() int {
	if d.Config == nil {
		return 0
	}
	return d.Config.Feedback.MaxBroadcastChars
}

// parseSlowMode maps "off" (or 0) to 0 and accepts 1..3600 seconds.
func parseSlowMode(value string) (int, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "off" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSuffix(value, "s"))
	if err != nil {
		return 0, err
	}
	if n < 0 || n > maxSlowModeSeconds {
		return 0, fmt.Errorf("slow mode %d out of range", n)
	}
	return n, nil
}

func (d Deps) handleSlowMode(ctx context.Context, req Request) error {
	seconds, err := parseSlowMode(req.Params.Get("seconds"))
	if err != nil {
		return Invalid(fmt.Sprintf(`The seconds must be "off" or a number between 1 and %d.`, maxSlowModeSeconds))
	}

	current := 0
	raw, err := d.Stores.Settings.Get(ctx, store.SettingSlowMode)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("read slow mode: %w", err)
	default:
		current, _ = strconv.Atoi(raw)
	}

	if current == seconds {
		if seconds == 0 {
			req.Reply(bus.SeverityWarning, "Slow mode is already off.")
		} else {
			req.Reply(bus.SeverityWarning, fmt.Sprintf("Slow mode is already set to %d seconds.", seconds))
		}
		return nil
	}

	if err := d.Stores.Settings.Set(ctx, store.SettingSlowMode, strconv.Itoa(seconds)); err != nil {
		return fmt.Errorf("write slow mode: %w", err)
	}

	data := map[string]any{"seconds": seconds}
	if seconds == 0 {
		req.Broadcast("chat.slow_mode", "Slow mode has been turned off.", bus.SeverityInfo, data)
		req.Reply(bus.SeveritySuccess, "Slow mode disabled.")
		return nil
	}
	req.Broadcast("chat.slow_mode", fmt.Sprintf("Slow mode is on: one message every %d seconds.", seconds), bus.SeverityInfo, data)
	req.Reply(bus.SeveritySuccess, fmt.Sprintf("Slow mode set to %d seconds.", seconds))
	return nil
}

func (d Deps) handleBroadcast(_ context.Context, req Request) error {
	message := strings.TrimSpace(req.Params.Get("message"))
	req.Broadcast("chat.announcement", message, bus.SeverityInfo, map[string]any{
		"from": req.Actor.Username,
	})
	req.Reply(bus.SeveritySuccess, "Announcement sent.")
	return nil
}
