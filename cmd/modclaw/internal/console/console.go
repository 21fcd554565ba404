package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/modclaw/cmd/modclaw/internal"
	"github.com/sipeed/modclaw/pkg/bus"
	"github.com/sipeed/modclaw/pkg/commands"
	"github.com/sipeed/modclaw/pkg/logger"
	"github.com/sipeed/modclaw/pkg/store"
)

const (
	channelConsole = "console"

	// EventChatMessage announces a stored chat line; Data carries id and from.
	EventChatMessage = "chat.message"
)

// Console is a single-room chat where every participant is typed from one
// terminal. Lines go through the inbound bus; feedback comes back on the
// outbound bus and is printed to out.
type Console struct {
	app *internal.App
	out io.Writer
	now func() time.Time

	mu    sync.RWMutex
	actor commands.Actor
}

func New(app *internal.App, out io.Writer) *Console {
	c := &Console{app: app, out: out, now: time.Now}
	app.Bus.RegisterHandler(channelConsole, func(msg bus.InboundMessage) error {
		return c.handleInbound(context.Background(), msg)
	})
	return c
}

func (c *Console) Actor() commands.Actor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.actor
}

// SwitchActor makes username the sender of subsequent lines.
func (c *Console) SwitchActor(ctx context.Context, username string) error {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	actor, err := commands.LoadActorByUsername(ctx, c.app.Stores.Users, c.app.Stores.Roles, username)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no user named %q", username)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.actor = actor
	c.mu.Unlock()
	return nil
}

// Prompt shows who is typing.
func (c *Console) Prompt() string {
	name := c.Actor().Username
	if name == "" {
		name = "?"
	}
	return name + "> "
}

// Submit handles one typed line. It reports false when the console should exit.
func (c *Console) Submit(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	switch {
	case input == "":
		return true
	case input == "exit" || input == "quit" || input == ":q":
		return false
	case strings.HasPrefix(input, ":as"):
		if err := c.SwitchActor(ctx, strings.TrimPrefix(input, ":as")); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return true
		}
		fmt.Fprintf(c.out, "Now chatting as %s (roles: %s)\n", c.Actor().Username, strings.Join(c.Actor().Roles(), ", "))
		return true
	}

	actor := c.Actor()
	if actor.ID == "" {
		fmt.Fprintln(c.out, "Pick a user first with :as <username>")
		return true
	}
	c.app.Bus.PublishInbound(bus.InboundMessage{
		Channel:  channelConsole,
		SenderID: actor.ID,
		Content:  input,
	})
	return true
}

func (c *Console) handleInbound(ctx context.Context, msg bus.InboundMessage) error {
	actor, err := commands.LoadActor(ctx, c.app.Stores.Users, c.app.Stores.Roles, msg.SenderID)
	if err != nil {
		return fmt.Errorf("load sender: %w", err)
	}

	if commands.HasPrefix(msg.Content, c.app.Dispatcher.Prefixes()) {
		res := c.app.Dispatcher.Dispatch(ctx, actor, msg.Content)
		logger.DebugCF("console", "Dispatched", map[string]any{
			"actor":   actor.Username,
			"command": res.Command,
			"state":   string(res.State),
		})
		return nil
	}
	return c.chat(ctx, actor, msg.Content)
}

// chat stores a plain line unless a timeout or slow mode holds the sender back.
func (c *Console) chat(ctx context.Context, actor commands.Actor, content string) error {
	now := c.now()
	staff := actor.HasAnyRole(append(c.app.Registry.ElevatedRoles(), store.RoleModerator)...)

	if !staff {
		t, err := c.app.Stores.Timeouts.FindActive(ctx, actor.ID)
		switch {
		case err == nil:
			return c.app.Bus.Publish(bus.ToActor(actor.ID,
				fmt.Sprintf("You are timed out for another %s.", t.ExpiresAt.Sub(now).Round(time.Second)),
				bus.SeverityWarning, nil))
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("check timeout: %w", err)
		}

		if wait, err := c.slowModeWait(ctx, actor.ID, now); err != nil {
			return err
		} else if wait > 0 {
			return c.app.Bus.Publish(bus.ToActor(actor.ID,
				fmt.Sprintf("Slow mode is on. You can send another message in %d seconds.", wait),
				bus.SeverityWarning, nil))
		}
	}

	m, err := c.app.Backend.CreateMessage(ctx, store.Message{UserID: actor.ID, Content: content, CreatedAt: now})
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	return c.app.Bus.Publish(bus.FeedbackMessage{
		Recipient: bus.Broadcast,
		Text:      m.Content,
		Event:     EventChatMessage,
		Data:      map[string]any{"id": m.ID, "from": actor.Username},
	})
}

// slowModeWait returns how many seconds userID must still wait, or 0.
func (c *Console) slowModeWait(ctx context.Context, userID string, now time.Time) (int, error) {
	raw, err := c.app.Stores.Settings.Get(ctx, store.SettingSlowMode)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read slow mode: %w", err)
	}
	seconds, _ := strconv.Atoi(raw)
	if seconds <= 0 {
		return 0, nil
	}

	window := time.Duration(seconds) * time.Second
	recent, err := c.app.Stores.Messages.ListSince(ctx, now.Add(-window))
	if err != nil {
		return 0, fmt.Errorf("list recent messages: %w", err)
	}
	var last time.Time
	for _, m := range recent {
		if m.UserID == userID && m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	if last.IsZero() {
		return 0, nil
	}
	remaining := last.Add(window).Sub(now)
	if remaining <= 0 {
		return 0, nil
	}
	return int((remaining + time.Second - 1) / time.Second), nil
}

// Deliver prints outbound feedback until ctx is done or the bus closes.
func (c *Console) Deliver(ctx context.Context) {
	for {
		msg, ok := c.app.Bus.Subscribe(ctx)
		if !ok {
			return
		}
		fmt.Fprintln(c.out, c.Format(ctx, msg))
	}
}

// Format renders one feedback message as a console line.
func (c *Console) Format(ctx context.Context, msg bus.FeedbackMessage) string {
	switch {
	case msg.Event == EventChatMessage:
		return fmt.Sprintf("%v: %s  #%v", msg.Data["from"], msg.Text, msg.Data["id"])
	case msg.IsBroadcast() && msg.Text == "":
		return fmt.Sprintf("* %s %s", msg.Event, formatData(msg.Data))
	case msg.IsBroadcast():
		return fmt.Sprintf("📢 %s", indent(msg.Text))
	default:
		return fmt.Sprintf("→ @%s [%s] %s", c.username(ctx, msg.Recipient), msg.Severity, indent(msg.Text))
	}
}

func (c *Console) username(ctx context.Context, id string) string {
	u, err := c.app.Stores.Users.FindByID(ctx, id)
	if err != nil {
		return id
	}
	return u.Username
}

func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func indent(text string) string {
	return strings.ReplaceAll(text, "\n", "\n    ")
}
