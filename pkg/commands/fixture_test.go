package commands

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sipeed/modclaw/pkg/bus"
	"github.com/sipeed/modclaw/pkg/config"
	"github.com/sipeed/modclaw/pkg/ratelimit"
	"github.com/sipeed/modclaw/pkg/store"
	"github.com/sipeed/modclaw/pkg/store/memory"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []bus.FeedbackMessage
}

func (p *recordingPublisher) Publish(msg bus.FeedbackMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) To(recipient string) []bus.FeedbackMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bus.FeedbackMessage
	for _, m := range p.msgs {
		if m.Recipient == recipient {
			out = append(out, m)
		}
	}
	return out
}

func (p *recordingPublisher) Broadcasts(event string) []bus.FeedbackMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bus.FeedbackMessage
	for _, m := range p.msgs {
		if m.IsBroadcast() && (event == "" || m.Event == event) {
			out = append(out, m)
		}
	}
	return out
}

func (p *recordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = nil
}

func noopHandler(context.Context, Request) error { return nil }

// fixture is a fully wired engine over the in-memory stores:
// admin (admin role), mod (moderator role), alice, bob and carol (no roles).
type fixture struct {
	ctx    context.Context
	now    time.Time
	cfg    *config.Config
	mem    *memory.Store
	stores store.Stores
	pub    *recordingPublisher
	reg    *Registry
	disp   *Dispatcher
	users  map[string]store.User
	roles  map[string]store.Role
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:   context.Background(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		cfg:   config.DefaultConfig(),
		pub:   &recordingPublisher{},
		users: make(map[string]store.User),
		roles: make(map[string]store.Role),
	}
	f.cfg.Feedback.NukeBatchSize = 2

	f.mem = memory.New().WithClock(f.clock)
	f.stores = f.mem.Stores()

	for _, r := range []store.Role{
		{Slug: store.RoleAdmin, Name: "Admin"},
		{Slug: store.RoleModerator, Name: "Moderator", Permissions: []string{PermTimeout, PermSlowMode}},
		{Slug: "vip", Name: "VIP"},
	} {
		created, err := f.mem.CreateRole(f.ctx, r)
		require.NoError(t, err)
		f.roles[r.Slug] = created
	}
	for _, name := range []string{"admin", "mod", "alice", "bob", "carol"} {
		created, err := f.mem.CreateUser(f.ctx, store.User{Username: name})
		require.NoError(t, err)
		f.users[name] = created
	}
	require.NoError(t, f.mem.Grant(f.ctx, f.users["admin"].ID, f.roles[store.RoleAdmin].ID))
	require.NoError(t, f.mem.Grant(f.ctx, f.users["mod"].ID, f.roles[store.RoleModerator].ID))

	deps := Deps{Stores: f.stores, Config: f.cfg, Now: f.clock}
	reg, err := NewRegistry(Static(BuiltinDefinitions(deps)...),
		WithElevatedRoles(f.cfg.Commands.ElevatedRoles...),
		WithSearchLimit(f.cfg.Commands.SearchLimit),
	)
	require.NoError(t, err)
	f.reg = reg

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Enabled:        true,
		MaxInvocations: f.cfg.RateLimits.MaxInvocations,
		Window:         f.cfg.RateLimits.Window(),
	}).WithClock(f.clock)
	f.disp = NewDispatcher(reg, f.pub, WithLimiter(limiter), WithPrefixes(f.cfg.Commands.Prefixes...))
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) actor(t *testing.T, username string) Actor {
	t.Helper()
	a, err := LoadActorByUsername(f.ctx, f.stores.Users, f.stores.Roles, username)
	require.NoError(t, err)
	return a
}

func (f *fixture) dispatch(t *testing.T, username, text string) Result {
	t.Helper()
	return f.disp.Dispatch(f.ctx, f.actor(t, username), text)
}

func (f *fixture) say(t *testing.T, username, content string, age time.Duration) store.Message {
	t.Helper()
	m, err := f.mem.CreateMessage(f.ctx, store.Message{
		UserID:    f.users[username].ID,
		Content:   content,
		CreatedAt: f.now.Add(-age),
	})
	require.NoError(t, err)
	return m
}
