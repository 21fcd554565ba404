package commands

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/modclaw/pkg/bus"
	"github.com/sipeed/modclaw/pkg/config"
	"github.com/sipeed/modclaw/pkg/store"
)

func TestBuiltinDefinitions_ContainsModerationCommands(t *testing.T) {
	f := newFixture(t)
	names := map[string]bool{}
	for _, d := range f.reg.All() {
		names[d.Name] = true
	}
	for _, want := range []string{"help", "timeout", "untimeout", "slowmode", "badge", "broadcast", "delete", "nuke"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}

// a. /timeout alice 5m rude by a moderator.
func TestTimeout_CreatesRecordAndNotifiesBoth(t *testing.T) {
	f := newFixture(t)
	mod, alice := f.users["mod"], f.users["alice"]

	res := f.dispatch(t, "mod", "/timeout alice 5m rude")
	require.True(t, res.Success, "%v", res.Err)

	active, err := f.stores.Timeouts.FindActive(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(5*time.Minute), active.ExpiresAt)
	assert.Equal(t, "rude", active.Reason)
	assert.Equal(t, mod.ID, active.IssuerID)

	modMsgs := f.pub.To(mod.ID)
	require.Len(t, modMsgs, 1)
	assert.Equal(t, bus.SeveritySuccess, modMsgs[0].Severity)
	assert.Equal(t, "alice has been timed out for 5m. Reason: rude", modMsgs[0].Text)

	aliceMsgs := f.pub.To(alice.ID)
	require.Len(t, aliceMsgs, 1)
	assert.Contains(t, aliceMsgs[0].Text, "by mod")
}

func TestTimeout_DefaultDurationAndSlurpedReason(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.dispatch(t, "mod", "/to @bob").Success)
	active, err := f.stores.Timeouts.FindActive(f.ctx, f.users["bob"].ID)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(5*time.Minute), active.ExpiresAt)

	require.True(t, f.dispatch(t, "mod", "/mute carol 1h keeps posting links").Success)
	active, err = f.stores.Timeouts.FindActive(f.ctx, f.users["carol"].ID)
	require.NoError(t, err)
	assert.Equal(t, "keeps posting links", active.Reason)
}

// b. /timeout alice 5m issued by alice herself.
func TestTimeout_SelfIsRejectedBeforeMutation(t *testing.T) {
	f := newFixture(t)
	alice := f.users["alice"]
	require.NoError(t, f.mem.Grant(f.ctx, alice.ID, f.roles[store.RoleModerator].ID))

	res := f.dispatch(t, "alice", "/timeout alice 5m")
	require.False(t, res.Success)
	var protected *ProtectedTargetError
	require.True(t, errors.As(res.Err, &protected))

	msgs := f.pub.To(alice.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "You cannot timeout yourself.", msgs[0].Text)

	_, err := f.stores.Timeouts.FindActive(f.ctx, alice.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTimeout_StaffAndMissingTargets(t *testing.T) {
	f := newFixture(t)

	res := f.dispatch(t, "mod", "/timeout admin 5m")
	var protected *ProtectedTargetError
	assert.True(t, errors.As(res.Err, &protected))

	res = f.dispatch(t, "mod", "/timeout ghost 5m")
	var notFound *TargetNotFoundError
	require.True(t, errors.As(res.Err, &notFound))
	assert.Equal(t, `User "ghost" not found.`, f.pub.To(f.users["mod"].ID)[1].Text)

	res = f.dispatch(t, "mod", "/timeout bob 30d")
	var verr *ValidationError
	require.True(t, errors.As(res.Err, &verr))
	assert.Equal(t, []string{"The duration may not exceed 14d."}, verr.Violations)
}

func TestUntimeout(t *testing.T) {
	f := newFixture(t)
	bob := f.users["bob"]

	require.True(t, f.dispatch(t, "mod", "/untimeout bob").Success)
	assert.Equal(t, "bob is not timed out.", f.pub.To(f.users["mod"].ID)[0].Text)

	require.True(t, f.dispatch(t, "mod", "/timeout bob 10m").Success)
	require.True(t, f.dispatch(t, "mod", "/unmute bob").Success)

	_, err := f.stores.Timeouts.FindActive(f.ctx, bob.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, f.pub.To(bob.ID), 2)
}

// c. /slowmode off by an unprivileged actor.
func TestSlowMode_UnprivilegedIsRejected(t *testing.T) {
	f := newFixture(t)

	res := f.dispatch(t, "carol", "/slowmode off")
	assert.ErrorIs(t, res.Err, ErrUnauthorized)
	assert.Len(t, f.pub.To(f.users["carol"].ID), 1)

	_, err := f.stores.Settings.Get(f.ctx, store.SettingSlowMode)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSlowMode_SetAndBroadcast(t *testing.T) {
	f := newFixture(t)
	mod := f.users["mod"]

	require.True(t, f.dispatch(t, "mod", "/slowmode 10").Success)
	v, err := f.stores.Settings.Get(f.ctx, store.SettingSlowMode)
	require.NoError(t, err)
	assert.Equal(t, "10", v)

	casts := f.pub.Broadcasts("chat.slow_mode")
	require.Len(t, casts, 1)
	assert.Equal(t, 10, casts[0].Data["seconds"])

	require.True(t, f.dispatch(t, "mod", "/slowmode 10").Success)
	last := f.pub.To(mod.ID)
	assert.Equal(t, bus.SeverityWarning, last[len(last)-1].Severity)
	assert.Len(t, f.pub.Broadcasts("chat.slow_mode"), 1, "unchanged value is not re-broadcast")

	require.True(t, f.dispatch(t, "mod", "!slow off").Success)
	v, _ = f.stores.Settings.Get(f.ctx, store.SettingSlowMode)
	assert.Equal(t, "0", v)

	res := f.dispatch(t, "mod", "/slowmode 9000")
	var verr *ValidationError
	require.True(t, errors.As(res.Err, &verr))
}

// d. /badge grant bob moderator issued twice by an admin.
func TestBadge_GrantTwiceIsNoopWarning(t *testing.T) {
	f := newFixture(t)
	admin, bob := f.users["admin"], f.users["bob"]

	first := f.dispatch(t, "admin", "/badge grant bob moderator")
	require.True(t, first.Success, "%v", first.Err)
	second := f.dispatch(t, "admin", "/badge grant bob moderator")
	require.True(t, second.Success)

	msgs := f.pub.To(admin.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, bus.SeveritySuccess, msgs[0].Severity)
	assert.Equal(t, bus.SeverityWarning, msgs[1].Severity)
	assert.Equal(t, "bob already has the Moderator role.", msgs[1].Text)

	roles, err := f.stores.Roles.RolesOf(f.ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
	assert.Len(t, f.pub.Broadcasts("user.badges"), 1)
}

func TestBadge_RevokeAbsentAndSelfAdmin(t *testing.T) {
	f := newFixture(t)
	admin := f.users["admin"]

	require.True(t, f.dispatch(t, "admin", "/badge revoke bob vip").Success)
	assert.Equal(t, "bob does not have the VIP role.", f.pub.To(admin.ID)[0].Text)

	res := f.dispatch(t, "admin", "/badge revoke admin admin")
	var protected *ProtectedTargetError
	require.True(t, errors.As(res.Err, &protected))
	roles, _ := f.stores.Roles.RolesOf(f.ctx, admin.ID)
	assert.Len(t, roles, 1)

	res = f.dispatch(t, "admin", "/badge grant bob wizard")
	var notFound *TargetNotFoundError
	assert.True(t, errors.As(res.Err, &notFound))

	res = f.dispatch(t, "mod", "/badge grant bob vip")
	assert.ErrorIs(t, res.Err, ErrUnauthorized, "badge is admin only")
}

// e. 11 /help invocations inside one minute.
func TestHelp_EleventhInvocationIsRateLimited(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 10; i++ {
		require.True(t, f.dispatch(t, "carol", "/help").Success, "invocation %d", i+1)
		f.now = f.now.Add(2 * time.Second)
	}
	res := f.dispatch(t, "carol", "/help")
	var rl *RateLimitedError
	require.True(t, errors.As(res.Err, &rl))
	assert.Greater(t, res.RetryAfterSeconds, 0)
	assert.LessOrEqual(t, res.RetryAfterSeconds, 60)
}

func TestHelp_ListsVisibleCommandsAndDetail(t *testing.T) {
	f := newFixture(t)
	carol := f.users["carol"]

	require.True(t, f.dispatch(t, "carol", "/help").Success)
	list := f.pub.To(carol.ID)[0].Text
	assert.Contains(t, list, "/help <command?>")
	assert.NotContains(t, list, "/timeout")

	require.True(t, f.dispatch(t, "mod", "/? timeout").Success)
	detail := f.pub.To(f.users["mod"].ID)[0].Text
	assert.True(t, strings.HasPrefix(detail, "/timeout <username> <duration=5m> <reason?>"))
	assert.Contains(t, detail, "Aliases: /to, /mute")
	assert.Contains(t, detail, "duration (required)")

	res := f.dispatch(t, "carol", "/help nuke")
	var notFound *TargetNotFoundError
	assert.True(t, errors.As(res.Err, &notFound), "hidden commands are not described")
}

// f. /nuke all 10m skips staff messages and broadcasts in batches.
func TestNuke_AllSkipsStaffAndBatches(t *testing.T) {
	f := newFixture(t)

	var victims []store.Message
	for i := 0; i < 3; i++ {
		victims = append(victims, f.say(t, "alice", "spam", time.Duration(i+1)*time.Minute))
	}
	victims = append(victims, f.say(t, "carol", "more spam", 9*time.Minute))
	old := f.say(t, "bob", "ancient", 20*time.Minute)
	modMsg := f.say(t, "mod", "please stop", 2*time.Minute)
	adminMsg := f.say(t, "admin", "seriously", time.Minute)

	res := f.dispatch(t, "mod", "/nuke all 10m")
	require.True(t, res.Success, "%v", res.Err)

	for _, m := range victims {
		got, err := f.stores.Messages.FindByID(f.ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, got.Deleted(), m.Content)
		assert.Equal(t, f.users["mod"].ID, got.DeletedBy)
	}
	for _, m := range []store.Message{old, modMsg, adminMsg} {
		got, err := f.stores.Messages.FindByID(f.ctx, m.ID)
		require.NoError(t, err)
		assert.False(t, got.Deleted(), m.Content)
	}

	require.Eventually(t, func() bool {
		return len(f.pub.Broadcasts(EventMessagesDeleted)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	batches := f.pub.Broadcasts(EventMessagesDeleted)
	total := 0
	for _, b := range batches {
		ids := b.Data["ids"].([]string)
		assert.LessOrEqual(t, len(ids), f.cfg.Feedback.NukeBatchSize)
		total += len(ids)
	}
	assert.Equal(t, 4, total)

	msgs := f.pub.To(f.users["mod"].ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Deleted 4 messages from the last 10m.", msgs[0].Text)
}

func TestNuke_DefaultPacingDoesNotHoldDispatch(t *testing.T) {
	f := newFixture(t)
	f.cfg.Feedback = config.DefaultConfig().Feedback
	for i := 0; i < 300; i++ {
		f.say(t, "alice", "flood", time.Duration(i)*time.Second)
	}

	start := time.Now()
	res := f.dispatch(t, "mod", "/nuke all 10m")
	elapsed := time.Since(start)
	require.True(t, res.Success, "%v", res.Err)
	assert.Less(t, elapsed, 500*time.Millisecond)

	remaining, err := f.stores.Messages.ListSince(f.ctx, f.now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, remaining, "every batch is deleted before dispatch returns")

	msgs := f.pub.To(f.users["mod"].ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Deleted 300 messages from the last 10m.", msgs[0].Text)

	require.Eventually(t, func() bool {
		return len(f.pub.Broadcasts(EventMessagesDeleted)) == 6
	}, 3*time.Second, 20*time.Millisecond)
	for i, b := range f.pub.Broadcasts(EventMessagesDeleted) {
		assert.Equal(t, i+1, b.Data["batch"])
		assert.Len(t, b.Data["ids"], f.cfg.Feedback.NukeBatchSize)
	}
}

func TestNuke_SingleUserScope(t *testing.T) {
	f := newFixture(t)
	a := f.say(t, "alice", "one", time.Minute)
	b := f.say(t, "bob", "two", time.Minute)

	require.True(t, f.dispatch(t, "mod", "/purge alice").Success)

	got, _ := f.stores.Messages.FindByID(f.ctx, a.ID)
	assert.True(t, got.Deleted())
	got, _ = f.stores.Messages.FindByID(f.ctx, b.ID)
	assert.False(t, got.Deleted())

	res := f.dispatch(t, "mod", "/nuke admin 5m")
	var protected *ProtectedTargetError
	assert.True(t, errors.As(res.Err, &protected))

	require.True(t, f.dispatch(t, "mod", "/nuke all 5m").Success)
	last := f.pub.To(f.users["mod"].ID)
	assert.Equal(t, "Deleted 1 messages from the last 5m.", last[len(last)-1].Text)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	mod := f.users["mod"]
	msg := f.say(t, "alice", "bad words", time.Minute)
	adminMsg := f.say(t, "admin", "rules", time.Minute)

	require.True(t, f.dispatch(t, "mod", "/delete "+msg.ID).Success)
	got, _ := f.stores.Messages.FindByID(f.ctx, msg.ID)
	assert.True(t, got.Deleted())
	require.Len(t, f.pub.Broadcasts(EventMessagesDeleted), 1)

	require.True(t, f.dispatch(t, "mod", "/rm "+msg.ID).Success)
	last := f.pub.To(mod.ID)
	assert.Equal(t, "That message was already deleted.", last[len(last)-1].Text)

	res := f.dispatch(t, "mod", "/del "+adminMsg.ID)
	var protected *ProtectedTargetError
	assert.True(t, errors.As(res.Err, &protected))

	require.True(t, f.dispatch(t, "admin", "/del "+adminMsg.ID).Success)

	res = f.dispatch(t, "mod", "/delete nope")
	var notFound *TargetNotFoundError
	assert.True(t, errors.As(res.Err, &notFound))
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.dispatch(t, "mod", `/announce Stream starts in "five minutes"`).Success)
	casts := f.pub.Broadcasts("chat.announcement")
	require.Len(t, casts, 1)
	assert.Equal(t, "Stream starts in five minutes", casts[0].Text)
	assert.Equal(t, "mod", casts[0].Data["from"])

	res := f.dispatch(t, "mod", "/broadcast "+strings.Repeat("x", f.cfg.Feedback.MaxBroadcastChars+1))
	var verr *ValidationError
	require.True(t, errors.As(res.Err, &verr))

	res = f.dispatch(t, "mod", "/bc")
	require.True(t, errors.As(res.Err, &verr))
	assert.Equal(t, []string{"The message field is required."}, verr.Violations)
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "5m", humanDuration(5*time.Minute))
	assert.Equal(t, "2h", humanDuration(2*time.Hour))
	assert.Equal(t, "3d", humanDuration(72*time.Hour))
	assert.Equal(t, "1m30s", humanDuration(90*time.Second))
}
