package commands

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefs() []Definition {
	return []Definition{
		{Name: "help", Description: "Show help", Aliases: []string{"?", "commands"}, Handler: noopHandler},
		{Name: "timeout", Description: "Silence a user", Aliases: []string{"to", "mute"}, Permission: "chat.timeout", Roles: []string{"moderator"}, Handler: noopHandler},
		{Name: "slowmode", Description: "Limit message rate", Permission: "chat.slowmode", Handler: noopHandler},
		{Name: "badge", Description: "Manage role badges", Permission: "roles.manage", Handler: noopHandler},
	}
}

func newTestRegistry(t *testing.T, defs ...Definition) *Registry {
	t.Helper()
	if len(defs) == 0 {
		defs = testDefs()
	}
	r, err := NewRegistry(Static(defs...), WithElevatedRoles("admin"))
	require.NoError(t, err)
	return r
}

func TestRegistry_NameAndAliasResolveToSameDefinition(t *testing.T) {
	r := newTestRegistry(t)

	byName, ok := r.Resolve("timeout")
	require.True(t, ok)
	for _, alias := range []string{"to", "mute", "MUTE"} {
		byAlias, ok := r.Resolve(alias)
		require.True(t, ok, alias)
		assert.Equal(t, byName.Name, byAlias.Name)
	}

	_, ok = r.Get("to")
	assert.False(t, ok, "Get only matches canonical names")
	_, ok = r.Resolve("nope")
	assert.False(t, ok)
}

func TestRegistry_FailedLazyRebuildRunsOncePerInvalidate(t *testing.T) {
	var calls atomic.Int32
	broken := false
	source := func() []Definition {
		calls.Add(1)
		if broken {
			return []Definition{{Name: "help", Handler: noopHandler}, {Name: "help", Handler: noopHandler}}
		}
		return []Definition{{Name: "help", Handler: noopHandler}}
	}

	r, err := NewRegistry(source)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	broken = true
	r.Invalidate()
	for i := 0; i < 5; i++ {
		_, ok := r.Get("help")
		require.True(t, ok)
	}
	assert.Equal(t, int32(2), calls.Load(), "a bad source is read once, not on every lookup")

	broken = false
	r.Invalidate()
	r.List(NewActor("1", "anyone", nil, nil))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRegistry_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{"duplicate name", []Definition{
			{Name: "help", Handler: noopHandler},
			{Name: "help", Handler: noopHandler},
		}},
		{"alias equals other name", []Definition{
			{Name: "help", Handler: noopHandler},
			{Name: "info", Aliases: []string{"help"}, Handler: noopHandler},
		}},
		{"alias declared before the name it shadows", []Definition{
			{Name: "info", Aliases: []string{"help"}, Handler: noopHandler},
			{Name: "help", Handler: noopHandler},
		}},
		{"alias equals other alias", []Definition{
			{Name: "timeout", Aliases: []string{"mute"}, Handler: noopHandler},
			{Name: "silence", Aliases: []string{"mute"}, Handler: noopHandler},
		}},
		{"name is not a slug", []Definition{
			{Name: "Help", Handler: noopHandler},
		}},
		{"alias with whitespace", []Definition{
			{Name: "help", Aliases: []string{"h elp"}, Handler: noopHandler},
		}},
		{"missing handler", []Definition{
			{Name: "help"},
		}},
		{"params disagree with signature", []Definition{
			{Name: "badge", Signature: "<action> <username>", Params: []Param{{Name: "action"}, {Name: "user"}}, Handler: noopHandler},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(Static(tt.defs...))
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr), "got %T: %v", err, err)
		})
	}
}

func TestRegistry_Sniff(t *testing.T) {
	r := newTestRegistry(t)
	prefixes := []string{"/", "!"}

	tests := []struct {
		raw  string
		want string
	}{
		{"/help", "help"},
		{"  !help me", "help"},
		{"/? ", "help"},
		{"/to alice 5m", "timeout"},
		{"!Mute alice", "timeout"},
		{"/helpme", ""},
		{"help", ""},
		{"/", ""},
		{"/ help", ""},
	}
	for _, tt := range tests {
		def, ok := r.Sniff(tt.raw, prefixes)
		if tt.want == "" {
			assert.False(t, ok, "%q resolved to %q", tt.raw, def.Name)
			continue
		}
		require.True(t, ok, tt.raw)
		assert.Equal(t, tt.want, def.Name, tt.raw)
	}
}

func TestRegistry_SniffPrefersLongestPrefix(t *testing.T) {
	r := newTestRegistry(t,
		Definition{Name: "help", Handler: noopHandler},
		Definition{Name: "hhelp", Handler: noopHandler},
	)

	def, ok := r.Sniff("!!help", []string{"!", "!!"})
	require.True(t, ok)
	assert.Equal(t, "help", def.Name)
}

func TestRegistry_ListFiltersByAuthorization(t *testing.T) {
	r := newTestRegistry(t)

	names := func(defs []Definition) []string {
		out := make([]string, 0, len(defs))
		for _, d := range defs {
			out = append(out, d.Name)
		}
		return out
	}

	assert.Equal(t, []string{"help"}, names(r.List(NewActor("u1", "carol", nil, nil))))
	assert.Equal(t, []string{"help", "timeout"}, names(r.List(NewActor("u2", "mod", nil, []string{"moderator"}))))
	assert.Equal(t, []string{"help", "slowmode"}, names(r.List(NewActor("u3", "dave", []string{"chat.slowmode"}, nil))))
	assert.Equal(t, []string{"badge", "help", "slowmode", "timeout"}, names(r.List(NewActor("u4", "root", nil, []string{"admin"}))))
	assert.Len(t, r.All(), 4)
}

func TestRegistry_SearchRanking(t *testing.T) {
	defs := []Definition{
		{Name: "mod", Description: "Moderator tools", Handler: noopHandler},
		{Name: "amod", Description: "Another", Handler: noopHandler},
		{Name: "zeta", Description: "Contains mod in text", Handler: noopHandler},
		{Name: "beta", Aliases: []string{"modding"}, Handler: noopHandler},
		{Name: "other", Description: "Unrelated", Handler: noopHandler},
	}
	r := newTestRegistry(t, defs...)
	anyone := NewActor("u", "u", nil, nil)

	got := r.Search("MOD", anyone)
	require.Len(t, got, 4)
	assert.Equal(t, "mod", got[0].Name, "exact name first")
	assert.Equal(t, "amod", got[1].Name)
	assert.Equal(t, "beta", got[2].Name)
	assert.Equal(t, "zeta", got[3].Name)
}

func TestRegistry_SearchIsCappedAndFiltered(t *testing.T) {
	var defs []Definition
	for _, c := range "abcdefghijklmn" {
		defs = append(defs, Definition{Name: "cmd" + string(c), Handler: noopHandler})
	}
	defs = append(defs, Definition{Name: "cmdsecret", Permission: "secret", Handler: noopHandler})
	r := newTestRegistry(t, defs...)

	got := r.Search("cmd", NewActor("u", "u", nil, nil))
	assert.Len(t, got, DefaultSearchLimit)
	for _, d := range got {
		assert.NotEqual(t, "cmdsecret", d.Name)
	}

	limited, err := NewRegistry(Static(defs...), WithSearchLimit(3))
	require.NoError(t, err)
	assert.Len(t, limited.Search("", NewActor("u", "u", nil, nil)), 3)
}

func TestRegistry_RebuildAndInvalidate(t *testing.T) {
	var current atomic.Value
	current.Store([]Definition{{Name: "help", Handler: noopHandler}})
	source := func() []Definition { return current.Load().([]Definition) }

	r, err := NewRegistry(source)
	require.NoError(t, err)

	current.Store([]Definition{
		{Name: "help", Handler: noopHandler},
		{Name: "ping", Aliases: []string{"p"}, Handler: noopHandler},
	})
	_, ok := r.Resolve("p")
	assert.False(t, ok, "cache is not rebuilt implicitly")

	r.Invalidate()
	def, ok := r.Resolve("p")
	require.True(t, ok)
	assert.Equal(t, "ping", def.Name)

	current.Store([]Definition{
		{Name: "help", Handler: noopHandler},
		{Name: "help", Handler: noopHandler},
	})
	require.Error(t, r.Rebuild())
	_, ok = r.Get("ping")
	assert.True(t, ok, "failed rebuild keeps the previous cache")

	r.Invalidate()
	_, ok = r.Get("ping")
	assert.True(t, ok, "failed lazy rebuild keeps the previous cache")
}

func TestRegistry_ConcurrentReadersDuringRebuild(t *testing.T) {
	r := newTestRegistry(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				all := r.All()
				if len(all) != 4 {
					t.Errorf("observed partial cache: %d definitions", len(all))
					return
				}
				if _, ok := r.Resolve("mute"); !ok {
					t.Error("alias missing during rebuild")
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			require.NoError(t, r.Rebuild())
		} else {
			r.Invalidate()
		}
	}
	close(stop)
	wg.Wait()
}
