package commands

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/sipeed/modclaw/pkg/logger"
)

const DefaultSearchLimit = 10

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Source supplies the definition set. It is called on every cache build.
type Source func() []Definition

// Static wraps a fixed definition list.
func Static(defs ...Definition) Source {
	return func() []Definition { return defs }
}

// Catalog is the read-only view of the registry handed to command handlers.
type Catalog interface {
	Get(name string) (Definition, bool)
	List(actor Actor) []Definition
	Search(query string, actor Actor) []Definition
}

type registryCache struct {
	byName  map[string]Definition
	aliases map[string]string // alias -> canonical name
	names   []string          // sorted
}

type Registry struct {
	source      Source
	elevated    []string
	searchLimit int

	cache   atomic.Pointer[registryCache]
	stale   atomic.Bool
	buildMu sync.Mutex
}

type RegistryOption func(*Registry)

// WithElevatedRoles sets the staff roles that pass every default permission check.
func WithElevatedRoles(roles ...string) RegistryOption {
	return func(r *Registry) { r.elevated = append([]string(nil), roles...) }
}

func WithSearchLimit(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.searchLimit = n
		}
	}
}

// NewRegistry builds the first cache from source. A name or alias collision
// or an invalid name is returned as a *ConfigError.
func NewRegistry(source Source, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{source: source, searchLimit: DefaultSearchLimit}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Rebuild(); err != nil {
		return nil, err
	}
	return r, nil
}

// Rebuild builds a fresh cache from the source and swaps it in. On error the
// current cache stays in place.
func (r *Registry) Rebuild() error {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	return r.rebuildLocked()
}

func (r *Registry) rebuildLocked() error {
	c, err := buildCache(r.source())
	if err != nil {
		return err
	}
	r.cache.Store(c)
	r.stale.Store(false)
	logger.DebugCF("commands", "Registry cache built", map[string]any{"commands": len(c.names)})
	return nil
}

// Invalidate marks the cache stale; the next read rebuilds it.
func (r *Registry) Invalidate() {
	r.stale.Store(true)
}

func (r *Registry) current() *registryCache {
	if r.stale.Load() {
		r.buildMu.Lock()
		if r.stale.Load() {
			if err := r.rebuildLocked(); err != nil {
				// One attempt per Invalidate; later reads stay lock-free on the old cache.
				r.stale.Store(false)
				logger.ErrorCF("commands", "Registry rebuild failed, keeping previous cache", map[string]any{
					"error": err.Error(),
				})
			}
		}
		r.buildMu.Unlock()
	}
	return r.cache.Load()
}

func buildCache(defs []Definition) (*registryCache, error) {
	c := &registryCache{
		byName:  make(map[string]Definition, len(defs)),
		aliases: make(map[string]string),
		names:   make([]string, 0, len(defs)),
	}
	var errs []error

	for _, def := range defs {
		if !slugPattern.MatchString(def.Name) {
			errs = append(errs, &ConfigError{Command: def.Name, Reason: "name must be a lowercase slug"})
			continue
		}
		if def.Handler == nil {
			errs = append(errs, &ConfigError{Command: def.Name, Reason: "missing handler"})
			continue
		}
		if _, dup := c.byName[def.Name]; dup {
			errs = append(errs, &ConfigError{Command: def.Name, Reason: "duplicate command name"})
			continue
		}
		if err := checkParams(def); err != nil {
			errs = append(errs, err)
			continue
		}

		def.Aliases = append([]string(nil), def.Aliases...)
		def.Params = append([]Param(nil), def.Params...)
		c.byName[def.Name] = def
		c.names = append(c.names, def.Name)
	}

	// Aliases are checked once every canonical name is known.
	for _, name := range c.names {
		def := c.byName[name]
		for _, alias := range def.Aliases {
			key := strings.ToLower(alias)
			switch {
			case key == "" || strings.IndexFunc(key, unicode.IsSpace) >= 0:
				errs = append(errs, &ConfigError{Command: name, Reason: fmt.Sprintf("invalid alias %q", alias)})
			case c.byName[key].Name != "":
				errs = append(errs, &ConfigError{Command: name, Reason: fmt.Sprintf("alias %q collides with command %q", alias, key)})
			case c.aliases[key] != "":
				errs = append(errs, &ConfigError{Command: name, Reason: fmt.Sprintf("alias %q already belongs to %q", alias, c.aliases[key])})
			default:
				c.aliases[key] = name
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.Strings(c.names)
	return c, nil
}

func checkParams(def Definition) error {
	if len(def.Params) == 0 {
		return nil
	}
	placeholders := ParseSignature(def.Signature)
	if len(placeholders) != len(def.Params) {
		return &ConfigError{Command: def.Name, Reason: "params do not match signature"}
	}
	for i, p := range placeholders {
		if def.Params[i].Name != p.Name {
			return &ConfigError{Command: def.Name, Reason: fmt.Sprintf("param %d is %q, signature says %q", i, def.Params[i].Name, p.Name)}
		}
	}
	return nil
}

// Get returns the definition with canonical name.
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.current().byName[strings.ToLower(name)]
	return def, ok
}

// Resolve looks nameOrAlias up as a canonical name, then as an alias.
func (r *Registry) Resolve(nameOrAlias string) (Definition, bool) {
	c := r.current()
	key := strings.ToLower(nameOrAlias)
	if def, ok := c.byName[key]; ok {
		return def, true
	}
	if name, ok := c.aliases[key]; ok {
		return c.byName[name], true
	}
	return Definition{}, false
}

// Sniff finds the command invoked by raw. The longest matching prefix wins and
// the name or alias must be followed by whitespace or end of input.
func (r *Registry) Sniff(raw string, prefixes []string) (Definition, bool) {
	text := strings.TrimLeftFunc(raw, unicode.IsSpace)
	prefix, ok := matchPrefix(text, prefixes)
	if !ok {
		return Definition{}, false
	}
	rest := text[len(prefix):]
	word := rest
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		word = rest[:i]
	}
	if word == "" {
		return Definition{}, false
	}
	return r.Resolve(word)
}

// HasPrefix reports whether raw starts with one of prefixes.
func HasPrefix(raw string, prefixes []string) bool {
	_, ok := matchPrefix(strings.TrimLeftFunc(raw, unicode.IsSpace), prefixes)
	return ok
}

func matchPrefix(text string, prefixes []string) (string, bool) {
	best := ""
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(text, p) && len(p) > len(best) {
			best = p
		}
	}
	return best, best != ""
}

// All returns every definition ordered by name.
func (r *Registry) All() []Definition {
	c := r.current()
	out := make([]Definition, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.byName[name])
	}
	return out
}

// List returns the definitions actor may run, ordered by name.
func (r *Registry) List(actor Actor) []Definition {
	c := r.current()
	out := make([]Definition, 0, len(c.names))
	for _, name := range c.names {
		def := c.byName[name]
		if r.Authorized(def, actor) {
			out = append(out, def)
		}
	}
	return out
}

// Search ranks the commands visible to actor whose name, aliases or
// description contain query. An exact name match comes first, the rest follow
// alphabetically.
func (r *Registry) Search(query string, actor Actor) []Definition {
	q := strings.ToLower(strings.TrimSpace(query))

	var exact []Definition
	var rest []Definition
	for _, def := range r.List(actor) {
		switch {
		case def.Name == q:
			exact = append(exact, def)
		case q == "" || searchable(def, q):
			rest = append(rest, def)
		}
	}

	out := append(exact, rest...)
	if len(out) > r.searchLimit {
		out = out[:r.searchLimit]
	}
	return out
}

func searchable(def Definition, q string) bool {
	if strings.Contains(def.Name, q) || strings.Contains(strings.ToLower(def.Description), q) {
		return true
	}
	for _, a := range def.Aliases {
		if strings.Contains(strings.ToLower(a), q) {
			return true
		}
	}
	return false
}

// Authorized reports whether actor may run def under this registry's elevated roles.
func (r *Registry) Authorized(def Definition, actor Actor) bool {
	return Authorized(def, actor, r.elevated)
}

// ElevatedRoles returns the configured staff roles.
func (r *Registry) ElevatedRoles() []string {
	return append([]string(nil), r.elevated...)
}
