package commands

import (
	"context"
	"strings"
)

// ParamType is a validation hint attached to a parameter.
type ParamType string

const (
	TypeString   ParamType = ""
	TypeDuration ParamType = "duration"
	TypeInteger  ParamType = "integer"
)

type Param struct {
	Name        string
	Required    bool
	Type        ParamType
	Description string
	Enum        []string
}

// Definition describes one command. Definitions are assembled once at startup
// and handed to the Registry through a Source.
type Definition struct {
	Name        string
	Description string
	// Signature is the argument grammar, e.g. "<username> <duration=5m> <reason?>".
	Signature string
	Aliases   []string
	// Params are the ordered parameter specs. When empty they are derived from
	// Signature: a placeholder is required unless it is optional or has a default.
	Params []Param
	// Permission is the capability that grants access. Empty means anyone.
	Permission string
	// Roles also grant access, in addition to the registry's elevated roles.
	Roles []string
	// Authorize replaces the default permission/role predicate.
	Authorize Authorizer
	// Validate replaces the default parameter rules; call DefaultViolations to keep them.
	Validate func(ctx context.Context, actor Actor, params Params) []string
	Handler  Handler
}

// Usage renders the invocation form with the given prefix.
func (d Definition) Usage(prefix string) string {
	if d.Signature == "" {
		return prefix + d.Name
	}
	return prefix + d.Name + " " + d.Signature
}

// ParamSpecs returns the declared params, or the ones derived from Signature.
func (d Definition) ParamSpecs() []Param {
	if len(d.Params) > 0 {
		return d.Params
	}
	placeholders := ParseSignature(d.Signature)
	params := make([]Param, 0, len(placeholders))
	for _, p := range placeholders {
		params = append(params, Param{Name: p.Name, Required: !p.Optional && !p.HasDefault})
	}
	return params
}

func (d Definition) matches(name string) bool {
	if strings.EqualFold(d.Name, name) {
		return true
	}
	for _, a := range d.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// Params maps parameter names to values. An absent key is a null value.
type Params map[string]string

// Get returns the value for name, or "" when absent.
func (p Params) Get(name string) string {
	return p[name]
}

// Lookup reports whether name has a value.
func (p Params) Lookup(name string) (string, bool) {
	v, ok := p[name]
	return v, ok
}

// Invocation is one parsed command line.
type Invocation struct {
	Raw     string
	Command string
	Tokens  []string
	Params  Params
}
