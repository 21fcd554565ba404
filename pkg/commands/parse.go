package commands

import (
	"regexp"
	"strings"
	"unicode"
)

// Placeholder is one parameter slot of a signature.
type Placeholder struct {
	Name       string
	Optional   bool
	Default    string
	HasDefault bool
}

var (
	tokenPattern       = regexp.MustCompile(`"([^"]*)"|'([^']*)'|(\S+)`)
	placeholderPattern = regexp.MustCompile(`<([^<>]+)>|\{([^{}]+)\}`)
)

// StripInvocation matches "<prefix><name>" and then "<prefix><alias>" for each
// alias in order at the start of raw and returns the argument string after the
// first match. The name must end at whitespace or end of input.
func StripInvocation(raw string, prefixes []string, name string, aliases []string) (string, bool) {
	text := strings.TrimLeftFunc(raw, unicode.IsSpace)
	candidates := append([]string{name}, aliases...)

	for _, candidate := range candidates {
		for _, prefix := range prefixes {
			head := prefix + candidate
			if len(text) < len(head) || !strings.EqualFold(text[:len(head)], head) {
				continue
			}
			rest := text[len(head):]
			if rest != "" && !startsWithSpace(rest) {
				continue
			}
			return rest, true
		}
	}
	return "", false
}

func startsWithSpace(s string) bool {
	for _, r := range s {
		return unicode.IsSpace(r)
	}
	return false
}

// Tokenize splits args into tokens. A double-quoted or single-quoted span is
// one token with its quotes removed; anything else splits on whitespace.
func Tokenize(args string) []string {
	args = strings.TrimSpace(args)
	if args == "" {
		return nil
	}

	matches := tokenPattern.FindAllStringSubmatch(args, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		switch {
		case strings.HasPrefix(m[0], `"`) && len(m[0]) >= 2 && strings.HasSuffix(m[0], `"`) && m[3] == "":
			tokens = append(tokens, m[1])
		case strings.HasPrefix(m[0], `'`) && len(m[0]) >= 2 && strings.HasSuffix(m[0], `'`) && m[3] == "":
			tokens = append(tokens, m[2])
		default:
			tokens = append(tokens, m[3])
		}
	}
	return tokens
}

// ParseSignature extracts the ordered placeholders of sig. Both <name> and
// {name} are accepted; "name?" is optional and "name=value" carries a default.
func ParseSignature(sig string) []Placeholder {
	matches := placeholderPattern.FindAllStringSubmatch(sig, -1)
	out := make([]Placeholder, 0, len(matches))
	for _, m := range matches {
		body := m[1]
		if body == "" {
			body = m[2]
		}
		body = strings.TrimSpace(body)

		var p Placeholder
		if name, def, ok := strings.Cut(body, "="); ok {
			p.Name = strings.TrimSpace(name)
			p.Default = strings.TrimSpace(def)
			p.HasDefault = true
		} else {
			p.Name = body
		}
		if strings.HasSuffix(p.Name, "?") {
			p.Name = strings.TrimSuffix(p.Name, "?")
			p.Optional = true
		}
		if p.Name == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// MapParams assigns tokens to placeholders by position. The last placeholder
// takes every surplus token joined by single spaces; a slot without a token
// falls back to its default and is otherwise absent.
func MapParams(placeholders []Placeholder, tokens []string) Params {
	params := make(Params, len(placeholders))
	for i, p := range placeholders {
		switch {
		case i == len(placeholders)-1 && len(tokens) > len(placeholders):
			params[p.Name] = strings.Join(tokens[i:], " ")
		case i < len(tokens):
			params[p.Name] = tokens[i]
		case p.HasDefault:
			params[p.Name] = p.Default
		}
	}
	return params
}

// Parse strips the invocation for def from raw, tokenizes the rest and maps it
// onto def's signature. ok is false when raw does not invoke def.
func Parse(raw string, prefixes []string, def Definition) (Invocation, bool) {
	args, ok := StripInvocation(raw, prefixes, def.Name, def.Aliases)
	if !ok {
		return Invocation{}, false
	}
	tokens := Tokenize(args)
	return Invocation{
		Raw:     raw,
		Command: def.Name,
		Tokens:  tokens,
		Params:  MapParams(ParseSignature(def.Signature), tokens),
	}, true
}
