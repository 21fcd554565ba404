package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultViolations applies the rules derived from def's params: required
// values must be non-empty, enum values must be listed and type hints must
// parse. Absent optional values are not checked.
func DefaultViolations(def Definition, params Params) []string {
	var violations []string
	for _, p := range def.ParamSpecs() {
		value, ok := params.Lookup(p.Name)
		if !ok || strings.TrimSpace(value) == "" {
			if p.Required {
				violations = append(violations, fmt.Sprintf("The %s field is required.", p.Name))
			}
			continue
		}

		if len(p.Enum) > 0 && !containsFold(p.Enum, value) {
			violations = append(violations, fmt.Sprintf("The %s must be one of {%s}.", p.Name, strings.Join(p.Enum, ", ")))
			continue
		}

		switch p.Type {
		case TypeDuration:
			if _, err := ParseDuration(value); err != nil {
				violations = append(violations, fmt.Sprintf("The %s must be a duration such as 30s, 5m or 1h.", p.Name))
			}
		case TypeInteger:
			if _, err := strconv.Atoi(value); err != nil {
				violations = append(violations, fmt.Sprintf("The %s must be a whole number.", p.Name))
			}
		}
	}
	return violations
}

func (d Definition) violations(ctx context.Context, actor Actor, params Params) []string {
	if d.Validate != nil {
		return d.Validate(ctx, actor, params)
	}
	return DefaultViolations(d, params)
}

// ParseDuration accepts Go durations plus a day suffix ("2d") and rejects
// values that are not positive.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		if n <= 0 {
			return 0, fmt.Errorf("duration %q must be positive", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

func containsFold(items []string, target string) bool {
	for _, item := range items {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}
