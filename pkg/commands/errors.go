package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrCommandNotFound = errors.New("command not found")
	ErrUnauthorized    = errors.New("unauthorized")
)

// RateLimitedError is returned when an actor exceeds the invocation ceiling.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ValidationError carries every violation found for one invocation.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, "\n")
}

// Invalid builds a ValidationError from one or more violations.
func Invalid(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// TargetNotFoundError reports that the entity a command acts on does not exist.
type TargetNotFoundError struct {
	Entity string
}

func (e *TargetNotFoundError) Error() string {
	return e.Entity + " not found."
}

// ProtectedTargetError reports that the target may not be acted on by this actor.
type ProtectedTargetError struct {
	Reason string
}

func (e *ProtectedTargetError) Error() string {
	return e.Reason
}

// ExecutionError wraps an unexpected handler failure or a recovered panic.
type ExecutionError struct {
	Command string
	Cause   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// ConfigError is a fatal problem in the definition set found while building the
// registry cache.
type ConfigError struct {
	Command string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Command == "" {
		return "commands: " + e.Reason
	}
	return fmt.Sprintf("commands: %q: %s", e.Command, e.Reason)
}
