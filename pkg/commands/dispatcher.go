package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"unicode"

	"github.com/sipeed/modclaw/pkg/audit"
	"github.com/sipeed/modclaw/pkg/bus"
	"github.com/sipeed/modclaw/pkg/logger"
	"github.com/sipeed/modclaw/pkg/ratelimit"
)

// State is a step of the per-invocation state machine.
type State string

const (
	StateReceived    State = "RECEIVED"
	StateRateChecked State = "RATE_CHECKED"
	StateResolved    State = "RESOLVED"
	StateAuthorized  State = "AUTHORIZED"
	StateParsed      State = "PARSED"
	StateValidated   State = "VALIDATED"
	StateExecuted    State = "EXECUTED"
	StateFailed      State = "FAILED"
)

type Handler func(ctx context.Context, req Request) error

// Request is what a handler sees: the actor, the parsed invocation, a view of
// the registry and the feedback helpers.
type Request struct {
	Actor      Actor
	Invocation Invocation
	Params     Params
	Catalog    Catalog
	// Prefix is the prefix used when rendering usage strings.
	Prefix string

	publisher bus.Publisher
}

// Reply sends text to the invoking actor.
func (r Request) Reply(severity bus.Severity, text string) {
	r.publish(bus.ToActor(r.Actor.ID, text, severity, nil))
}

// Notify sends text to another participant.
func (r Request) Notify(recipientID string, severity bus.Severity, text string) {
	r.publish(bus.ToActor(recipientID, text, severity, nil))
}

// Broadcast sends a message to every participant. event names the structured
// payload for clients that react to it (e.g. "messages.deleted").
func (r Request) Broadcast(event, text string, severity bus.Severity, data map[string]any) {
	msg := bus.ToAll(text, severity, data)
	msg.Event = event
	r.publish(msg)
}

func (r Request) publish(msg bus.FeedbackMessage) {
	publish(r.publisher, msg)
}

func publish(p bus.Publisher, msg bus.FeedbackMessage) {
	if p == nil {
		return
	}
	if err := p.Publish(msg); err != nil {
		logger.WarnCF("commands", "Feedback publish failed", map[string]any{
			"recipient": msg.Recipient,
			"error":     err.Error(),
		})
	}
}

type Result struct {
	Success           bool
	Command           string
	Err               error
	RetryAfterSeconds int
	State             State
}

// Auditor receives one event per finished invocation. *audit.Logger satisfies it.
type Auditor interface {
	Log(event audit.Event) error
}

type Dispatching interface {
	Dispatch(ctx context.Context, actor Actor, text string) Result
}

type DispatchFunc func(ctx context.Context, actor Actor, text string) Result

func (f DispatchFunc) Dispatch(ctx context.Context, actor Actor, text string) Result {
	return f(ctx, actor, text)
}

type Dispatcher struct {
	reg      *Registry
	feedback bus.Publisher
	limiter  *ratelimit.Limiter
	auditor  Auditor
	prefixes []string
}

type DispatcherOption func(*Dispatcher)

func WithLimiter(l *ratelimit.Limiter) DispatcherOption {
	return func(d *Dispatcher) { d.limiter = l }
}

func WithAuditor(a Auditor) DispatcherOption {
	return func(d *Dispatcher) { d.auditor = a }
}

func WithPrefixes(prefixes ...string) DispatcherOption {
	return func(d *Dispatcher) {
		if len(prefixes) > 0 {
			d.prefixes = append([]string(nil), prefixes...)
		}
	}
}

// DefaultPrefixes are used when no WithPrefixes option is given.
var DefaultPrefixes = []string{"/", "!"}

func NewDispatcher(reg *Registry, feedback bus.Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reg:      reg,
		feedback: feedback,
		limiter:  ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		prefixes: DefaultPrefixes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Prefixes() []string {
	return append([]string(nil), d.prefixes...)
}

// invocation tracks one Dispatch call through the state machine.
type invocation struct {
	actor   Actor
	raw     string
	command string
	stage   State
}

func (iv *invocation) advance(next State) {
	iv.stage = next
	logger.DebugCF("dispatcher", "State transition", map[string]any{
		"actor":   iv.actor.ID,
		"command": iv.command,
		"state":   string(next),
	})
}

func (iv *invocation) fields() map[string]any {
	return map[string]any{
		"actor":   iv.actor.ID,
		"command": iv.command,
		"raw":     iv.raw,
		"stage":   string(iv.stage),
	}
}

// Dispatch runs text as a command for actor. It never panics and never
// returns an error outside Result; every failure sends exactly one message to
// the actor.
func (d *Dispatcher) Dispatch(ctx context.Context, actor Actor, text string) Result {
	iv := &invocation{actor: actor, raw: text, stage: StateReceived}

	if d.limiter != nil {
		decision := d.limiter.Hit(actor.ID)
		if !decision.Allowed {
			secs := decision.RetryAfterSeconds()
			d.reply(actor, bus.SeverityWarning, fmt.Sprintf("You are sending commands too quickly. Try again in %d seconds.", secs))
			res := d.fail(iv, &RateLimitedError{RetryAfter: decision.RetryAfter})
			res.RetryAfterSeconds = secs
			return d.finish(iv, res)
		}
	}
	iv.advance(StateRateChecked)

	def, ok := d.reg.Sniff(text, d.prefixes)
	if !ok {
		d.reply(actor, bus.SeverityError, fmt.Sprintf("Unknown command %q. Type %shelp to see the commands you can use.", firstWord(text), d.prefixes[0]))
		return d.finish(iv, d.fail(iv, ErrCommandNotFound))
	}
	iv.command = def.Name
	iv.advance(StateResolved)

	if !d.reg.Authorized(def, actor) {
		d.reply(actor, bus.SeverityError, fmt.Sprintf("You do not have permission to use %s%s.", d.prefixes[0], def.Name))
		return d.finish(iv, d.fail(iv, ErrUnauthorized))
	}
	iv.advance(StateAuthorized)

	inv, ok := Parse(text, d.prefixes, def)
	if !ok {
		d.reply(actor, bus.SeverityError, fmt.Sprintf("Unknown command %q.", firstWord(text)))
		return d.finish(iv, d.fail(iv, ErrCommandNotFound))
	}
	iv.advance(StateParsed)

	violations, err := d.validate(ctx, def, actor, inv)
	if err != nil {
		return d.finish(iv, d.handleExecError(iv, err))
	}
	if len(violations) > 0 {
		err := &ValidationError{Violations: violations}
		d.reply(actor, bus.SeverityError, err.Error())
		return d.finish(iv, d.fail(iv, err))
	}
	iv.advance(StateValidated)

	req := Request{
		Actor:      actor,
		Invocation: inv,
		Params:     inv.Params,
		Catalog:    d.reg,
		Prefix:     d.prefixes[0],
		publisher:  d.feedback,
	}
	if err := d.execute(ctx, def, req); err != nil {
		return d.finish(iv, d.handleExecError(iv, err))
	}

	iv.advance(StateExecuted)
	logger.InfoCF("dispatcher", "Command executed", map[string]any{
		"actor":   actor.ID,
		"command": def.Name,
	})
	return d.finish(iv, Result{Success: true, Command: def.Name, State: StateExecuted})
}

func (d *Dispatcher) validate(ctx context.Context, def Definition, actor Actor, inv Invocation) (violations []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("dispatcher", "Command validation panicked", map[string]any{
				"actor":   actor.ID,
				"command": def.Name,
				"raw":     inv.Raw,
				"panic":   fmt.Sprint(r),
			})
			err = &ExecutionError{Command: def.Name, Cause: fmt.Errorf("panic in validation: %v", r)}
		}
	}()
	return def.violations(ctx, actor, inv.Params), nil
}

// execute runs the handler with panics converted to errors. Handlers get a
// context that ignores caller cancellation so a mutation is never cut short.
func (d *Dispatcher) execute(ctx context.Context, def Definition, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("dispatcher", "Command handler panicked", map[string]any{
				"actor":   req.Actor.ID,
				"command": def.Name,
				"raw":     req.Invocation.Raw,
				"panic":   fmt.Sprint(r),
				"stack":   string(debug.Stack()),
			})
			err = &ExecutionError{Command: def.Name, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	return def.Handler(context.WithoutCancel(ctx), req)
}

func (d *Dispatcher) handleExecError(iv *invocation, err error) Result {
	var (
		validationErr *ValidationError
		notFoundErr   *TargetNotFoundError
		protectedErr  *ProtectedTargetError
		execErr       *ExecutionError
	)

	switch {
	case errors.As(err, &validationErr):
		d.reply(iv.actor, bus.SeverityError, validationErr.Error())
		return d.fail(iv, validationErr)
	case errors.As(err, &notFoundErr):
		d.reply(iv.actor, bus.SeverityError, notFoundErr.Error())
		return d.fail(iv, notFoundErr)
	case errors.As(err, &protectedErr):
		d.reply(iv.actor, bus.SeverityError, protectedErr.Error())
		return d.fail(iv, protectedErr)
	}

	if !errors.As(err, &execErr) {
		fields := iv.fields()
		fields["error"] = err.Error()
		logger.ErrorCF("dispatcher", "Command execution failed", fields)
		execErr = &ExecutionError{Command: iv.command, Cause: err}
	}
	d.reply(iv.actor, bus.SeverityError, fmt.Sprintf("Something went wrong while running %s%s. Please try again later.", d.prefixes[0], iv.command))
	return d.fail(iv, execErr)
}

func (d *Dispatcher) fail(iv *invocation, err error) Result {
	logger.DebugCF("dispatcher", "Invocation failed", map[string]any{
		"actor":   iv.actor.ID,
		"command": iv.command,
		"stage":   string(iv.stage),
		"error":   err.Error(),
	})
	return Result{Command: iv.command, Err: err, State: StateFailed}
}

func (d *Dispatcher) finish(iv *invocation, res Result) Result {
	d.record(iv, res)
	return res
}

func (d *Dispatcher) record(iv *invocation, res Result) {
	if d.auditor == nil {
		return
	}

	event := audit.Event{
		Actor:    iv.actor.ID,
		Action:   iv.command,
		Resource: iv.raw,
		Success:  res.Success,
		Details:  map[string]any{"stage": string(iv.stage)},
	}
	if event.Action == "" {
		event.Action = "unknown"
	}

	var rateErr *RateLimitedError
	switch {
	case res.Success:
		event.EventType = audit.EventTypeCommandExecuted
	case errors.As(res.Err, &rateErr):
		event.EventType = audit.EventTypeRateLimitHit
		event.Details["retry_after_seconds"] = res.RetryAfterSeconds
	case errors.Is(res.Err, ErrUnauthorized):
		event.EventType = audit.EventTypePermissionDenied
	default:
		event.EventType = audit.EventTypeCommandFailed
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}

	if err := d.auditor.Log(event); err != nil {
		logger.WarnCF("dispatcher", "Audit write failed", map[string]any{"error": err.Error()})
	}
}

func (d *Dispatcher) reply(actor Actor, severity bus.Severity, text string) {
	publish(d.feedback, bus.ToActor(actor.ID, text, severity, nil))
}

func firstWord(text string) string {
	fields := strings.FieldsFunc(text, unicode.IsSpace)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
