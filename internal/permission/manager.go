package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opengate-ai/opengate/internal/logging"
)

// pendingWarnAfter is how long a confirmation may sit unanswered before the
// engine logs a liveness warning (e.g. no consumer is draining the queue).
const pendingWarnAfter = 30 * time.Second

// Authorizer is the capability interface for an embedding application's
// external authorization callback. The decided flag is false when the
// authorizer has no opinion and evaluation should continue.
type Authorizer interface {
	Authorize(ctx context.Context, tool string, input any) (decision Decision, decided bool, err error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, tool string, input any) (Decision, bool, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, tool string, input any) (Decision, bool, error) {
	return f(ctx, tool, input)
}

// NopAuthorizer never decides; it is the default when the embedding
// application supplies no callback.
type NopAuthorizer struct{}

func (NopAuthorizer) Authorize(context.Context, string, any) (Decision, bool, error) {
	return Decision{}, false, nil
}

// RulePersister stores a trust rule granted through "always allow".
type RulePersister interface {
	Persist(rule Rule) error
}

// Manager is the central permission decision point. Every restricted tool
// invocation flows through Check; undecidable requests are serialized on the
// ConfirmationQueue for human review.
type Manager struct {
	mu    sync.RWMutex
	mode  Mode
	allow []Rule
	deny  []Rule
	temp  []Rule

	authorizer Authorizer
	persister  RulePersister
	queue      *ConfirmationQueue
}

// Option configures a Manager.
type Option func(*Manager)

// WithMode sets the initial default permission mode.
func WithMode(mode Mode) Option {
	return func(m *Manager) { m.mode = mode }
}

// WithRules sets the initial persisted rule sets.
func WithRules(allow, deny []Rule) Option {
	return func(m *Manager) {
		m.allow = allow
		m.deny = deny
	}
}

// WithAuthorizer injects the external authorization callback.
func WithAuthorizer(a Authorizer) Option {
	return func(m *Manager) {
		if a != nil {
			m.authorizer = a
		}
	}
}

// WithPersister injects the store used when a human answers "always allow".
func WithPersister(p RulePersister) Option {
	return func(m *Manager) { m.persister = p }
}

// NewManager creates a Manager with an empty confirmation queue.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		mode:       ModeDefault,
		authorizer: NopAuthorizer{},
		queue:      NewConfirmationQueue(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Queue exposes the confirmation queue to its consumer surface.
func (m *Manager) Queue() *ConfirmationQueue {
	return m.queue
}

// Mode returns the currently-resolved default mode.
func (m *Manager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// UpdateDefaultMode reconfigures the default mode live (e.g. after a settings
// file change). It affects only future checks, never requests already queued.
func (m *Manager) UpdateDefaultMode(mode Mode) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
	logging.Info().Str("mode", string(mode)).Msg("permission mode updated")
}

// SetRules replaces the persisted rule sets (e.g. after a settings reload).
func (m *Manager) SetRules(allow, deny []Rule) {
	m.mu.Lock()
	m.allow = allow
	m.deny = deny
	m.mu.Unlock()
}

// AddTemporaryRules grants ephemeral trust for the current response cycle.
// Additive; duplicates are harmless.
func (m *Manager) AddTemporaryRules(rules []Rule) {
	m.mu.Lock()
	m.temp = append(m.temp, rules...)
	m.mu.Unlock()
}

// ClearTemporaryRules drops every temporary rule. Idempotent.
func (m *Manager) ClearTemporaryRules() {
	m.mu.Lock()
	m.temp = nil
	m.mu.Unlock()
}

// TemporaryRules returns a copy of the active temporary rule set.
func (m *Manager) TemporaryRules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Rule(nil), m.temp...)
}

// Check decides whether a tool invocation may proceed. Evaluation order:
// unrestricted tools, deny rules, temporary rules, allow rules (exact before
// glob), the external authorizer, the default mode, and finally the
// confirmation queue. Exactly one Decision is produced per request; a
// CanceledError is returned instead when the human dismisses the prompt, and
// ctx.Err() when the caller gives up first.
func (m *Manager) Check(ctx context.Context, tool string, input any) (Decision, error) {
	if !RestrictedTools[tool] {
		return Decision{Behavior: Allow}, nil
	}

	specifier := Specifier(tool, input)

	m.mu.RLock()
	mode := m.mode
	deny := m.deny
	temp := m.temp
	allow := m.allow
	m.mu.RUnlock()

	for _, rule := range deny {
		if ruleApplies(rule, tool, specifier) {
			return Decision{
				Behavior: Deny,
				Message:  fmt.Sprintf("blocked by deny rule %s", rule),
			}, nil
		}
	}

	for _, rule := range temp {
		if ruleApplies(rule, tool, specifier) {
			return Decision{Behavior: Allow}, nil
		}
	}

	for _, kind := range []RuleKind{KindExact, KindGlob} {
		for _, rule := range allow {
			if rule.Kind == kind && ruleApplies(rule, tool, specifier) {
				return Decision{Behavior: Allow}, nil
			}
		}
	}

	if decision, decided, ok := m.consultAuthorizer(ctx, tool, input); ok {
		if decided {
			return decision, nil
		}
	} else {
		return Decision{Behavior: Deny, Message: "authorization unavailable"}, nil
	}

	switch {
	case mode == ModeBypass:
		return Decision{Behavior: Allow}, nil
	case mode == ModeAccept && editShapedTools[tool]:
		return Decision{Behavior: Allow}, nil
	}

	return m.confirm(ctx, tool, input, specifier)
}

// consultAuthorizer runs the external callback, converting any error or panic
// into a failed consult (ok=false) instead of letting it crash the caller.
func (m *Manager) consultAuthorizer(ctx context.Context, tool string, input any) (decision Decision, decided, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Any("panic", r).Str("tool", tool).Msg("authorizer panicked")
			ok = false
		}
	}()

	decision, decided, err := m.authorizer.Authorize(ctx, tool, input)
	if err != nil {
		logging.Warn().Err(err).Str("tool", tool).Msg("authorizer failed")
		return Decision{}, false, false
	}
	if decided && decision.Behavior == Deny && decision.Message == "" {
		decision.Message = "denied by authorizer"
	}
	return decision, decided, true
}

// confirm enqueues a confirmation request and blocks until it is answered.
func (m *Manager) confirm(ctx context.Context, tool string, input any, specifier string) (Decision, error) {
	pattern, kind := trustSuggestion(tool, specifier)

	title := specifier
	if title == "" {
		title = tool
	}

	req := NewRequest(tool, input, title, pattern, kind)
	m.queue.Enqueue(req)

	warn := time.AfterFunc(pendingWarnAfter, func() {
		logging.Warn().
			Str("id", req.ID).
			Str("tool", tool).
			Msg("confirmation request still pending; is a consumer draining the queue?")
	})
	defer warn.Stop()

	select {
	case <-ctx.Done():
		m.queue.Abandon(req.ID)
		return Decision{}, ctx.Err()
	case resp := <-req.done:
		return m.applyResponse(tool, req, resp)
	}
}

func (m *Manager) applyResponse(tool string, req *Request, resp Response) (Decision, error) {
	switch resp.Action {
	case RespondAllow:
		return Decision{Behavior: Allow}, nil

	case RespondAlways:
		rule := Rule{Tool: tool, Pattern: req.TrustPattern, Kind: req.TrustKind, Scope: ScopeLocal}
		m.mu.Lock()
		m.allow = append(m.allow, rule)
		m.mu.Unlock()
		if m.persister != nil {
			if err := m.persister.Persist(rule); err != nil {
				logging.Warn().Err(err).Stringer("rule", rule).Msg("persisting trust rule failed")
			}
		}
		return Decision{Behavior: Allow}, nil

	case RespondCancel:
		return Decision{}, &CanceledError{Tool: tool}

	default: // RespondDeny and anything unrecognized
		message := resp.Message
		if message == "" {
			message = "permission denied by user"
		}
		return Decision{Behavior: Deny, Message: message}, nil
	}
}

// trustSuggestion picks the rule pattern offered for "always allow". Shell
// commands get a smart glob unless the base command is blacklisted; file
// tools and unmatchable commands fall back to the exact string.
func trustSuggestion(tool, specifier string) (string, RuleKind) {
	if tool == "Bash" {
		if pattern, ok := SmartPattern(specifier); ok {
			return pattern, KindGlob
		}
	}
	return specifier, KindExact
}

// ruleApplies reports whether a rule governs this tool and matches the
// specifier extracted from its input.
func ruleApplies(rule Rule, tool, specifier string) bool {
	if rule.Tool != tool && rule.Tool != "*" {
		return false
	}
	return MatchesRule(specifier, rule)
}

// Specifier extracts the matchable string from a tool's input: the command
// line for shell tools, the file path for file tools. Inputs may be typed
// maps or raw JSON straight from the model.
func Specifier(tool string, input any) string {
	fields := asMap(input)
	if fields == nil {
		if s, ok := input.(string); ok {
			return s
		}
		return ""
	}

	switch tool {
	case "Bash":
		if cmd, ok := fields["command"].(string); ok {
			return cmd
		}
	case "Write", "Edit", "Read":
		for _, key := range []string{"filePath", "file_path", "path"} {
			if p, ok := fields[key].(string); ok {
				return p
			}
		}
	}
	return ""
}

func asMap(input any) map[string]any {
	switch v := input.(type) {
	case map[string]any:
		return v
	case json.RawMessage:
		var fields map[string]any
		if err := json.Unmarshal(v, &fields); err == nil {
			return fields
		}
	case []byte:
		var fields map[string]any
		if err := json.Unmarshal(v, &fields); err == nil {
			return fields
		}
	}
	return nil
}
