package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Mode is the process-wide default permission mode.
type Mode string

const (
	ModeDefault Mode = "default"
	ModeBypass  Mode = "bypassPermissions"
	ModeAccept  Mode = "acceptEdits"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeDefault, ModeBypass, ModeAccept:
		return Mode(s), true
	}
	return ModeDefault, false
}

// Behavior is the outcome of a permission decision.
type Behavior string

const (
	Allow Behavior = "allow"
	Deny  Behavior = "deny"
)

// Decision is the immutable answer to a single tool-invocation request.
// Message is always set when Behavior is Deny; it carries either the matched
// rule, the authorizer's reason, or the human's typed alternative instructions.
type Decision struct {
	Behavior Behavior `json:"behavior"`
	Message  string   `json:"message,omitempty"`
}

// RuleKind distinguishes literal rules from wildcard rules.
type RuleKind string

const (
	KindExact RuleKind = "exact"
	KindGlob  RuleKind = "glob"
)

// Scope is the configuration tier a persisted rule belongs to.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeProject Scope = "project"
	ScopeLocal   Scope = "local"
)

// Rule trusts or blocks a pattern for one tool. Temporary rules carry an
// empty Scope and are never persisted.
type Rule struct {
	Tool    string   `json:"tool"`
	Pattern string   `json:"pattern"`
	Kind    RuleKind `json:"kind"`
	Scope   Scope    `json:"scope,omitempty"`
}

// String renders the rule in the settings-file form, e.g. "Bash(git commit *)".
// The form is kind-faithful: a literal "*" inside an exact pattern is written
// as "\*" so the rule reloads as exact, never as a wildcard. An exact rule
// trusting "rm -rf *" must not come back from disk matching every rm.
func (r Rule) String() string {
	pattern := r.Pattern
	if r.Kind == KindExact && strings.ContainsAny(pattern, `*\`) {
		pattern = strings.ReplaceAll(pattern, `\`, `\\`)
		pattern = strings.ReplaceAll(pattern, "*", `\*`)
	}
	return fmt.Sprintf("%s(%s)", r.Tool, pattern)
}

// ParseRule parses a settings-file rule string like "Bash(npm run *)".
// A bare tool name ("WebFetch") becomes a match-everything glob for that
// tool; "Tool()" is an exact rule with an empty specifier. A pattern whose
// every "*" is escaped as "\*" is exact, with the escapes resolved.
func ParseRule(s string, scope Scope) (Rule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rule{}, fmt.Errorf("empty rule")
	}

	rule := Rule{Scope: scope}
	if idx := strings.Index(s, "("); idx > 0 && strings.HasSuffix(s, ")") {
		rule.Tool = s[:idx]
		rule.Pattern = s[idx+1 : len(s)-1]
	} else if strings.ContainsAny(s, "()") {
		return Rule{}, fmt.Errorf("malformed rule %q", s)
	} else {
		rule.Tool = s
		rule.Pattern = "*"
	}

	if rule.Tool == "" {
		return Rule{}, fmt.Errorf("malformed rule %q", s)
	}
	if containsUnescapedStar(rule.Pattern) {
		rule.Kind = KindGlob
	} else {
		rule.Kind = KindExact
		rule.Pattern = unescapePattern(rule.Pattern)
	}
	return rule, nil
}

// containsUnescapedStar reports whether the pattern has a "*" that is not
// preceded by a backslash escape.
func containsUnescapedStar(pattern string) bool {
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*':
			return true
		}
	}
	return false
}

// unescapePattern resolves "\*" and "\\" sequences in an exact pattern.
// Any other backslash passes through untouched, so hand-written Windows
// paths keep their meaning.
func unescapePattern(pattern string) string {
	if !strings.Contains(pattern, `\`) {
		return pattern
	}
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '\\' && i+1 < len(pattern) && (pattern[i+1] == '*' || pattern[i+1] == '\\') {
			b.WriteByte(pattern[i+1])
			i++
			continue
		}
		b.WriteByte(pattern[i])
	}
	return b.String()
}

// RestrictedTools is the fixed set of tools ever eligible for confirmation.
// Tools outside this set always auto-allow.
var RestrictedTools = map[string]bool{
	"Bash":  true,
	"Write": true,
	"Edit":  true,
}

// editShapedTools are the file-mutating tools auto-allowed under acceptEdits.
var editShapedTools = map[string]bool{
	"Write": true,
	"Edit":  true,
}

// RejectedError is returned by tool gateways when a check denies execution.
type RejectedError struct {
	Tool    string
	Message string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// CanceledError is returned when the human dismisses a confirmation without
// deciding (e.g. ESC). It is distinct from a deny so the gateway can halt the
// whole batch instead of feeding a reason back to the model.
type CanceledError struct {
	Tool string
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("permission request for %s canceled", e.Tool)
}

// IsCanceled checks whether an error is a confirmation cancellation.
func IsCanceled(err error) bool {
	var canceled *CanceledError
	return errors.As(err, &canceled)
}
