// Package permission implements the tool permission and trust engine: for
// every tool invocation an AI model requests it decides whether the call may
// run immediately, must be rejected, or needs a human decision.
//
// # Overview
//
// The engine is built from four cooperating pieces:
//
//   - Manager: the single decision point. Check evaluates, in fixed order,
//     the restricted-tool set, deny rules, temporary rules, persisted allow
//     rules (exact before glob), an optional external Authorizer, and the
//     default Mode, falling through to the ConfirmationQueue only when
//     nothing earlier decides.
//   - ConfirmationQueue: serializes human review. Any number of checks may
//     be in flight concurrently, but the consumer surface sees exactly one
//     pending request at a time, FIFO by arrival.
//   - Pattern matching: anchored wildcard matching of commands and file
//     paths against stored rules, plus SmartPattern, which turns a single
//     trusted command into a reusable glob ("npm install lodash" becomes
//     "npm install *").
//   - Controller: ephemeral trust for one response cycle, used by workflow
//     commands that pre-authorize specific tools.
//
// # Decisions
//
// Check always produces exactly one answer per request:
//
//	decision, err := manager.Check(ctx, "Bash", input)
//	switch {
//	case permission.IsCanceled(err):
//		// human dismissed the prompt; halt the batch
//	case err != nil:
//		// caller's context expired
//	case decision.Behavior == permission.Deny:
//		// decision.Message explains why
//	}
//
// A cancellation is deliberately distinct from a deny: a deny carries a
// message for the model, a cancel means the human wants the whole batch of
// gated calls stopped.
//
// # Trust patterns
//
// When a human answers "always allow", the surfaced request carries a
// suggested trust pattern. For shell commands the pattern is synthesized by
// SmartPattern: the executable plus a recurring subcommand plus a trailing
// wildcard. Base commands on the dangerous blacklist (rm, sudo, chmod, dd,
// raw shells, ...) never receive a glob; only the exact command string can be
// trusted for them.
//
// # Rule overlap
//
// Deny rules are evaluated before allow rules, so a command matching both is
// denied. More-specific patterns have no special priority; the first stage
// that matches wins.
//
// # Concurrency
//
// All types are safe for concurrent use. Check blocks only when a request
// reaches the queue; every earlier stage is non-blocking apart from the
// injected Authorizer, whose errors and panics are converted into deny
// decisions rather than propagated.
package permission
