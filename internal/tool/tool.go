// Package tool provides the gated tool framework: every mutating tool runs
// its invocation through the permission manager before touching the system.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opengate-ai/opengate/internal/permission"
)

// Tool defines the interface for all tools.
type Tool interface {
	// ID returns the tool identifier. Restricted tools use the same names
	// that appear in permission rules (Bash, Write, Edit).
	ID() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Execute executes the tool with the given input.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// Context provides execution context to tools.
type Context struct {
	CallID  string
	WorkDir string

	// Metadata callback for real-time updates.
	OnMetadata func(title string, meta map[string]any)
}

// SetMetadata updates tool execution metadata.
func (c *Context) SetMetadata(title string, meta map[string]any) {
	if c != nil && c.OnMetadata != nil {
		c.OnMetadata(title, meta)
	}
}

// Result represents the output of a tool execution.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// gate asks the permission manager for a decision and converts a deny into a
// RejectedError carrying the decision message. Cancellation and context
// errors pass through unchanged so callers can tell "stop the batch" apart
// from "tell the model no".
func gate(ctx context.Context, manager *permission.Manager, toolName string, input any) error {
	if manager == nil {
		return nil
	}
	decision, err := manager.Check(ctx, toolName, input)
	if err != nil {
		return err
	}
	if decision.Behavior == permission.Deny {
		return &permission.RejectedError{Tool: toolName, Message: decision.Message}
	}
	return nil
}

// workDirOf resolves the effective working directory for an invocation.
func workDirOf(toolCtx *Context, fallback string) string {
	if toolCtx != nil && toolCtx.WorkDir != "" {
		return toolCtx.WorkDir
	}
	return fallback
}

func invalidInput(err error) error {
	return fmt.Errorf("invalid input: %w", err)
}
