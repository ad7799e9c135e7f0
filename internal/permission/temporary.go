package permission

import (
	"context"
	"sync"
)

// Controller grants temporary trust for the duration of one top-level
// response cycle. Workflow commands pre-authorize their declared tools by
// running the cycle through Run: rules are added before the cycle starts and
// cleared unconditionally when it ends, on success, error, and panic alike.
// Nested cycles (subtasks inside the same response) inherit the top-level
// grant without re-granting or prematurely revoking it.
type Controller struct {
	mu      sync.Mutex
	depth   int
	manager *Manager
}

// NewController creates a controller bound to a Manager.
func NewController(m *Manager) *Controller {
	return &Controller{manager: m}
}

// Depth returns the current cycle nesting depth.
func (c *Controller) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth
}

// Run executes fn as a response cycle. At depth zero the given rules become
// temporary rules for the cycle and are cleared when fn returns; at deeper
// levels fn runs untouched.
func (c *Controller) Run(ctx context.Context, rules []Rule, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	topLevel := c.depth == 0
	c.depth++
	c.mu.Unlock()

	if topLevel && len(rules) > 0 {
		c.manager.AddTemporaryRules(rules)
	}

	defer func() {
		c.mu.Lock()
		c.depth--
		c.mu.Unlock()
		if topLevel {
			c.manager.ClearTemporaryRules()
		}
	}()

	return fn(ctx)
}
