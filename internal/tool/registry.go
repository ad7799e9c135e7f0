package tool

import (
	"sort"
	"sync"

	"github.com/opengate-ai/opengate/internal/logging"
	"github.com/opengate-ai/opengate/internal/permission"
)

// Registry manages tool registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	workDir string
}

// NewRegistry creates a new tool registry.
func NewRegistry(workDir string) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		workDir: workDir,
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logging.Debug().Str("tool", tool.ID()).Msg("registering tool")
	r.tools[tool.ID()] = tool
}

// Get retrieves a tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	return tools
}

// IDs returns all tool IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultRegistry creates a registry with all built-in tools, gated by the
// given permission manager.
func DefaultRegistry(workDir string, manager *permission.Manager) *Registry {
	r := NewRegistry(workDir)
	r.Register(NewReadTool(workDir))
	r.Register(NewWriteTool(workDir, manager))
	r.Register(NewEditTool(workDir, manager))
	r.Register(NewBashTool(workDir, manager))
	return r
}
