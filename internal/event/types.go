package event

// PermissionAskedData is the payload for permission.asked events.
type PermissionAskedData struct {
	ID       string `json:"id"`
	Tool     string `json:"tool"`
	Title    string `json:"title"`
	Pattern  string `json:"pattern,omitempty"`
	Backlog  int    `json:"backlog"`
	Metadata any    `json:"metadata,omitempty"`
}

// PermissionRepliedData is the payload for permission.replied events.
type PermissionRepliedData struct {
	ID       string `json:"id"`
	Response string `json:"response"` // "allow" | "always" | "deny" | "cancel"
}

// QueueStateData is the payload for queue.state events. Consumers disable
// ordinary input while Showing is true.
type QueueStateData struct {
	Showing bool `json:"showing"`
}

// ConfigChangedData is the payload for config.changed events.
type ConfigChangedData struct {
	Path string `json:"path"`
}

// FileEditedData is the payload for file.edited events.
type FileEditedData struct {
	File string `json:"file"`
}
