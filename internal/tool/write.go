package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opengate-ai/opengate/internal/event"
	"github.com/opengate-ai/opengate/internal/permission"
)

const writeDescription = `Writes content to a file on the local filesystem.

Usage:
- The filePath parameter must be an absolute path
- This tool will overwrite existing files
- Parent directories will be created if they don't exist
- ALWAYS prefer editing existing files over creating new ones`

// WriteTool writes files through the permission gate. The diff against the
// current content is computed before the check so it can be shown alongside
// the confirmation prompt; nothing is written until the check allows it.
type WriteTool struct {
	workDir string
	manager *permission.Manager
}

// WriteInput represents the input for the write tool.
type WriteInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// NewWriteTool creates a new write tool gated by the given manager.
func NewWriteTool(workDir string, manager *permission.Manager) *WriteTool {
	return &WriteTool{workDir: workDir, manager: manager}
}

func (t *WriteTool) ID() string          { return "Write" }
func (t *WriteTool) Description() string { return writeDescription }

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The absolute path to the file to write"
			},
			"content": {
				"type": "string",
				"description": "The content to write to the file"
			}
		},
		"required": ["filePath", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, invalidInput(err)
	}
	if params.FilePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	before, err := readExisting(params.FilePath)
	if err != nil {
		return nil, err
	}

	workDir := workDirOf(toolCtx, t.workDir)
	diff, additions, deletions := buildDiffMetadata(params.FilePath, before, params.Content, workDir)

	if err := gate(ctx, t.manager, t.ID(), map[string]any{
		"filePath": params.FilePath,
		"content":  params.Content,
		"diff":     diff,
	}); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(params.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(params.FilePath, []byte(params.Content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	event.Publish(event.Event{
		Type: event.FileEdited,
		Data: event.FileEditedData{File: params.FilePath},
	})

	return &Result{
		Title: fmt.Sprintf("Wrote %s", filepath.Base(params.FilePath)),
		Output: fmt.Sprintf("Successfully wrote %d bytes to %s",
			len(params.Content), params.FilePath),
		Metadata: map[string]any{
			"file":      params.FilePath,
			"bytes":     len(params.Content),
			"diff":      diff,
			"additions": additions,
			"deletions": deletions,
		},
	}, nil
}

// readExisting returns the current file content, or empty for a new file.
func readExisting(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read existing file: %w", err)
	}
	return string(data), nil
}
