package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opengate-ai/opengate/internal/event"
	"github.com/opengate-ai/opengate/internal/permission"
)

const editDescription = `Performs exact string replacements in files.

Usage:
- The filePath parameter must be an absolute path
- The oldString must exist in the file (exact match required)
- The newString will replace oldString
- Use replaceAll to replace all occurrences
- The edit will FAIL if oldString is not unique (unless using replaceAll)`

// EditTool performs in-place string replacement through the permission gate.
// The replacement is computed and diffed before the check; the file is only
// rewritten once the check allows it.
type EditTool struct {
	workDir string
	manager *permission.Manager
}

// EditInput represents the input for the edit tool.
type EditInput struct {
	FilePath   string `json:"filePath"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

// NewEditTool creates a new edit tool gated by the given manager.
func NewEditTool(workDir string, manager *permission.Manager) *EditTool {
	return &EditTool{workDir: workDir, manager: manager}
}

func (t *EditTool) ID() string          { return "Edit" }
func (t *EditTool) Description() string { return editDescription }

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The absolute path to the file to edit"
			},
			"oldString": {
				"type": "string",
				"description": "The exact text to replace"
			},
			"newString": {
				"type": "string",
				"description": "The text to replace it with"
			},
			"replaceAll": {
				"type": "boolean",
				"description": "Replace all occurrences (default: false)"
			}
		},
		"required": ["filePath", "oldString", "newString"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, invalidInput(err)
	}
	if params.OldString == params.NewString {
		return nil, fmt.Errorf("oldString and newString must be different")
	}

	content, err := os.ReadFile(params.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	text := string(content)

	newText, count, err := replace(text, params)
	if err != nil {
		return nil, err
	}

	workDir := workDirOf(toolCtx, t.workDir)
	diff, additions, deletions := buildDiffMetadata(params.FilePath, text, newText, workDir)

	if err := gate(ctx, t.manager, t.ID(), map[string]any{
		"filePath":  params.FilePath,
		"oldString": params.OldString,
		"newString": params.NewString,
		"diff":      diff,
	}); err != nil {
		return nil, err
	}

	if err := os.WriteFile(params.FilePath, []byte(newText), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	event.Publish(event.Event{
		Type: event.FileEdited,
		Data: event.FileEditedData{File: params.FilePath},
	})

	return &Result{
		Title:  fmt.Sprintf("Edited %s", filepath.Base(params.FilePath)),
		Output: fmt.Sprintf("Replaced %d occurrence(s)", count),
		Metadata: map[string]any{
			"file":         params.FilePath,
			"replacements": count,
			"diff":         diff,
			"additions":    additions,
			"deletions":    deletions,
		},
	}, nil
}

// replace applies the requested substitution, falling back to line-ending
// normalization when the exact string is not found.
func replace(text string, params EditInput) (string, int, error) {
	count := strings.Count(text, params.OldString)
	if count == 0 {
		normalizedOld := normalizeLineEndings(params.OldString)
		normalizedText := normalizeLineEndings(text)
		if strings.Contains(normalizedText, normalizedOld) {
			return strings.Replace(normalizedText, normalizedOld, params.NewString, 1), 1, nil
		}
		return "", 0, fmt.Errorf("oldString not found in file. The content may have changed or the string doesn't exist")
	}

	if params.ReplaceAll {
		return strings.ReplaceAll(text, params.OldString, params.NewString), count, nil
	}
	if count > 1 {
		return "", 0, fmt.Errorf("oldString appears %d times in file. Use replaceAll or provide more context", count)
	}
	return strings.Replace(text, params.OldString, params.NewString, 1), 1, nil
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
