package command

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengate-ai/opengate/internal/config"
	"github.com/opengate-ai/opengate/internal/permission"
)

func writeCommand(t *testing.T, workdir, name, content string) {
	t.Helper()
	path := filepath.Join(config.CommandDir(workdir), name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestExecutor(t *testing.T, workdir string) (*Executor, *permission.Manager) {
	t.Helper()
	manager := permission.NewManager()
	controller := permission.NewController(manager)
	return NewExecutor(workdir, controller), manager
}

func TestLoadsCommandsWithFrontmatter(t *testing.T) {
	workdir := t.TempDir()
	writeCommand(t, workdir, "commit.md", `---
description: Create a git commit
model: anthropic/claude-sonnet
allowed-tools:
  - Bash(git add *)
  - Bash(git commit *)
---
Commit the staged changes.`)

	e, _ := newTestExecutor(t, workdir)

	cmd, ok := e.Get("commit")
	require.True(t, ok)
	assert.Equal(t, "Create a git commit", cmd.Description)
	assert.Equal(t, "anthropic/claude-sonnet", cmd.Model)
	assert.Equal(t, []string{"Bash(git add *)", "Bash(git commit *)"}, cmd.AllowedTools)
	assert.Equal(t, "Commit the staged changes.", cmd.Template)
}

func TestLoadsCommandWithoutFrontmatter(t *testing.T) {
	workdir := t.TempDir()
	writeCommand(t, workdir, "review.md", "Review the open diff.")

	e, _ := newTestExecutor(t, workdir)

	cmd, ok := e.Get("review")
	require.True(t, ok)
	assert.Empty(t, cmd.AllowedTools)
	assert.Equal(t, "Review the open diff.", cmd.Template)
}

func TestNamespacedCommandNames(t *testing.T) {
	workdir := t.TempDir()
	writeCommand(t, workdir, filepath.Join("deploy", "staging.md"), "Deploy to staging.")

	e, _ := newTestExecutor(t, workdir)

	_, ok := e.Get("deploy:staging")
	assert.True(t, ok)
}

func TestExecuteExpandsArguments(t *testing.T) {
	workdir := t.TempDir()
	writeCommand(t, workdir, "fix.md", "Fix issue $1 with priority ${priority}. Full request: $input")

	e, _ := newTestExecutor(t, workdir)

	result, err := e.Execute(context.Background(), "fix", "GH-42 --priority=high")
	require.NoError(t, err)
	assert.Contains(t, result.Prompt, "Fix issue GH-42")
	assert.Contains(t, result.Prompt, "priority high")
	assert.Contains(t, result.Prompt, "GH-42 --priority=high")
}

func TestExecuteUnknownCommand(t *testing.T) {
	e, _ := newTestExecutor(t, t.TempDir())
	_, err := e.Execute(context.Background(), "missing", "")
	assert.Error(t, err)
}

func TestRunGrantsAllowedToolsForCycle(t *testing.T) {
	workdir := t.TempDir()
	writeCommand(t, workdir, "test.md", `---
allowed-tools:
  - Bash(go test *)
---
Run the test suite.`)

	e, manager := newTestExecutor(t, workdir)

	ran := false
	_, err := e.Run(context.Background(), "test", "", func(ctx context.Context, prompt string) error {
		ran = true
		assert.Equal(t, "Run the test suite.", prompt)

		// The declared tools are trusted inside the cycle without prompting.
		decision, err := manager.Check(ctx, "Bash", map[string]any{"command": "go test ./..."})
		require.NoError(t, err)
		assert.Equal(t, permission.Allow, decision.Behavior)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// The grant ends with the cycle.
	assert.Empty(t, manager.TemporaryRules())
}

func TestRunClearsGrantOnError(t *testing.T) {
	workdir := t.TempDir()
	writeCommand(t, workdir, "lint.md", `---
allowed-tools:
  - Bash(make lint)
---
Lint.`)

	e, manager := newTestExecutor(t, workdir)

	sentinel := errors.New("model failed")
	_, err := e.Run(context.Background(), "lint", "", func(ctx context.Context, prompt string) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Empty(t, manager.TemporaryRules())
}

func TestRunSkipsMalformedAllowedTools(t *testing.T) {
	workdir := t.TempDir()
	writeCommand(t, workdir, "mixed.md", `---
allowed-tools:
  - "Bash(unclosed"
  - Bash(git status)
---
Check status.`)

	e, manager := newTestExecutor(t, workdir)

	_, err := e.Run(context.Background(), "mixed", "", func(ctx context.Context, prompt string) error {
		rules := manager.TemporaryRules()
		require.Len(t, rules, 1)
		assert.Equal(t, "git status", rules[0].Pattern)
		return nil
	})
	require.NoError(t, err)
}

func TestReload(t *testing.T) {
	workdir := t.TempDir()
	e, _ := newTestExecutor(t, workdir)
	assert.Empty(t, e.List())

	writeCommand(t, workdir, "new.md", "New command.")
	e.Reload()
	assert.Len(t, e.List(), 1)
}
