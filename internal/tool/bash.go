package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/opengate-ai/opengate/internal/permission"
)

const (
	DefaultBashTimeout = 120 * time.Second
	MaxBashTimeout     = 10 * time.Minute
	MaxOutputLength    = 30000
)

const bashDescription = `Executes a bash command.

Usage:
- Command is required
- Optional timeout in milliseconds (max 600000)
- Provide a brief description of what the command does
- Output is captured from stdout and stderr
- Commands are run with a process group for proper cleanup`

// BashTool executes shell commands through the permission gate. The raw
// command string is what gets matched against rules; when the command does
// not parse as shell, only an exact-string rule can trust it.
type BashTool struct {
	workDir string
	shell   string
	manager *permission.Manager
}

// BashInput represents the input for the bash tool.
type BashInput struct {
	Command     string `json:"command"`
	Timeout     int    `json:"timeout,omitempty"` // milliseconds
	Description string `json:"description,omitempty"`
}

// NewBashTool creates a new bash tool gated by the given manager.
func NewBashTool(workDir string, manager *permission.Manager) *BashTool {
	return &BashTool{
		workDir: workDir,
		shell:   detectShell(),
		manager: manager,
	}
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		// Exclude shells with incompatible -c semantics
		if s != "/bin/fish" && s != "/usr/bin/fish" &&
			s != "/bin/nu" && s != "/usr/bin/nu" {
			return s
		}
	}

	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}

	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *BashTool) ID() string          { return "Bash" }
func (t *BashTool) Description() string { return bashDescription }

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			},
			"description": {
				"type": "string",
				"description": "Brief description of what this command does"
			}
		},
		"required": ["command"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BashInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, invalidInput(err)
	}
	if params.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	if err := gate(ctx, t.manager, t.ID(), map[string]any{
		"command":     params.Command,
		"description": params.Description,
	}); err != nil {
		return nil, err
	}

	timeout := DefaultBashTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
		if timeout > MaxBashTimeout {
			timeout = MaxBashTimeout
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(cmdCtx, t.shell, "/c", params.Command)
	} else {
		cmd = exec.CommandContext(cmdCtx, t.shell, "-c", params.Command)
	}
	cmd.Dir = workDirOf(toolCtx, t.workDir)
	cmd.Env = os.Environ()

	// Process group so a timeout kills children too
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	toolCtx.SetMetadata(params.Description, map[string]any{
		"command":     params.Command,
		"description": params.Description,
	})

	output, err := cmd.CombinedOutput()
	timedOut := cmdCtx.Err() == context.DeadlineExceeded

	result := string(output)
	if len(result) > MaxOutputLength {
		result = result[:MaxOutputLength] + "\n\n(Output truncated)"
	}
	if timedOut {
		result += fmt.Sprintf("\n\n(Command timed out after %v)", timeout)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil && !timedOut {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			result += fmt.Sprintf("\n\nError: %v", err)
		}
	}

	title := params.Description
	if title == "" {
		title = params.Command
	}

	return &Result{
		Title:  title,
		Output: result,
		Metadata: map[string]any{
			"output":      result,
			"exit":        exitCode,
			"description": params.Description,
		},
	}, nil
}
