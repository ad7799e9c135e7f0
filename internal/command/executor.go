package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/opengate-ai/opengate/internal/config"
	"github.com/opengate-ai/opengate/internal/logging"
	"github.com/opengate-ai/opengate/internal/permission"
)

// Command represents a parsed workflow command ready for execution.
type Command struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Template     string   `json:"template"`
	Model        string   `json:"model,omitempty"`
	Source       string   `json:"source,omitempty"`
	AllowedTools []string `json:"allowedTools,omitempty"`
}

// frontmatter is the YAML header of a command definition file.
type frontmatter struct {
	Description  string   `yaml:"description"`
	Model        string   `yaml:"model"`
	AllowedTools []string `yaml:"allowed-tools"`
}

// ExecuteResult represents a rendered command.
type ExecuteResult struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	CommandName string `json:"commandName"`
}

// RunFunc is the response cycle a command drives: it receives the rendered
// prompt and runs the model turn, including any tool calls.
type RunFunc func(ctx context.Context, prompt string) error

// Executor loads workflow commands and runs them with their declared tools
// temporarily trusted.
type Executor struct {
	workDir    string
	commands   map[string]*Command
	controller *permission.Controller
}

// NewExecutor creates an executor and loads command definitions from
// <workdir>/.opengate/command/.
func NewExecutor(workDir string, controller *permission.Controller) *Executor {
	e := &Executor{
		workDir:    workDir,
		commands:   make(map[string]*Command),
		controller: controller,
	}
	e.loadFromFiles()
	return e
}

// loadFromFiles loads markdown command definitions. Subdirectories become
// namespaces: deploy/staging.md is the command "deploy:staging".
func (e *Executor) loadFromFiles() {
	commandDir := config.CommandDir(e.workDir)
	if _, err := os.Stat(commandDir); os.IsNotExist(err) {
		return
	}

	_ = filepath.Walk(commandDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}

		cmd, parseErr := parseMarkdownCommand(path)
		if parseErr != nil {
			logging.Warn().Err(parseErr).Str("path", path).Msg("skipping unparseable command file")
			return nil
		}

		relPath, _ := filepath.Rel(commandDir, path)
		name := strings.TrimSuffix(relPath, ".md")
		name = strings.ReplaceAll(name, string(filepath.Separator), ":")

		cmd.Name = name
		cmd.Source = "file"
		e.commands[name] = cmd
		return nil
	})
}

// parseMarkdownCommand splits an optional YAML frontmatter block from the
// template body.
func parseMarkdownCommand(path string) (*Command, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cmd := &Command{}
	text := string(content)

	if rest, ok := strings.CutPrefix(text, "---\n"); ok {
		head, body, found := strings.Cut(rest, "\n---")
		if !found {
			return nil, fmt.Errorf("unterminated frontmatter in %s", path)
		}
		var meta frontmatter
		if err := yaml.Unmarshal([]byte(head), &meta); err != nil {
			return nil, fmt.Errorf("frontmatter in %s: %w", path, err)
		}
		cmd.Description = meta.Description
		cmd.Model = meta.Model
		cmd.AllowedTools = meta.AllowedTools
		cmd.Template = strings.TrimSpace(strings.TrimPrefix(body, "\n"))
		return cmd, nil
	}

	cmd.Template = strings.TrimSpace(text)
	return cmd, nil
}

// List returns all available commands.
func (e *Executor) List() []*Command {
	commands := make([]*Command, 0, len(e.commands))
	for _, cmd := range e.commands {
		commands = append(commands, cmd)
	}
	return commands
}

// Get returns a specific command by name.
func (e *Executor) Get(name string) (*Command, bool) {
	cmd, ok := e.commands[name]
	return cmd, ok
}

// Reload re-reads the command directory.
func (e *Executor) Reload() {
	e.commands = make(map[string]*Command)
	e.loadFromFiles()
}

// Execute renders a command's template with the given arguments.
func (e *Executor) Execute(ctx context.Context, name string, args string) (*ExecuteResult, error) {
	cmd, ok := e.commands[name]
	if !ok {
		return nil, fmt.Errorf("command not found: %s", name)
	}

	templateCtx := e.buildTemplateContext(parseArguments(args))
	prompt, err := executeTemplate(cmd.Template, templateCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	return &ExecuteResult{
		Prompt:      prompt,
		Model:       cmd.Model,
		CommandName: cmd.Name,
	}, nil
}

// Run renders the command and drives fn as a response cycle with the
// command's allowed-tools granted as temporary rules. The grant is cleared
// when fn returns, whatever the outcome.
func (e *Executor) Run(ctx context.Context, name, args string, fn RunFunc) (*ExecuteResult, error) {
	result, err := e.Execute(ctx, name, args)
	if err != nil {
		return nil, err
	}

	cmd := e.commands[name]
	rules := e.allowedRules(cmd)

	if err := e.controller.Run(ctx, rules, func(ctx context.Context) error {
		return fn(ctx, result.Prompt)
	}); err != nil {
		return result, err
	}
	return result, nil
}

// allowedRules parses the command's allowed-tools entries into temporary
// rules, skipping malformed ones.
func (e *Executor) allowedRules(cmd *Command) []permission.Rule {
	rules := make([]permission.Rule, 0, len(cmd.AllowedTools))
	for _, entry := range cmd.AllowedTools {
		rule, err := permission.ParseRule(entry, permission.ScopeLocal)
		if err != nil {
			logging.Warn().
				Str("command", cmd.Name).
				Str("entry", entry).
				Err(err).
				Msg("skipping malformed allowed-tools entry")
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

// parseArguments parses command arguments: the full string as $input,
// whitespace fields as $1..$n, and --name=value pairs by name.
func parseArguments(args string) map[string]string {
	result := make(map[string]string)
	result["input"] = strings.TrimSpace(args)

	parts := strings.Fields(args)
	for i, part := range parts {
		result[fmt.Sprintf("%d", i+1)] = part
	}

	namedRe := regexp.MustCompile(`--(\w+)(?:=(\S+)|(?:\s+(\S+))?)`)
	for _, match := range namedRe.FindAllStringSubmatch(args, -1) {
		name := match[1]
		value := match[2]
		if value == "" {
			value = match[3]
		}
		if value == "" {
			value = "true"
		}
		result[name] = value
	}

	return result
}

func (e *Executor) buildTemplateContext(args map[string]string) map[string]any {
	ctx := make(map[string]any)
	ctx["args"] = args
	ctx["input"] = args["input"]

	for k, v := range args {
		if _, err := fmt.Sscanf(k, "%d", new(int)); err == nil {
			ctx[k] = v
		}
	}

	ctx["env"] = envMap()
	ctx["workDir"] = e.workDir
	return ctx
}

// executeTemplate renders a Go template, falling back to simple variable
// expansion when the body is not a valid template.
func executeTemplate(tmplStr string, ctx map[string]any) (string, error) {
	tmplStr = expandSimpleVariables(tmplStr, ctx)

	tmpl, err := template.New("command").Funcs(templateFuncs()).Parse(tmplStr)
	if err != nil {
		return tmplStr, nil
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return tmplStr, nil
	}
	return buf.String(), nil
}

// expandSimpleVariables expands ${var} and $var syntax.
func expandSimpleVariables(s string, ctx map[string]any) string {
	lookup := func(name string) (string, bool) {
		if val, ok := ctx[name]; ok {
			return fmt.Sprint(val), true
		}
		if args, ok := ctx["args"].(map[string]string); ok {
			if val, ok := args[name]; ok {
				return val, true
			}
		}
		return "", false
	}

	braceRe := regexp.MustCompile(`\$\{(\w+)\}`)
	s = braceRe.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := lookup(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})

	bareRe := regexp.MustCompile(`\$(\w+)`)
	return bareRe.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := lookup(match[1:]); ok {
			return val
		}
		return match
	})
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"env": os.Getenv,
		"default": func(defaultVal, val string) string {
			if val == "" {
				return defaultVal
			}
			return val
		},
		"trim":    strings.TrimSpace,
		"upper":   strings.ToUpper,
		"lower":   strings.ToLower,
		"replace": strings.ReplaceAll,
		"split":   strings.Split,
		"join":    strings.Join,
	}
}

func envMap() map[string]string {
	env := make(map[string]string)
	for _, entry := range os.Environ() {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return env
}
