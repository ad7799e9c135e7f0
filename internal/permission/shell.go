package permission

import (
	"fmt"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ShellCommand is one simple command extracted from a shell string.
// A pipeline or list yields several.
type ShellCommand struct {
	Name       string   // executable as written, e.g. "git", "/usr/bin/rm"
	Args       []string // remaining words
	Subcommand string   // first non-flag argument, e.g. "commit" in "git commit"
}

// Base returns the executable's base name ("rm" for "/bin/rm").
func (c ShellCommand) Base() string {
	return filepath.Base(c.Name)
}

// ParseShell parses a shell command line into its constituent simple commands.
func ParseShell(command string) ([]ShellCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("parse shell command: %w", err)
	}

	var commands []ShellCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractCall(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

func extractCall(call *syntax.CallExpr) *ShellCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &ShellCommand{Name: wordText(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		text := wordText(arg)
		cmd.Args = append(cmd.Args, text)
		if cmd.Subcommand == "" && !strings.HasPrefix(text, "-") {
			cmd.Subcommand = text
		}
	}
	return cmd
}

// wordText flattens a shell word to text. Dynamic parts are kept as markers
// ($VAR, $()) so callers can detect that the word is not static.
func wordText(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				switch q := qp.(type) {
				case *syntax.Lit:
					sb.WriteString(q.Value)
				case *syntax.ParamExp:
					sb.WriteString("$" + q.Param.Value)
				case *syntax.CmdSubst:
					sb.WriteString("$()")
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// isDynamic reports whether a flattened word contains shell expansion markers.
func isDynamic(word string) bool {
	return strings.Contains(word, "$")
}
