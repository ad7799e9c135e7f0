// Package command provides workflow command execution.
//
// Commands are markdown files under <workdir>/.opengate/command/. An optional
// YAML frontmatter block declares metadata; the rest of the file is a Go
// template rendered into the prompt for a response cycle:
//
//	---
//	description: Create a git commit
//	model: anthropic/claude-sonnet
//	allowed-tools:
//	  - Bash(git add *)
//	  - Bash(git commit *)
//	---
//	Commit the staged changes. Extra context: $input
//
// Subdirectories namespace commands (deploy/staging.md becomes
// "deploy:staging"). Templates see $input, positional $1..$n, --name=value
// arguments, env, and workDir.
//
// The allowed-tools entries use the same Tool(pattern) syntax as settings
// files. When a command runs, they become temporary rules for exactly that
// response cycle: granted before the cycle starts, inherited by nested
// subtasks, and cleared unconditionally when the cycle ends.
package command
