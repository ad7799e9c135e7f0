package permission

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// dangerousBases are shell base commands for which wildcard trust is never
// synthesized: deletion, privilege escalation, permission/ownership changes,
// raw shell invocation, and disk-device access. Repeats of these commands can
// only be trusted as exact strings.
var dangerousBases = map[string]bool{
	"rm":     true,
	"rmdir":  true,
	"unlink": true,
	"shred":  true,
	"dd":     true,
	"fdisk":  true,
	"parted": true,
	"sudo":   true,
	"su":     true,
	"doas":   true,
	"chmod":  true,
	"chown":  true,
	"chgrp":  true,
	"sh":     true,
	"bash":   true,
	"zsh":    true,
	"dash":   true,
	"ksh":    true,
	"fish":   true,
	"eval":   true,
	"exec":   true,
	"source": true,
}

// smartSubcommandTools are executables whose first subcommand is a stable,
// recurring token worth keeping in a synthesized trust pattern
// ("git commit *" rather than "git *").
var smartSubcommandTools = map[string]bool{
	"git":       true,
	"npm":       true,
	"npx":       true,
	"pnpm":      true,
	"yarn":      true,
	"go":        true,
	"cargo":     true,
	"make":      true,
	"docker":    true,
	"kubectl":   true,
	"helm":      true,
	"terraform": true,
	"pip":       true,
	"pip3":      true,
	"bundle":    true,
	"mvn":       true,
	"gradle":    true,
	"apt":       true,
	"apt-get":   true,
	"brew":      true,
}

// IsDangerousBase reports whether any constituent command of a shell string
// has a blacklisted executable. Unparseable commands are treated as dangerous.
func IsDangerousBase(command string) bool {
	commands, err := ParseShell(command)
	if err != nil || len(commands) == 0 {
		return true
	}
	for _, cmd := range commands {
		base := cmd.Base()
		if dangerousBases[base] || strings.HasPrefix(base, "mkfs") {
			return true
		}
	}
	return false
}

// SmartPattern synthesizes a reusable trust pattern from a single trusted
// command: the executable, plus the subcommand for tools where that token
// recurs, plus a trailing "*". It refuses (ok=false) for dangerous bases,
// compound or unparseable commands, and commands whose prefix tokens contain
// shell expansions; callers must then fall back to exact-string trust.
func SmartPattern(command string) (string, bool) {
	if IsDangerousBase(command) {
		return "", false
	}

	commands, err := ParseShell(command)
	if err != nil || len(commands) != 1 {
		return "", false
	}

	cmd := commands[0]
	if isDynamic(cmd.Name) {
		return "", false
	}

	if smartSubcommandTools[cmd.Base()] && cmd.Subcommand != "" && !isDynamic(cmd.Subcommand) {
		return cmd.Name + " " + cmd.Subcommand + " *", true
	}
	return cmd.Name + " *", true
}

// MatchesRule reports whether a command (or file path, for edit-shaped tools)
// matches a stored rule. Exact rules are literal string equality. Glob rules
// are anchored: the pattern must cover the whole string, with "*" matching
// any run of characters at any position.
func MatchesRule(s string, rule Rule) bool {
	if rule.Kind == KindExact {
		return rule.Pattern == s
	}
	return matchGlob(rule.Pattern, s)
}

// matchGlob is the anchored wildcard matcher. Patterns containing "**" are
// path patterns (e.g. "src/**/*.go") and delegate to doublestar, where "*"
// stays within a path segment; plain patterns treat "*" as any run of
// characters.
func matchGlob(pattern, s string) bool {
	if strings.Contains(pattern, "**") {
		ok, err := doublestar.Match(pattern, s)
		return err == nil && ok
	}

	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]

	for i := 1; i < len(segments)-1; i++ {
		idx := strings.Index(s, segments[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(segments[i]):]
	}

	last := segments[len(segments)-1]
	return len(s) >= len(last) && strings.HasSuffix(s, last)
}
