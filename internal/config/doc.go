// Package config resolves opengate settings from scoped JSONC files and keeps
// them fresh while the process runs.
//
// # Scopes
//
// Three settings files participate, lowest precedence first:
//
//  1. User: ~/.config/opengate/settings.json (XDG compliant;
//     OPENGATE_CONFIG_DIR overrides the directory)
//  2. Project: <workdir>/.opengate/settings.json (shared, checked in)
//  3. Local: <workdir>/.opengate/settings.local.json (per-developer,
//     kept out of version control)
//
// All files use the same schema:
//
//	{
//	  "permissions": {
//	    "defaultMode": "default" | "acceptEdits" | "bypassPermissions",
//	    "allow": ["Bash(git commit *)", "Edit(src/**/*.go)"],
//	    "deny":  ["Bash(git push *)"]
//	  }
//	}
//
// Files are JSONC: comments are stripped with tidwall/jsonc before parsing.
//
// # Resolution
//
// The two halves of the configuration merge differently. defaultMode is a
// scalar override — the most specific scope that sets a valid value wins,
// and invalid values are skipped with a warning rather than masking a valid
// setting below them. The allow and deny rule lists are unioned across all
// scopes; each rule remembers the scope it came from.
//
// # Persistence
//
// PersistRule implements the write half of "always allow": it appends the
// rule to the settings file for its scope using a read-merge-write cycle
// under a package mutex, so concurrent grants merge instead of clobbering
// each other. Missing files and directories are created on demand.
//
// # Watching
//
// Watcher uses fsnotify on the user and project settings directories,
// debounces editor save bursts, re-resolves, publishes a config.changed
// event, and hands the new mode and rules to its callback. The permission
// manager applies them live without touching already-queued requests.
package config
