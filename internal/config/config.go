package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"

	"github.com/opengate-ai/opengate/internal/logging"
	"github.com/opengate-ai/opengate/internal/permission"
)

// Permissions is the permissions block of a settings file.
type Permissions struct {
	DefaultMode string   `json:"defaultMode,omitempty"`
	Allow       []string `json:"allow,omitempty"`
	Deny        []string `json:"deny,omitempty"`
}

// Settings is the on-disk settings schema. Settings files are JSONC; comments
// are stripped before parsing.
type Settings struct {
	Permissions *Permissions `json:"permissions,omitempty"`
}

type scopeFile struct {
	path  string
	scope permission.Scope
}

// persistMu serializes read-merge-write cycles so concurrent "always allow"
// answers cannot clobber each other's writes.
var persistMu sync.Mutex

// scopeFiles returns the settings files lowest precedence first: user,
// project, then project-local.
func scopeFiles(workdir string) []scopeFile {
	return []scopeFile{
		{UserSettingsPath(), permission.ScopeUser},
		{ProjectSettingsPath(workdir), permission.ScopeProject},
		{LocalSettingsPath(workdir), permission.ScopeLocal},
	}
}

// readSettings parses one settings file. A missing file yields (nil, nil).
func readSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var settings Settings
	if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &settings, nil
}

// ResolveDefaultMode resolves the default permission mode for a working
// directory. The mode is a scalar override: the most specific scope that sets
// a valid value wins. Invalid values are logged and skipped so a typo in one
// file cannot silently change behavior. A CLI-level override, when present,
// is applied by the caller and never reaches this function.
func ResolveDefaultMode(workdir string) permission.Mode {
	mode := permission.ModeDefault
	for _, f := range scopeFiles(workdir) {
		settings, err := readSettings(f.path)
		if err != nil {
			logging.Warn().Err(err).Str("path", f.path).Msg("skipping unreadable settings file")
			continue
		}
		if settings == nil || settings.Permissions == nil || settings.Permissions.DefaultMode == "" {
			continue
		}
		parsed, ok := permission.ParseMode(settings.Permissions.DefaultMode)
		if !ok {
			logging.Warn().
				Str("path", f.path).
				Str("value", settings.Permissions.DefaultMode).
				Msg("unknown defaultMode ignored")
			continue
		}
		mode = parsed
	}
	return mode
}

// ResolveRules gathers the allow and deny rule lists for a working directory.
// Unlike the mode, rule lists are unioned across every scope. Malformed
// entries are logged and skipped, never fatal.
func ResolveRules(workdir string) (allow, deny []permission.Rule) {
	for _, f := range scopeFiles(workdir) {
		settings, err := readSettings(f.path)
		if err != nil {
			logging.Warn().Err(err).Str("path", f.path).Msg("skipping unreadable settings file")
			continue
		}
		if settings == nil || settings.Permissions == nil {
			continue
		}
		allow = append(allow, parseRuleList(settings.Permissions.Allow, f)...)
		deny = append(deny, parseRuleList(settings.Permissions.Deny, f)...)
	}
	return allow, deny
}

// Resolve reads mode and rules in one pass. Used by the watcher after a
// settings file changes.
func Resolve(workdir string) (permission.Mode, []permission.Rule, []permission.Rule) {
	mode := ResolveDefaultMode(workdir)
	allow, deny := ResolveRules(workdir)
	return mode, allow, deny
}

func parseRuleList(entries []string, f scopeFile) []permission.Rule {
	rules := make([]permission.Rule, 0, len(entries))
	for _, entry := range entries {
		rule, err := permission.ParseRule(entry, f.scope)
		if err != nil {
			logging.Warn().
				Str("path", f.path).
				Str("entry", entry).
				Err(err).
				Msg("skipping malformed rule")
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

// PersistRule appends an allow rule to the settings file for its scope,
// creating the file if needed. The file is re-read under the package mutex
// right before writing so concurrent persists merge instead of overwriting.
// The merge goes through a raw document rather than the Settings struct so
// top-level keys this package does not model survive the rewrite; JSONC
// comments do not, which is logged when it happens.
func PersistRule(workdir string, rule permission.Rule) error {
	persistMu.Lock()
	defer persistMu.Unlock()

	path := pathForScope(workdir, rule.Scope)

	doc := map[string]any{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		stripped := jsonc.ToJSON(raw)
		if err := json.Unmarshal(stripped, &doc); err != nil {
			// Refuse to overwrite a file we cannot parse.
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if !bytes.Equal(raw, stripped) {
			logging.Warn().Str("path", path).Msg("rewriting settings file drops its comments")
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return err
	}

	perms, ok := doc["permissions"].(map[string]any)
	if doc["permissions"] != nil && !ok {
		return fmt.Errorf("parse %s: permissions is not an object", path)
	}
	if perms == nil {
		perms = map[string]any{}
	}
	allow, ok := perms["allow"].([]any)
	if perms["allow"] != nil && !ok {
		return fmt.Errorf("parse %s: permissions.allow is not a list", path)
	}

	entry := rule.String()
	for _, existing := range allow {
		if existing == entry {
			return nil
		}
	}
	perms["allow"] = append(allow, entry)
	doc["permissions"] = perms

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}

	logging.Info().Stringer("rule", rule).Str("path", path).Msg("trust rule persisted")
	return nil
}

func pathForScope(workdir string, scope permission.Scope) string {
	switch scope {
	case permission.ScopeUser:
		return UserSettingsPath()
	case permission.ScopeProject:
		return ProjectSettingsPath(workdir)
	default:
		return LocalSettingsPath(workdir)
	}
}

// Persister adapts PersistRule to the permission.RulePersister interface for
// a fixed working directory.
type Persister struct {
	Workdir string
}

var _ permission.RulePersister = (*Persister)(nil)

func (p *Persister) Persist(rule permission.Rule) error {
	return PersistRule(p.Workdir, rule)
}
