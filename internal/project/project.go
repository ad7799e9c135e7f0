// Package project locates the directory whose settings govern a path.
// Rules live in per-project .opengate directories, so commands started in a
// subdirectory still need to resolve against the project root.
package project

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Info describes the resolved project for a directory.
type Info struct {
	// Root is the directory whose .opengate settings apply.
	Root string `json:"root"`
	// VCS is "git" when the root sits inside a git worktree, empty otherwise.
	VCS string `json:"vcs,omitempty"`
}

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*Info)
)

// FromDirectory resolves the project root for a directory. It walks up from
// the directory and returns the first ancestor carrying a .opengate
// directory; failing that, the git worktree root; failing that, the
// directory itself. Results are cached per absolute path.
func FromDirectory(directory string) (*Info, error) {
	directory, err := filepath.Abs(directory)
	if err != nil {
		return nil, err
	}

	cacheMu.RLock()
	if info, ok := cache[directory]; ok {
		cacheMu.RUnlock()
		return info, nil
	}
	cacheMu.RUnlock()

	info := resolve(directory)

	cacheMu.Lock()
	cache[directory] = info
	cacheMu.Unlock()
	return info, nil
}

// Root is a convenience wrapper returning just the root directory.
func Root(directory string) (string, error) {
	info, err := FromDirectory(directory)
	if err != nil {
		return "", err
	}
	return info.Root, nil
}

func resolve(directory string) *Info {
	if root := findMarker(directory, ".opengate"); root != "" {
		info := &Info{Root: root}
		if findGitRoot(root) != "" {
			info.VCS = "git"
		}
		return info
	}
	if root := findGitRoot(directory); root != "" {
		return &Info{Root: root, VCS: "git"}
	}
	return &Info{Root: directory}
}

// findMarker walks up from start looking for a directory entry with the
// given name, returning the directory containing it.
func findMarker(start, name string) string {
	current := start
	for {
		candidate := filepath.Join(current, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return current
		}

		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

// findGitRoot walks up from start looking for a .git entry. A .git file
// (worktrees and submodules write one) counts the same as a directory.
func findGitRoot(start string) string {
	current := start
	for {
		gitPath := filepath.Join(current, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() {
				return current
			}
			// Worktree pointer file: "gitdir: <path>".
			if content, err := os.ReadFile(gitPath); err == nil &&
				strings.HasPrefix(strings.TrimSpace(string(content)), "gitdir: ") {
				return current
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

// ClearCache clears the resolution cache. Useful for testing.
func ClearCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = make(map[string]*Info)
}
