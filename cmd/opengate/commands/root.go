// Package commands provides the CLI commands for opengate.
package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opengate-ai/opengate/internal/config"
	"github.com/opengate-ai/opengate/internal/logging"
	"github.com/opengate-ai/opengate/internal/permission"
	"github.com/opengate-ai/opengate/internal/project"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs         bool
	logLevel          string
	cwd               string
	bypassPermissions bool
)

var rootCmd = &cobra.Command{
	Use:   "opengate",
	Short: "opengate - tool permission and trust engine for coding agents",
	Long: `opengate decides which tool invocations a coding agent may execute:
trusted commands run immediately, denied ones are blocked, and everything
else is queued for human confirmation.

Run 'opengate check' to evaluate a command against your settings, or
'opengate rules' to inspect the effective configuration.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var output io.Writer = io.Discard
		if printLogs {
			output = os.Stderr
		}
		logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: output,
			Pretty: printLogs,
		})
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&cwd, "cwd", "", "Working directory (defaults to the current directory)")
	rootCmd.PersistentFlags().BoolVar(&bypassPermissions, "dangerously-bypass-permissions", false,
		"Skip all confirmations; deny rules still apply")

	rootCmd.SetVersionTemplate(fmt.Sprintf("opengate %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(rulesCmd)
}

// ExitError carries a process exit code up to main so deferred cleanup in
// command handlers runs before the process terminates. It prints nothing:
// the handler already reported the outcome.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// workDir resolves the directory whose settings govern this run: the --cwd
// flag or the process directory, lifted to the project root so invocations
// from a subdirectory see the same rules as invocations from the root.
func workDir() (string, error) {
	dir := cwd
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return project.Root(abs)
}

// buildManager assembles a permission manager from the resolved settings,
// applying the CLI bypass override above the file-based scopes.
func buildManager(workdir string) *permission.Manager {
	mode := config.ResolveDefaultMode(workdir)
	if bypassPermissions {
		mode = permission.ModeBypass
	}
	allow, deny := config.ResolveRules(workdir)

	return permission.NewManager(
		permission.WithMode(mode),
		permission.WithRules(allow, deny),
		permission.WithPersister(&config.Persister{Workdir: workdir}),
	)
}
