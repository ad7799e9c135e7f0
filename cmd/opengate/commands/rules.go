package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opengate-ai/opengate/internal/config"
	"github.com/opengate-ai/opengate/internal/permission"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the effective permission mode and merged rules",
	Long: `Print the configuration the engine would run with in this directory:
the resolved default mode and every allow/deny rule, annotated with the
scope it came from (user, project, or local).`,
	RunE: runRules,
}

func runRules(cmd *cobra.Command, args []string) error {
	workdir, err := workDir()
	if err != nil {
		return err
	}

	mode := config.ResolveDefaultMode(workdir)
	if bypassPermissions {
		fmt.Printf("mode: %s (overridden by --dangerously-bypass-permissions, resolved: %s)\n",
			permission.ModeBypass, mode)
	} else {
		fmt.Printf("mode: %s\n", mode)
	}

	allow, deny := config.ResolveRules(workdir)
	printRules("allow", allow)
	printRules("deny", deny)
	return nil
}

func printRules(label string, rules []permission.Rule) {
	fmt.Printf("%s:\n", label)
	if len(rules) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, rule := range rules {
		fmt.Printf("  [%-7s] %s\n", rule.Scope, rule)
	}
}
