package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opengate-ai/opengate/internal/headless"
	"github.com/opengate-ai/opengate/internal/permission"
)

var (
	checkTool string
	checkYes  bool
	checkNo   bool
)

var checkCmd = &cobra.Command{
	Use:   "check <command>",
	Short: "Evaluate a tool invocation against the resolved settings",
	Long: `Evaluate a tool invocation the way the engine would at runtime.

Trusted invocations report "allowed" immediately; denied ones report the rule
that blocked them. Anything undecided prompts on the terminal:

  y = allow once    a = always allow (persists a trust rule)
  n = deny          empty/esc = cancel

Examples:
  opengate check "git push origin main"
  opengate check --tool Edit src/main.go
  opengate check --yes "npm install"   # answer without prompting`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkTool, "tool", "Bash", "Tool name to check (Bash, Write, Edit, Read)")
	checkCmd.Flags().BoolVar(&checkYes, "yes", false, "Answer any confirmation with allow")
	checkCmd.Flags().BoolVar(&checkNo, "no", false, "Answer any confirmation with deny")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkYes && checkNo {
		return fmt.Errorf("--yes and --no are mutually exclusive")
	}

	workdir, err := workDir()
	if err != nil {
		return err
	}
	manager := buildManager(workdir)

	specifier := strings.Join(args, " ")
	input := checkInput(checkTool, specifier)

	if checkYes || checkNo {
		policy := headless.PolicyAllowAll
		if checkNo {
			policy = headless.PolicyDenyAll
		}
		responder := headless.NewAutoResponder(manager.Queue(), policy)
		responder.Start()
		defer responder.Stop()
	} else {
		stopPrompt := promptLoop(manager.Queue())
		defer stopPrompt()
	}

	decision, err := manager.Check(cmd.Context(), checkTool, input)
	if err != nil {
		if permission.IsCanceled(err) {
			fmt.Println("canceled")
			// Returned, not os.Exit: the deferred responder/prompt
			// shutdown above must still run.
			return &ExitError{Code: 2}
		}
		return err
	}

	if decision.Behavior == permission.Allow {
		fmt.Printf("allowed: %s(%s)\n", checkTool, specifier)
		return nil
	}

	fmt.Printf("denied: %s\n", decision.Message)
	return &ExitError{Code: 1}
}

func checkInput(tool, specifier string) map[string]any {
	switch tool {
	case "Bash":
		return map[string]any{"command": specifier}
	default:
		return map[string]any{"filePath": specifier}
	}
}

// promptLoop answers surfaced confirmation requests from the terminal. It
// polls the queue in a goroutine so the blocking Check above can run on the
// command's own goroutine.
func promptLoop(queue *permission.ConfirmationQueue) func() {
	done := make(chan struct{})
	reader := bufio.NewReader(os.Stdin)

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				current := queue.Current()
				if current == nil {
					continue
				}
				resp := askHuman(reader, current)
				queue.Resolve(current.ID, resp)
			}
		}
	}()

	return func() { close(done) }
}

func askHuman(reader *bufio.Reader, req *permission.Request) permission.Response {
	fmt.Printf("\n%s wants to run:\n\n    %s\n\n", req.Tool, req.Title)
	if req.TrustPattern != req.Title {
		fmt.Printf("always-allow would trust: %s(%s)\n\n", req.Tool, req.TrustPattern)
	}
	fmt.Print("[y] allow once  [a] always allow  [n] deny  [enter] cancel > ")

	line, err := reader.ReadString('\n')
	if err != nil {
		return permission.Response{Action: permission.RespondCancel}
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return permission.Response{Action: permission.RespondAllow}
	case "a", "always":
		return permission.Response{Action: permission.RespondAlways}
	case "n", "no":
		return permission.Response{Action: permission.RespondDeny, Message: "denied at the prompt"}
	default:
		return permission.Response{Action: permission.RespondCancel}
	}
}
