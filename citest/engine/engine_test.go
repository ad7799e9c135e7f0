package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opengate-ai/opengate/internal/command"
	"github.com/opengate-ai/opengate/internal/config"
	"github.com/opengate-ai/opengate/internal/event"
	"github.com/opengate-ai/opengate/internal/headless"
	"github.com/opengate-ai/opengate/internal/permission"
	"github.com/opengate-ai/opengate/internal/tool"
)

// newEngine builds a manager exactly the way the CLI does: settings resolved
// from disk, persistence wired to the local scope.
func newEngine(workdir string) *permission.Manager {
	mode, allow, deny := config.Resolve(workdir)
	return permission.NewManager(
		permission.WithMode(mode),
		permission.WithRules(allow, deny),
		permission.WithPersister(&config.Persister{Workdir: workdir}),
	)
}

func writeFile(path, content string) {
	ExpectWithOffset(1, os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	ExpectWithOffset(1, os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
}

var _ = Describe("Permission Engine", func() {
	var (
		workdir string
		ctx     context.Context
	)

	BeforeEach(func() {
		event.Reset()
		workdir = GinkgoT().TempDir()
		GinkgoT().Setenv("OPENGATE_CONFIG_DIR", GinkgoT().TempDir())
		ctx = context.Background()
	})

	AfterEach(func() {
		event.Reset()
	})

	Describe("decisions from settings on disk", func() {
		BeforeEach(func() {
			writeFile(config.ProjectSettingsPath(workdir), `{
  "permissions": {
    "allow": ["Bash(git status)", "Bash(npm run *)"],
    "deny": ["Bash(git push *)"]
  }
}`)
		})

		It("allows a command matched by an exact rule", func() {
			m := newEngine(workdir)
			decision, err := m.Check(ctx, "Bash", map[string]any{"command": "git status"})
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Behavior).To(Equal(permission.Allow))
		})

		It("allows a command matched by a glob rule", func() {
			m := newEngine(workdir)
			decision, err := m.Check(ctx, "Bash", map[string]any{"command": "npm run build"})
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Behavior).To(Equal(permission.Allow))
		})

		It("denies a command matched by a deny rule, naming the rule", func() {
			m := newEngine(workdir)
			decision, err := m.Check(ctx, "Bash", map[string]any{"command": "git push origin main"})
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Behavior).To(Equal(permission.Deny))
			Expect(decision.Message).To(ContainSubstring("Bash(git push *)"))
		})

		It("queues anything undecided for confirmation", func() {
			m := newEngine(workdir)

			done := make(chan permission.Decision, 1)
			go func() {
				defer GinkgoRecover()
				d, err := m.Check(ctx, "Bash", map[string]any{"command": "make deploy"})
				Expect(err).NotTo(HaveOccurred())
				done <- d
			}()

			Eventually(m.Queue().Current).ShouldNot(BeNil())
			Expect(m.Queue().Current().Title).To(Equal("make deploy"))

			m.Queue().Resolve("", permission.Response{Action: permission.RespondDeny, Message: "not today"})

			var decision permission.Decision
			Eventually(done).Should(Receive(&decision))
			Expect(decision.Behavior).To(Equal(permission.Deny))
			Expect(decision.Message).To(Equal("not today"))
		})
	})

	Describe("the always-allow round trip", func() {
		It("persists a smart rule and auto-allows similar commands after reload", func() {
			m := newEngine(workdir)

			done := make(chan permission.Decision, 1)
			go func() {
				defer GinkgoRecover()
				d, err := m.Check(ctx, "Bash", map[string]any{"command": "npm install lodash"})
				Expect(err).NotTo(HaveOccurred())
				done <- d
			}()

			Eventually(m.Queue().Current).ShouldNot(BeNil())
			m.Queue().Resolve("", permission.Response{Action: permission.RespondAlways})
			Eventually(done).Should(Receive())

			// The rule landed in the local settings file.
			data, err := os.ReadFile(config.LocalSettingsPath(workdir))
			Expect(err).NotTo(HaveOccurred())
			var settings config.Settings
			Expect(json.Unmarshal(data, &settings)).To(Succeed())
			Expect(settings.Permissions.Allow).To(ContainElement("Bash(npm install *)"))

			// A fresh engine built from disk trusts similar commands.
			fresh := newEngine(workdir)
			decision, err := fresh.Check(ctx, "Bash", map[string]any{"command": "npm install express"})
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Behavior).To(Equal(permission.Allow))
			Expect(fresh.Queue().Current()).To(BeNil())
		})

		It("never glob-trusts a dangerous base command", func() {
			m := newEngine(workdir)

			done := make(chan permission.Decision, 1)
			go func() {
				defer GinkgoRecover()
				d, _ := m.Check(ctx, "Bash", map[string]any{"command": "rm -rf ./build"})
				done <- d
			}()

			Eventually(m.Queue().Current).ShouldNot(BeNil())
			Expect(m.Queue().Current().TrustKind).To(Equal(permission.KindExact))
			m.Queue().Resolve("", permission.Response{Action: permission.RespondAlways})
			Eventually(done).Should(Receive())

			allowRules, _ := config.ResolveRules(workdir)
			Expect(allowRules).To(HaveLen(1))
			Expect(allowRules[0].Kind).To(Equal(permission.KindExact))
			Expect(allowRules[0].Pattern).To(Equal("rm -rf ./build"))

			// A fresh engine trusts the literal command and nothing else.
			fresh := newEngine(workdir)
			decision, err := fresh.Check(ctx, "Bash", map[string]any{"command": "rm -rf ./build"})
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Behavior).To(Equal(permission.Allow))

			other := make(chan permission.Decision, 1)
			go func() {
				defer GinkgoRecover()
				d, err := fresh.Check(ctx, "Bash", map[string]any{"command": "rm -rf /precious/data"})
				Expect(err).NotTo(HaveOccurred())
				other <- d
			}()
			Eventually(fresh.Queue().Current).ShouldNot(BeNil())
			fresh.Queue().Resolve("", permission.Response{Action: permission.RespondDeny, Message: "no"})
			Eventually(other).Should(Receive(HaveField("Behavior", permission.Deny)))
		})
	})

	Describe("the tool gateway", func() {
		It("executes an allowed write and blocks a denied one", func() {
			writeFile(config.ProjectSettingsPath(workdir), `{
  "permissions": {
    "allow": ["Write(`+workdir+`/**)"],
    "deny": ["Write(**/secrets/**)"]
  }
}`)
			m := newEngine(workdir)
			registry := tool.DefaultRegistry(workdir, m)
			write, ok := registry.Get("Write")
			Expect(ok).To(BeTrue())

			okPath := filepath.Join(workdir, "notes.txt")
			input, _ := json.Marshal(map[string]string{"filePath": okPath, "content": "hello"})
			_, err := write.Execute(ctx, input, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(okPath).To(BeAnExistingFile())

			badPath := filepath.Join(workdir, "secrets", "token.txt")
			input, _ = json.Marshal(map[string]string{"filePath": badPath, "content": "shh"})
			_, err = write.Execute(ctx, input, nil)
			var rejected *permission.RejectedError
			Expect(errors.As(err, &rejected)).To(BeTrue())
			Expect(badPath).NotTo(BeAnExistingFile())
		})

		It("halts without executing when the human cancels", func() {
			m := newEngine(workdir)
			bash, _ := tool.DefaultRegistry(workdir, m).Get("Bash")

			marker := filepath.Join(workdir, "ran.txt")
			input, _ := json.Marshal(map[string]string{"command": "touch " + marker})

			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, err := bash.Execute(ctx, input, nil)
				done <- err
			}()

			Eventually(m.Queue().Current).ShouldNot(BeNil())
			m.Queue().Resolve("", permission.Response{Action: permission.RespondCancel})

			var err error
			Eventually(done).Should(Receive(&err))
			Expect(permission.IsCanceled(err)).To(BeTrue())
			Expect(marker).NotTo(BeAnExistingFile())
		})
	})

	Describe("workflow commands", func() {
		It("trusts declared tools for exactly one response cycle", func() {
			writeFile(filepath.Join(config.CommandDir(workdir), "test.md"), `---
description: Run the tests
allowed-tools:
  - Bash(go test *)
---
Run the test suite and report failures.`)

			m := newEngine(workdir)
			executor := command.NewExecutor(workdir, permission.NewController(m))

			_, err := executor.Run(ctx, "test", "", func(ctx context.Context, prompt string) error {
				defer GinkgoRecover()
				Expect(prompt).To(ContainSubstring("test suite"))

				decision, err := m.Check(ctx, "Bash", map[string]any{"command": "go test ./..."})
				Expect(err).NotTo(HaveOccurred())
				Expect(decision.Behavior).To(Equal(permission.Allow))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			// Outside the cycle the same command needs confirmation again.
			Expect(m.TemporaryRules()).To(BeEmpty())
		})
	})

	Describe("headless runs", func() {
		It("drains every confirmation according to policy", func() {
			m := newEngine(workdir)
			responder := headless.NewAutoResponder(m.Queue(), headless.PolicyDenyAll)
			responder.Start()
			defer responder.Stop()

			decision, err := m.Check(ctx, "Bash", map[string]any{"command": "make deploy"})
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Behavior).To(Equal(permission.Deny))
		})
	})

	Describe("live settings reload", func() {
		It("applies a changed default mode to future checks", func() {
			Expect(os.MkdirAll(config.ProjectDir(workdir), 0o755)).To(Succeed())

			m := newEngine(workdir)
			watcher, err := config.NewWatcher(workdir, func(mode permission.Mode, allow, deny []permission.Rule) {
				m.UpdateDefaultMode(mode)
				m.SetRules(allow, deny)
			})
			Expect(err).NotTo(HaveOccurred())
			watcher.Start()
			defer watcher.Stop()

			writeFile(config.ProjectSettingsPath(workdir), `{
  "permissions": {"defaultMode": "bypassPermissions"}
}`)

			Eventually(m.Mode, 3*time.Second).Should(Equal(permission.ModeBypass))

			decision, err := m.Check(ctx, "Bash", map[string]any{"command": "make anything"})
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Behavior).To(Equal(permission.Allow))
		})
	})
})
