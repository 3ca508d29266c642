package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskloop/taskloop/internal/agent"
	"github.com/taskloop/taskloop/internal/config"
	"github.com/taskloop/taskloop/internal/engine"
	"github.com/taskloop/taskloop/internal/lock"
	"github.com/taskloop/taskloop/internal/logging"
	"github.com/taskloop/taskloop/internal/notify"
	"github.com/taskloop/taskloop/internal/task"
	"github.com/taskloop/taskloop/internal/tui"
	"github.com/taskloop/taskloop/internal/update"
	"github.com/taskloop/taskloop/internal/worktree"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "taskloop",
	Short: "Drive a coding agent through a task backlog",
	Long: `Taskloop repeatedly runs an autonomous coding agent against a task store,
one iteration at a time, until the backlog is complete. Branch-tagged tasks
run in dedicated git worktrees; everything else runs in the project root.`,
	Version: version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent loop against the task store",
	Long: `Run iterates the agent over the incomplete tasks. By default it keeps
going until the backlog is empty or a breaker trips; -n runs a fixed number
of iterations and --loop keeps running forever, idling while the backlog is
empty.`,
	RunE: runRun,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a task store and control directory",
	RunE:  runInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backlog and run state",
	RunE:  runStatus,
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade taskloop to the latest release",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Current version: %s\n", version)
		if err := update.Update(cmd.Context(), version); err != nil {
			return err
		}
		fmt.Println("Upgrade complete.")
		return nil
	},
}

func init() {
	runCmd.Flags().IntP("iterations", "n", 0, "Run a fixed number of iterations")
	runCmd.Flags().Bool("loop", false, "Run forever, idling while the backlog is empty")
	runCmd.Flags().String("category", "", "Only work tasks in this category")
	runCmd.Flags().String("model", "", "Override the agent model")
	runCmd.Flags().String("provider", "", "Agent provider (claude, codex)")
	runCmd.Flags().String("store", "", "Task store path")
	runCmd.Flags().Bool("sandboxed", false, "Assert an isolated environment, enabling auto-approve flags")
	runCmd.Flags().Bool("headless", false, "Plain output instead of the TUI")
	runCmd.Flags().Bool("jsonl", false, "JSON Lines output (implies --headless)")
	runCmd.Flags().Bool("save-streams", false, "Capture raw agent streams under the control directory")

	statusCmd.Flags().String("store", "", "Task store path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(upgradeCmd)
}

// pickMode maps the run flags onto an iteration policy.
func pickMode(loop bool, iterations int) engine.Mode {
	switch {
	case loop:
		return engine.ModeLoop
	case iterations > 0:
		return engine.ModeFixed
	default:
		return engine.ModeAll
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, "", err
	}
	if storePath, _ := cmd.Flags().GetString("store"); storePath != "" {
		cfg.StorePath = storePath
	}
	return cfg, root, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	iterations, _ := cmd.Flags().GetInt("iterations")
	loop, _ := cmd.Flags().GetBool("loop")
	category, _ := cmd.Flags().GetString("category")
	jsonl, _ := cmd.Flags().GetBool("jsonl")
	headless, _ := cmd.Flags().GetBool("headless")
	headless = headless || jsonl

	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Model = model
	}
	if providerName, _ := cmd.Flags().GetString("provider"); providerName != "" {
		cfg.Provider = providerName
	}
	if sandboxed, _ := cmd.Flags().GetBool("sandboxed"); sandboxed {
		cfg.Sandboxed = true
	}
	if saveStreams, _ := cmd.Flags().GetBool("save-streams"); saveStreams {
		cfg.SaveStreamLogs = true
	}

	if !jsonl {
		if notice := update.CheckPeriodically(version); notice != "" {
			fmt.Fprintln(os.Stderr, notice)
		}
	}

	if err := os.MkdirAll(config.ControlDir(root), 0755); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}

	log, err := logging.New(config.LogDir(root), nil)
	if err != nil {
		return err
	}
	defer log.Close()

	runLock, err := lock.Acquire(config.LockPath(root))
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			if pid, alive := lock.Holder(config.LockPath(root)); alive {
				return fmt.Errorf("another run is active (pid %d)", pid)
			}
		}
		return err
	}
	defer runLock.Release()

	provider, ok := agent.Builtin(cfg.Provider)
	if !ok {
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	runner := agent.NewRunner(provider, cfg.Sandboxed, cfg.Model, agent.NewRegistry())
	if !runner.Available() {
		return fmt.Errorf("%s CLI not found in PATH", provider.Command)
	}

	store := task.NewStore(cfg.StorePath)
	if !store.Exists() {
		return fmt.Errorf("no task store at %s (run `taskloop init`)", cfg.StorePath)
	}

	manager, err := worktree.NewManager(root, cfg.WorktreesRoot, cfg.ProjectName)
	if err != nil {
		return err
	}

	notifiers := notify.Multi{&notify.LogNotifier{Log: log}}
	if cfg.NotifyCommand != "" {
		notifiers = append(notifiers, &notify.CommandNotifier{Command: cfg.NotifyCommand, Log: log})
	}

	instructions, err := cfg.Instructions()
	if err != nil {
		return err
	}

	runID := uuid.NewString()[:8]
	runCfg := engine.RunConfig{
		Mode:          pickMode(loop, iterations),
		Iterations:    iterations,
		Category:      category,
		Model:         cfg.Model,
		RunID:         runID,
		RepoRoot:      root,
		QuarantineDir: config.QuarantinePath(root),
		Instructions:  instructions,
		PollInterval:  cfg.PollInterval(),
		AgentTimeout:  cfg.AgentTimeout(),
	}
	if cfg.SaveStreamLogs {
		runCfg.StreamLogDir = config.LogDir(root)
	}

	resume := lock.NewResumeStore(config.ResumePath(root))
	eng := engine.New(store, runner, manager, resume, notifiers, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if headless {
		// Best effort: an unreadable store is the engine's to recover, not
		// a reason to refuse the run.
		open := 0
		if tasks, lerr := store.Load(); lerr == nil {
			open = countOpen(tasks, category)
		}
		return runHeadless(ctx, eng, runCfg, jsonl, open)
	}
	return runTUI(ctx, eng, runCfg, cfg, category)
}

// countOpen counts incomplete tasks, restricted to a category when one is set.
func countOpen(tasks []task.Task, category string) int {
	filtered := task.FilterCategory(tasks, category)
	return len(filtered) - task.CountComplete(filtered)
}

func runHeadless(ctx context.Context, eng *engine.Engine, runCfg engine.RunConfig, jsonl bool, open int) error {
	reporter := engine.NewReporter(jsonl, runCfg.RunID)
	reporter.Start(runCfg.Mode, runCfg.Category, open)
	eng.OnIterationStart = reporter.IterationStart
	eng.OnIterationEnd = reporter.IterationEnd
	eng.OnOutput = reporter.Output

	res, err := eng.Run(ctx, runCfg)
	if errors.Is(err, context.Canceled) {
		reporter.Interrupted()
		return nil
	}
	if err != nil {
		reporter.Error(err)
	}
	if res != nil {
		reporter.Complete(res)
	}
	if res != nil && res.Fatal {
		return fmt.Errorf("run aborted: %s", res.ExitReason)
	}
	return nil
}

func runTUI(ctx context.Context, eng *engine.Engine, runCfg engine.RunConfig, cfg *config.Config, category string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(tui.New(tui.Config{
		RunID:    runCfg.RunID,
		Project:  cfg.ProjectName,
		Category: category,
	}), tea.WithContext(ctx))

	eng.OnIterationStart = func(iteration int, branch string, remaining int) {
		p.Send(tui.IterationStartMsg{Iteration: iteration, Branch: branch, Remaining: remaining})
	}
	eng.OnIterationEnd = func(res *engine.IterationResult) {
		p.Send(tui.IterationEndMsg{
			Iteration: res.Iteration,
			Completed: res.Completed,
			Remaining: res.Remaining,
			ExitCode:  res.ExitCode,
		})
	}
	eng.OnOutput = func(line string) {
		p.Send(tui.OutputMsg(line))
	}

	done := make(chan struct{})
	var runRes *engine.RunResult
	var runErr error
	go func() {
		defer close(done)
		runRes, runErr = eng.Run(ctx, runCfg)
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			p.Send(tui.ErrorMsg{Err: runErr})
		}
		if runRes != nil {
			p.Send(tui.RunCompleteMsg{
				Reason:     runRes.ExitReason,
				Iterations: runRes.Iterations,
				Completed:  runRes.Completed,
				Fatal:      runRes.Fatal,
			})
		}
	}()

	_, uiErr := p.Run()
	cancel()
	<-done

	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return uiErr
	}
	if runRes != nil && runRes.Fatal {
		return fmt.Errorf("run aborted: %s", runRes.ExitReason)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

const defaultConfigTemplate = `# taskloop configuration
#
# store: tasks.json          # task store (extension selects JSON or YAML)
# provider: claude           # agent CLI: claude or codex
# model:                     # override the provider's default model
# sandboxed: false           # set true inside an isolated environment
# poll_seconds: 30           # idle re-check interval in loop mode
# agent_timeout_minutes: 30  # per-iteration timeout
# notify_command:            # receives "<event> <detail>" per notification
# instructions:              # custom instruction template path
`

func runInit(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(config.ControlDir(root), 0755); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}

	configPath := filepath.Join(config.ControlDir(root), "config.yml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(defaultConfigTemplate), 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created %s\n", configPath)
	}

	instrPath := filepath.Join(config.ControlDir(root), "instructions.md")
	if _, err := os.Stat(instrPath); os.IsNotExist(err) {
		if err := os.WriteFile(instrPath, []byte(worktree.DefaultInstructions), 0644); err != nil {
			return fmt.Errorf("write instruction template: %w", err)
		}
		fmt.Printf("Created %s\n", instrPath)
	}

	if err := task.Init(cfg.StorePath); err != nil {
		if errors.Is(err, task.ErrStoreExists) {
			fmt.Printf("Task store already exists at %s\n", cfg.StorePath)
			return nil
		}
		return err
	}
	fmt.Printf("Created task store at %s\n", cfg.StorePath)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store := task.NewStore(cfg.StorePath)
	tasks, err := store.Load()
	if err != nil {
		return err
	}
	fmt.Print(statusSummary(tasks))

	if pid, alive := lock.Holder(config.LockPath(root)); alive {
		fmt.Printf("Run active: pid %d\n", pid)
	}
	if rs := lock.NewResumeStore(config.ResumePath(root)).Load(); rs != nil {
		fmt.Printf("Resume pending: branch %s (base %s)\n", rs.CurrentBranch, rs.BaseBranch)
	}
	return nil
}

// statusSummary renders backlog counts overall and per branch group.
func statusSummary(tasks []task.Task) string {
	complete := task.CountComplete(tasks)
	out := fmt.Sprintf("Tasks: %d total, %d complete, %d open\n", len(tasks), complete, len(tasks)-complete)

	byBranch := make(map[string]int)
	var order []string
	for _, t := range tasks {
		if t.Passes {
			continue
		}
		if _, seen := byBranch[t.Branch]; !seen {
			order = append(order, t.Branch)
		}
		byBranch[t.Branch]++
	}
	for _, branch := range order {
		name := branch
		if name == "" {
			name = "(primary)"
		}
		out += fmt.Sprintf("  %s: %d open\n", name, byBranch[branch])
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
