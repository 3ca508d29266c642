// Package engine drives the iteration loop: pick a branch group, prepare its
// workspace, run the agent, and fold the results back into the task store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskloop/taskloop/internal/agent"
	"github.com/taskloop/taskloop/internal/lock"
	"github.com/taskloop/taskloop/internal/logging"
	"github.com/taskloop/taskloop/internal/notify"
	"github.com/taskloop/taskloop/internal/task"
	"github.com/taskloop/taskloop/internal/worktree"
)

// Mode selects how many iterations a run performs.
type Mode int

const (
	// ModeFixed runs exactly Iterations iterations, then stops.
	ModeFixed Mode = iota

	// ModeAll runs until the backlog is empty or a breaker trips.
	ModeAll

	// ModeLoop runs forever, idling while the backlog is empty.
	ModeLoop
)

func (m Mode) String() string {
	switch m {
	case ModeFixed:
		return "fixed"
	case ModeAll:
		return "all"
	case ModeLoop:
		return "loop"
	default:
		return "unknown"
	}
}

// Defaults and breaker thresholds.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultAgentTimeout = 30 * time.Minute

	// maxNoProgress stops the run after this many consecutive iterations
	// that neither completed a task nor grew the backlog.
	maxNoProgress = 3

	// maxExitStreak makes this many consecutive identical non-zero agent
	// exits fatal.
	maxExitStreak = 3
)

// Workspaces is the worktree surface the engine needs. *worktree.Manager
// implements it.
type Workspaces interface {
	BaseBranch() (string, error)
	CheckPreconditions() error
	Ensure(branch string) (string, error)
	Materialize(dir string, tasks []task.Task, instructions []byte) error
}

// RunConfig configures an engine run.
type RunConfig struct {
	// Mode selects the iteration policy.
	Mode Mode

	// Iterations is the iteration count for ModeFixed.
	Iterations int

	// Category filters the backlog; empty means all categories.
	Category string

	// Model overrides the agent's default model.
	Model string

	// RunID names this run in logs and stream capture files.
	RunID string

	// RepoRoot is the primary workspace, where untagged tasks run.
	RepoRoot string

	// QuarantineDir preserves corrupt store content during recovery.
	QuarantineDir string

	// StreamLogDir, if set, captures the raw agent stream per iteration.
	StreamLogDir string

	// Instructions overrides the default instruction template.
	Instructions []byte

	// PollInterval is the idle re-check interval in ModeLoop.
	PollInterval time.Duration

	// AgentTimeout bounds one agent iteration.
	AgentTimeout time.Duration
}

// IterationResult is the outcome of a single iteration.
type IterationResult struct {
	// Iteration is the iteration number (1-indexed).
	Iteration int

	// Branch is the branch group worked on; empty for the primary
	// workspace.
	Branch string

	// Dir is the execution directory.
	Dir string

	// Output is the agent's parsed output.
	Output string

	// ExitCode is the agent's exit code; -1 when the run itself failed.
	ExitCode int

	// Duration is how long the iteration took.
	Duration time.Duration

	// Completed is the number of tasks newly marked passing.
	Completed int

	// Remaining is the incomplete count after the iteration.
	Remaining int

	// IsTimeout indicates the agent was terminated by the timeout.
	IsTimeout bool

	// Err is any error that occurred running the agent.
	Err error
}

// RunResult is the outcome of a whole run.
type RunResult struct {
	// Iterations is the number of iterations performed.
	Iterations int

	// Completed is the number of tasks that became passing during the run.
	Completed int

	// Remaining is the incomplete count when the run ended.
	Remaining int

	// ExitReason describes why the run ended.
	ExitReason string

	// Fatal is true when the run ended on the exit-code breaker.
	Fatal bool
}

// Engine orchestrates the iteration loop.
type Engine struct {
	store     *task.Store
	agent     agent.Agent
	worktrees Workspaces
	resume    *lock.ResumeStore
	notifier  notify.Notifier
	log       *logging.Logger

	// Callbacks for reporter and TUI integration (optional).
	OnIterationStart func(iteration int, branch string, remaining int)
	OnIterationEnd   func(result *IterationResult)
	OnOutput         func(line string)

	// trusted is the last backlog known to round-trip through the store;
	// recovery rebuilds from it when the on-disk content is corrupt.
	trusted []task.Task
}

// New creates an engine with the given dependencies. Notifier and logger may
// be nil.
func New(store *task.Store, a agent.Agent, w Workspaces, resume *lock.ResumeStore, n notify.Notifier, log *logging.Logger) *Engine {
	if n == nil {
		n = notify.Multi{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{store: store, agent: a, worktrees: w, resume: resume, notifier: n, log: log}
}

// Run executes the loop until the mode's stop condition, a breaker, or
// context cancellation.
func (e *Engine) Run(ctx context.Context, cfg RunConfig) (*RunResult, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = DefaultAgentTimeout
	}
	if cfg.Mode == ModeFixed && cfg.Iterations <= 0 {
		cfg.Iterations = 1
	}

	baseBranch, err := e.worktrees.BaseBranch()
	if err != nil {
		return nil, fmt.Errorf("resolve base branch: %w", err)
	}

	st := &runState{}
	e.log.Infof("run %s starting: mode=%s category=%q base=%s", cfg.RunID, cfg.Mode, cfg.Category, baseBranch)

	for {
		if ctx.Err() != nil {
			return st.result("interrupted"), ctx.Err()
		}

		tasks, err := e.loadTasks(cfg.QuarantineDir)
		if err != nil {
			return st.result("store unreadable"), err
		}

		groups := task.GroupIncomplete(tasks, cfg.Category, baseBranch)
		if len(groups) == 0 {
			if !st.announcedComplete {
				st.announcedComplete = true
				e.notifier.Emit(notify.EventRunComplete, fmt.Sprintf("backlog empty after %d iterations", st.iteration))
			}
			if cfg.Mode == ModeLoop {
				e.idleWait(ctx, cfg.PollInterval)
				continue
			}
			return st.result("all tasks complete"), nil
		}
		st.announcedComplete = false
		st.remaining = countIncomplete(groups)

		group := e.selectGroup(groups, baseBranch)

		dir, branch, ok := e.resolveDir(cfg, group, groups, baseBranch)
		if !ok {
			// No usable workspace this pass. Count it against the
			// no-progress breaker so a persistently broken worktree
			// setup cannot spin forever.
			st.iteration++
			st.noProgress++
			e.log.Warnf("iteration %d skipped: no usable workspace for branch %q", st.iteration, group.Branch)
			if st.noProgress >= maxNoProgress {
				return st.result(fmt.Sprintf("no progress in %d iterations", st.noProgress)), nil
			}
			if cfg.Mode == ModeFixed && st.iteration >= cfg.Iterations {
				return st.result("iteration limit reached"), nil
			}
			continue
		}

		groupTasks := group.Tasks
		if branch == "" && group.Branch != "" {
			// Fell back to the primary workspace; run its group instead.
			groupTasks = untaggedTasks(groups)
		}
		if err := e.worktrees.Materialize(dir, groupTasks, cfg.Instructions); err != nil {
			return st.result("workspace preparation failed"), err
		}

		st.iteration++
		if e.OnIterationStart != nil {
			e.OnIterationStart(st.iteration, branch, st.remaining)
		}

		res := e.runIteration(ctx, cfg, st.iteration, dir)

		completeBefore := task.CountComplete(tasks)
		merged, newlyDone := e.syncView(dir, cfg.QuarantineDir, tasks)
		completeAfter := task.CountComplete(merged)

		for _, desc := range newlyDone {
			e.notifier.Emit(notify.EventTaskComplete, desc)
		}
		st.completed += completeAfter - completeBefore
		st.remaining = len(merged) - completeAfter

		if e.resume != nil {
			if err := e.resume.Clear(); err != nil {
				e.log.Warnf("clear resume state: %v", err)
			}
		}

		iterRes := &IterationResult{
			Iteration: st.iteration,
			Branch:    branch,
			Dir:       dir,
			Output:    res.output,
			ExitCode:  res.exitCode,
			Duration:  res.duration,
			Completed: completeAfter - completeBefore,
			Remaining: st.remaining,
			IsTimeout: res.timedOut,
			Err:       res.err,
		}
		if e.OnIterationEnd != nil {
			e.OnIterationEnd(iterRes)
		}

		// Exit-code breaker: the same failure three times in a row means
		// retrying will not help.
		if res.exitCode != 0 {
			if res.exitCode == st.lastExit {
				st.exitStreak++
			} else {
				st.lastExit = res.exitCode
				st.exitStreak = 1
			}
			e.log.Warnf("iteration %d: agent exited %d (streak %d)", st.iteration, res.exitCode, st.exitStreak)
			if st.exitStreak >= maxExitStreak {
				detail := fmt.Sprintf("agent exited %d in %d consecutive iterations", res.exitCode, st.exitStreak)
				e.notifier.Emit(notify.EventRunFatal, detail)
				r := st.result(detail)
				r.Fatal = true
				return r, fmt.Errorf("aborting run: %s", detail)
			}
		} else {
			st.lastExit = 0
			st.exitStreak = 0
		}

		if completeAfter > completeBefore || len(merged) > len(tasks) {
			st.noProgress = 0
		} else {
			st.noProgress++
			if st.noProgress >= maxNoProgress {
				return st.result(fmt.Sprintf("no progress in %d iterations", st.noProgress)), nil
			}
		}

		if strings.Contains(res.output, worktree.CompletionSentinel) {
			if st.remaining > 0 {
				e.log.Warnf("iteration %d: agent reported completion but %d tasks remain incomplete", st.iteration, st.remaining)
			} else {
				e.log.Infof("iteration %d: agent reported completion", st.iteration)
			}
		}

		if cfg.Mode == ModeFixed && st.iteration >= cfg.Iterations {
			return st.result("iteration limit reached"), nil
		}
	}
}

// runState holds the mutable state during a run.
type runState struct {
	iteration int
	completed int
	remaining int

	noProgress int
	lastExit   int
	exitStreak int

	announcedComplete bool
}

func (s *runState) result(reason string) *RunResult {
	return &RunResult{
		Iterations: s.iteration,
		Completed:  s.completed,
		Remaining:  s.remaining,
		ExitReason: reason,
	}
}

// loadTasks loads the store, recovering from the trusted snapshot when the
// on-disk content is corrupt. A missing store with no trusted snapshot is
// unrecoverable.
func (e *Engine) loadTasks(quarantineDir string) ([]task.Task, error) {
	tasks, err := e.store.Load()
	if err == nil {
		e.trusted = tasks
		return tasks, nil
	}
	if errors.Is(err, task.ErrStoreMissing) && e.trusted == nil {
		return nil, err
	}

	e.log.Warnf("store load failed (%v), recovering", err)
	out, rerr := e.store.Recover(e.trusted, quarantineDir)
	if rerr != nil {
		return nil, fmt.Errorf("store recovery: %w", rerr)
	}
	for _, w := range out.Warnings {
		e.log.Warnf("recovery: %s", w)
	}
	if out.Reset {
		e.log.Warnf("store rewritten from trusted snapshot (%d tasks, %d salvaged)", len(out.Tasks), out.Extracted)
	}
	e.trusted = out.Tasks
	return out.Tasks, nil
}

// selectGroup applies resume state to target selection. Resume pointing at
// the base branch or at a finished group is stale and cleared.
func (e *Engine) selectGroup(groups []task.Group, baseBranch string) task.Group {
	resumeBranch := ""
	if e.resume != nil {
		if rs := e.resume.Load(); rs != nil {
			if rs.CurrentBranch == baseBranch {
				_ = e.resume.Clear()
			} else {
				resumeBranch = rs.CurrentBranch
			}
		}
	}
	group, ok := task.SelectTarget(groups, resumeBranch)
	if !ok && resumeBranch != "" {
		e.log.Infof("resume branch %q has no incomplete tasks, clearing", resumeBranch)
		if e.resume != nil {
			_ = e.resume.Clear()
		}
	}
	return group
}

// resolveDir picks the execution directory for the group. Tagged groups get
// a worktree; when worktree preconditions fail the engine falls back to the
// primary workspace if an untagged group exists. The returned branch is the
// branch actually being worked ("" for the primary workspace). ok is false
// when no workspace is usable this pass.
func (e *Engine) resolveDir(cfg RunConfig, group task.Group, groups []task.Group, baseBranch string) (dir, branch string, ok bool) {
	if group.Branch == "" {
		return cfg.RepoRoot, "", true
	}

	// Persist the target before any worktree setup so a kill mid-setup
	// still leaves a pointer for the next invocation to re-target.
	if e.resume != nil {
		if err := e.resume.Save(lock.ResumeState{BaseBranch: baseBranch, CurrentBranch: group.Branch}); err != nil {
			e.log.Warnf("save resume state: %v", err)
		}
	}

	if err := e.worktrees.CheckPreconditions(); err != nil {
		e.log.Warnf("worktree preconditions failed for %q: %v", group.Branch, err)
		return e.fallbackPrimary(cfg, groups)
	}
	dir, err := e.worktrees.Ensure(group.Branch)
	if err != nil {
		e.log.Warnf("worktree for %q unavailable: %v", group.Branch, err)
		return e.fallbackPrimary(cfg, groups)
	}
	return dir, group.Branch, true
}

func (e *Engine) fallbackPrimary(cfg RunConfig, groups []task.Group) (string, string, bool) {
	for _, g := range groups {
		if g.Branch == "" {
			e.log.Infof("falling back to primary workspace")
			return cfg.RepoRoot, "", true
		}
	}
	return "", "", false
}

func untaggedTasks(groups []task.Group) []task.Task {
	for _, g := range groups {
		if g.Branch == "" {
			return g.Tasks
		}
	}
	return nil
}

// agentOutcome is the distilled outcome of one agent invocation.
type agentOutcome struct {
	output   string
	exitCode int
	duration time.Duration
	timedOut bool
	err      error
}

// runIteration invokes the agent once, retrying a single time with the
// suggested model when the configured model is rejected.
func (e *Engine) runIteration(ctx context.Context, cfg RunConfig, iteration int, dir string) agentOutcome {
	inv := agent.Invocation{
		Dir:          dir,
		TaskView:     filepath.Join(worktree.ControlDir, worktree.TaskViewName),
		ProgressLog:  filepath.Join(worktree.ControlDir, worktree.ProgressName),
		Instructions: filepath.Join(worktree.ControlDir, worktree.InstructionsName),
	}

	res, err := e.invoke(ctx, cfg, iteration, inv, cfg.Model)
	if err == nil && res.ExitCode != 0 {
		if suggested, ok := agent.SuggestedModel(res.Stderr); ok {
			e.log.Warnf("model %q rejected, retrying with %q", cfg.Model, suggested)
			res, err = e.invoke(ctx, cfg, iteration, inv, suggested)
		}
	}

	out := agentOutcome{err: err}
	if res != nil {
		out.output = res.Output
		out.exitCode = res.ExitCode
		out.duration = res.Duration
	}
	if errors.Is(err, agent.ErrTimeout) {
		out.timedOut = true
		out.err = nil
		out.exitCode = -1
		e.log.Warnf("iteration %d timed out after %v", iteration, cfg.AgentTimeout)
	} else if err != nil {
		out.exitCode = -1
		e.log.Errorf("iteration %d agent run failed: %v", iteration, err)
	}
	return out
}

func (e *Engine) invoke(ctx context.Context, cfg RunConfig, iteration int, inv agent.Invocation, model string) (*agent.Result, error) {
	opts := agent.RunOpts{Model: model, Timeout: cfg.AgentTimeout}

	var streamChan chan string
	var done chan struct{}
	if e.OnOutput != nil {
		streamChan = make(chan string, 100)
		done = make(chan struct{})
		opts.Stream = streamChan
		go func() {
			defer close(done)
			for line := range streamChan {
				e.OnOutput(line)
			}
		}()
	}

	var raw *os.File
	if cfg.StreamLogDir != "" {
		if err := os.MkdirAll(cfg.StreamLogDir, 0755); err == nil {
			name := fmt.Sprintf("%s-iter%03d.jsonl", cfg.RunID, iteration)
			raw, _ = os.Create(filepath.Join(cfg.StreamLogDir, name))
		}
		if raw != nil {
			opts.RawSink = raw
			defer raw.Close()
		}
	}

	res, err := e.agent.Run(ctx, inv, opts)
	if streamChan != nil {
		close(streamChan)
		<-done
	}
	return res, err
}

// syncView folds the iteration's mutations back into the backlog and
// persists it. There are two mutation sources: the filtered view inside the
// execution directory, and direct edits to the main store file (the agent
// has full file access to both). The store is re-read through recovery
// first, so direct edits are adopted or repaired against the trusted
// snapshot instead of being overwritten, then the view is merged on top.
// Returns the merged backlog and the descriptions of tasks that newly pass.
func (e *Engine) syncView(dir, quarantineDir string, tasks []task.Task) ([]task.Task, []string) {
	passedBefore := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Passes {
			passedBefore[t.Description] = true
		}
	}

	base := tasks
	out, err := e.store.Recover(tasks, quarantineDir)
	if err != nil {
		e.log.Errorf("store recovery during sync: %v", err)
	} else {
		for _, w := range out.Warnings {
			e.log.Warnf("sync recovery: %s", w)
		}
		base = out.Tasks
	}

	merged := base
	data, err := os.ReadFile(worktree.TaskViewPath(dir))
	if err != nil {
		e.log.Warnf("task view unreadable, skipping view merge: %v", err)
	} else if raw, derr := task.DecodeAny(data, task.FormatJSON); derr != nil {
		e.log.Warnf("task view unparsable, skipping view merge: %v", derr)
	} else {
		mr := task.SmartMerge(base, raw)
		for _, w := range mr.Warnings {
			e.log.Warnf("view merge: %s", w)
		}
		if serr := e.store.Save(mr.Merged); serr != nil {
			e.log.Errorf("persist merged backlog: %v", serr)
		} else {
			merged = mr.Merged
		}
	}
	e.trusted = merged

	var newlyDone []string
	for _, t := range merged {
		if t.Passes && !passedBefore[t.Description] {
			newlyDone = append(newlyDone, t.Description)
		}
	}
	return merged, newlyDone
}

func countIncomplete(groups []task.Group) int {
	n := 0
	for _, g := range groups {
		n += len(g.Tasks)
	}
	return n
}
