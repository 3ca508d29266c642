// Package agent runs the external coding agent process and turns its output
// stream into text the rest of the system can use.
package agent

import (
	"context"
	"io"
	"time"
)

// Agent is one invocable coding agent.
type Agent interface {
	// Name returns the provider name (e.g. "claude").
	Name() string

	// Available checks if the agent's CLI is installed and accessible.
	Available() bool

	// Run executes one iteration in inv.Dir and returns the combined
	// output. A non-zero exit is not an error: it is reported through
	// Result.ExitCode so the caller can apply its own failure policy.
	Run(ctx context.Context, inv Invocation, opts RunOpts) (*Result, error)
}

// Invocation names the workspace files one iteration runs against. Paths
// are relative to Dir so prompts stay valid inside worktrees.
type Invocation struct {
	// Dir is the working directory (primary workspace or worktree).
	Dir string

	// TaskView is the filtered task view path.
	TaskView string

	// ProgressLog is the per-branch progress log path.
	ProgressLog string

	// Instructions is the instruction template path.
	Instructions string
}

// RunOpts configures one agent run.
type RunOpts struct {
	// Stream receives human-readable output lines as they arrive.
	// If nil, output is only buffered into Result.Output.
	Stream chan<- string

	// RawSink, if set, receives the verbatim output stream (one line per
	// write) for later inspection. Parse failures never reach it.
	RawSink io.Writer

	// Model overrides the runner's configured model for this run only.
	Model string

	// Timeout bounds the run. Zero means no timeout beyond any context
	// deadline.
	Timeout time.Duration
}

// Result is the outcome of one agent run.
type Result struct {
	// Output is the combined human-readable output.
	Output string

	// Stderr is the captured error stream.
	Stderr string

	// ExitCode is the process exit code; zero on success.
	ExitCode int

	// Duration is how long the run took.
	Duration time.Duration
}
