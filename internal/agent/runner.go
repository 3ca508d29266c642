package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when a run exceeds its timeout.
var ErrTimeout = errors.New("agent run timed out")

// Runner executes a provider CLI as a child process.
type Runner struct {
	// Provider describes the CLI being run.
	Provider Provider

	// Sandboxed enables the provider's auto-approve flags. Only set this
	// inside an isolated execution environment.
	Sandboxed bool

	// Model is the default model; empty uses the provider's default.
	Model string

	parsers *Registry
}

// NewRunner creates a runner for the given provider.
func NewRunner(p Provider, sandboxed bool, model string, parsers *Registry) *Runner {
	if parsers == nil {
		parsers = NewRegistry()
	}
	return &Runner{Provider: p, Sandboxed: sandboxed, Model: model, parsers: parsers}
}

// Name returns the provider name.
func (r *Runner) Name() string {
	return r.Provider.Name
}

// Available checks if the provider CLI is installed.
func (r *Runner) Available() bool {
	_, err := exec.LookPath(r.Provider.Command)
	return err == nil
}

// Run executes the agent in inv.Dir, streaming and buffering its output.
// The child's stdout is consumed line by line; chunks that split mid-line
// are reassembled by the scanner before any parsing happens.
func (r *Runner) Run(ctx context.Context, inv Invocation, opts RunOpts) (*Result, error) {
	start := time.Now()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	model := opts.Model
	if model == "" {
		model = r.Model
	}

	cmd := exec.CommandContext(ctx, r.Provider.Command, r.BuildArgs(inv, model)...)
	cmd.Dir = inv.Dir

	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.Provider.Command, err)
	}

	parse := Passthrough
	if r.Provider.StreamJSON {
		parse = r.parsers.Get(r.Provider.Name)
	}

	var output strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // 1MB max line size
	for scanner.Scan() {
		line := scanner.Text()
		if opts.RawSink != nil {
			_, _ = fmt.Fprintln(opts.RawSink, line)
		}
		for _, text := range parse(line) {
			output.WriteString(text)
			output.WriteByte('\n')
			if opts.Stream != nil {
				select {
				case opts.Stream <- text + "\n":
				case <-ctx.Done():
				}
			}
		}
	}

	waitErr := cmd.Wait()
	result := &Result{
		Output:   output.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("%w after %v", ErrTimeout, opts.Timeout)
	}
	if ctx.Err() == context.Canceled {
		return result, fmt.Errorf("%s cancelled: %w", r.Provider.Command, ctx.Err())
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("%s: %w", r.Provider.Command, waitErr)
	}
	return result, nil
}

// BuildArgs assembles the full argv (minus the command itself) for one
// invocation.
func (r *Runner) BuildArgs(inv Invocation, model string) []string {
	args := append([]string{}, r.Provider.BaseArgs...)
	if r.Sandboxed {
		args = append(args, r.Provider.YoloArgs...)
	}
	if model != "" && r.Provider.ModelFlag != "" {
		args = append(args, r.Provider.ModelFlag, model)
	}
	if r.Provider.StreamJSON {
		args = append(args, r.Provider.StreamArgs...)
	}

	switch r.Provider.PromptMode {
	case PromptFiles:
		args = append(args,
			r.Provider.FileFlag, inv.Instructions,
			r.Provider.FileFlag, inv.TaskView,
			r.Provider.FileFlag, inv.ProgressLog,
		)
	default:
		args = append(args, InlinePrompt(inv))
	}
	return args
}
