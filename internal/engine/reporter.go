package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Reporter formats run progress for headless mode. Supports human-readable
// output (default) and JSON Lines for tooling.
type Reporter struct {
	jsonl  bool
	writer io.Writer
	runID  string
}

var (
	tagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// NewReporter creates a reporter. If jsonl is true, events are emitted as
// JSON Lines; otherwise as human-readable lines with [TAG] prefixes.
func NewReporter(jsonl bool, runID string) *Reporter {
	return &Reporter{jsonl: jsonl, writer: os.Stdout, runID: runID}
}

// SetWriter sets a custom writer (mainly for testing).
func (r *Reporter) SetWriter(w io.Writer) {
	r.writer = w
}

// Start reports the beginning of a run.
func (r *Reporter) Start(mode Mode, category string, remaining int) {
	if r.jsonl {
		r.writeJSON(map[string]any{
			"type":      "start",
			"mode":      mode.String(),
			"category":  category,
			"remaining": remaining,
		})
		return
	}
	filter := ""
	if category != "" {
		filter = fmt.Sprintf(", category %q", category)
	}
	fmt.Fprintf(r.writer, "%s run %s: mode %s%s, %d tasks open\n", r.tag("START"), r.runID, mode, filter, remaining)
}

// IterationStart reports a new iteration.
func (r *Reporter) IterationStart(iteration int, branch string, remaining int) {
	if r.jsonl {
		r.writeJSON(map[string]any{
			"type":      "iteration",
			"iteration": iteration,
			"branch":    branch,
			"remaining": remaining,
		})
		return
	}
	where := "primary workspace"
	if branch != "" {
		where = "branch " + branch
	}
	fmt.Fprintf(r.writer, "%s iteration %d on %s (%d open)\n", r.tag("ITER"), iteration, where, remaining)
}

// IterationEnd reports the iteration outcome.
func (r *Reporter) IterationEnd(res *IterationResult) {
	if r.jsonl {
		r.writeJSON(map[string]any{
			"type":        "iteration_end",
			"iteration":   res.Iteration,
			"branch":      res.Branch,
			"exit_code":   res.ExitCode,
			"duration_ms": res.Duration.Milliseconds(),
			"completed":   res.Completed,
			"remaining":   res.Remaining,
			"timeout":     res.IsTimeout,
		})
		return
	}
	switch {
	case res.IsTimeout:
		fmt.Fprintf(r.writer, "%s iteration %d timed out after %v\n", r.errTag("TIMEOUT"), res.Iteration, res.Duration.Round(1e9))
	case res.Err != nil:
		fmt.Fprintf(r.writer, "%s iteration %d failed: %v\n", r.errTag("ERROR"), res.Iteration, res.Err)
	case res.ExitCode != 0:
		fmt.Fprintf(r.writer, "%s iteration %d: agent exited %d\n", r.errTag("ERROR"), res.Iteration, res.ExitCode)
	default:
		fmt.Fprintf(r.writer, "%s iteration %d: %d completed, %d remaining (%v)\n",
			r.tag("ITER"), res.Iteration, res.Completed, res.Remaining, res.Duration.Round(1e9))
	}
}

// Output streams agent text.
func (r *Reporter) Output(text string) {
	if r.jsonl {
		for _, line := range strings.Split(text, "\n") {
			if strings.TrimSpace(line) != "" {
				r.writeJSON(map[string]any{"type": "output", "text": line})
			}
		}
		return
	}
	fmt.Fprintln(r.writer, text)
}

// Error reports a run-level error.
func (r *Reporter) Error(err error) {
	if r.jsonl {
		r.writeJSON(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	fmt.Fprintf(r.writer, "%s %v\n", r.errTag("ERROR"), err)
}

// Complete reports the final summary.
func (r *Reporter) Complete(res *RunResult) {
	if r.jsonl {
		r.writeJSON(map[string]any{
			"type":        "complete",
			"iterations":  res.Iterations,
			"completed":   res.Completed,
			"remaining":   res.Remaining,
			"exit_reason": res.ExitReason,
			"fatal":       res.Fatal,
		})
		return
	}
	tag := r.doneTag("DONE")
	if res.Fatal {
		tag = r.errTag("FATAL")
	}
	fmt.Fprintf(r.writer, "%s %d iterations, %d completed, %d remaining\n", tag, res.Iterations, res.Completed, res.Remaining)
	fmt.Fprintf(r.writer, "%s exit: %s\n", tag, res.ExitReason)
}

// Interrupted reports a user interrupt.
func (r *Reporter) Interrupted() {
	if r.jsonl {
		r.writeJSON(map[string]any{"type": "interrupted"})
		return
	}
	fmt.Fprintf(r.writer, "\n%s run interrupted\n", r.errTag("INTERRUPTED"))
}

func (r *Reporter) tag(name string) string     { return tagStyle.Render("[" + name + "]") }
func (r *Reporter) doneTag(name string) string { return doneStyle.Render("[" + name + "]") }
func (r *Reporter) errTag(name string) string  { return errorStyle.Render("[" + name + "]") }

// writeJSON writes one event as a single JSON line.
func (r *Reporter) writeJSON(data map[string]any) {
	if r.runID != "" {
		data["run_id"] = r.runID
	}
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintln(r.writer, string(b))
}
