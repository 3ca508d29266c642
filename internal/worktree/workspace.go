package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/taskloop/taskloop/internal/task"
)

// Workspace layout inside an execution directory (primary workspace or
// worktree). These paths are a wire contract: the agent is instructed to
// read and write them by name.
const (
	ControlDir       = ".taskloop"
	TaskViewName     = "tasks.json"
	ProgressName     = "progress.md"
	InstructionsName = "instructions.md"
)

// TaskViewPath returns the filtered task view path inside an execution dir.
func TaskViewPath(dir string) string {
	return filepath.Join(dir, ControlDir, TaskViewName)
}

// ProgressPath returns the progress log path inside an execution dir.
func ProgressPath(dir string) string {
	return filepath.Join(dir, ControlDir, ProgressName)
}

// InstructionsPath returns the instruction template path inside an
// execution dir.
func InstructionsPath(dir string) string {
	return filepath.Join(dir, ControlDir, InstructionsName)
}

// Materialize prepares the execution directory for one branch group: the
// filtered task view with file references expanded, the per-branch progress
// log (created only if absent, so it survives across iterations), and the
// instruction template.
func (m *Manager) Materialize(dir string, tasks []task.Task, instructions []byte) error {
	controlDir := filepath.Join(dir, ControlDir)
	if err := os.MkdirAll(controlDir, 0755); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}

	expanded := make([]task.Task, len(tasks))
	for i, t := range tasks {
		expanded[i] = t
		expanded[i].Description = ExpandFileRefs(t.Description, m.repoRoot)
		if len(t.Steps) > 0 {
			steps := make([]string, len(t.Steps))
			for j, s := range t.Steps {
				steps[j] = ExpandFileRefs(s, m.repoRoot)
			}
			expanded[i].Steps = steps
		}
	}

	// The filtered view is always JSON regardless of the main store's
	// encoding; its shape, not its syntax, is the contract.
	view, err := task.Encode(expanded, task.FormatJSON)
	if err != nil {
		return fmt.Errorf("encode task view: %w", err)
	}
	if err := os.WriteFile(TaskViewPath(dir), view, 0644); err != nil {
		return fmt.Errorf("write task view: %w", err)
	}

	progressPath := ProgressPath(dir)
	if _, err := os.Stat(progressPath); os.IsNotExist(err) {
		header := "# Progress log\n\nAppend one entry per iteration: what was attempted, what worked, what to try next.\n"
		if err := os.WriteFile(progressPath, []byte(header), 0644); err != nil {
			return fmt.Errorf("create progress log: %w", err)
		}
	}

	if len(instructions) == 0 {
		instructions = []byte(DefaultInstructions)
	}
	if err := os.WriteFile(InstructionsPath(dir), instructions, 0644); err != nil {
		return fmt.Errorf("write instructions: %w", err)
	}
	return nil
}

// fileRefPattern matches @{relative/path} placeholders inside task text.
var fileRefPattern = regexp.MustCompile(`@\{([^}]+)\}`)

// ExpandFileRefs replaces @{path} placeholders with the literal content of
// the referenced file, resolved against root. Unreadable references are left
// in place; the agent sees the raw placeholder and can complain about it.
func ExpandFileRefs(s, root string) string {
	return fileRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		rel := fileRefPattern.FindStringSubmatch(match)[1]
		if filepath.IsAbs(rel) || strings.Contains(rel, "..") {
			return match
		}
		content, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return match
		}
		return string(content)
	})
}
