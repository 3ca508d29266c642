// Package task implements the persisted backlog: the task record type, the
// file-backed store, structural validation, and the merge/recovery logic that
// keeps the store usable after an agent has written arbitrary content to it.
package task

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultCategory is assigned to tasks recovered without a usable category.
const DefaultCategory = "feature"

// KnownCategories is the advisory category allow-list. It seeds placeholders
// and drives status summaries; validation never enforces it.
var KnownCategories = []string{
	"feature",
	"bugfix",
	"refactor",
	"setup",
	"testing",
	"docs",
	"chore",
}

// Task is one unit of backlog work. Description doubles as the task's
// identity key for merge and sync operations.
type Task struct {
	Category    string   `json:"category" yaml:"category"`
	Description string   `json:"description" yaml:"description"`
	Steps       []string `json:"steps" yaml:"steps"`
	Passes      bool     `json:"passes" yaml:"passes"`
	Branch      string   `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// Incomplete reports whether the task still needs work.
func (t Task) Incomplete() bool {
	return !t.Passes
}

// Format identifies the on-disk encoding of a store file.
type Format int

const (
	// FormatJSON encodes the store as a JSON array.
	FormatJSON Format = iota
	// FormatYAML encodes the store as a YAML sequence.
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// DetectFormat picks the store encoding from the file extension.
// Anything that is not .yaml/.yml is treated as JSON.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// FormatError reports that a store file could not be parsed as an array of
// tasks at all. Callers must not proceed past it without recovery.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("task store %s is not a parsable task array: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// ValidationError reports that a store file parsed but is not structurally a
// task array. Recovery is SmartMerge against the trusted snapshot.
type ValidationError struct {
	Path    string
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("task store %s is structurally invalid: %s", e.Path, strings.Join(e.Reasons, "; "))
}

// CountComplete returns the number of tasks with passes=true.
func CountComplete(tasks []Task) int {
	n := 0
	for _, t := range tasks {
		if t.Passes {
			n++
		}
	}
	return n
}

// FilterCategory returns the tasks matching the category filter, preserving
// store order. An empty filter matches everything.
func FilterCategory(tasks []Task, category string) []Task {
	if category == "" {
		return tasks
	}
	var out []Task
	for _, t := range tasks {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}
