package worktree

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taskloop/taskloop/internal/task"
)

func TestMaterialize(t *testing.T) {
	repo := initRepo(t)
	dir := t.TempDir()

	m, err := NewManager(repo, t.TempDir(), "proj")
	if err != nil {
		t.Fatal(err)
	}

	tasks := []task.Task{
		{Category: "feature", Description: "implement the thing", Steps: []string{"go test ./..."}},
	}
	if err := m.Materialize(dir, tasks, nil); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	// Filtered view is store-shaped JSON.
	data, err := os.ReadFile(TaskViewPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	var view []task.Task
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("task view is not a task array: %v", err)
	}
	if len(view) != 1 || view[0].Description != "implement the thing" {
		t.Errorf("view = %+v", view)
	}

	// Default instructions carry the sentinel contract.
	instr, err := os.ReadFile(InstructionsPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(instr), CompletionSentinel) {
		t.Error("instructions do not mention the completion sentinel")
	}

	if _, err := os.Stat(ProgressPath(dir)); err != nil {
		t.Errorf("progress log not created: %v", err)
	}
}

func TestMaterialize_PreservesProgressLog(t *testing.T) {
	repo := initRepo(t)
	dir := t.TempDir()

	m, err := NewManager(repo, t.TempDir(), "proj")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Materialize(dir, nil, nil); err != nil {
		t.Fatal(err)
	}
	note := []byte("# Progress log\n\niteration 1 learned something\n")
	if err := os.WriteFile(ProgressPath(dir), note, 0644); err != nil {
		t.Fatal(err)
	}

	// Second materialization must not clobber accumulated progress.
	if err := m.Materialize(dir, nil, nil); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(ProgressPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(note) {
		t.Error("progress log was overwritten between iterations")
	}
}

func TestMaterialize_CustomInstructions(t *testing.T) {
	repo := initRepo(t)
	dir := t.TempDir()

	m, err := NewManager(repo, t.TempDir(), "proj")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Materialize(dir, nil, []byte("custom rules\n")); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(InstructionsPath(dir))
	if string(got) != "custom rules\n" {
		t.Errorf("instructions = %q", got)
	}
}

func TestExpandFileRefs(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "api.md"), []byte("API NOTES"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"expands reference", "see @{docs/api.md} for details", "see API NOTES for details"},
		{"missing file left in place", "see @{docs/gone.md}", "see @{docs/gone.md}"},
		{"no references", "plain text", "plain text"},
		{"escapes repo root", "see @{../secrets}", "see @{../secrets}"},
		{"absolute path refused", "see @{/etc/passwd}", "see @{/etc/passwd}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandFileRefs(tt.in, root); got != tt.want {
				t.Errorf("ExpandFileRefs(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
