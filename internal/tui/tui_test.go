package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func newSized(t *testing.T) Model {
	t.Helper()
	m := New(Config{RunID: "run-1", Project: "demo"})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(Model)
}

func TestUpdateIterationFlow(t *testing.T) {
	m := newSized(t)

	updated, _ := m.Update(IterationStartMsg{Iteration: 1, Branch: "feat/x", Remaining: 3})
	m = updated.(Model)
	if m.iteration != 1 || m.branch != "feat/x" || m.remaining != 3 {
		t.Errorf("after start: iteration=%d branch=%q remaining=%d", m.iteration, m.branch, m.remaining)
	}

	updated, _ = m.Update(OutputMsg("editing files"))
	m = updated.(Model)
	if !strings.Contains(m.output, "editing files") {
		t.Errorf("output = %q", m.output)
	}

	updated, _ = m.Update(IterationEndMsg{Iteration: 1, Completed: 1, Remaining: 2})
	m = updated.(Model)
	if m.completed != 1 || m.remaining != 2 {
		t.Errorf("after end: completed=%d remaining=%d", m.completed, m.remaining)
	}

	view := m.View()
	if !strings.Contains(view, "iteration 1") || !strings.Contains(view, "feat/x") {
		t.Errorf("view missing status line:\n%s", view)
	}
}

func TestUpdateOutputClearedPerIteration(t *testing.T) {
	m := newSized(t)

	updated, _ := m.Update(OutputMsg("old output"))
	m = updated.(Model)
	updated, _ = m.Update(IterationStartMsg{Iteration: 2})
	m = updated.(Model)

	if strings.Contains(m.output, "old output") {
		t.Error("output from previous iteration survived")
	}
}

func TestUpdateRunComplete(t *testing.T) {
	m := newSized(t)

	updated, _ := m.Update(RunCompleteMsg{Reason: "all tasks complete", Iterations: 4, Completed: 4})
	m = updated.(Model)

	if m.running {
		t.Error("still running after completion")
	}
	view := m.View()
	if !strings.Contains(view, "all tasks complete") {
		t.Errorf("view missing exit reason:\n%s", view)
	}
}

func TestUpdateFatalRun(t *testing.T) {
	m := newSized(t)

	updated, _ := m.Update(ErrorMsg{Err: errors.New("agent exited 2 repeatedly")})
	m = updated.(Model)

	if m.err == nil {
		t.Fatal("error not recorded")
	}
	if !strings.Contains(m.View(), "failed") {
		t.Errorf("view missing failure status:\n%s", m.View())
	}
}

func TestQuitKeys(t *testing.T) {
	m := newSized(t)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("got %v, want tea.Quit", msg)
	}
}
