// Package tui renders a compact live view of a run: iteration status,
// backlog counters, and a scrolling tail of agent output.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Config holds TUI configuration.
type Config struct {
	RunID    string
	Project  string
	Category string
}

// Model is the main TUI model.
type Model struct {
	runID    string
	project  string
	category string

	iteration int
	branch    string
	completed int
	remaining int
	running   bool
	quitting  bool
	err       error
	exitInfo  string

	spinner   spinner.Model
	viewport  viewport.Model
	output    string
	startTime time.Time

	width  int
	height int
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	doneStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// New creates a TUI model.
func New(cfg Config) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	vp := viewport.New(80, 16)
	vp.SetContent("waiting for agent output...")

	return Model{
		runID:     cfg.RunID,
		project:   cfg.Project,
		category:  cfg.Category,
		spinner:   sp,
		viewport:  vp,
		running:   true,
		startTime: time.Now(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Message types for updates from the engine.
type (
	// IterationStartMsg signals a new iteration.
	IterationStartMsg struct {
		Iteration int
		Branch    string
		Remaining int
	}

	// IterationEndMsg signals an iteration completed.
	IterationEndMsg struct {
		Iteration int
		Completed int
		Remaining int
		ExitCode  int
	}

	// OutputMsg appends a line of agent output.
	OutputMsg string

	// ErrorMsg signals a run-level error.
	ErrorMsg struct {
		Err error
	}

	// RunCompleteMsg signals the run has finished.
	RunCompleteMsg struct {
		Reason     string
		Iterations int
		Completed  int
		Fatal      bool
	}
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(4, msg.Height-7)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case IterationStartMsg:
		m.iteration = msg.Iteration
		m.branch = msg.Branch
		m.remaining = msg.Remaining
		m.output = ""
		m.viewport.SetContent(m.output)

	case IterationEndMsg:
		m.completed += msg.Completed
		m.remaining = msg.Remaining
		if msg.ExitCode != 0 {
			m.appendOutput(fmt.Sprintf("\n[agent exited %d]\n", msg.ExitCode))
		}

	case OutputMsg:
		m.appendOutput(string(msg) + "\n")

	case ErrorMsg:
		m.running = false
		m.err = msg.Err
		m.appendOutput(fmt.Sprintf("\n[error: %v]\n", msg.Err))

	case RunCompleteMsg:
		m.running = false
		m.iteration = msg.Iterations
		m.completed = msg.Completed
		m.exitInfo = msg.Reason
		if msg.Fatal {
			m.err = fmt.Errorf("%s", msg.Reason)
		}
		m.appendOutput(fmt.Sprintf("\n[run finished: %s]\n", msg.Reason))
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) appendOutput(s string) {
	m.output += s
	m.viewport.SetContent(m.output)
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderStatus(),
		borderStyle.Render(m.viewport.View()),
		statusStyle.Render("q quit"),
	)
}

func (m Model) renderHeader() string {
	title := m.project
	if m.category != "" {
		title += fmt.Sprintf(" (%s)", m.category)
	}
	return headerStyle.Render(fmt.Sprintf("taskloop %s, run %s", title, m.runID))
}

func (m Model) renderStatus() string {
	where := "primary workspace"
	if m.branch != "" {
		where = "branch " + m.branch
	}
	elapsed := time.Since(m.startTime).Round(time.Second)

	switch {
	case m.err != nil:
		return failStyle.Render(fmt.Sprintf("failed after %d iterations: %v", m.iteration, m.err))
	case !m.running:
		return doneStyle.Render(fmt.Sprintf("done: %d iterations, %d completed (%s) in %v", m.iteration, m.completed, m.exitInfo, elapsed))
	case m.iteration == 0:
		return statusStyle.Render(m.spinner.View() + " starting...")
	default:
		return statusStyle.Render(fmt.Sprintf("%s iteration %d on %s: %d done, %d open, %v",
			m.spinner.View(), m.iteration, where, m.completed, m.remaining, elapsed))
	}
}
