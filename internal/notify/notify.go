// Package notify is the narrow event-dispatch seam between the orchestration
// core and whatever delivers notifications. Delivery mechanics live outside
// this repository; the core only ever calls Emit.
package notify

import (
	"os/exec"

	"github.com/taskloop/taskloop/internal/logging"
)

// Event names the conditions the core reports.
type Event string

const (
	// EventRunComplete fires once when the whole backlog is complete.
	EventRunComplete Event = "run_complete"

	// EventRunFatal fires when the run stops on a fatal condition.
	EventRunFatal Event = "run_fatal"

	// EventTaskComplete fires for each task newly marked passing.
	EventTaskComplete Event = "task_complete"
)

// Notifier dispatches one event with optional human-readable detail.
// Implementations must never block the iteration loop on delivery problems.
type Notifier interface {
	Emit(event Event, detail string)
}

// LogNotifier records events in the run log. It is the default when no
// notify command is configured.
type LogNotifier struct {
	Log *logging.Logger
}

// Emit writes the event to the log.
func (n *LogNotifier) Emit(event Event, detail string) {
	n.Log.Infof("event %s: %s", event, detail)
}

// CommandNotifier invokes an external command with the event name and detail
// as arguments. Delivery failures are logged and swallowed.
type CommandNotifier struct {
	Command string
	Log     *logging.Logger
}

// Emit runs the configured command.
func (n *CommandNotifier) Emit(event Event, detail string) {
	cmd := exec.Command(n.Command, string(event), detail)
	if out, err := cmd.CombinedOutput(); err != nil {
		n.Log.Warnf("notify command failed for %s: %v (%s)", event, err, out)
	}
}

// Multi fans one event out to several notifiers.
type Multi []Notifier

// Emit dispatches to every notifier in order.
func (m Multi) Emit(event Event, detail string) {
	for _, n := range m {
		n.Emit(event, detail)
	}
}
