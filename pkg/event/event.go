// Package event defines the structured events the mirror engine emits for
// every attempted filesystem action. Downstream sinks own formatting and
// delivery; the engine only produces events.
package event

import "fmt"

// Action identifies the kind of action an event reports.
type Action int

const (
	ActionCreateDir Action = iota
	ActionCopyFile
	ActionDeleteFile
	ActionDeleteDir
	// ActionScanSkip reports an entry the scanner skipped (unreadable entry,
	// irregular file type, symlink cycle).
	ActionScanSkip
)

var actionNames = map[Action]string{
	ActionCreateDir:  "DIR",
	ActionCopyFile:   "COPY",
	ActionDeleteFile: "DELETE",
	ActionDeleteDir:  "DELDIR",
	ActionScanSkip:   "SKIP",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("unknown_action(%d)", int(a))
}

// Outcome reports whether the attempted action succeeded.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failed"
}

// Event is one attempted action against the replica (or one scanner skip).
// Every operation the applier executes yields exactly one Event.
type Event struct {
	Action  Action
	Path    string // normalized relative path key
	Outcome Outcome
	Err     error // underlying cause, set only when Outcome is OutcomeFailed (or for skips, the reason)
}

// Success constructs a successful event.
func Success(action Action, path string) Event {
	return Event{Action: action, Path: path, Outcome: OutcomeSuccess}
}

// Failed constructs a failed event carrying its cause.
func Failed(action Action, path string, err error) Event {
	return Event{Action: action, Path: path, Outcome: OutcomeFailed, Err: err}
}

// Skip constructs a scanner skip event. Skips are warnings, not failures:
// the scan continues with a partial inventory.
func Skip(path string, reason error) Event {
	return Event{Action: ActionScanSkip, Path: path, Outcome: OutcomeSuccess, Err: reason}
}

// Sink receives events. Implementations own formatting and dual console/file
// emission; they must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }
