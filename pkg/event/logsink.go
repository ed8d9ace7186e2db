package event

import (
	"sync"

	"github.com/replisync/replisync/pkg/plog"
)

// LogSink renders events through plog: successful actions as NOTICE lines,
// failures and scanner skips as warnings. plog handles the console/file split.
type LogSink struct {
	// DryRun prefixes every action line so simulated runs are unmistakable
	// in the log.
	DryRun bool
}

// Emit implements Sink.
func (s LogSink) Emit(e Event) {
	msg := e.Action.String()
	if s.DryRun && e.Action != ActionScanSkip {
		msg = "[DRY RUN] " + msg
	}
	switch {
	case e.Action == ActionScanSkip:
		plog.Warn(msg, "path", e.Path, "reason", e.Err)
	case e.Outcome == OutcomeFailed:
		plog.Warn(msg, "path", e.Path, "outcome", e.Outcome.String(), "error", e.Err)
	default:
		plog.Notice(msg, "path", e.Path)
	}
}

// Recorder is a Sink that captures events in order, for tests and for
// collecting the per-pass event sequence. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a snapshot of the captured events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
