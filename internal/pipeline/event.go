package pipeline

import "time"

// EventKind discriminates progress events.
type EventKind string

const (
	// EventStageEnter and EventStageLeave bracket each stage's work.
	EventStageEnter EventKind = "stage_enter"
	EventStageLeave EventKind = "stage_leave"
	// EventSample reports one training-set sample resolved.
	EventSample EventKind = "sample"
	// EventEpoch reports one training epoch.
	EventEpoch EventKind = "epoch"
	// EventDone and EventFailed are terminal.
	EventDone   EventKind = "done"
	EventFailed EventKind = "failed"
)

// Event is one progress observation from a run. Fields beyond Kind
// and Stage are populated per kind.
type Event struct {
	RunID string    `json:"run_id"`
	Time  time.Time `json:"time"`
	Kind  EventKind `json:"kind"`
	Stage Stage     `json:"stage"`

	Sample int  `json:"sample,omitempty"`
	Done   int  `json:"done,omitempty"`
	Total  int  `json:"total,omitempty"`
	Cached bool `json:"cached,omitempty"`
	Failed bool `json:"failed,omitempty"`

	Epoch int     `json:"epoch,omitempty"`
	Loss  float64 `json:"loss,omitempty"`

	Message string `json:"message,omitempty"`
}

// EventSink consumes progress events. Emit is called from the run's
// goroutine and from builder workers; implementations that keep state
// must lock.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to an EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }
