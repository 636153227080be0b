// Package progress delivers progress notifications emitted during export
// and import. Delivery is fire-and-forget: the engines never wait on a sink.
package progress

import (
	"log/slog"
	"sync"
)

// Event names.
const (
	EventExport = "exportJsonProgress"
	EventImport = "importJsonProgress"
)

// Event is one progress notification.
type Event struct {
	// Name is EventExport or EventImport
	Name string `json:"name"`

	// Progress is the human readable phase message
	Progress string `json:"progress"`

	// Step and Total count completed phases; Step == Total on the final event
	Step  int `json:"step"`
	Total int `json:"total"`
}

// Payload returns the notification payload {progress: message}.
func (e Event) Payload() map[string]string {
	return map[string]string{"progress": e.Progress}
}

// Sink receives progress events. Notify must not block for long.
type Sink interface {
	Notify(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Notify calls f(e).
func (f SinkFunc) Notify(e Event) { f(e) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(Event) {})

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop
	}
	return s
}

// Multi fans each event out to every sink in order.
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return SinkFunc(func(e Event) {
		for _, s := range live {
			s.Notify(e)
		}
	})
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify records e.
func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Messages returns the recorded progress messages.
func (r *Recorder) Messages() []string {
	events := r.Events()
	msgs := make([]string, len(events))
	for i, e := range events {
		msgs[i] = e.Progress
	}
	return msgs
}

// LogSink writes events to a structured logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// Notify logs e.
func (l LogSink) Notify(e Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("progress", "event", e.Name, "progress", e.Progress, "step", e.Step, "total", e.Total)
}
