// Package event carries orchestrator progress notifications and fans them
// out to HTTP clients over Server-Sent Events.
package event

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Type classifies a progress notification.
type Type string

const (
	// Orchestrator lifecycle
	TypePlanBuilt       Type = "plan_built"
	TypeConfirmRequired Type = "confirm_required"
	TypeSubtaskStarted  Type = "subtask_started"
	TypeSubtaskFinished Type = "subtask_finished"
	TypeRunMerged       Type = "run_merged"
	TypeRunCancelled    Type = "run_cancelled"
	TypeError           Type = "error"
)

var knownTypes = map[Type]struct{}{
	TypePlanBuilt:       {},
	TypeConfirmRequired: {},
	TypeSubtaskStarted:  {},
	TypeSubtaskFinished: {},
	TypeRunMerged:       {},
	TypeRunCancelled:    {},
	TypeError:           {},
}

// Event is one progress notification.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AssistantID string    `json:"assistant_id,omitempty"`
	Data        any       `json:"data,omitempty"`
}

// New builds an event with ID and timestamp filled in.
func New(typ Type, assistantID string, data any) Event {
	return normalize(Event{Type: typ, AssistantID: assistantID, Data: data})
}

// Validate checks the event against the known type set.
func (e Event) Validate() error {
	if e.Type == "" {
		return errors.New("event: type is empty")
	}
	if _, ok := knownTypes[e.Type]; !ok {
		return fmt.Errorf("event: unknown type %q", e.Type)
	}
	return nil
}

func normalize(evt Event) Event {
	if evt.ID == "" {
		evt.ID = newID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	return evt
}

func newID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("evt-%d", time.Now().UnixNano())
	}
	return "evt-" + hex.EncodeToString(buf)
}

// Sink consumes events. The orchestrator publishes through a Sink so tests
// can capture progress without HTTP.
type Sink interface {
	Send(evt Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(evt Event) error

// Send implements Sink.
func (f SinkFunc) Send(evt Event) error { return f(evt) }
