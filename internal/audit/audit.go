// Package audit records who did what to field requests. Events are emitted
// from domain logic onto a channel and drained by a background worker so the
// request path never blocks on audit persistence.
package audit

import (
	"context"
	"time"
)

// Actions recorded by the intake/review pipeline.
const (
	ActionRequestReceived = "field_request.received"
	ActionRequestApproved = "field_request.approved"
	ActionRequestRejected = "field_request.rejected"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	Action    string
	ActorID   string
	ActorName string
	RequestID string
	RecordID  int64
	Reason    string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, limit int) ([]Event, error)
}

// Recorder is the producer side handed to services. It never blocks: when the
// inbox is full the event is dropped, which is acceptable for this trail
// because the authoritative record is the field_requests table itself.
type Recorder struct {
	inbox chan<- Event
}

func NewRecorder(inbox chan<- Event) *Recorder {
	return &Recorder{inbox: inbox}
}

func (r *Recorder) Record(event Event) {
	if r == nil || r.inbox == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case r.inbox <- event:
	default:
	}
}
