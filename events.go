package cascade

import (
	"time"

	"github.com/rs/zerolog"
)

// Event types published by the coordination managers
const (
	EventSessionCreated         = "session_created"
	EventSessionStatusChanged   = "session_status_changed"
	EventSessionBlocked         = "session_blocked"
	EventSessionUnblocked       = "session_unblocked"
	EventSessionCancelRequested = "session_cancel_requested"
	EventSessionOrphaned        = "session_orphaned"

	EventCheckpointCreated   = "checkpoint_created"
	EventCheckpointResponded = "checkpoint_responded"
	EventCheckpointTimeout   = "checkpoint_timeout"
	EventCheckpointCancelled = "checkpoint_cancelled"

	EventSignalRegistered = "signal_registered"
	EventSignalFired      = "signal_fired"
	EventSignalTimeout    = "signal_timeout"
	EventSignalCancelled  = "signal_cancelled"
)

// PreviewLimit bounds the payload preview attached to checkpoint_created
// events so observers are not forced to fetch the full UI spec.
const PreviewLimit = 1500

// Event is a typed observability record. Events are fire-and-forget: they
// exist for UIs and audit trails and never affect the state machines.
type Event struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"executionId"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// Notifier receives coordination events. Implementations must not block;
// a slow or failing notifier must never stall or abort a manager.
type Notifier interface {
	Publish(event Event)
}

// Publish sends an event through a notifier, isolating the caller from a
// nil notifier and from notifier panics.
func Publish(n Notifier, logger zerolog.Logger, eventType, executionID string, data map[string]any) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().
				Str("event", eventType).
				Str("execution_id", executionID).
				Any("panic", r).
				Msg("Notifier panicked; event dropped")
		}
	}()
	n.Publish(Event{
		Type:        eventType,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		Data:        data,
	})
}

// Preview truncates an opaque payload for event publication
func Preview(payload []byte) string {
	if len(payload) > PreviewLimit {
		return string(payload[:PreviewLimit])
	}
	return string(payload)
}

// NopNotifier discards all events
type NopNotifier struct{}

// Publish implements Notifier
func (NopNotifier) Publish(Event) {}

// CollectingNotifier buffers events on a channel, dropping when full.
// Intended for tests and simple UI consumers.
type CollectingNotifier struct {
	Events chan Event
}

// NewCollectingNotifier creates a notifier buffering up to size events
func NewCollectingNotifier(size int) *CollectingNotifier {
	return &CollectingNotifier{Events: make(chan Event, size)}
}

// Publish implements Notifier; drops the event if the buffer is full
func (n *CollectingNotifier) Publish(event Event) {
	select {
	case n.Events <- event:
	default:
	}
}
