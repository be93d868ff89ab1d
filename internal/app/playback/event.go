package playback

import "github.com/osa030/retune/internal/domain/resource"

// EventType represents a controller event type.
type EventType int

const (
	EventLoadStarted   EventType = iota // A load call was issued to a new engine session
	EventLoadCompleted                  // A load finished and its resource became current
	EventLoadFailed                     // A load was rejected by the engine (resource still becomes current)
	EventLoadDiscarded                  // A load finished after being superseded and was thrown away
	EventUnloaded                       // The current session was torn down on request
	EventIntentChanged                  // The playing intent changed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventLoadStarted:
		return "load_started"
	case EventLoadCompleted:
		return "load_completed"
	case EventLoadFailed:
		return "load_failed"
	case EventLoadDiscarded:
		return "load_discarded"
	case EventUnloaded:
		return "unloaded"
	case EventIntentChanged:
		return "intent_changed"
	default:
		return "unknown"
	}
}

// Event represents a controller event.
type Event struct {
	Type     EventType
	Resource resource.Descriptor // Resource concerned (nil for some events)
	State    QueueState          // Queue state after the event
	Playing  bool                // Playing intent after the event
	Err      error               // Load error (EventLoadFailed only)
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (c *Controller) sendEventLocked(e Event) {
	if c.closed {
		return
	}
	e.State = c.state
	e.Playing = c.playing

	select {
	case c.eventCh <- e:
	default:
		// Channel full, drop event
	}
}
