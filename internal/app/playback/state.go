// Package playback provides the resource-transition controller for a single audio player.
//
// The controller can be retargeted to a new resource while the previous one is still being
// loaded by an engine that cannot cancel a load. Superseded loads are discarded when they
// complete and the most recently requested resource is loaded in their place.
package playback

// QueueState represents the state of the transition queue.
type QueueState int

const (
	StateIdle     QueueState = iota // No load in flight, ready for the next transition
	StateLoading                    // A load is in flight for the pending resource
	StateSwapping                   // A load is in flight and a newer resource is pending
)

// String returns the string representation of the state.
func (s QueueState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSwapping:
		return "loading_with_pending_swap"
	default:
		return "unknown"
	}
}
