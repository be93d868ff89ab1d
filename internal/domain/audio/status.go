package audio

import "math"

// Status is a snapshot reported by the engine.
type Status struct {
	IsLoaded       bool    // Resource is loaded
	IsPlaying      bool    // Engine is currently playing
	IsBuffering    bool    // Engine is waiting for data
	PositionMillis int64   // Playback position
	DurationMillis float64 // Total duration (NaN or <= 0 when unknown, e.g. live streams)
	DidJustFinish  bool    // Playback reached the end since the previous notification
	Error          string  // Engine-reported error (empty if none)
}

// HasDuration reports whether the engine knows the resource duration.
func (s Status) HasDuration() bool {
	return !math.IsNaN(s.DurationMillis) && !math.IsInf(s.DurationMillis, 0) && s.DurationMillis > 0
}

// Metadata is an opaque metadata payload (stream titles, tags, ...).
type Metadata map[string]string

// Clone returns a copy of the metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
