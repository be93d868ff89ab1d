package playback

import (
	"math"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/domain/resource"
)

// TimeUpdate is the position/duration projection forwarded to the time observer.
type TimeUpdate struct {
	PositionMillis  int64
	DurationMillis  int64 // Never 0: unknown durations are reported as 1
	RemainingMillis int64 // DurationMillis - PositionMillis
}

// projectTime maps a loaded status to a TimeUpdate.
func projectTime(st audio.Status) TimeUpdate {
	position := st.PositionMillis

	duration := int64(1)
	if st.HasDuration() {
		if d := int64(math.Round(st.DurationMillis)); d > 0 {
			duration = d
		}
	}

	return TimeUpdate{
		PositionMillis:  position,
		DurationMillis:  duration,
		RemainingMillis: duration - position,
	}
}

// RegisterTimeUpdateObserver sets the time update observer. The last registration wins.
func (c *Controller) RegisterTimeUpdateObserver(fn func(TimeUpdate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTime = fn
}

// RegisterStatusObserver sets the raw status observer. The last registration wins.
func (c *Controller) RegisterStatusObserver(fn func(audio.Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// RegisterMetadataObserver sets the metadata observer. The last registration wins.
func (c *Controller) RegisterMetadataObserver(fn func(audio.Metadata)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMetadata = fn
}

// CurrentStatus returns the most recent status of the current session.
func (c *Controller) CurrentStatus() (audio.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == nil {
		return audio.Status{}, false
	}
	return *c.status, true
}

// CurrentMetadata returns the most recent metadata of the current session.
func (c *Controller) CurrentMetadata() audio.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata.Clone()
}

// handleStatus stores and forwards a status notification of session s.
// Notifications of stale or superseded sessions are dropped.
func (c *Controller) handleStatus(s *session, st audio.Status) {
	c.mu.Lock()
	if c.closed || c.session != s {
		c.mu.Unlock()
		return
	}
	if s.superseded {
		c.mu.Unlock()
		zlog.Trace().Msgf("playback: withholding status of superseded load: session=%s", s.id)
		return
	}
	c.status = &st
	onTime, onStatus := c.onTime, c.onStatus
	c.mu.Unlock()

	if st.IsLoaded && onTime != nil {
		onTime(projectTime(st))
	}
	if onStatus != nil {
		onStatus(st)
	}
}

// handleMetadata stores and forwards a metadata notification of session s.
// Metadata carried by the session's resource takes precedence over what the engine reports.
func (c *Controller) handleMetadata(s *session, md audio.Metadata) {
	md = withResourceMetadata(md, s.resource)

	c.mu.Lock()
	if c.closed || c.session != s || s.superseded {
		c.mu.Unlock()
		return
	}
	c.metadata = md.Clone()
	onMetadata := c.onMetadata
	c.mu.Unlock()

	if onMetadata != nil {
		onMetadata(md.Clone())
	}
}

// withResourceMetadata overlays the metadata carried by res onto md.
func withResourceMetadata(md audio.Metadata, res resource.Descriptor) audio.Metadata {
	known := resource.MetadataOf(res)
	if len(known) == 0 {
		return md
	}
	out := md.Clone()
	if out == nil {
		out = make(audio.Metadata, len(known))
	}
	for k, v := range known {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
