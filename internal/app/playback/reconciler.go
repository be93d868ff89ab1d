package playback

import (
	zlog "github.com/rs/zerolog/log"
)

// SetPlayingIntent sets the desired play/pause state.
// The engine converges to it as soon as a loaded session is available.
func (c *Controller) SetPlayingIntent(playing bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.playing != playing {
		c.playing = playing
		c.sendEventLocked(Event{Type: EventIntentChanged, Resource: c.current})
	}
	c.mu.Unlock()

	c.kick()
}

// kick schedules a reconciliation without blocking.
// Pending kicks are coalesced.
func (c *Controller) kick() {
	select {
	case c.kickCh <- struct{}{}:
	default:
	}
}

// reconcile issues play or pause to match the playing intent.
// It does nothing unless a published, loaded session exists and no transition is in progress.
// Engine rejections are swallowed: the watchdog retries on its next tick.
func (c *Controller) reconcile() {
	c.mu.Lock()
	s := c.session
	ready := !c.closed &&
		s != nil &&
		c.state != StateSwapping &&
		c.status != nil && c.status.IsLoaded &&
		!c.isLoading
	playing := c.playing
	c.mu.Unlock()

	if !ready {
		c.metrics.ReconcileAttempt(ReconcileSkipped)
		return
	}

	var err error
	if playing {
		err = s.engine.Play(c.ctx)
	} else {
		err = s.engine.Pause(c.ctx)
	}
	if err != nil {
		c.metrics.ReconcileAttempt(ReconcileRejected)
		zlog.Debug().Msgf("playback: engine rejected intent, retrying on next tick: session=%s playing=%v error=%v",
			s.id, playing, err)
		return
	}

	c.metrics.ReconcileAttempt(ReconcileIssued)
}
