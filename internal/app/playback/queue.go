package playback

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/domain/resource"
)

// SetDesiredResource retargets the player to res.
//
// The returned channel receives exactly one value: nil when the request is a no-op or its
// resource was loaded and published, the load error when the engine rejected it,
// ErrSuperseded when a newer request (or Unload) replaced it before it was published, or
// ErrClosed when the controller was closed first. Callers may ignore the channel.
//
// A request equal to the resource currently loading joins that load instead of restarting
// it: the pending resource stays pending until its load settles. A request equal to the
// current resource is a no-op only while Idle. During a transition it is queued like any
// other request so that the most recent request is the one left loaded.
func (c *Controller) SetDesiredResource(res resource.Descriptor) <-chan error {
	done := make(chan error, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		done <- ErrClosed
		return done
	}

	// Already showing or already queued
	if !resource.Defined(res) || (c.state == StateIdle && resource.Equivalent(res, c.current)) {
		done <- nil
		return done
	}
	if resource.Equivalent(res, c.pending) {
		c.waiters = append(c.waiters, done)
		return done
	}

	resolveWaiters(c.takeWaitersLocked(), ErrSuperseded)
	c.pending = res
	c.waiters = []chan error{done}

	if c.state == StateIdle {
		c.state = StateLoading
		zlog.Debug().Msgf("playback: transition started: resource=%s", res)
		go c.loadLoop()
		return done
	}

	// The in-flight load cannot be cancelled: it is discarded when it completes.
	c.supersedeLocked()
	zlog.Debug().Msgf("playback: transition queued behind in-flight load: resource=%s", res)

	return done
}

// supersedeLocked marks the in-flight load as stale.
// Must be called with lock held.
func (c *Controller) supersedeLocked() {
	c.state = StateSwapping
	if c.session != nil && !c.session.superseded {
		c.session.superseded = true
		zlog.Debug().Msgf("playback: in-flight load superseded: session=%s resource=%s",
			c.session.id, c.session.resource)
	}
}

// takeWaitersLocked detaches the requests waiting on the pending resource.
// Must be called with lock held.
func (c *Controller) takeWaitersLocked() []chan error {
	w := c.waiters
	c.waiters = nil
	return w
}

func resolveWaiters(waiters []chan error, err error) {
	for _, w := range waiters {
		w <- err
	}
}

// loadLoop runs load attempts until the most recently requested resource is published.
// Exactly one loadLoop runs while the queue is not idle.
func (c *Controller) loadLoop() {
	bg := context.WithoutCancel(c.ctx)

	for {
		c.mu.Lock()
		prev := c.session
		if c.closed {
			c.mu.Unlock()
			c.teardown(bg, prev)
			return
		}
		c.isLoading = true
		c.status = nil
		c.metadata = nil
		c.mu.Unlock()
		c.kick()

		// At most one engine is alive: the previous one is gone before the next is created.
		c.teardown(bg, prev)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		target := c.pending
		if target == nil {
			// Unloaded before anything new was requested
			c.state = StateIdle
			c.isLoading = false
			c.sendEventLocked(Event{Type: EventUnloaded})
			c.mu.Unlock()
			c.kick()
			return
		}
		// Nothing is in flight yet, so a swap requested during teardown is simply absorbed.
		c.state = StateLoading
		c.mu.Unlock()

		s := c.openSession(target)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			c.teardown(bg, s)
			return
		}
		c.session = s
		c.sendEventLocked(Event{Type: EventLoadStarted, Resource: target})
		c.mu.Unlock()

		started := time.Now()
		c.metrics.LoadStarted()
		zlog.Debug().Msgf("playback: loading: session=%s resource=%s", s.id, target)

		st, loadErr := s.engine.Load(c.ctx, target, audio.DefaultLoadOptions(c.config.ProgressUpdateInterval))
		elapsed := time.Since(started)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			c.metrics.LoadFinished(OutcomeClosed, elapsed)
			c.teardown(bg, s)
			return
		}

		if c.state == StateSwapping {
			c.sendEventLocked(Event{Type: EventLoadDiscarded, Resource: target})
			c.mu.Unlock()
			c.metrics.LoadFinished(OutcomeDiscarded, elapsed)
			zlog.Debug().Msgf("playback: discarding superseded load: session=%s resource=%s elapsed=%v error=%v",
				s.id, target, elapsed, loadErr)
			continue
		}

		c.current = target
		c.pending = nil
		c.state = StateIdle
		c.isLoading = false
		waiters := c.takeWaitersLocked()

		var (
			result error
			known  audio.Metadata
		)
		if loadErr != nil {
			result = errors.Wrapf(loadErr, "load %s", target)
			c.sendEventLocked(Event{Type: EventLoadFailed, Resource: target, Err: result})
		} else {
			if c.status == nil {
				c.status = &st
			}
			// Engines that report no metadata of their own
			if c.metadata == nil {
				if known = withResourceMetadata(nil, target); known != nil {
					c.metadata = known.Clone()
				}
			}
			if c.config.AutoPlay {
				c.playing = true
			}
			c.sendEventLocked(Event{Type: EventLoadCompleted, Resource: target})
		}
		onMetadata := c.onMetadata
		c.mu.Unlock()

		if known != nil && onMetadata != nil {
			onMetadata(known)
		}

		if loadErr != nil {
			c.metrics.LoadFinished(OutcomeFailed, elapsed)
			zlog.Warn().Msgf("playback: load failed: session=%s resource=%s error=%v", s.id, target, loadErr)
		} else {
			c.metrics.LoadFinished(OutcomeCompleted, elapsed)
			zlog.Info().Msgf("playback: loaded: resource=%s elapsed=%v", target, elapsed)
		}

		resolveWaiters(waiters, result)
		c.kick()
		return
	}
}
