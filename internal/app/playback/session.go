package playback

import (
	"context"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/domain/resource"
)

// session owns one live engine instance.
type session struct {
	id       string
	engine   audio.Engine
	resource resource.Descriptor // Resource this session was created to load

	// Guarded by Controller.mu: set once a newer request made this session's load stale.
	// Notifications of a superseded session never reach observers.
	superseded bool

	// Guarded by Controller.teardownMu.
	released bool
}

// openSession creates a new engine and routes its notifications through the controller.
// Hooks are registered before the engine is handed out so that no notification is missed.
func (c *Controller) openSession(res resource.Descriptor) *session {
	s := &session{
		id:       uuid.New().String(),
		engine:   c.newEngine(),
		resource: res,
	}
	s.engine.OnStatus(func(st audio.Status) { c.handleStatus(s, st) })
	s.engine.OnMetadata(func(md audio.Metadata) { c.handleMetadata(s, md) })

	c.metrics.SessionOpened()
	zlog.Debug().Msgf("playback: session opened: session=%s resource=%s", s.id, res)
	return s
}

// teardown stops and unloads the session's engine.
// If the controller is still alive and s is the current session, the session reference and the
// current resource are cleared. Safe to call with nil or an already released session.
func (c *Controller) teardown(ctx context.Context, s *session) {
	if s == nil {
		return
	}

	c.teardownMu.Lock()
	defer c.teardownMu.Unlock()

	if !s.released {
		st, err := s.engine.Status(ctx)
		if err != nil {
			zlog.Debug().Msgf("playback: status before teardown failed: session=%s error=%v", s.id, err)
		} else if st.IsLoaded {
			if err := s.engine.Stop(ctx); err != nil {
				zlog.Debug().Msgf("playback: stop failed: session=%s error=%v", s.id, err)
			}
		}

		if err := s.engine.Unload(ctx); err != nil {
			zlog.Debug().Msgf("playback: unload failed: session=%s error=%v", s.id, err)
		}

		s.released = true
		c.metrics.SessionClosed()
		zlog.Debug().Msgf("playback: session released: session=%s resource=%s", s.id, s.resource)
	}

	c.mu.Lock()
	if !c.closed && c.session == s {
		c.session = nil
		c.current = nil
		c.status = nil
		c.metadata = nil
	}
	c.mu.Unlock()
}

// Unload tears down the current session.
// If a load is in flight, the pending request is dropped and the loading session is torn down
// as soon as the engine returns from the load.
func (c *Controller) Unload(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if c.state != StateIdle {
		resolveWaiters(c.takeWaitersLocked(), ErrSuperseded)
		c.pending = nil
		c.supersedeLocked()
		c.mu.Unlock()
		zlog.Debug().Msg("playback: unload requested during load, dropping in-flight resource")
		return nil
	}

	s := c.session
	res := c.current
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	c.teardown(ctx, s)

	c.mu.Lock()
	c.sendEventLocked(Event{Type: EventUnloaded, Resource: res})
	c.mu.Unlock()

	return nil
}
