package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/domain/resource"
)

// Errors
var (
	ErrClosed          = errors.New("controller is closed")
	ErrSuperseded      = errors.New("superseded by a newer resource request")
	ErrInvalidPosition = errors.New("seek position must not be negative")
	ErrNoEngineFactory = errors.New("engine factory is required")
)

// DefaultWatchdogInterval is the default interval between playback intent reconciliations.
const DefaultWatchdogInterval = 500 * time.Millisecond

// DefaultProgressUpdateInterval is the default interval of engine status notifications.
const DefaultProgressUpdateInterval = 500 * time.Millisecond

// Config holds controller configuration.
type Config struct {
	AutoPlay               bool          // Set playing intent after each successful load
	WatchdogInterval       time.Duration // Interval of the retry watchdog (0 = default)
	ProgressUpdateInterval time.Duration // Status notification interval passed to the engine (0 = default)
	Metrics                Metrics       // Instrumentation (nil = disabled)
}

// Controller manages a single logical audio player.
type Controller struct {
	mu sync.Mutex

	// Transition queue
	state   QueueState
	current resource.Descriptor // Resource of the published session
	pending resource.Descriptor // Requested resource not yet published
	waiters []chan error        // Requests waiting on pending

	// Engine session
	session    *session
	newEngine  audio.Factory
	teardownMu sync.Mutex // Serializes teardowns so at most one engine is alive

	// Playback
	isLoading bool
	playing   bool

	// Status projection
	status     *audio.Status
	metadata   audio.Metadata
	onTime     func(TimeUpdate)
	onStatus   func(audio.Status)
	onMetadata func(audio.Metadata)

	// Configuration
	config  Config
	metrics Metrics

	// Events
	eventCh chan Event
	kickCh  chan struct{}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// Snapshot is a consistent view of the controller state.
type Snapshot struct {
	State     QueueState
	Current   resource.Descriptor
	Pending   resource.Descriptor
	IsLoading bool
	Playing   bool
	Status    *audio.Status
	Metadata  audio.Metadata
}

// NewController creates a new controller and starts its retry watchdog.
func NewController(newEngine audio.Factory, config Config) (*Controller, error) {
	if newEngine == nil {
		return nil, ErrNoEngineFactory
	}
	if config.WatchdogInterval <= 0 {
		config.WatchdogInterval = DefaultWatchdogInterval
	}
	if config.ProgressUpdateInterval <= 0 {
		config.ProgressUpdateInterval = DefaultProgressUpdateInterval
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		state:     StateIdle,
		newEngine: newEngine,
		config:    config,
		metrics:   metrics,
		eventCh:   make(chan Event, 32),
		kickCh:    make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	c.wg.Add(1)
	go c.runWatchdog()

	zlog.Debug().Msgf("playback: controller started: auto_play=%v watchdog=%v",
		config.AutoPlay, config.WatchdogInterval)

	return c, nil
}

// Events returns the event channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// IsLoadingAudio returns true while a load is in progress.
func (c *Controller) IsLoadingAudio() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLoading
}

// IsPlaying returns the playing intent.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// QueueState returns the transition queue state.
func (c *Controller) QueueState() QueueState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentResource returns the resource of the published session, if any.
func (c *Controller) CurrentResource() (resource.Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != nil
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:     c.state,
		Current:   c.current,
		Pending:   c.pending,
		IsLoading: c.isLoading,
		Playing:   c.playing,
		Metadata:  c.metadata.Clone(),
	}
	if c.status != nil {
		st := *c.status
		snap.Status = &st
	}
	return snap
}

// Seek moves the playback position of the current session.
// It is a no-op when there is no session.
func (c *Controller) Seek(ctx context.Context, positionMillis int64) error {
	if positionMillis < 0 {
		return ErrInvalidPosition
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	s := c.session
	if s != nil && s.superseded {
		s = nil
	}
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return errors.Wrapf(s.engine.Seek(ctx, positionMillis), "seek session %s", s.id)
}

// Close tears down the current session and stops the watchdog.
// A load still in flight is torn down as soon as the engine returns from it.
// No controller state changes after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()

	loading := c.state != StateIdle
	s := c.session
	waiters := c.waiters
	c.waiters = nil
	close(c.eventCh)
	c.mu.Unlock()

	resolveWaiters(waiters, ErrClosed)
	c.wg.Wait()

	if !loading {
		c.teardown(context.WithoutCancel(c.ctx), s)
	}

	zlog.Debug().Msgf("playback: controller closed: load_in_flight=%v", loading)
}
