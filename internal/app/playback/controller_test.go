package playback

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/domain/resource"
)

const (
	testURIx = "https://example.com/x.mp3"
	testURIy = "https://example.com/y.mp3"
	testURIz = "https://example.com/z.mp3"
)

func newTestController(t *testing.T, hub *fakeHub, cfg Config) *Controller {
	t.Helper()
	if cfg.WatchdogInterval == 0 {
		cfg.WatchdogInterval = 10 * time.Millisecond
	}
	c, err := NewController(hub.factory, cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func waitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transition result")
		return nil
	}
}

func TestNewController_RequiresFactory(t *testing.T) {
	_, err := NewController(nil, Config{})
	assert.ErrorIs(t, err, ErrNoEngineFactory)
}

func TestController_LoadPublishesResource(t *testing.T) {
	hub := newFakeHub()
	c := newTestController(t, hub, Config{})

	err := waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx)))
	require.NoError(t, err)

	cur, ok := c.CurrentResource()
	require.True(t, ok)
	assert.True(t, resource.Equivalent(resource.NewStream(testURIx), cur))
	assert.False(t, c.IsLoadingAudio())
	assert.Equal(t, StateIdle, c.QueueState())
	assert.Equal(t, []string{testURIx}, hub.loadCalls())

	st, ok := c.CurrentStatus()
	require.True(t, ok)
	assert.True(t, st.IsLoaded)
}

func TestController_NoOpRequests(t *testing.T) {
	hub := newFakeHub()
	c := newTestController(t, hub, Config{})

	// Undefined resources are ignored
	require.NoError(t, waitResult(t, c.SetDesiredResource(nil)))
	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(""))))
	assert.Empty(t, hub.loadCalls())

	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))

	// Already current
	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))
	assert.Equal(t, []string{testURIx}, hub.loadCalls())
	assert.Equal(t, 1, hub.engineCount())
}

func TestController_RequestEquivalentToPendingIsQueuedOnce(t *testing.T) {
	hub := newFakeHub()
	hub.setBlocking(true)
	c := newTestController(t, hub, Config{})

	first := c.SetDesiredResource(resource.NewStream(testURIx))
	hub.waitLoads(t, 1)
	second := c.SetDesiredResource(resource.NewStream(testURIx))

	assert.Equal(t, StateLoading, c.QueueState())
	hub.engine(0).finish()

	require.NoError(t, waitResult(t, first))
	require.NoError(t, waitResult(t, second))
	assert.Equal(t, []string{testURIx}, hub.loadCalls())
}

func TestController_RapidRequestsCollapseToLast(t *testing.T) {
	hub := newFakeHub()
	hub.setBlocking(true)
	c := newTestController(t, hub, Config{})

	first := c.SetDesiredResource(resource.NewStream(testURIx))
	hub.waitLoads(t, 1)

	second := c.SetDesiredResource(resource.NewStream(testURIy))
	assert.Equal(t, StateSwapping, c.QueueState())
	third := c.SetDesiredResource(resource.NewLocalFile("/music/a.mp3"))
	last := c.SetDesiredResource(resource.NewStream(testURIz))

	assert.ErrorIs(t, waitResult(t, first), ErrSuperseded)
	assert.ErrorIs(t, waitResult(t, second), ErrSuperseded)
	assert.ErrorIs(t, waitResult(t, third), ErrSuperseded)

	hub.engine(0).finish()
	hub.waitLoads(t, 2)
	hub.engine(1).finish()

	require.NoError(t, waitResult(t, last))
	assert.Equal(t, []string{testURIx, testURIz}, hub.loadCalls())
	assert.True(t, hub.engine(0).isUnloaded())

	cur, _ := c.CurrentResource()
	assert.Equal(t, testURIz, cur.String())
	assert.Equal(t, StateIdle, c.QueueState())
	assert.False(t, c.IsLoadingAudio())
}

func TestController_SwapBackToInFlightResource(t *testing.T) {
	hub := newFakeHub()
	hub.setBlocking(true)
	c := newTestController(t, hub, Config{})

	c.SetDesiredResource(resource.NewStream("x"))
	hub.waitLoads(t, 1)

	b := c.SetDesiredResource(resource.NewStream("y"))
	a := c.SetDesiredResource(resource.NewStream("x"))
	assert.ErrorIs(t, waitResult(t, b), ErrSuperseded)

	// The first load of x completes but is discarded
	hub.engine(0).finish()
	hub.waitLoads(t, 2)
	_, published := c.CurrentResource()
	assert.False(t, published)

	hub.engine(1).finish()
	require.NoError(t, waitResult(t, a))

	assert.Equal(t, []string{"x", "x"}, hub.loadCalls())
	cur, ok := c.CurrentResource()
	require.True(t, ok)
	assert.Equal(t, "x", cur.String())
}

func TestController_ReturnToCurrentDuringTransition(t *testing.T) {
	hub := newFakeHub()
	c := newTestController(t, hub, Config{})

	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream("x"))))

	// x stays current until its engine is torn down
	release := hub.holdUnloads()
	t.Cleanup(release)
	a := c.SetDesiredResource(resource.NewStream("a"))
	back := c.SetDesiredResource(resource.NewStream("x"))

	assert.ErrorIs(t, waitResult(t, a), ErrSuperseded)
	snap := c.Snapshot()
	require.NotNil(t, snap.Pending)
	assert.Equal(t, "x", snap.Pending.String())

	release()
	require.NoError(t, waitResult(t, back))

	assert.Equal(t, []string{"x", "x"}, hub.loadCalls())
	cur, ok := c.CurrentResource()
	require.True(t, ok)
	assert.Equal(t, "x", cur.String())
	assert.Equal(t, StateIdle, c.QueueState())
}

func TestController_AtMostOneEngineAlive(t *testing.T) {
	hub := newFakeHub()
	hub.setBlocking(true)
	c := newTestController(t, hub, Config{})

	c.SetDesiredResource(resource.NewStream("a"))
	hub.waitLoads(t, 1)
	c.SetDesiredResource(resource.NewStream("b"))
	c.SetDesiredResource(resource.NewStream("c"))
	hub.engine(0).finish()

	hub.waitLoads(t, 2)
	c.SetDesiredResource(resource.NewStream("d"))
	hub.engine(1).finish()

	hub.waitLoads(t, 3)
	c.SetDesiredResource(resource.NewStream("e"))
	last := c.SetDesiredResource(resource.NewStream("f"))
	hub.engine(2).finish()

	hub.waitLoads(t, 4)
	hub.engine(3).finish()

	require.NoError(t, waitResult(t, last))
	assert.Equal(t, []string{"a", "c", "d", "f"}, hub.loadCalls())

	hub.mu.Lock()
	maxAlive := hub.maxAliveLoad
	hub.mu.Unlock()
	assert.Equal(t, 1, maxAlive)
	assert.Equal(t, 1, hub.liveEngines())
}

func TestController_AutoPlay(t *testing.T) {
	tests := []struct {
		name        string
		autoPlay    bool
		intent      bool
		wantPlaying bool
	}{
		{name: "autoplay sets intent", autoPlay: true, intent: false, wantPlaying: true},
		{name: "no autoplay keeps intent off", autoPlay: false, intent: false, wantPlaying: false},
		{name: "no autoplay keeps intent on", autoPlay: false, intent: true, wantPlaying: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newFakeHub()
			c := newTestController(t, hub, Config{AutoPlay: tt.autoPlay})
			c.SetPlayingIntent(tt.intent)

			require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))
			assert.Equal(t, tt.wantPlaying, c.IsPlaying())

			e := hub.engine(0)
			require.Eventually(t, func() bool { return e.isPlaying() == tt.wantPlaying },
				time.Second, 2*time.Millisecond)
		})
	}
}

func TestController_AutoPlaySkippedOnFailure(t *testing.T) {
	hub := newFakeHub()
	boom := errors.New("boom")
	hub.loadErrs[testURIx] = boom
	c := newTestController(t, hub, Config{AutoPlay: true})

	err := waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx)))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// The queue is ready for the next transition
	assert.False(t, c.IsPlaying())
	assert.False(t, c.IsLoadingAudio())
	assert.Equal(t, StateIdle, c.QueueState())

	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIy))))
	assert.Equal(t, []string{testURIx, testURIy}, hub.loadCalls())
}

func TestController_PlayRejectionRecoveredByWatchdog(t *testing.T) {
	hub := newFakeHub()
	hub.setPlayFailures(1)
	c := newTestController(t, hub, Config{AutoPlay: true})

	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))

	e := hub.engine(0)
	require.Eventually(t, e.isPlaying, time.Second, 2*time.Millisecond)
	hub.mu.Lock()
	remaining := hub.playFailures
	hub.mu.Unlock()
	assert.Equal(t, 0, remaining)
	assert.True(t, c.IsPlaying())
}

func TestController_WatchdogIdleWhileLoading(t *testing.T) {
	hub := newFakeHub()
	c := newTestController(t, hub, Config{})
	c.SetPlayingIntent(true)

	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))
	require.Eventually(t, hub.engine(0).isPlaying, time.Second, 2*time.Millisecond)

	hub.setBlocking(true)
	next := c.SetDesiredResource(resource.NewStream(testURIy))
	hub.waitLoads(t, 2)
	assert.True(t, c.IsLoadingAudio())

	// several watchdog ticks while the load is in flight
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, hub.engine(1).playCount())

	hub.engine(1).finish()
	require.NoError(t, waitResult(t, next))
	require.Eventually(t, hub.engine(1).isPlaying, time.Second, 2*time.Millisecond)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Equal(t, 0, hub.playsLoading)
}

func TestController_Seek(t *testing.T) {
	hub := newFakeHub()
	c := newTestController(t, hub, Config{})
	ctx := context.Background()

	// No session
	assert.NoError(t, c.Seek(ctx, 1000))
	assert.ErrorIs(t, c.Seek(ctx, -1), ErrInvalidPosition)

	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))
	require.NoError(t, c.Seek(ctx, 42000))
	assert.Equal(t, []int64{42000}, hub.engine(0).seekCalls())
}

func TestController_Unload(t *testing.T) {
	hub := newFakeHub()
	c := newTestController(t, hub, Config{})
	ctx := context.Background()

	require.NoError(t, c.Unload(ctx))

	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))
	require.NoError(t, c.Unload(ctx))

	_, ok := c.CurrentResource()
	assert.False(t, ok)
	assert.True(t, hub.engine(0).isUnloaded())
	assert.Equal(t, 0, hub.liveEngines())

	_, ok = c.CurrentStatus()
	assert.False(t, ok)
	assert.Empty(t, c.CurrentMetadata())
	snap := c.Snapshot()
	assert.Nil(t, snap.Status)
	assert.Nil(t, snap.Current)
	assert.Empty(t, snap.Metadata)

	// The same resource can be loaded again once unloaded
	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))
	assert.Equal(t, []string{testURIx, testURIx}, hub.loadCalls())
}

func TestController_UnloadDuringLoad(t *testing.T) {
	hub := newFakeHub()
	hub.setBlocking(true)
	c := newTestController(t, hub, Config{AutoPlay: true})

	req := c.SetDesiredResource(resource.NewStream(testURIx))
	hub.waitLoads(t, 1)

	require.NoError(t, c.Unload(context.Background()))
	assert.ErrorIs(t, waitResult(t, req), ErrSuperseded)

	hub.engine(0).finish()
	require.Eventually(t, func() bool { return c.QueueState() == StateIdle }, time.Second, 2*time.Millisecond)

	assert.True(t, hub.engine(0).isUnloaded())
	assert.False(t, c.IsLoadingAudio())
	assert.False(t, c.IsPlaying())
	_, ok := c.CurrentResource()
	assert.False(t, ok)
}

func TestController_CloseDuringLoad(t *testing.T) {
	hub := newFakeHub()
	hub.setBlocking(true)
	c, err := NewController(hub.factory, Config{AutoPlay: true, WatchdogInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	req := c.SetDesiredResource(resource.NewStream(testURIx))
	hub.waitLoads(t, 1)

	c.Close()
	assert.ErrorIs(t, waitResult(t, req), ErrClosed)

	before := c.Snapshot()
	hub.engine(0).finish()

	// The in-flight engine is released once the load returns
	require.Eventually(t, hub.engine(0).isUnloaded, time.Second, 2*time.Millisecond)

	after := c.Snapshot()
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.IsLoading, after.IsLoading)
	assert.Nil(t, after.Current)
	assert.False(t, after.Playing)

	assert.ErrorIs(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIy))), ErrClosed)
	assert.ErrorIs(t, c.Unload(context.Background()), ErrClosed)
	assert.ErrorIs(t, c.Seek(context.Background(), 0), ErrClosed)
	c.SetPlayingIntent(true)
	assert.False(t, c.IsPlaying())

	_, open := <-c.Events()
	for open {
		_, open = <-c.Events()
	}
}

func TestController_CloseTearsDownSession(t *testing.T) {
	hub := newFakeHub()
	c, err := NewController(hub.factory, Config{})
	require.NoError(t, err)

	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))
	c.Close()
	c.Close()

	assert.True(t, hub.engine(0).isUnloaded())
	assert.Equal(t, 0, hub.liveEngines())
}

func TestController_StatusProjection(t *testing.T) {
	hub := newFakeHub()
	c := newTestController(t, hub, Config{})

	var mu sync.Mutex
	var updates []TimeUpdate
	var statuses []audio.Status
	c.RegisterTimeUpdateObserver(func(tu TimeUpdate) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, tu)
	})
	c.RegisterStatusObserver(func(st audio.Status) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, st)
	})

	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))

	e := hub.engine(0)
	e.emit(audio.Status{IsLoaded: true, PositionMillis: 1500, DurationMillis: 10000})
	e.emit(audio.Status{IsLoaded: true, PositionMillis: 2500, DurationMillis: math.NaN()})
	e.emit(audio.Status{IsLoaded: false, IsBuffering: true})

	mu.Lock()
	defer mu.Unlock()

	// the load completion notification comes first
	require.Len(t, updates, 3)
	require.Len(t, statuses, 4)
	assert.Equal(t, TimeUpdate{PositionMillis: 1500, DurationMillis: 10000, RemainingMillis: 8500}, updates[1])
	assert.Equal(t, TimeUpdate{PositionMillis: 2500, DurationMillis: 1, RemainingMillis: -2499}, updates[2])
	for _, tu := range updates {
		assert.Equal(t, tu.DurationMillis-tu.PositionMillis, tu.RemainingMillis)
		assert.NotZero(t, tu.DurationMillis)
	}
	assert.True(t, statuses[3].IsBuffering)

	st, ok := c.CurrentStatus()
	require.True(t, ok)
	assert.True(t, st.IsBuffering)
}

func TestController_SupersededLoadNeverReachesObservers(t *testing.T) {
	hub := newFakeHub()
	hub.setBlocking(true)
	c := newTestController(t, hub, Config{})

	var mu sync.Mutex
	var seen []audio.Status
	var seenMeta []audio.Metadata
	c.RegisterStatusObserver(func(st audio.Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
	})
	c.RegisterMetadataObserver(func(md audio.Metadata) {
		mu.Lock()
		defer mu.Unlock()
		seenMeta = append(seenMeta, md)
	})

	c.SetDesiredResource(resource.NewStream(testURIx))
	hub.waitLoads(t, 1)
	next := c.SetDesiredResource(resource.NewStream(testURIy))

	stale := hub.engine(0)
	stale.emit(audio.Status{IsLoaded: true, PositionMillis: 10})
	stale.emitMetadata(audio.Metadata{"title": "stale"})
	stale.finish()

	hub.waitLoads(t, 2)
	hub.engine(1).finish()
	require.NoError(t, waitResult(t, next))

	hub.engine(1).emitMetadata(audio.Metadata{"title": "fresh"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, int64(0), seen[0].PositionMillis)
	require.Len(t, seenMeta, 1)
	assert.Equal(t, "fresh", seenMeta[0]["title"])
	assert.Equal(t, "fresh", c.CurrentMetadata()["title"])
}

func TestController_ResourceMetadata(t *testing.T) {
	hub := newFakeHub()
	c := newTestController(t, hub, Config{})

	var mu sync.Mutex
	var seen []audio.Metadata
	c.RegisterMetadataObserver(func(md audio.Metadata) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, md)
	})

	stream := resource.NewStream(testURIx)
	stream.Metadata = map[string]string{"title": "Song", "artist": "Band"}
	require.NoError(t, waitResult(t, c.SetDesiredResource(stream)))

	// Published on load when the engine reports nothing
	mu.Lock()
	require.Len(t, seen, 1)
	assert.Equal(t, audio.Metadata{"title": "Song", "artist": "Band"}, seen[0])
	mu.Unlock()

	hub.engine(0).emitMetadata(audio.Metadata{"title": "x", "bitrate": "128"})

	mu.Lock()
	require.Len(t, seen, 2)
	assert.Equal(t, audio.Metadata{"title": "Song", "artist": "Band", "bitrate": "128"}, seen[1])
	mu.Unlock()
	assert.Equal(t, "Band", c.CurrentMetadata()["artist"])

	// Resources without metadata publish nothing of their own
	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIy))))
	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
	assert.Empty(t, c.CurrentMetadata())
}

func TestController_ObserverLastRegistrationWins(t *testing.T) {
	hub := newFakeHub()
	c := newTestController(t, hub, Config{})

	var first, second int
	var mu sync.Mutex
	c.RegisterStatusObserver(func(audio.Status) { mu.Lock(); first++; mu.Unlock() })
	c.RegisterStatusObserver(func(audio.Status) { mu.Lock(); second++; mu.Unlock() })

	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestController_Events(t *testing.T) {
	hub := newFakeHub()
	c := newTestController(t, hub, Config{AutoPlay: true})

	require.NoError(t, waitResult(t, c.SetDesiredResource(resource.NewStream(testURIx))))
	c.SetPlayingIntent(false)

	var types []EventType
	for len(types) < 3 {
		select {
		case e := <-c.Events():
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", types)
		}
	}
	assert.Equal(t, []EventType{EventLoadStarted, EventLoadCompleted, EventIntentChanged}, types)
}

func TestProjectTime(t *testing.T) {
	tests := []struct {
		name     string
		status   audio.Status
		expected TimeUpdate
	}{
		{
			name:     "known duration",
			status:   audio.Status{IsLoaded: true, PositionMillis: 1000, DurationMillis: 5000},
			expected: TimeUpdate{PositionMillis: 1000, DurationMillis: 5000, RemainingMillis: 4000},
		},
		{
			name:     "missing position",
			status:   audio.Status{IsLoaded: true, DurationMillis: 5000},
			expected: TimeUpdate{PositionMillis: 0, DurationMillis: 5000, RemainingMillis: 5000},
		},
		{
			name:     "nan duration",
			status:   audio.Status{IsLoaded: true, PositionMillis: 0, DurationMillis: math.NaN()},
			expected: TimeUpdate{PositionMillis: 0, DurationMillis: 1, RemainingMillis: 1},
		},
		{
			name:     "zero duration",
			status:   audio.Status{IsLoaded: true, PositionMillis: 0},
			expected: TimeUpdate{PositionMillis: 0, DurationMillis: 1, RemainingMillis: 1},
		},
		{
			name:     "sub-millisecond duration",
			status:   audio.Status{IsLoaded: true, DurationMillis: 0.2},
			expected: TimeUpdate{PositionMillis: 0, DurationMillis: 1, RemainingMillis: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, projectTime(tt.status))
		})
	}
}

func TestQueueState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "loading_with_pending_swap", StateSwapping.String())
	assert.Equal(t, "unknown", QueueState(42).String())
}
