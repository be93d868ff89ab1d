package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/domain/resource"
)

var errNotLoaded = errors.New("player is not loaded")

// fakeHub creates fake engines and records how the controller drives them.
type fakeHub struct {
	mu sync.Mutex

	engines []*fakeEngine
	loads   []string

	alive        int
	maxAliveLoad int // Highest number of live engines observed at a load call

	blockLoads   bool
	unloadGate   chan struct{} // Unload waits on it when set
	loadErrs     map[string]error
	duration     float64
	playFailures int // Number of upcoming Play calls to reject
	playsLoading int // Play/Pause calls issued while a load was in flight
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		loadErrs: make(map[string]error),
		duration: 180000,
	}
}

func (h *fakeHub) factory() audio.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := &fakeEngine{hub: h, release: make(chan struct{})}
	h.engines = append(h.engines, e)
	h.alive++
	return e
}

func (h *fakeHub) setBlocking(b bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blockLoads = b
}

// holdUnloads makes engine teardown wait until the returned release func is called.
func (h *fakeHub) holdUnloads() (release func()) {
	gate := make(chan struct{})
	h.mu.Lock()
	h.unloadGate = gate
	h.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (h *fakeHub) setPlayFailures(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playFailures = n
}

func (h *fakeHub) loadCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.loads))
	copy(out, h.loads)
	return out
}

func (h *fakeHub) engine(i int) *fakeEngine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engines[i]
}

func (h *fakeHub) engineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.engines)
}

func (h *fakeHub) liveEngines() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *fakeHub) waitLoads(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.loadCalls()) >= n },
		time.Second, 2*time.Millisecond, "expected %d load calls", n)
}

// fakeEngine is an in-memory engine whose loads can be held open by the test.
type fakeEngine struct {
	hub     *fakeHub
	release chan struct{}
	once    sync.Once

	mu       sync.Mutex
	loading  bool
	loaded   bool
	playing  bool
	unloaded bool
	position int64
	seeks    []int64
	plays    int
	pauses   int
	onStatus audio.StatusHandler
	onMeta   audio.MetadataHandler
}

// finish lets a blocked Load return.
func (e *fakeEngine) finish() {
	e.once.Do(func() { close(e.release) })
}

func (e *fakeEngine) Load(_ context.Context, res resource.Descriptor, _ audio.LoadOptions) (audio.Status, error) {
	h := e.hub
	h.mu.Lock()
	h.loads = append(h.loads, res.String())
	if h.alive > h.maxAliveLoad {
		h.maxAliveLoad = h.alive
	}
	block := h.blockLoads
	loadErr := h.loadErrs[res.String()]
	duration := h.duration
	h.mu.Unlock()

	e.mu.Lock()
	e.loading = true
	e.mu.Unlock()

	if block {
		<-e.release
	}

	e.mu.Lock()
	e.loading = false
	if loadErr == nil {
		e.loaded = true
	}
	st := audio.Status{IsLoaded: e.loaded, DurationMillis: duration}
	e.mu.Unlock()

	if loadErr != nil {
		return audio.Status{}, loadErr
	}
	e.emit(st)
	return st, nil
}

func (e *fakeEngine) Play(context.Context) error {
	if e.rejectCommand() {
		return errNotLoaded
	}
	e.mu.Lock()
	e.playing = true
	e.plays++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Pause(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loading {
		e.hub.mu.Lock()
		e.hub.playsLoading++
		e.hub.mu.Unlock()
	}
	e.playing = false
	e.pauses++
	return nil
}

func (e *fakeEngine) rejectCommand() bool {
	e.mu.Lock()
	loading := e.loading
	e.mu.Unlock()

	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if loading {
		h.playsLoading++
	}
	if h.playFailures > 0 {
		h.playFailures--
		return true
	}
	return false
}

func (e *fakeEngine) Stop(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	e.position = 0
	return nil
}

func (e *fakeEngine) Seek(_ context.Context, positionMillis int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeks = append(e.seeks, positionMillis)
	e.position = positionMillis
	return nil
}

func (e *fakeEngine) Unload(context.Context) error {
	e.hub.mu.Lock()
	gate := e.hub.unloadGate
	e.hub.mu.Unlock()
	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	wasUnloaded := e.unloaded
	e.unloaded = true
	e.loaded = false
	e.playing = false
	e.mu.Unlock()

	if !wasUnloaded {
		e.hub.mu.Lock()
		e.hub.alive--
		e.hub.mu.Unlock()
	}
	return nil
}

func (e *fakeEngine) Status(context.Context) (audio.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return audio.Status{IsLoaded: e.loaded, IsPlaying: e.playing, PositionMillis: e.position}, nil
}

func (e *fakeEngine) OnStatus(h audio.StatusHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStatus = h
}

func (e *fakeEngine) OnMetadata(h audio.MetadataHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMeta = h
}

func (e *fakeEngine) emit(st audio.Status) {
	e.mu.Lock()
	h := e.onStatus
	e.mu.Unlock()
	if h != nil {
		h(st)
	}
}

func (e *fakeEngine) emitMetadata(md audio.Metadata) {
	e.mu.Lock()
	h := e.onMeta
	e.mu.Unlock()
	if h != nil {
		h(md)
	}
}

func (e *fakeEngine) isPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *fakeEngine) isUnloaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unloaded
}

func (e *fakeEngine) playCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plays
}

func (e *fakeEngine) seekCalls() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int64, len(e.seeks))
	copy(out, e.seeks)
	return out
}
