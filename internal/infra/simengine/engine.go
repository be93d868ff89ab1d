// Package simengine provides a simulated audio engine.
//
// It keeps a virtual playback clock instead of producing sound, which makes it usable on
// headless hosts and for demos. Load latency and failures can be configured so that the
// transition behaviour of the player can be observed without real network conditions.
package simengine

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/domain/resource"
)

// Errors
var (
	ErrNotLoaded     = errors.New("engine is not loaded")
	ErrAlreadyLoaded = errors.New("engine is already loaded")
	ErrLoadFailed    = errors.New("simulated load failure")
	ErrPlayRejected  = errors.New("simulated play rejection")
)

const defaultProgressInterval = 500 * time.Millisecond

// Settings are the engine settings of the "sim" engine type.
type Settings struct {
	LoadLatencyMs    int    `yaml:"load_latency_ms" mapstructure:"load_latency_ms" default:"300" validate:"gte=0,lte=60000"`
	DurationMs       int    `yaml:"duration_ms" mapstructure:"duration_ms" default:"180000" validate:"gte=1"`
	FailSubstring    string `yaml:"fail_substring" mapstructure:"fail_substring"`
	RejectFirstPlays int    `yaml:"reject_first_plays" mapstructure:"reject_first_plays" validate:"gte=0"`
}

// ParseSettings decodes, defaults and validates engine settings.
func ParseSettings(settings map[string]any) (Settings, error) {
	var s Settings
	if err := mapstructure.Decode(settings, &s); err != nil {
		return Settings{}, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&s); err != nil {
		return Settings{}, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(s); err != nil {
		return Settings{}, errors.Wrap(err, "validation failed")
	}
	return s, nil
}

// NewFactory returns a factory of simulated engines.
func NewFactory(settings map[string]any) (audio.Factory, error) {
	s, err := ParseSettings(settings)
	if err != nil {
		return nil, err
	}
	return func() audio.Engine { return New(s) }, nil
}

// Engine is a simulated engine instance.
type Engine struct {
	settings Settings
	now      func() time.Time

	mu          sync.Mutex
	loaded      bool
	playing     bool
	offset      time.Duration // Position when playback was last started or paused
	startedAt   time.Time
	endReported bool
	rejected    int
	stopCh      chan struct{}
	onStatus    audio.StatusHandler
	onMetadata  audio.MetadataHandler

	emitMu sync.Mutex
}

// New creates a simulated engine.
func New(settings Settings) *Engine {
	return &Engine{
		settings: settings,
		now:      time.Now,
	}
}

// Load waits for the configured latency and then reports the resource loaded.
// Resources whose string form contains FailSubstring are rejected.
func (e *Engine) Load(_ context.Context, res resource.Descriptor, opts audio.LoadOptions) (audio.Status, error) {
	e.mu.Lock()
	if e.loaded {
		e.mu.Unlock()
		return audio.Status{}, ErrAlreadyLoaded
	}
	e.mu.Unlock()

	// Loads are uncancelable
	time.Sleep(time.Duration(e.settings.LoadLatencyMs) * time.Millisecond)

	if e.settings.FailSubstring != "" && strings.Contains(res.String(), e.settings.FailSubstring) {
		return audio.Status{}, errors.Wrapf(ErrLoadFailed, "resource %s", res)
	}

	interval := opts.ProgressUpdateInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}

	e.mu.Lock()
	e.loaded = true
	e.offset = 0
	e.playing = false
	e.endReported = false
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	if opts.ShouldPlay {
		e.setPlaying(true)
	}
	go e.progressLoop(interval, stopCh)

	zlog.Debug().Msgf("simengine: loaded: resource=%s latency=%dms", res, e.settings.LoadLatencyMs)

	e.emitMetadata(metadataFor(res))
	return e.emitStatus(false), nil
}

// metadataFor derives a display title from the resource.
func metadataFor(res resource.Descriptor) audio.Metadata {
	md := audio.Metadata{"source": res.String()}
	switch r := res.(type) {
	case *resource.LocalFile:
		md["title"] = strings.TrimSuffix(path.Base(r.Path), path.Ext(r.Path))
	default:
		s := strings.TrimRight(res.String(), "/")
		if i := strings.IndexAny(s, "?#"); i >= 0 {
			s = s[:i]
		}
		base := path.Base(s)
		md["title"] = strings.TrimSuffix(base, path.Ext(base))
	}
	return md
}

func (e *Engine) progressLoop(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.emitStatus(true)
		}
	}
}

func (e *Engine) duration() time.Duration {
	return time.Duration(e.settings.DurationMs) * time.Millisecond
}

// positionLocked returns the virtual position and stops the clock at the end of the resource.
// Must be called with e.mu held.
func (e *Engine) positionLocked() time.Duration {
	pos := e.offset
	if e.playing {
		pos += e.now().Sub(e.startedAt)
	}
	if d := e.duration(); pos >= d {
		pos = d
		e.offset = d
		e.playing = false
	}
	return pos
}

// statusLocked must be called with e.mu held.
func (e *Engine) statusLocked() audio.Status {
	if !e.loaded {
		return audio.Status{}
	}
	pos := e.positionLocked()
	return audio.Status{
		IsLoaded:       true,
		IsPlaying:      e.playing,
		PositionMillis: pos.Milliseconds(),
		DurationMillis: float64(e.settings.DurationMs),
	}
}

func (e *Engine) emitStatus(progress bool) audio.Status {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	st := e.statusLocked()
	if progress && st.IsLoaded && st.PositionMillis >= int64(e.settings.DurationMs) && !e.endReported {
		e.endReported = true
		st.DidJustFinish = true
	}
	h := e.onStatus
	e.mu.Unlock()

	if h != nil {
		h(st)
	}
	return st
}

func (e *Engine) emitMetadata(md audio.Metadata) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	h := e.onMetadata
	e.mu.Unlock()

	if h != nil {
		h(md)
	}
}

// setPlaying starts or stops the virtual clock.
func (e *Engine) setPlaying(playing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.positionLocked()
	if playing && pos >= e.duration() {
		// Restart a finished resource
		pos = 0
		e.endReported = false
	}
	e.offset = pos
	e.startedAt = e.now()
	e.playing = playing
}

// Play starts the virtual clock. The first RejectFirstPlays calls are rejected.
func (e *Engine) Play(context.Context) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	if e.rejected < e.settings.RejectFirstPlays {
		e.rejected++
		e.mu.Unlock()
		return ErrPlayRejected
	}
	e.mu.Unlock()

	e.setPlaying(true)
	e.emitStatus(false)
	return nil
}

// Pause stops the virtual clock.
func (e *Engine) Pause(context.Context) error {
	e.mu.Lock()
	loaded := e.loaded
	e.mu.Unlock()
	if !loaded {
		return ErrNotLoaded
	}

	e.setPlaying(false)
	e.emitStatus(false)
	return nil
}

// Stop pauses and rewinds.
func (e *Engine) Stop(context.Context) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	e.playing = false
	e.offset = 0
	e.mu.Unlock()

	e.emitStatus(false)
	return nil
}

// Seek moves the virtual position, clamped to the duration.
func (e *Engine) Seek(_ context.Context, positionMillis int64) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	pos := time.Duration(positionMillis) * time.Millisecond
	if pos > e.duration() {
		pos = e.duration()
	}
	e.offset = pos
	e.startedAt = e.now()
	e.endReported = false
	e.mu.Unlock()

	e.emitStatus(false)
	return nil
}

// Unload stops the progress notifications.
func (e *Engine) Unload(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil
	}
	close(e.stopCh)
	e.loaded = false
	e.playing = false
	e.offset = 0
	return nil
}

// Status returns the current status.
func (e *Engine) Status(context.Context) (audio.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked(), nil
}

// OnStatus sets the status handler.
func (e *Engine) OnStatus(h audio.StatusHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStatus = h
}

// OnMetadata sets the metadata handler.
func (e *Engine) OnMetadata(h audio.MetadataHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMetadata = h
}
