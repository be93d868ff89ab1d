// Package beepengine provides an audio engine that decodes mp3 files and HTTP streams with
// gopxl/beep and plays them on the local sound card.
package beepengine

import (
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/domain/resource"
)

// Errors
var (
	ErrNotLoaded     = errors.New("engine is not loaded")
	ErrAlreadyLoaded = errors.New("engine is already loaded")
)

const (
	resampleQuality         = 4
	defaultProgressInterval = 500 * time.Millisecond
)

// Settings are the engine settings of the "beep" engine type.
type Settings struct {
	SampleRate       int    `yaml:"sample_rate" mapstructure:"sample_rate" default:"44100" validate:"gte=8000,lte=192000"`
	BufferMs         int    `yaml:"buffer_ms" mapstructure:"buffer_ms" default:"250" validate:"gte=10,lte=2000"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms" mapstructure:"connect_timeout_ms" default:"10000" validate:"gte=100"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent" default:"retune"`
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

// NewFactory returns a factory of engines playing on the default sound card.
func NewFactory(settings map[string]any) (audio.Factory, error) {
	s, err := ParseSettings(settings)
	if err != nil {
		return nil, err
	}
	client := newHTTPClient(s)
	return func() audio.Engine {
		return New(s, defaultOutput, client)
	}, nil
}

func newHTTPClient(s Settings) *http.Client {
	timeout := time.Duration(s.ConnectTimeoutMs) * time.Millisecond
	return &http.Client{
		// Streams are long-lived: no overall timeout
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			DisableCompression:    true,
		},
	}
}

// Engine plays one resource at a time.
type Engine struct {
	settings Settings
	out      Output
	client   *http.Client

	mu           sync.Mutex
	loaded       bool
	src          io.Closer
	streamer     beep.StreamSeekCloser
	playable     beep.Streamer // streamer, resampled to the output rate
	format       beep.Format
	ctrl         *beep.Ctrl
	cancel       context.CancelFunc
	stopCh       chan struct{}
	ended        atomic.Bool // Set from the speaker goroutine
	endReported  bool
	onStatus     audio.StatusHandler
	onMetadata   audio.MetadataHandler
	emitMu       sync.Mutex // Keeps notifications in emission order
}

// New creates an engine playing into out.
func New(settings Settings, out Output, client *http.Client) *Engine {
	if client == nil {
		client = newHTTPClient(settings)
	}
	return &Engine{
		settings: settings,
		out:      out,
		client:   client,
	}
}

// Load opens and decodes res. The source keeps streaming after Load returns, so the request
// is detached from ctx cancellation and lives until Unload.
func (e *Engine) Load(ctx context.Context, res resource.Descriptor, opts audio.LoadOptions) (audio.Status, error) {
	e.mu.Lock()
	if e.loaded {
		e.mu.Unlock()
		return audio.Status{}, ErrAlreadyLoaded
	}
	e.mu.Unlock()

	srcCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	rc, md, err := openSource(srcCtx, e.client, e.settings.UserAgent, res, opts.DownloadFirst)
	if err != nil {
		cancel()
		return audio.Status{}, err
	}

	streamer, format, err := mp3.Decode(rc)
	if err != nil {
		rc.Close()
		cancel()
		return audio.Status{}, errors.Wrapf(err, "failed to decode %s", res)
	}

	rate := beep.SampleRate(e.settings.SampleRate)
	bufferSize := rate.N(time.Duration(e.settings.BufferMs) * time.Millisecond)
	if err := e.out.Init(rate, bufferSize); err != nil {
		streamer.Close()
		rc.Close()
		cancel()
		return audio.Status{}, err
	}

	var s beep.Streamer = streamer
	if format.SampleRate != rate {
		s = beep.Resample(resampleQuality, format.SampleRate, rate, streamer)
	}

	e.ended.Store(false)
	ctrl := e.newCtrl(s, !opts.ShouldPlay)

	interval := opts.ProgressUpdateInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}

	e.mu.Lock()
	e.loaded = true
	e.src = rc
	e.streamer = streamer
	e.playable = s
	e.format = format
	e.ctrl = ctrl
	e.cancel = cancel
	e.endReported = false
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	e.out.Play(ctrl)
	go e.progressLoop(interval, stopCh)

	zlog.Debug().Msgf("beep: loaded: resource=%s sample_rate=%d channels=%d", res, format.SampleRate, format.NumChannels)

	e.emitMetadata(md)
	st := e.emitStatus(false)
	return st, nil
}

// newCtrl wraps s so that reaching its end is recorded.
func (e *Engine) newCtrl(s beep.Streamer, paused bool) *beep.Ctrl {
	return &beep.Ctrl{
		Streamer: beep.Seq(s, beep.Callback(func() { e.ended.Store(true) })),
		Paused:   paused,
	}
}

// progressLoop emits a status notification every interval until the engine is unloaded.
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

// emitStatus computes the current status and forwards it to the status handler.
// A progress emission reports the end of playback exactly once.
func (e *Engine) emitStatus(progress bool) audio.Status {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	st := e.statusLocked()
	if progress && st.IsLoaded && e.ended.Load() && !e.endReported {
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
		h(md.Clone())
	}
}

// statusLocked must be called with e.mu held.
func (e *Engine) statusLocked() audio.Status {
	if !e.loaded {
		return audio.Status{}
	}

	e.out.Lock()
	pos := e.streamer.Position()
	length := e.streamer.Len()
	paused := e.ctrl.Paused
	e.out.Unlock()

	return statusAt(e.format.SampleRate, pos, length, paused, e.ended.Load())
}

// statusAt converts decoder sample counters to a status.
// Unknown lengths (live streams) are reported as NaN.
func statusAt(rate beep.SampleRate, pos, length int, paused, ended bool) audio.Status {
	st := audio.Status{
		IsLoaded:       true,
		IsPlaying:      !paused && !ended,
		PositionMillis: rate.D(pos).Milliseconds(),
		DurationMillis: math.NaN(),
	}
	if length > 0 {
		st.DurationMillis = float64(rate.D(length).Milliseconds())
	}
	return st
}

// Play resumes playback. A finished resource restarts from the beginning.
func (e *Engine) Play(context.Context) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}

	restart := e.ended.Load()
	if restart {
		e.out.Lock()
		err := e.streamer.Seek(0)
		e.out.Unlock()
		if err != nil {
			e.mu.Unlock()
			return errors.Wrap(err, "failed to rewind finished resource")
		}
		e.ended.Store(false)
		e.endReported = false
		e.ctrl = e.newCtrl(e.playable, false)
	}

	e.out.Lock()
	e.ctrl.Paused = false
	e.out.Unlock()
	ctrl := e.ctrl
	e.mu.Unlock()

	if restart {
		e.out.Play(ctrl)
	}
	e.emitStatus(false)
	return nil
}

// Pause pauses playback.
func (e *Engine) Pause(context.Context) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	e.out.Lock()
	e.ctrl.Paused = true
	e.out.Unlock()
	e.mu.Unlock()

	e.emitStatus(false)
	return nil
}

// Stop pauses playback and rewinds when the source is seekable.
func (e *Engine) Stop(context.Context) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	e.out.Lock()
	e.ctrl.Paused = true
	if e.streamer.Len() > 0 {
		_ = e.streamer.Seek(0)
	}
	e.out.Unlock()
	e.mu.Unlock()

	e.emitStatus(false)
	return nil
}

// Seek moves the position. Positions past the end are clamped.
func (e *Engine) Seek(_ context.Context, positionMillis int64) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}

	target := e.format.SampleRate.N(time.Duration(positionMillis) * time.Millisecond)
	e.out.Lock()
	if n := e.streamer.Len(); n > 0 && target >= n {
		target = n - 1
	}
	err := e.streamer.Seek(target)
	e.out.Unlock()
	e.mu.Unlock()

	if err != nil {
		return errors.Wrapf(err, "failed to seek to %dms", positionMillis)
	}
	e.emitStatus(false)
	return nil
}

// Unload stops output and releases the decoder and the source.
func (e *Engine) Unload(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil
	}

	// Detach from the sink first so the speaker no longer reads the decoder
	e.out.Lock()
	e.ctrl.Streamer = nil
	e.out.Unlock()

	close(e.stopCh)
	var errs error
	if err := e.streamer.Close(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to close decoder"))
	}
	if err := e.src.Close(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to close source"))
	}
	e.cancel()

	e.loaded = false
	e.streamer = nil
	e.playable = nil
	e.src = nil
	e.ctrl = nil

	return errs
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
