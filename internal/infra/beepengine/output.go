package beepengine

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"
)

// Output is the audio sink engines play into.
// Lock/Unlock guard streamers that are being consumed by the sink.
type Output interface {
	Init(rate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
}

// speakerOutput is the process-wide sound card, initialised on first use.
type speakerOutput struct {
	once sync.Once
	err  error
}

var defaultOutput Output = &speakerOutput{}

func (o *speakerOutput) Init(rate beep.SampleRate, bufferSize int) error {
	o.once.Do(func() {
		if err := speaker.Init(rate, bufferSize); err != nil {
			o.err = errors.Wrap(err, "failed to initialize speaker")
			return
		}
		zlog.Debug().Msgf("beep: speaker initialized: sample_rate=%d buffer=%d", rate, bufferSize)
	})
	return o.err
}

func (o *speakerOutput) Play(s beep.Streamer) { speaker.Play(s) }
func (o *speakerOutput) Lock()                { speaker.Lock() }
func (o *speakerOutput) Unlock()              { speaker.Unlock() }
