package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/retune/internal/app/playback"
	"github.com/osa030/retune/internal/domain/audio"
)

const (
	queueSize     = 64
	lookupTimeout = 10 * time.Second
)

// TagLookup finds descriptive tags for a track.
type TagLookup interface {
	TrackTags(ctx context.Context, title, artist string) ([]string, error)
}

type outgoing struct {
	typ     string
	payload map[string]any
}

// Publisher forwards controller observations to the manager's subscribers.
// Observers enqueue without blocking so that engine notifications are never held up by
// slow subscribers. Notifications are dropped when the queue is full.
type Publisher struct {
	manager *Manager
	tags    TagLookup
	wg      sync.WaitGroup

	mu     sync.Mutex // Guards queue against sends after close
	queue  chan outgoing
	closed bool
}

// NewPublisher creates a publisher broadcasting through manager.
func NewPublisher(manager *Manager) *Publisher {
	return &Publisher{
		manager: manager,
		queue:   make(chan outgoing, queueSize),
	}
}

// EnrichWith makes the publisher follow every metadata notification that names a track
// with a second one carrying the track's tags. It must be called before Attach.
func (p *Publisher) EnrichWith(tags TagLookup) {
	p.tags = tags
}

// Attach registers the publisher as the controller's observers and starts forwarding
// controller events. It returns when the goroutines are started. Forwarding stops once the
// controller is closed.
func (p *Publisher) Attach(c *playback.Controller) {
	c.RegisterStatusObserver(func(st audio.Status) {
		p.enqueue(TypeStatus, StatusFields(st))
	})
	c.RegisterTimeUpdateObserver(func(tu playback.TimeUpdate) {
		p.enqueue(TypeTime, TimeFields(tu))
	})
	c.RegisterMetadataObserver(func(md audio.Metadata) {
		p.enqueue(TypeMetadata, MetadataFields(md))
		if p.tags != nil {
			if title, artist, ok := trackOf(md); ok {
				go p.enrich(md.Clone(), title, artist)
			}
		}
	})

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for e := range c.Events() {
			p.enqueue(TypeEvent, EventFields(e))
		}
		p.close()
	}()
	go p.run()
}

// Wait blocks until all queued notifications are broadcast after the controller is closed.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

func (p *Publisher) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	close(p.queue)
}

func (p *Publisher) enqueue(typ string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- outgoing{typ: typ, payload: payload}:
	default:
		zlog.Debug().Msgf("notification: queue full, dropping %s notification", typ)
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for n := range p.queue {
		msg, err := New(n.typ, n.payload)
		if err != nil {
			zlog.Warn().Msgf("notification: %v", err)
			continue
		}
		p.manager.Broadcast(msg)
	}
}

// enrich looks up the tags of a track and publishes md again with them.
func (p *Publisher) enrich(md audio.Metadata, title, artist string) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	tags, err := p.tags.TrackTags(ctx, title, artist)
	if err != nil {
		zlog.Debug().Msgf("notification: tag lookup failed: track=%s - %s error=%v", artist, title, err)
		return
	}
	if len(tags) == 0 {
		return
	}
	md["tags"] = strings.Join(tags, ", ")
	p.enqueue(TypeMetadata, MetadataFields(md))
}

// trackOf extracts the title and artist from metadata. Without an artist field, titles of
// the form "Artist - Title" are split.
func trackOf(md audio.Metadata) (title, artist string, ok bool) {
	if _, tagged := md["tags"]; tagged {
		return "", "", false
	}
	title, artist = strings.TrimSpace(md["title"]), strings.TrimSpace(md["artist"])
	if artist == "" {
		if a, t, found := strings.Cut(title, " - "); found {
			artist, title = strings.TrimSpace(a), strings.TrimSpace(t)
		}
	}
	return title, artist, title != "" && artist != ""
}
