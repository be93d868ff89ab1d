package connect

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/retune/internal/domain/resource"
	"github.com/osa030/retune/internal/infra/spotify"
)

var (
	ErrEmptyResource   = errors.New("resource must not be empty")
	ErrSpotifyDisabled = errors.New("spotify is not configured")
)

// TrackResolver resolves Spotify track references to playable streams.
type TrackResolver interface {
	Resolve(ctx context.Context, ref string) (resource.Stream, *spotify.Track, error)
}

// Resolver turns resource strings received over the API into descriptors.
//
// Local file handles are compared by identity, so the resolver keeps one handle per
// cleaned path. Requesting the same path twice yields the same handle.
type Resolver struct {
	tracks  TrackResolver     // nil when Spotify is not configured
	headers map[string]string // Sent with every stream request

	mu    sync.Mutex
	files map[string]*resource.LocalFile
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithStreamHeaders attaches request headers to every stream the resolver creates.
func WithStreamHeaders(headers map[string]string) ResolverOption {
	return func(r *Resolver) {
		for k, v := range headers {
			r.headers[k] = v
		}
	}
}

// NewResolver creates a resolver. tracks may be nil.
func NewResolver(tracks TrackResolver, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		tracks:  tracks,
		headers: make(map[string]string),
		files:   make(map[string]*resource.LocalFile),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve parses ref into a descriptor.
func (r *Resolver) Resolve(ctx context.Context, ref string) (resource.Descriptor, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrEmptyResource
	}

	if spotify.IsTrackReference(ref) {
		if r.tracks == nil {
			return nil, ErrSpotifyDisabled
		}
		stream, track, err := r.tracks.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		if stream.Metadata == nil {
			stream.Metadata = track.Metadata()
		}
		zlog.Info().Msgf("connect: resolved spotify track: ref=%s title=%q", ref, track.Name)
		return r.withHeaders(stream), nil
	}

	if path, ok := localPath(ref); ok {
		return r.localFile(path), nil
	}
	return r.withHeaders(resource.NewStream(ref)), nil
}

// withHeaders adds the configured headers without overriding those already set.
func (r *Resolver) withHeaders(s resource.Stream) resource.Stream {
	if len(r.headers) == 0 {
		return s
	}
	headers := make(map[string]string, len(r.headers)+len(s.Headers))
	for k, v := range r.headers {
		headers[k] = v
	}
	for k, v := range s.Headers {
		headers[k] = v
	}
	s.Headers = headers
	return s
}

func (r *Resolver) localFile(path string) *resource.LocalFile {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.files[path]; ok {
		return f
	}
	f := resource.NewLocalFile(path)
	r.files[path] = f
	return f
}

// localPath returns the cleaned filesystem path for file URIs and bare paths.
func localPath(ref string) (string, bool) {
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil || u.Path == "" {
			return filepath.Clean(strings.TrimPrefix(ref, "file://")), true
		}
		return filepath.Clean(u.Path), true
	}
	if strings.Contains(ref, "://") {
		return "", false
	}
	return filepath.Clean(ref), true
}
