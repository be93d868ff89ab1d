// Package spotify resolves Spotify track references to playable preview streams.
package spotify

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/domain/resource"
)

// ErrNoPreview is returned for tracks without a preview stream.
var ErrNoPreview = errors.New("track has no preview stream")

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration

	mu    sync.Mutex
	cache map[string]*Track // Keyed by track ID
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Market       string
}

// Track is a resolved track.
type Track struct {
	ID         string
	Name       string
	Artists    []string
	Album      string
	Duration   time.Duration
	PreviewURL string
}

// Metadata returns the track information as player metadata.
func (t *Track) Metadata() audio.Metadata {
	return audio.Metadata{
		"title":      t.Name,
		"artist":     strings.Join(t.Artists, ", "),
		"album":      t.Album,
		"spotify_id": t.ID,
	}
}

// New creates a new Spotify client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	// Track lookups need no user scopes
	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
	)

	// Create token from refresh token
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	// Get HTTP client with auto-refresh capability
	return NewWithHTTPClient(auth.Client(ctx, token), cfg.Market), nil
}

// NewWithHTTPClient creates a client on an already authorised HTTP client.
func NewWithHTTPClient(httpClient *http.Client, market string, opts ...spotify.ClientOption) *Client {
	if market == "" {
		market = "JP"
	}
	return &Client{
		client:     spotify.New(httpClient, opts...),
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
		cache:      make(map[string]*Track),
	}
}

// IsTrackReference reports whether s is a Spotify track URI or URL.
func IsTrackReference(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "spotify:track:") ||
		(strings.Contains(s, "open.spotify.com") && strings.Contains(s, "/track/"))
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, ref string) (*Track, error) {
	id := extractTrackID(ref)
	if id == "" {
		return nil, errors.New("invalid track reference")
	}

	c.mu.Lock()
	if t, ok := c.cache[id]; ok {
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	var result *spotify.FullTrack
	err := c.retry(func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	t := convertTrack(result)

	c.mu.Lock()
	c.cache[id] = t
	c.mu.Unlock()

	return t, nil
}

// Resolve converts a track reference to its preview stream.
func (c *Client) Resolve(ctx context.Context, ref string) (resource.Stream, *Track, error) {
	t, err := c.GetTrack(ctx, ref)
	if err != nil {
		return resource.Stream{}, nil, err
	}
	if t.PreviewURL == "" {
		return resource.Stream{}, t, errors.Wrapf(ErrNoPreview, "track %s", t.ID)
	}

	zlog.Debug().Msgf("spotify: resolved track: id=%s name=%s preview=%s", t.ID, t.Name, t.PreviewURL)
	stream := resource.NewStream(t.PreviewURL)
	stream.Metadata = t.Metadata()
	return stream, t, nil
}

// convertTrack converts a Spotify FullTrack to a Track.
func convertTrack(t *spotify.FullTrack) *Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	return &Track{
		ID:         string(t.ID),
		Name:       t.Name,
		Artists:    artists,
		Album:      t.Album.Name,
		Duration:   time.Duration(t.Duration) * time.Millisecond,
		PreviewURL: t.PreviewURL,
	}
}

// retry retries an operation with exponential backoff.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:track:TRACK_ID
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// Handle URL format: https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a track ID
	return input
}
