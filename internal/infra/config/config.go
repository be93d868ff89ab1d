// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Playback PlaybackConfig `yaml:"playback"`
	Engine   EngineConfig   `yaml:"engine"`
	Spotify  SpotifyConfig  `yaml:"spotify"`
	LastFM   LastFMConfig   `yaml:"lastfm"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr        string      `yaml:"addr" default:":8080"`
	MetricsPath string      `yaml:"metrics_path" default:"/metrics" validate:"startswith=/"`
	Hooks       HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// APIConfig represents control API configuration.
type APIConfig struct {
	Token string `yaml:"token"` // Empty disables authentication
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	AutoPlay                 bool              `yaml:"auto_play"`
	WatchdogIntervalMs       int               `yaml:"watchdog_interval_ms" default:"500" validate:"gte=10,lte=60000"`
	ProgressUpdateIntervalMs int               `yaml:"progress_update_interval_ms" default:"500" validate:"gte=10,lte=10000"`
	InitialResource          string            `yaml:"initial_resource"`
	StreamHeaders            map[string]string `yaml:"stream_headers"` // Sent with every stream request
}

// EngineConfig represents audio engine configuration.
type EngineConfig struct {
	Type     string         `yaml:"type" default:"beep" validate:"oneof=beep sim"`
	Settings map[string]any `yaml:"settings"`
}

// SpotifyConfig represents Spotify API configuration.
// Spotify is optional: either all credentials are set or none.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// LastFMConfig represents Last.fm configuration used to tag notified metadata.
// An empty API key disables tagging.
type LastFMConfig struct {
	APIKey   string `yaml:"api_key"`
	TagLimit int    `yaml:"tag_limit" default:"5" validate:"gte=1,lte=50"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("RETUNE_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.LastFM.APIKey = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validateSpotify(); err != nil {
		return err
	}

	return nil
}

// validateSpotify checks that Spotify credentials are either complete or absent.
func (c *Config) validateSpotify() error {
	set := 0
	for _, v := range []string{c.Spotify.ClientID, c.Spotify.ClientSecret, c.Spotify.RefreshToken} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("spotify: client_id, client_secret and refresh_token must be set together")
	}
	return nil
}

// SpotifyEnabled reports whether Spotify credentials are configured.
func (c *Config) SpotifyEnabled() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != "" && c.Spotify.RefreshToken != ""
}

// WatchdogInterval returns the retry watchdog interval.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Playback.WatchdogIntervalMs) * time.Millisecond
}

// ProgressUpdateInterval returns the engine status notification interval.
func (c *Config) ProgressUpdateInterval() time.Duration {
	return time.Duration(c.Playback.ProgressUpdateIntervalMs) * time.Millisecond
}
