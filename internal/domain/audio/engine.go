// Package audio defines the contract of the audio engine the player drives.
package audio

import (
	"context"
	"time"

	"github.com/osa030/retune/internal/domain/resource"
)

// LoadOptions are the initial playback settings passed with a load call.
type LoadOptions struct {
	ShouldPlay             bool          // Start playing as soon as loaded
	DownloadFirst          bool          // Download the whole resource before reporting loaded (false = buffer)
	ProgressUpdateInterval time.Duration // Interval of periodic status notifications
}

// DefaultLoadOptions returns the non-custom initial status with buffering enabled.
func DefaultLoadOptions(progressInterval time.Duration) LoadOptions {
	return LoadOptions{
		ShouldPlay:             false,
		DownloadFirst:          false,
		ProgressUpdateInterval: progressInterval,
	}
}

// StatusHandler receives pushed status notifications.
type StatusHandler func(Status)

// MetadataHandler receives pushed metadata notifications.
type MetadataHandler func(Metadata)

// Engine is one live instance of an audio engine.
//
// Load cannot be cancelled once issued: the context only carries values and deadlines the
// engine may choose to honour. Unload is safe to call once a Load has returned.
// Handlers registered with OnStatus/OnMetadata are called in emission order and replace
// any previously registered handler.
type Engine interface {
	Load(ctx context.Context, res resource.Descriptor, opts LoadOptions) (Status, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, positionMillis int64) error
	Unload(ctx context.Context) error
	Status(ctx context.Context) (Status, error)

	OnStatus(h StatusHandler)
	OnMetadata(h MetadataHandler)
}

// Factory creates a fresh engine instance.
type Factory func() Engine
