package notification

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/retune/internal/app/playback"
	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/domain/resource"
)

// Notification types
const (
	TypeInitialState = "initial_state"
	TypeStatus       = "status"
	TypeTime         = "time"
	TypeMetadata     = "metadata"
	TypeEvent        = "event"
)

// StatusFields converts a status to notification fields.
// Unknown durations are omitted since JSON cannot carry NaN.
func StatusFields(st audio.Status) map[string]any {
	fields := map[string]any{
		"is_loaded":       st.IsLoaded,
		"is_playing":      st.IsPlaying,
		"is_buffering":    st.IsBuffering,
		"position_ms":     st.PositionMillis,
		"did_just_finish": st.DidJustFinish,
	}
	if st.HasDuration() {
		fields["duration_ms"] = st.DurationMillis
	}
	if st.Error != "" {
		fields["error"] = st.Error
	}
	return fields
}

// TimeFields converts a time update to notification fields.
func TimeFields(tu playback.TimeUpdate) map[string]any {
	return map[string]any{
		"position_ms":  tu.PositionMillis,
		"duration_ms":  tu.DurationMillis,
		"remaining_ms": tu.RemainingMillis,
	}
}

// MetadataFields converts metadata to notification fields.
func MetadataFields(md audio.Metadata) map[string]any {
	fields := make(map[string]any, len(md))
	for k, v := range md {
		fields[k] = v
	}
	return fields
}

// EventFields converts a controller event to notification fields.
func EventFields(e playback.Event) map[string]any {
	fields := map[string]any{
		"event":       e.Type.String(),
		"queue_state": e.State.String(),
		"playing":     e.Playing,
	}
	if resource.Defined(e.Resource) {
		fields["resource"] = e.Resource.String()
	}
	if e.Err != nil {
		fields["error"] = e.Err.Error()
	}
	return fields
}

// SnapshotFields converts a controller snapshot to notification fields.
func SnapshotFields(snap playback.Snapshot) map[string]any {
	fields := map[string]any{
		"queue_state": snap.State.String(),
		"is_loading":  snap.IsLoading,
		"playing":     snap.Playing,
	}
	if resource.Defined(snap.Current) {
		fields["current"] = snap.Current.String()
	}
	if resource.Defined(snap.Pending) {
		fields["pending"] = snap.Pending.String()
	}
	if snap.Status != nil {
		fields["status"] = StatusFields(*snap.Status)
	}
	if len(snap.Metadata) > 0 {
		fields["metadata"] = MetadataFields(snap.Metadata)
	}
	return fields
}

// New builds a notification of type typ carrying payload under the type's name.
func New(typ string, payload map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"type": typ,
		typ:    payload,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s notification", typ)
	}
	return s, nil
}
