package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/osa030/retune/internal/app/notification"
	"github.com/osa030/retune/internal/app/playback"
	"github.com/osa030/retune/internal/infra/spotify"
)

// PlayerServiceName is the fully-qualified name of the PlayerService.
const PlayerServiceName = "retune.v1.PlayerService"

// Procedure paths of the PlayerService.
const (
	SetResourceProcedure = "/" + PlayerServiceName + "/SetResource"
	SetPlayingProcedure  = "/" + PlayerServiceName + "/SetPlaying"
	SeekProcedure        = "/" + PlayerServiceName + "/Seek"
	UnloadProcedure      = "/" + PlayerServiceName + "/Unload"
	GetStatusProcedure   = "/" + PlayerServiceName + "/GetStatus"
	WatchStatusProcedure = "/" + PlayerServiceName + "/WatchStatus"
)

// PlayerService implements the PlayerService RPC.
type PlayerService struct {
	controller    *playback.Controller
	notifications *notification.Manager
	resolver      *Resolver
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(controller *playback.Controller, notifications *notification.Manager, resolver *Resolver) *PlayerService {
	return &PlayerService{
		controller:    controller,
		notifications: notifications,
		resolver:      resolver,
	}
}

// NewPlayerServiceHandler builds an HTTP handler serving svc and returns the path to mount it on.
func NewPlayerServiceHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(SetResourceProcedure, connect.NewUnaryHandler(SetResourceProcedure, svc.SetResource, opts...))
	mux.Handle(SetPlayingProcedure, connect.NewUnaryHandler(SetPlayingProcedure, svc.SetPlaying, opts...))
	mux.Handle(SeekProcedure, connect.NewUnaryHandler(SeekProcedure, svc.Seek, opts...))
	mux.Handle(UnloadProcedure, connect.NewUnaryHandler(UnloadProcedure, svc.Unload, opts...))
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(WatchStatusProcedure, connect.NewServerStreamHandler(WatchStatusProcedure, svc.WatchStatus, opts...))
	return "/" + PlayerServiceName + "/", mux
}

// SetResource retargets the player and waits until the request settles.
func (s *PlayerService) SetResource(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	res, err := s.resolver.Resolve(ctx, req.Msg.GetValue())
	if err != nil {
		return nil, resolveError(err)
	}

	select {
	case err := <-s.controller.SetDesiredResource(res):
		if err != nil {
			zlog.Info().Msgf("connect: set resource did not complete: resource=%s error=%v", res, err)
			return nil, controllerError(err)
		}
	case <-ctx.Done():
		return nil, connect.NewError(connect.CodeCanceled, ctx.Err())
	}

	return s.snapshot()
}

// SetPlaying records the playback intent.
func (s *PlayerService) SetPlaying(
	ctx context.Context,
	req *connect.Request[wrapperspb.BoolValue],
) (*connect.Response[structpb.Struct], error) {
	s.controller.SetPlayingIntent(req.Msg.GetValue())
	return s.snapshot()
}

// Seek moves the playback position of the current resource.
func (s *PlayerService) Seek(
	ctx context.Context,
	req *connect.Request[wrapperspb.Int64Value],
) (*connect.Response[structpb.Struct], error) {
	if err := s.controller.Seek(ctx, req.Msg.GetValue()); err != nil {
		return nil, controllerError(err)
	}
	return s.snapshot()
}

// Unload tears down the current resource.
func (s *PlayerService) Unload(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	if err := s.controller.Unload(ctx); err != nil {
		return nil, controllerError(err)
	}
	return s.snapshot()
}

// GetStatus returns the controller snapshot.
func (s *PlayerService) GetStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.snapshot()
}

// WatchStatus sends the initial state followed by every notification until the client
// disconnects or the server shuts down.
func (s *PlayerService) WatchStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	initial, err := notification.New(notification.TypeInitialState, notification.SnapshotFields(s.controller.Snapshot()))
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	initial.Fields["sequence_no"] = structpb.NewNumberValue(float64(s.notifications.NextSequenceNo()))

	if err := stream.Send(initial); err != nil {
		return err
	}

	subscriptionID := s.notifications.Subscribe(&notificationStreamAdapter{stream: stream})
	defer s.notifications.Unsubscribe(subscriptionID)

	select {
	case <-ctx.Done():
	case <-s.notifications.Done():
	}
	return nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// A send that timed out may still be running when the next one starts.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[structpb.Struct]
}

func (a *notificationStreamAdapter) Send(msg *structpb.Struct) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(msg)
}

func (s *PlayerService) snapshot() (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(notification.SnapshotFields(s.controller.Snapshot()))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func resolveError(err error) error {
	switch {
	case errors.Is(err, ErrEmptyResource):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ErrSpotifyDisabled):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, spotify.ErrNoPreview):
		return connect.NewError(connect.CodeNotFound, err)
	default:
		return connect.NewError(connect.CodeUnavailable, err)
	}
}

func controllerError(err error) error {
	switch {
	case errors.Is(err, playback.ErrInvalidPosition):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, playback.ErrSuperseded):
		return connect.NewError(connect.CodeAborted, err)
	case errors.Is(err, playback.ErrClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeFailedPrecondition, err)
	}
}
