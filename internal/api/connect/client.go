package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// PlayerClient is a client for the PlayerService.
type PlayerClient struct {
	setResource *connect.Client[wrapperspb.StringValue, structpb.Struct]
	setPlaying  *connect.Client[wrapperspb.BoolValue, structpb.Struct]
	seek        *connect.Client[wrapperspb.Int64Value, structpb.Struct]
	unload      *connect.Client[emptypb.Empty, structpb.Struct]
	getStatus   *connect.Client[emptypb.Empty, structpb.Struct]
	watchStatus *connect.Client[emptypb.Empty, structpb.Struct]
	token       string
}

// NewPlayerClient creates a client for the PlayerService at baseURL.
// token is sent with every call when non-empty.
func NewPlayerClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *PlayerClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &PlayerClient{
		setResource: connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+SetResourceProcedure, opts...),
		setPlaying:  connect.NewClient[wrapperspb.BoolValue, structpb.Struct](httpClient, baseURL+SetPlayingProcedure, opts...),
		seek:        connect.NewClient[wrapperspb.Int64Value, structpb.Struct](httpClient, baseURL+SeekProcedure, opts...),
		unload:      connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+UnloadProcedure, opts...),
		getStatus:   connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GetStatusProcedure, opts...),
		watchStatus: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+WatchStatusProcedure, opts...),
		token:       token,
	}
}

func withToken[T any](token string, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set(ControlTokenHeader, token)
	}
	return req
}

// SetResource calls PlayerService.SetResource.
func (c *PlayerClient) SetResource(ctx context.Context, ref string) (*structpb.Struct, error) {
	resp, err := c.setResource.CallUnary(ctx, withToken(c.token, wrapperspb.String(ref)))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// SetPlaying calls PlayerService.SetPlaying.
func (c *PlayerClient) SetPlaying(ctx context.Context, playing bool) (*structpb.Struct, error) {
	resp, err := c.setPlaying.CallUnary(ctx, withToken(c.token, wrapperspb.Bool(playing)))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Seek calls PlayerService.Seek.
func (c *PlayerClient) Seek(ctx context.Context, positionMillis int64) (*structpb.Struct, error) {
	resp, err := c.seek.CallUnary(ctx, withToken(c.token, wrapperspb.Int64(positionMillis)))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Unload calls PlayerService.Unload.
func (c *PlayerClient) Unload(ctx context.Context) (*structpb.Struct, error) {
	resp, err := c.unload.CallUnary(ctx, withToken(c.token, &emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// GetStatus calls PlayerService.GetStatus.
func (c *PlayerClient) GetStatus(ctx context.Context) (*structpb.Struct, error) {
	resp, err := c.getStatus.CallUnary(ctx, withToken(c.token, &emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// WatchStatus calls PlayerService.WatchStatus.
// The caller must close the returned stream.
func (c *PlayerClient) WatchStatus(ctx context.Context) (*connect.ServerStreamForClient[structpb.Struct], error) {
	return c.watchStatus.CallServerStream(ctx, withToken(c.token, &emptypb.Empty{}))
}
