package grpcserver

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rzbill/pollbus/internal/api/busv1"
	"github.com/rzbill/pollbus/internal/bus"
	"github.com/rzbill/pollbus/internal/messagelog"
	"github.com/rzbill/pollbus/internal/runtime"
	logpkg "github.com/rzbill/pollbus/pkg/log"
)

type busSvc struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

var _ busv1.BusServer = (*busSvc)(nil)

func (s *busSvc) Send(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req busv1.SendRequest
	if err := busv1.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if len(req.Entries) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no entries")
	}
	entries := make([]bus.Entry, len(req.Entries))
	for i, e := range req.Entries {
		if e.Channel == "" {
			return nil, status.Errorf(codes.InvalidArgument, "entry %d: empty channel", i)
		}
		payload := []byte(e.Payload)
		if len(payload) == 0 {
			payload = []byte("null")
		}
		entries[i] = bus.Entry{Channel: e.Channel, Payload: payload}
	}
	ids, err := s.rt.Bus().SendMany(ctx, entries)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return busv1.ToStruct(busv1.SendResponse{IDs: ids})
}

func (s *busSvc) Poll(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req busv1.PollRequest
	if err := busv1.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	filter, err := bus.CompileFilter(req.Filter)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "filter: %v", err)
	}
	res, err := s.rt.Bus().PollWith(ctx, bus.PollRequest{
		Channels: req.Channels,
		Last:     req.Last,
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
		Filter:   filter,
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return busv1.ToStruct(busv1.PollResponse{Messages: toMessages(res.Messages), Last: res.Last})
}

func (s *busSvc) Stream(in *structpb.Struct, out grpc.ServerStreamingServer[structpb.Struct]) error {
	var req busv1.StreamRequest
	if err := busv1.FromStruct(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if len(req.Channels) == 0 {
		return status.Error(codes.InvalidArgument, "channels required")
	}
	filter, err := bus.CompileFilter(req.Filter)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "filter: %v", err)
	}
	b := s.rt.Bus()
	stream := b.Subscribe(req.Channels, req.Last, filter)
	ctx := out.Context()
	for {
		msgs, err := stream.Next(ctx, b.Options().MaxPollTimeout)
		if err != nil {
			return s.toStatus(err)
		}
		for _, m := range toMessages(msgs) {
			st, err := busv1.ToStruct(m)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := out.Send(st); err != nil {
				return err
			}
		}
	}
}

func (s *busSvc) toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, bus.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		s.logger.Error("bus call failed", logpkg.Err(err))
		return status.Error(codes.Internal, err.Error())
	}
}

func toMessages(msgs []messagelog.Message) []busv1.Message {
	out := make([]busv1.Message, len(msgs))
	for i, m := range msgs {
		out[i] = busv1.Message{ID: m.ID, Channel: m.Channel, Payload: jsonPayload(m.Payload), CreatedAt: m.CreatedAt}
	}
	return out
}
