// Package transports provides pluggable transport implementations for the CLI.
package transports

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rzbill/pollbus/internal/api/busv1"
)

// GrpcTransport implements BusTransport over pollbus.v1.Bus.
type GrpcTransport struct {
	dial func(ctx context.Context) (*grpc.ClientConn, error)
}

// NewGrpcTransport constructs a new GrpcTransport using the provided dialer.
func NewGrpcTransport(dial func(ctx context.Context) (*grpc.ClientConn, error)) *GrpcTransport {
	return &GrpcTransport{dial: dial}
}

func (t *GrpcTransport) withClient(ctx context.Context, fn func(cli *busv1.BusClient) error) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	return fn(busv1.NewBusClient(conn))
}

func (t *GrpcTransport) Send(ctx context.Context, entries []busv1.Entry) ([]uint64, error) {
	var out busv1.SendResponse
	err := t.withClient(ctx, func(cli *busv1.BusClient) error {
		in, err := busv1.ToStruct(busv1.SendRequest{Entries: entries})
		if err != nil {
			return err
		}
		res, err := cli.Send(ctx, in)
		if err != nil {
			return err
		}
		return busv1.FromStruct(res, &out)
	})
	return out.IDs, err
}

func (t *GrpcTransport) Poll(ctx context.Context, req busv1.PollRequest) (busv1.PollResponse, error) {
	out := busv1.PollResponse{Last: req.Last}
	err := t.withClient(ctx, func(cli *busv1.BusClient) error {
		in, err := busv1.ToStruct(req)
		if err != nil {
			return err
		}
		res, err := cli.Poll(ctx, in)
		if err != nil {
			return err
		}
		return busv1.FromStruct(res, &out)
	})
	return out, err
}

func (t *GrpcTransport) Stream(ctx context.Context, req busv1.StreamRequest, onMessage func(busv1.Message) error) error {
	return t.withClient(ctx, func(cli *busv1.BusClient) error {
		in, err := busv1.ToStruct(req)
		if err != nil {
			return err
		}
		stream, err := cli.Stream(ctx, in)
		if err != nil {
			return err
		}
		for {
			st, err := stream.Recv()
			if err != nil {
				if err == io.EOF || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			var m busv1.Message
			if err := busv1.FromStruct(st, &m); err != nil {
				return err
			}
			if err := onMessage(m); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}
	})
}
