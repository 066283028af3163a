package transports

import (
	"context"

	"github.com/rzbill/pollbus/internal/api/busv1"
)

// BusTransport abstracts the transport used by the CLI (gRPC/HTTP).
type BusTransport interface {
	Send(ctx context.Context, entries []busv1.Entry) ([]uint64, error)
	Poll(ctx context.Context, req busv1.PollRequest) (busv1.PollResponse, error)
	// Stream calls onMessage for each delivered message until ctx ends or
	// onMessage returns an error. ErrStop ends the stream without error.
	Stream(ctx context.Context, req busv1.StreamRequest, onMessage func(busv1.Message) error) error
}
