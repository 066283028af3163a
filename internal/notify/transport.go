package notify

import (
	"context"
	"errors"
)

// ErrClosed is returned once a transport or subscription has been closed. It
// is the only error a subscriber should treat as permanent.
var ErrClosed = errors.New("notify: closed")

// Transport is a broadcast channel between processes.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	// MaxPayload is the largest payload Publish accepts; 0 means no limit.
	MaxPayload() int
	Close() error
}

// Subscription yields payloads published on one topic.
type Subscription interface {
	// Next blocks until a payload arrives or ctx is done, in which case it
	// returns ctx.Err() (possibly wrapped) and the subscription stays usable.
	Next(ctx context.Context) ([]byte, error)
	// Ping verifies the subscription is still attached.
	Ping(ctx context.Context) error
	Close() error
}
