package bus

import (
	"context"
	"fmt"
	"time"

	logpkg "github.com/rzbill/pollbus/pkg/log"
)

// Entry is one message to publish.
type Entry struct {
	Channel string
	Payload []byte
}

// SendOne publishes a single message and returns its id.
func (b *Bus) SendOne(ctx context.Context, channel string, payload []byte) (uint64, error) {
	ids, err := b.SendMany(ctx, []Entry{{Channel: channel, Payload: payload}})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// SendMany appends every entry to the log, then broadcasts the distinct
// channels once. An append failure is returned before anything is broadcast.
// A broadcast failure is logged only: the rows are durable and waiters pick
// them up when their wait ends.
func (b *Bus) SendMany(ctx context.Context, entries []Entry) ([]uint64, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if len(entries) == 0 {
		return nil, nil
	}
	t0 := time.Now()

	ids := make([]uint64, len(entries))
	channels := make([]string, 0, len(entries))
	for i, e := range entries {
		id, err := b.log.Append(ctx, e.Channel, e.Payload)
		if err != nil {
			return nil, fmt.Errorf("bus: append to %q: %w", e.Channel, err)
		}
		ids[i] = id
		channels = append(channels, e.Channel)
	}
	channels = dedupeChannels(channels)

	b.notify(ctx, channels)
	b.observer.ObservePublish(len(entries), len(channels))

	if b.opts.GCSampleRate > 0 && b.opts.Rand() < b.opts.GCSampleRate {
		b.collectQuietly(ctx)
	}

	b.logger.With(
		logpkg.Int("entries", len(entries)),
		logpkg.Int("channels", len(channels)),
		logpkg.Uint64("last_id", ids[len(ids)-1]),
		logpkg.Int64("dur_ms", time.Since(t0).Milliseconds()),
	).Debug("bus.publish")
	return ids, nil
}

func (b *Bus) notify(ctx context.Context, channels []string) {
	payload, err := encodeChannels(channels, b.tr.MaxPayload())
	if err == nil {
		err = b.tr.Publish(ctx, b.opts.Topic, payload)
	}
	if err != nil {
		b.observer.ObserveNotifyError()
		b.logger.Warn("notification failed; waiters will recover on timeout",
			logpkg.Strs("channels", channels),
			logpkg.Err(err),
		)
	}
}
