package messagelog

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("messagelog: closed")

// Message is one immutable bus row.
type Message struct {
	ID        uint64
	CreatedAt time.Time
	Channel   string
	Payload   []byte
}

// Log is the durable message store shared by publishers and pollers.
type Log interface {
	// Append inserts one row and returns its id. Ids start at 1 and increase.
	Append(ctx context.Context, channel string, payload []byte) (uint64, error)

	// QuerySince returns rows on any of channels ordered by id ascending.
	// With sinceID > 0 only rows with id > sinceID are returned. Otherwise a
	// non-zero sinceTime selects rows created after it; both zero returns
	// every retained row.
	QuerySince(ctx context.Context, channels []string, sinceID uint64, sinceTime time.Time) ([]Message, error)

	// Collect deletes rows created before the given time and reports how
	// many were removed.
	Collect(ctx context.Context, before time.Time) (int, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// MaxID returns the highest id in msgs, or fallback when msgs is empty.
func MaxID(msgs []Message, fallback uint64) uint64 {
	out := fallback
	for _, m := range msgs {
		if m.ID > out {
			out = m.ID
		}
	}
	return out
}

func dedupe(channels []string) []string {
	if len(channels) < 2 {
		return channels
	}
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, c := range channels {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
