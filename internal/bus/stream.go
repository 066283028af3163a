package bus

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rzbill/pollbus/internal/messagelog"
)

// Stream is a push-style subscription for connections that stay open, such
// as SSE. Ids are assigned when a row is written but rows become visible when
// their transaction commits, so a lower id can appear after a higher one has
// been sent. The stream keeps every id it sent during the last HistoryWindow
// and only moves its cursor past ids older than that window.
type Stream struct {
	bus      *Bus
	channels []string
	filter   *Filter

	mu       sync.Mutex
	lastSent uint64
	history  []sentEntry // ascending by id
}

type sentEntry struct {
	id     uint64
	sentAt time.Time
}

// Subscribe opens a stream on channels starting after last.
func (b *Bus) Subscribe(channels []string, last uint64, f *Filter) *Stream {
	return &Stream{bus: b, channels: dedupeChannels(channels), filter: f, lastSent: last}
}

// Last is the id below which everything has been delivered.
func (s *Stream) Last() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent
}

// Next returns the next batch of unsent messages, waiting up to timeout. An
// empty batch with a nil error means the wait timed out.
func (s *Stream) Next(ctx context.Context, timeout time.Duration) ([]messagelog.Message, error) {
	b := s.bus
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if len(s.channels) == 0 {
		return nil, nil
	}
	if timeout > b.opts.MaxPollTimeout {
		timeout = b.opts.MaxPollTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout <= 0 {
		return s.collect(ctx)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		msgs, fired, err := s.waitOnce(ctx, timer.C)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		if !fired || b.closed.Load() {
			return s.collect(ctx)
		}
	}
}

func (s *Stream) waitOnce(ctx context.Context, deadline <-chan time.Time) ([]messagelog.Message, bool, error) {
	b := s.bus
	w := newWaiter(s.channels)
	b.registry.Register(w)
	defer b.registry.Remove(w)
	if b.closed.Load() {
		return nil, true, nil
	}

	msgs, err := s.collect(ctx)
	if err != nil || len(msgs) > 0 {
		return msgs, false, err
	}
	select {
	case <-w.Done():
		return nil, true, nil
	case <-deadline:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// collect reads past lastSent, drops ids already sent, records the rest in
// the history and advances lastSent over expired history entries.
func (s *Stream) collect(ctx context.Context) ([]messagelog.Message, error) {
	b := s.bus
	now := b.opts.Now()
	var since time.Time
	if s.lastSent == 0 {
		since = now.Add(-b.opts.RetentionWindow)
	}
	rows, err := b.log.QuerySince(ctx, s.channels, s.lastSent, since)
	if err != nil {
		return nil, err
	}
	fresh := rows[:0]
	for _, m := range rows {
		if _, seen := slices.BinarySearchFunc(s.history, m.ID, cmpSent); seen {
			continue
		}
		fresh = append(fresh, m)
	}
	for _, m := range fresh {
		i, _ := slices.BinarySearchFunc(s.history, m.ID, cmpSent)
		s.history = slices.Insert(s.history, i, sentEntry{id: m.ID, sentAt: now})
	}
	s.expire(now)
	return s.filter.Apply(fresh, now), nil
}

// expire drops the leading run of history entries older than the window. An
// expired entry behind a younger one must stay, or the younger id's
// predecessors could be re-read.
func (s *Stream) expire(now time.Time) {
	cut := -1
	for i, e := range s.history {
		if now.Sub(e.sentAt) <= s.bus.opts.HistoryWindow {
			break
		}
		cut = i
	}
	if cut < 0 {
		return
	}
	s.lastSent = s.history[cut].id
	s.history = slices.Delete(s.history, 0, cut+1)
}

func cmpSent(e sentEntry, id uint64) int { return cmp.Compare(e.id, id) }
