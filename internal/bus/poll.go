package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/rzbill/pollbus/internal/messagelog"
)

// PollRequest is the full form of Poll.
type PollRequest struct {
	Channels []string
	// Last is the highest id the caller has seen; 0 reads the retention window.
	Last    uint64
	Timeout time.Duration
	// Filter drops messages from the result. The cursor still moves past them.
	Filter *Filter
}

// PollResult carries the messages and the cursor to resume from.
type PollResult struct {
	Messages []messagelog.Message
	Last     uint64
}

// Poll returns messages on channels newer than last, waiting up to timeout
// for one to arrive. It returns the new cursor: the highest id returned, or
// last when nothing was.
func (b *Bus) Poll(ctx context.Context, channels []string, last uint64, timeout time.Duration) ([]messagelog.Message, uint64, error) {
	res, err := b.PollWith(ctx, PollRequest{Channels: channels, Last: last, Timeout: timeout})
	return res.Messages, res.Last, err
}

// PollWith runs one long poll. The waiter is registered before each read so a
// publish that lands between the read and the wait still wakes it. The waiter
// is removed on every exit path.
func (b *Bus) PollWith(ctx context.Context, req PollRequest) (PollResult, error) {
	res := PollResult{Last: req.Last}
	if b.closed.Load() {
		return res, ErrClosed
	}
	channels := dedupeChannels(req.Channels)
	if len(channels) == 0 {
		return res, nil
	}
	timeout := req.Timeout
	if timeout > b.opts.MaxPollTimeout {
		timeout = b.opts.MaxPollTimeout
	}
	start := time.Now()

	if timeout <= 0 {
		msgs, next, err := b.read(ctx, channels, req.Last, req.Filter)
		if err != nil {
			return res, err
		}
		b.observer.ObservePoll(len(msgs), time.Since(start), false)
		return PollResult{Messages: msgs, Last: next}, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	cursor := req.Last
	for {
		msgs, next, outcome, err := b.waitOnce(ctx, channels, cursor, req.Filter, timer.C)
		if err != nil {
			return res, err
		}
		cursor = next
		switch outcome {
		case outcomeRead:
			b.observer.ObservePoll(len(msgs), time.Since(start), true)
			return PollResult{Messages: msgs, Last: cursor}, nil
		case outcomeSignalled:
			if b.closed.Load() {
				return b.finalRead(ctx, channels, cursor, req.Filter, start)
			}
			// Woken: loop to re-register and re-read with the remaining time.
		case outcomeTimedOut:
			return b.finalRead(ctx, channels, cursor, req.Filter, start)
		}
	}
}

type waitOutcome int

const (
	outcomeRead waitOutcome = iota
	outcomeSignalled
	outcomeTimedOut
)

// waitOnce registers a waiter, reads, and if the read is empty blocks until
// the waiter fires, the deadline passes or ctx ends.
func (b *Bus) waitOnce(ctx context.Context, channels []string, cursor uint64, f *Filter, deadline <-chan time.Time) ([]messagelog.Message, uint64, waitOutcome, error) {
	w := newWaiter(channels)
	b.registry.Register(w)
	defer b.registry.Remove(w)
	if b.closed.Load() {
		// Close may have run WakeAll before w was registered.
		return nil, cursor, outcomeSignalled, nil
	}

	msgs, next, err := b.read(ctx, channels, cursor, f)
	if err != nil {
		return nil, cursor, outcomeRead, err
	}
	if len(msgs) > 0 {
		return msgs, next, outcomeRead, nil
	}
	select {
	case <-w.Done():
		return nil, next, outcomeSignalled, nil
	case <-deadline:
		return nil, next, outcomeTimedOut, nil
	case <-ctx.Done():
		return nil, cursor, outcomeRead, ctx.Err()
	}
}

func (b *Bus) finalRead(ctx context.Context, channels []string, cursor uint64, f *Filter, start time.Time) (PollResult, error) {
	msgs, next, err := b.read(ctx, channels, cursor, f)
	if err != nil {
		return PollResult{Last: cursor}, err
	}
	b.observer.ObservePoll(len(msgs), time.Since(start), true)
	return PollResult{Messages: msgs, Last: next}, nil
}

// read queries the log past cursor, or over the retention window when cursor
// is 0, and returns the surviving messages plus the advanced cursor.
func (b *Bus) read(ctx context.Context, channels []string, cursor uint64, f *Filter) ([]messagelog.Message, uint64, error) {
	var since time.Time
	if cursor == 0 {
		since = b.opts.Now().Add(-b.opts.RetentionWindow)
	}
	msgs, err := b.log.QuerySince(ctx, channels, cursor, since)
	if err != nil {
		return nil, cursor, fmt.Errorf("bus: query: %w", err)
	}
	next := messagelog.MaxID(msgs, cursor)
	if f != nil {
		msgs = f.Apply(msgs, b.opts.Now())
	}
	return msgs, next, nil
}
