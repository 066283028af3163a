package bus

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rzbill/pollbus/internal/messagelog"
	"github.com/rzbill/pollbus/internal/notify"
	pebblestore "github.com/rzbill/pollbus/internal/storage/pebble"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: time.Now()} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func openPebbleLog(t *testing.T, now func() time.Time) *messagelog.PebbleLog {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	l, err := messagelog.NewPebble(db, messagelog.PebbleOptions{Now: now})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l
}

// startBus builds and starts a bus; opts.Log and opts.Transport must be set.
func startBus(t *testing.T, opts Options) *Bus {
	t.Helper()
	if opts.GCSampleRate == 0 {
		opts.GCSampleRate = -1
	}
	b, err := New(opts)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func msgIDs(msgs []messagelog.Message) []uint64 {
	out := make([]uint64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// memLog is an in-memory Log whose rows can be inserted with explicit ids to
// mimic transactions committing out of id order.
type memLog struct {
	mu        sync.Mutex
	rows      []messagelog.Message
	nextID    uint64
	appendErr error
	queryErr  error
	now       func() time.Time
}

func newMemLog() *memLog { return &memLog{now: time.Now} }

func (l *memLog) Append(_ context.Context, channel string, payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return 0, l.appendErr
	}
	l.nextID++
	l.rows = append(l.rows, messagelog.Message{ID: l.nextID, CreatedAt: l.now(), Channel: channel, Payload: payload})
	return l.nextID, nil
}

// reserve hands out an id without making a row visible.
func (l *memLog) reserve() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	return l.nextID
}

// commit makes a reserved id visible.
func (l *memLog) commit(id uint64, channel string, payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, messagelog.Message{ID: id, CreatedAt: l.now(), Channel: channel, Payload: payload})
	sort.Slice(l.rows, func(i, j int) bool { return l.rows[i].ID < l.rows[j].ID })
}

func (l *memLog) QuerySince(ctx context.Context, channels []string, sinceID uint64, sinceTime time.Time) ([]messagelog.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queryErr != nil {
		return nil, l.queryErr
	}
	want := make(map[string]bool, len(channels))
	for _, c := range channels {
		want[c] = true
	}
	var out []messagelog.Message
	for _, m := range l.rows {
		if !want[m.Channel] {
			continue
		}
		switch {
		case sinceID > 0 && m.ID <= sinceID:
			continue
		case sinceID == 0 && !sinceTime.IsZero() && !m.CreatedAt.After(sinceTime):
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (l *memLog) Collect(_ context.Context, before time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.rows[:0]
	n := 0
	for _, m := range l.rows {
		if m.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, m)
	}
	l.rows = kept
	return n, nil
}

func (l *memLog) Ping(context.Context) error { return nil }
func (l *memLog) Close() error               { return nil }

// countingTransport wraps a transport, counts publishes and can fail them or
// cap the payload size.
type countingTransport struct {
	notify.Transport
	publishes  atomic.Int32
	failWith   error
	maxPayload int
	payloads   chan []byte
}

func (c *countingTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	c.publishes.Add(1)
	if c.payloads != nil {
		select {
		case c.payloads <- append([]byte(nil), payload...):
		default:
		}
	}
	if c.failWith != nil {
		return c.failWith
	}
	return c.Transport.Publish(ctx, topic, payload)
}

func (c *countingTransport) MaxPayload() int {
	if c.maxPayload > 0 {
		return c.maxPayload
	}
	return c.Transport.MaxPayload()
}

// flakyTransport fails the first subscribeFailures Subscribe calls and makes
// the first successful subscription die after one Next.
type flakyTransport struct {
	*notify.Memory
	subscribeFailures atomic.Int32
	breakFirst        atomic.Bool
	subscribes        atomic.Int32
}

var errFlaky = errors.New("flaky transport")

func (f *flakyTransport) Subscribe(ctx context.Context, topic string) (notify.Subscription, error) {
	f.subscribes.Add(1)
	if f.subscribeFailures.Load() > 0 {
		f.subscribeFailures.Add(-1)
		return nil, errFlaky
	}
	sub, err := f.Memory.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	if f.breakFirst.CompareAndSwap(true, false) {
		return &brokenSub{Subscription: sub}, nil
	}
	return sub, nil
}

type brokenSub struct {
	notify.Subscription
}

func (b *brokenSub) Next(context.Context) ([]byte, error) { return nil, errFlaky }

// pingCountingTransport wraps subscriptions so idle-check pings are counted.
type pingCountingTransport struct {
	*notify.Memory
	pings atomic.Int32
}

func (p *pingCountingTransport) Subscribe(ctx context.Context, topic string) (notify.Subscription, error) {
	sub, err := p.Memory.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	return &pingCountingSub{Subscription: sub, parent: p}, nil
}

type pingCountingSub struct {
	notify.Subscription
	parent *pingCountingTransport
}

func (s *pingCountingSub) Ping(ctx context.Context) error {
	s.parent.pings.Add(1)
	return s.Subscription.Ping(ctx)
}

type recordingObserver struct {
	NopObserver
	wakes      atomic.Int32
	malformed  atomic.Int32
	reconnects atomic.Int32
	notifyErrs atomic.Int32
	collected  atomic.Int32
	polls      atomic.Int32
}

func (o *recordingObserver) ObserveWake(n int)               { o.wakes.Add(int32(n)) }
func (o *recordingObserver) ObserveMalformedNotification()   { o.malformed.Add(1) }
func (o *recordingObserver) ObserveListenerReconnect()       { o.reconnects.Add(1) }
func (o *recordingObserver) ObserveNotifyError()             { o.notifyErrs.Add(1) }
func (o *recordingObserver) ObserveCollect(n int, err error) { o.collected.Add(int32(n)) }
func (o *recordingObserver) ObservePoll(int, time.Duration, bool) {
	o.polls.Add(1)
}
