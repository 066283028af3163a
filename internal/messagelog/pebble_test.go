package messagelog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	pebblestore "github.com/rzbill/pollbus/internal/storage/pebble"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type capturePrunes struct {
	mu      sync.Mutex
	batches int
	total   int
	minID   uint64
	maxID   uint64
}

func (c *capturePrunes) ObservePrune(_ string, minID, maxID uint64, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batches == 0 {
		c.minID = minID
	}
	c.maxID = maxID
	c.batches++
	c.total += count
}

func openTestPebble(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestLog(t *testing.T, opts PebbleOptions) (*PebbleLog, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	l, err := NewPebble(openTestPebble(t), opts)
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	return l, clock
}

func ids(msgs []Message) []uint64 {
	out := make([]uint64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	l, _ := newTestLog(t, PebbleOptions{})
	ctx := context.Background()
	for want := uint64(1); want <= 3; want++ {
		id, err := l.Append(ctx, "room1", []byte("m"))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if id != want {
			t.Fatalf("id = %d want %d", id, want)
		}
	}
	if l.LastID() != 3 {
		t.Fatalf("LastID = %d", l.LastID())
	}
}

func TestQuerySinceByID(t *testing.T) {
	l, _ := newTestLog(t, PebbleOptions{})
	ctx := context.Background()
	for _, ch := range []string{"a", "b", "a", "c", "b"} {
		if _, err := l.Append(ctx, ch, []byte(ch)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := l.QuerySince(ctx, []string{"b", "a"}, 1, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if diff := cmp.Diff([]uint64{2, 3, 5}, ids(got)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	for _, m := range got {
		if string(m.Payload) != m.Channel {
			t.Fatalf("payload %q on channel %q", m.Payload, m.Channel)
		}
	}
}

func TestQuerySinceByTime(t *testing.T) {
	l, clock := newTestLog(t, PebbleOptions{})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := l.Append(ctx, "x", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
		clock.Advance(10 * time.Second)
	}
	// rows at t0, t0+10s, t0+20s, t0+30s; now is t0+40s
	got, err := l.QuerySince(ctx, []string{"x"}, 0, clock.Now().Add(-25*time.Second))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if diff := cmp.Diff([]uint64{3, 4}, ids(got)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}

	got, err = l.QuerySince(ctx, []string{"x"}, 0, clock.Now())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected nothing newer than now, got %v", ids(got))
	}

	got, err = l.QuerySince(ctx, []string{"x"}, 0, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("zero cursor and zero time should return all rows, got %d", len(got))
	}
}

func TestQuerySinceIsolatesChannels(t *testing.T) {
	l, _ := newTestLog(t, PebbleOptions{})
	ctx := context.Background()
	if _, err := l.Append(ctx, "a/b", []byte("nested")); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := l.QuerySince(ctx, []string{"a"}, 0, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("channel a saw %v", got)
	}
	got, err = l.QuerySince(ctx, nil, 0, time.Time{})
	if err != nil || got != nil {
		t.Fatalf("empty channel list: %v %v", got, err)
	}
}

func TestCreatedAtNeverGoesBackwards(t *testing.T) {
	l, clock := newTestLog(t, PebbleOptions{})
	ctx := context.Background()
	if _, err := l.Append(ctx, "x", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	clock.Advance(-time.Minute)
	if _, err := l.Append(ctx, "x", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := l.QuerySince(ctx, []string{"x"}, 0, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got[1].CreatedAt.Before(got[0].CreatedAt) {
		t.Fatalf("created_at regressed: %v then %v", got[0].CreatedAt, got[1].CreatedAt)
	}
}

func TestReopenRestoresLastID(t *testing.T) {
	db := openTestPebble(t)
	ctx := context.Background()
	l, err := NewPebble(db, PebbleOptions{Namespace: "n1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, "x", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = l.Close()

	l2, err := NewPebble(db, PebbleOptions{Namespace: "n1"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	id, err := l2.Append(ctx, "x", nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != 4 {
		t.Fatalf("id after reopen = %d want 4", id)
	}

	other, err := NewPebble(db, PebbleOptions{Namespace: "n2"})
	if err != nil {
		t.Fatalf("open other namespace: %v", err)
	}
	if other.LastID() != 0 {
		t.Fatalf("namespaces share ids")
	}
}

func TestCollectRemovesExpiredRows(t *testing.T) {
	prunes := &capturePrunes{}
	l, clock := newTestLog(t, PebbleOptions{BatchLimit: 128, Observer: prunes})
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		if _, err := l.Append(ctx, "x", []byte("p")); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	clock.Advance(101 * time.Second)
	keep, err := l.Append(ctx, "y", []byte("fresh"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	n, err := l.Collect(ctx, clock.Now().Add(-100*time.Second))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if n != 1000 {
		t.Fatalf("deleted %d want 1000", n)
	}
	if prunes.total != 1000 || prunes.minID != 1 || prunes.maxID != 1000 {
		t.Fatalf("observer saw total=%d range=[%d,%d]", prunes.total, prunes.minID, prunes.maxID)
	}
	if prunes.batches != 8 {
		t.Fatalf("batches = %d want 8", prunes.batches)
	}

	got, err := l.QuerySince(ctx, []string{"x"}, 0, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected x empty after collect, got %d rows", len(got))
	}
	got, err = l.QuerySince(ctx, []string{"y"}, 0, clock.Now().Add(-time.Second))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if diff := cmp.Diff([]uint64{keep}, ids(got)); diff != "" {
		t.Fatalf("fresh row missing (-want +got):\n%s", diff)
	}

	n, err = l.Collect(ctx, clock.Now().Add(-100*time.Second))
	if err != nil || n != 0 {
		t.Fatalf("second collect = %d, %v", n, err)
	}
}

func TestCollectCompactsPrunedRange(t *testing.T) {
	db := openTestPebble(t)
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	l, err := NewPebble(db, PebbleOptions{Now: clock.Now})
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		if _, err := l.Append(ctx, "x", []byte("payload")); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	clock.Advance(time.Minute)

	m := db.Metrics()
	before := m.Flush.Count + m.Compact.Count
	n, err := l.Collect(ctx, clock.Now())
	if err != nil || n != 200 {
		t.Fatalf("collect = %d, %v", n, err)
	}
	m = db.Metrics()
	if after := m.Flush.Count + m.Compact.Count; after <= before {
		t.Fatalf("no flush or compaction after collect (before=%d after=%d)", before, after)
	}
}

func TestCollectSkipsCompactionWhenNothingPruned(t *testing.T) {
	db := openTestPebble(t)
	l, err := NewPebble(db, PebbleOptions{})
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	if _, err := l.Append(context.Background(), "x", []byte("p")); err != nil {
		t.Fatalf("append: %v", err)
	}
	m := db.Metrics()
	before := m.Flush.Count + m.Compact.Count
	n, err := l.Collect(context.Background(), time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("collect = %d, %v", n, err)
	}
	m = db.Metrics()
	if after := m.Flush.Count + m.Compact.Count; after != before {
		t.Fatalf("unexpected compaction (before=%d after=%d)", before, after)
	}
}

func TestCollectDropsUndecodableRecord(t *testing.T) {
	db := openTestPebble(t)
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	l, err := NewPebble(db, PebbleOptions{Now: clock.Now, SkipCompact: true})
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, "x", []byte("p")); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := db.Set(keyEntry("default", 2), []byte{0xff}); err != nil {
		t.Fatalf("corrupt entry: %v", err)
	}
	clock.Advance(time.Minute)
	keep, err := l.Append(ctx, "x", []byte("fresh"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	n, err := l.Collect(ctx, clock.Now().Add(-time.Second))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if n != 3 {
		t.Fatalf("deleted %d want 3", n)
	}
	got, err := l.QuerySince(ctx, []string{"x"}, 0, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if diff := cmp.Diff([]uint64{keep}, ids(got)); diff != "" {
		t.Fatalf("rows after collect (-want +got):\n%s", diff)
	}
}

func TestClosedLogRejectsOperations(t *testing.T) {
	l, _ := newTestLog(t, PebbleOptions{})
	_ = l.Close()
	if _, err := l.Append(context.Background(), "x", nil); err != ErrClosed {
		t.Fatalf("append after close: %v", err)
	}
	if _, err := l.QuerySince(context.Background(), []string{"x"}, 0, time.Time{}); err != ErrClosed {
		t.Fatalf("query after close: %v", err)
	}
}

func TestMaxID(t *testing.T) {
	if MaxID(nil, 7) != 7 {
		t.Fatalf("empty should keep fallback")
	}
	if MaxID([]Message{{ID: 3}, {ID: 9}, {ID: 4}}, 1) != 9 {
		t.Fatalf("wrong max")
	}
}
