package messagelog

import (
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/pollbus/internal/storage/pebble"
	logpkg "github.com/rzbill/pollbus/pkg/log"
)

// PebbleOptions configures a Pebble-backed log.
type PebbleOptions struct {
	Namespace string
	// BatchLimit bounds the number of rows removed per Collect commit.
	BatchLimit int
	// Observer receives the id range of every Collect batch.
	Observer PruneObserver
	// Now stamps created_at. Defaults to time.Now.
	Now    func() time.Time
	Logger logpkg.Logger
	// SkipCompact leaves pruned ranges to Pebble's background compactions.
	SkipCompact bool
}

// PebbleLog stores the message log in a Pebble database. It is intended for
// a single process; the DB is owned by the caller.
type PebbleLog struct {
	db         *pebblestore.DB
	namespace  string
	batchLimit int
	observer   PruneObserver
	now        func() time.Time
	logger     logpkg.Logger
	compact    bool

	mu     sync.Mutex
	lastID uint64
	lastMs int64
	closed atomic.Bool
}

var _ Log = (*PebbleLog)(nil)

// NewPebble opens the log stored under opts.Namespace, restoring the last
// assigned id from metadata.
func NewPebble(db *pebblestore.DB, opts PebbleOptions) (*PebbleLog, error) {
	if db == nil {
		return nil, errors.New("messagelog: nil pebble db")
	}
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 1024
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	l := &PebbleLog{
		db:         db,
		namespace:  opts.Namespace,
		batchLimit: opts.BatchLimit,
		observer:   opts.Observer,
		now:        opts.Now,
		logger:     opts.Logger,
		compact:    !opts.SkipCompact,
	}

	meta, err := db.Get(keyMeta(l.namespace))
	switch {
	case err == nil:
		if len(meta) >= 8 {
			l.lastID = binary.BigEndian.Uint64(meta[:8])
		}
		if len(meta) >= 16 {
			l.lastMs = int64(binary.BigEndian.Uint64(meta[8:16]))
		}
	case errors.Is(err, pebblestore.ErrNotFound):
	default:
		return nil, fmt.Errorf("messagelog: load meta: %w", err)
	}
	return l, nil
}

// Append writes the record, both indexes and the metadata in one batch.
// created_at never goes backwards in id order, which QuerySince relies on.
func (l *PebbleLog) Append(ctx context.Context, channel string, payload []byte) (uint64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ms := l.now().UnixMilli()
	if ms < l.lastMs {
		ms = l.lastMs
	}
	id := l.lastID + 1

	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyEntry(l.namespace, id), encodeMessage(ms, channel, payload), nil); err != nil {
		return 0, err
	}
	if err := b.Set(keyChannel(l.namespace, channel, id), nil, nil); err != nil {
		return 0, err
	}
	if err := b.Set(keyTime(l.namespace, ms, id), nil, nil); err != nil {
		return 0, err
	}
	meta := make([]byte, 0, 16)
	meta = binary.BigEndian.AppendUint64(meta, id)
	meta = binary.BigEndian.AppendUint64(meta, uint64(ms))
	if err := b.Set(keyMeta(l.namespace), meta, nil); err != nil {
		return 0, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	l.lastID, l.lastMs = id, ms
	return id, nil
}

// QuerySince reads from one snapshot so every channel sees the same state.
func (l *PebbleLog) QuerySince(ctx context.Context, channels []string, sinceID uint64, sinceTime time.Time) ([]Message, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	channels = dedupe(channels)
	if len(channels) == 0 {
		return nil, nil
	}
	start := time.Now()
	snap := l.db.NewSnapshot()
	defer snap.Close()

	fromID := sinceID + 1
	if sinceID == 0 && !sinceTime.IsZero() {
		id, ok, err := l.firstAfter(snap, sinceTime.UnixMilli())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		fromID = id
	}

	var out []Message
	read := 0
	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prefix := channelPrefix(l.namespace, ch)
		iter, err := snap.NewIter(&pebble.IterOptions{
			LowerBound: keyChannel(l.namespace, ch, fromID),
			UpperBound: upperBound(prefix),
		})
		if err != nil {
			return nil, err
		}
		for ok := iter.First(); ok; ok = iter.Next() {
			id := idSuffix(iter.Key())
			val, closer, err := snap.Get(keyEntry(l.namespace, id))
			if errors.Is(err, pebble.ErrNotFound) {
				continue
			}
			if err != nil {
				_ = iter.Close()
				return nil, err
			}
			m, okDec := decodeMessage(id, val)
			read += len(val)
			_ = closer.Close()
			if okDec {
				out = append(out, m)
			}
		}
		if err := iter.Close(); err != nil {
			return nil, err
		}
	}
	if len(channels) > 1 {
		slices.SortFunc(out, func(a, b Message) int { return cmp.Compare(a.ID, b.ID) })
	}
	l.db.ObserveRead(time.Since(start), read)
	return out, nil
}

// firstAfter returns the smallest id whose created_at ms is greater than cutoffMs.
func (l *PebbleLog) firstAfter(snap *pebble.Snapshot, cutoffMs int64) (uint64, bool, error) {
	iter, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: keyTime(l.namespace, cutoffMs+1, 0),
		UpperBound: upperBound(timePrefix(l.namespace)),
	})
	if err != nil {
		return 0, false, err
	}
	defer iter.Close()
	if !iter.First() {
		return 0, false, nil
	}
	return idSuffix(iter.Key()), true, nil
}

// Collect walks entries in id order and deletes them, with their index keys,
// until it reaches one created at or after before. Deletes are committed in
// batches of BatchLimit rows, then the pruned key space is compacted.
//
// A record that does not decode is deleted on its own: created_at grows with
// id, so anything before the first live row is expired. Its index keys stay
// behind and are skipped by reads.
func (l *PebbleLog) Collect(ctx context.Context, before time.Time) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	cutoff := before.UnixMilli()
	prefix := entryPrefix(l.namespace)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for ok := iter.First(); ok; {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		b := l.db.NewBatch()
		n := 0
		var minID, maxID uint64
		for ok && n < l.batchLimit {
			id := idSuffix(iter.Key())
			m, okDec := decodeMessage(id, iter.Value())
			if okDec && m.CreatedAt.UnixMilli() >= cutoff {
				ok = false
				break
			}
			if err := l.deleteRow(b, id, m, okDec); err != nil {
				b.Close()
				return deleted, err
			}
			if n == 0 {
				minID = id
			}
			maxID = id
			n++
			ok = iter.Next()
		}
		if n == 0 {
			b.Close()
			break
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		deleted += n
		l.observer.ObservePrune(l.namespace, minID, maxID, n)
	}
	if deleted > 0 && l.compact {
		l.compactPruned()
	}
	return deleted, nil
}

func (l *PebbleLog) deleteRow(b *pebble.Batch, id uint64, m Message, decoded bool) error {
	if err := b.Delete(keyEntry(l.namespace, id), nil); err != nil {
		return err
	}
	if !decoded {
		l.logger.Warn("dropping undecodable record",
			logpkg.Str("namespace", l.namespace),
			logpkg.Uint64("id", id),
		)
		return nil
	}
	if err := b.Delete(keyChannel(l.namespace, m.Channel, id), nil); err != nil {
		return err
	}
	return b.Delete(keyTime(l.namespace, m.CreatedAt.UnixMilli(), id), nil)
}

// compactPruned compacts the channel index, the entries and the time index.
// They sort c < e < m < t under the namespace prefix, so one range covers
// them. Failure only delays space reclamation.
func (l *PebbleLog) compactPruned() {
	start := append(keyPrefix(l.namespace), 'c', '/')
	end := upperBound(timePrefix(l.namespace))
	if err := l.db.CompactRange(start, end); err != nil {
		l.logger.Warn("compact pruned range failed",
			logpkg.Str("namespace", l.namespace),
			logpkg.Err(err),
		)
	}
}

// LastID reports the most recently assigned id.
func (l *PebbleLog) LastID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastID
}

func (l *PebbleLog) Ping(context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	_, err := l.db.Get(keyMeta(l.namespace))
	if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return err
	}
	return nil
}

// Close marks the log closed. The underlying DB stays open.
func (l *PebbleLog) Close() error {
	l.closed.Store(true)
	return nil
}
