package bus

import (
	"context"
	"time"

	logpkg "github.com/rzbill/pollbus/pkg/log"
)

// Collect deletes rows older than the GC horizon and returns how many went.
func (b *Bus) Collect(ctx context.Context) (int, error) {
	before := b.opts.Now().Add(-b.opts.GCHorizon)
	n, err := b.log.Collect(ctx, before)
	b.observer.ObserveCollect(n, err)
	if err == nil && n > 0 {
		b.logger.Debug("bus.gc", logpkg.Int("deleted", n), logpkg.Time("before", before))
	}
	return n, err
}

func (b *Bus) collectQuietly(ctx context.Context) {
	if _, err := b.Collect(ctx); err != nil {
		b.logger.Warn("garbage collection failed", logpkg.Err(err))
	}
}

func (b *Bus) runPeriodicGC(ctx context.Context) {
	t := time.NewTicker(b.opts.GCInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.collectQuietly(ctx)
		}
	}
}
