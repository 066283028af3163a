package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rzbill/pollbus/internal/notify"
	logpkg "github.com/rzbill/pollbus/pkg/log"
)

// ListenerState is the listener loop's position.
type ListenerState int32

const (
	ListenerStopped ListenerState = iota
	ListenerListening
	ListenerProcessing
)

func (s ListenerState) String() string {
	switch s {
	case ListenerStopped:
		return "stopped"
	case ListenerListening:
		return "listening"
	case ListenerProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// listener turns transport notifications into registry wakeups. One runs
// per Bus.
type listener struct {
	bus    *Bus
	logger logpkg.Logger
	state  atomic.Int32
}

func newListener(b *Bus) *listener {
	return &listener{bus: b, logger: b.opts.Logger.WithComponent("bus.listener")}
}

func (l *listener) State() ListenerState { return ListenerState(l.state.Load()) }

func (l *listener) setState(s ListenerState) { l.state.Store(int32(s)) }

// run consumes sub (or a fresh subscription when sub is nil) until ctx ends
// or the transport reports ErrClosed, resubscribing with exponential backoff
// after failures.
func (l *listener) run(ctx context.Context, sub notify.Subscription) {
	defer l.setState(ListenerStopped)
	b := l.bus
	backoff := b.opts.ReconnectMin

	for {
		if sub == nil {
			var err error
			sub, err = b.tr.Subscribe(ctx, b.opts.Topic)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, notify.ErrClosed) {
					l.logger.Info("transport closed; listener stopping")
					return
				}
				l.logger.Warn("subscribe failed", logpkg.Err(err), logpkg.Duration("retry_in", backoff))
				b.observer.ObserveListenerReconnect()
				if !sleepCtx(ctx, backoff) {
					return
				}
				backoff = nextBackoff(backoff, b.opts.ReconnectMax)
				continue
			}
			l.logger.Debug("subscribed", logpkg.Str("topic", b.opts.Topic))
		}

		err := l.consume(ctx, sub)
		_ = sub.Close()
		sub = nil
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, notify.ErrClosed) {
			l.logger.Info("transport closed; listener stopping")
			return
		}
		backoff = b.opts.ReconnectMin
		l.logger.Warn("subscription lost", logpkg.Err(err), logpkg.Duration("retry_in", backoff))
		b.observer.ObserveListenerReconnect()
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, b.opts.ReconnectMax)
	}
}

// consume blocks on the subscription, pinging it after every idle period so a
// silently dead connection is noticed.
func (l *listener) consume(ctx context.Context, sub notify.Subscription) error {
	idle := l.bus.opts.ListenerIdleTimeout
	for {
		l.setState(ListenerListening)
		waitCtx, cancel := context.WithTimeout(ctx, idle)
		payload, err := sub.Next(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if perr := sub.Ping(ctx); perr != nil {
					return perr
				}
				continue
			}
			return err
		}
		l.setState(ListenerProcessing)
		l.dispatch(payload)
	}
}

func (l *listener) dispatch(payload []byte) {
	channels, all, err := decodeChannels(payload)
	if err != nil {
		l.bus.observer.ObserveMalformedNotification()
		l.logger.Warn("skipping malformed notification", logpkg.Err(err))
		return
	}
	var n int
	if all {
		n = l.bus.registry.WakeAll()
	} else {
		n = l.bus.registry.WakeChannels(channels)
	}
	l.bus.observer.ObserveWake(n)
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	cur *= 2
	if cur > limit {
		return limit
	}
	return cur
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
