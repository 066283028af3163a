package bus

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/pollbus/internal/messagelog"
	"github.com/rzbill/pollbus/internal/notify"
	logpkg "github.com/rzbill/pollbus/pkg/log"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

const (
	DefaultTopic               = "imbus"
	DefaultRetentionWindow     = 50 * time.Second
	DefaultGCSampleRate        = 0.01
	DefaultMaxPollTimeout      = 50 * time.Second
	DefaultListenerIdleTimeout = 50 * time.Second
	DefaultHistoryWindow       = 10 * time.Second
)

// Options configures a Bus. Log and Transport are required.
type Options struct {
	Log       messagelog.Log
	Transport notify.Transport
	Logger    logpkg.Logger
	Observer  Observer

	// Topic is the transport topic every process listens on.
	Topic string
	// RetentionWindow bounds how far back a poll without a cursor looks.
	RetentionWindow time.Duration
	// GCHorizon is the age past which rows are collected; 0 means twice
	// RetentionWindow.
	GCHorizon time.Duration
	// GCSampleRate is the fraction of publishes that also run a collection.
	// Negative disables sampling.
	GCSampleRate float64
	// GCInterval runs a periodic collection when positive.
	GCInterval          time.Duration
	MaxPollTimeout      time.Duration
	ListenerIdleTimeout time.Duration
	HistoryWindow       time.Duration
	// ReconnectMin and ReconnectMax bound the listener's resubscribe backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// Now and Rand are injectable for tests.
	Now  func() time.Time
	Rand func() float64
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = logpkg.NewNopLogger()
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if o.RetentionWindow <= 0 {
		o.RetentionWindow = DefaultRetentionWindow
	}
	if o.GCHorizon <= 0 {
		o.GCHorizon = 2 * o.RetentionWindow
	}
	if o.GCSampleRate == 0 {
		o.GCSampleRate = DefaultGCSampleRate
	}
	if o.MaxPollTimeout <= 0 {
		o.MaxPollTimeout = DefaultMaxPollTimeout
	}
	if o.ListenerIdleTimeout <= 0 {
		o.ListenerIdleTimeout = DefaultListenerIdleTimeout
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = DefaultHistoryWindow
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = 250 * time.Millisecond
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
}

// Bus ties a message log, a notification transport and this process's
// waiter registry together.
type Bus struct {
	opts     Options
	log      messagelog.Log
	tr       notify.Transport
	registry *Registry
	logger   logpkg.Logger
	observer Observer
	listener *listener

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
}

func New(opts Options) (*Bus, error) {
	if opts.Log == nil {
		return nil, errors.New("bus: Options.Log is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("bus: Options.Transport is required")
	}
	opts.setDefaults()
	b := &Bus{
		opts:     opts,
		log:      opts.Log,
		tr:       opts.Transport,
		registry: NewRegistry(),
		logger:   opts.Logger.WithComponent("bus"),
		observer: opts.Observer,
	}
	b.listener = newListener(b)
	return b, nil
}

// Start subscribes the listener and launches it, plus the periodic collector
// when GCInterval is set. The first subscription is attempted before Start
// returns so that publishes issued right after Start reach this process.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ErrClosed
	}
	if b.started {
		return nil
	}
	b.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel

	sub, err := b.tr.Subscribe(ctx, b.opts.Topic)
	if err != nil {
		if errors.Is(err, notify.ErrClosed) {
			cancel()
			return err
		}
		b.logger.Warn("initial subscribe failed; retrying in background", logpkg.Err(err))
		sub = nil
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.listener.run(runCtx, sub)
	}()

	if b.opts.GCInterval > 0 {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.runPeriodicGC(runCtx)
		}()
	}
	b.logger.Info("bus started",
		logpkg.Str("topic", b.opts.Topic),
		logpkg.Duration("retention", b.opts.RetentionWindow),
		logpkg.Duration("gc_horizon", b.opts.GCHorizon),
	)
	return nil
}

// Close stops background work and wakes every parked poll so it returns
// promptly. It does not close the log or the transport.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.registry.WakeAll()
	b.wg.Wait()
	return nil
}

// Registry exposes this process's waiters.
func (b *Bus) Registry() *Registry { return b.registry }

// ListenerState reports where the listener loop is.
func (b *Bus) ListenerState() ListenerState { return b.listener.State() }

// Ping checks the message log.
func (b *Bus) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.log.Ping(ctx)
}

// Options returns the effective options after defaults.
func (b *Bus) Options() Options { return b.opts }
