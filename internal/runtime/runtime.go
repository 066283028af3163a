package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/rzbill/pollbus/internal/bus"
	cfgpkg "github.com/rzbill/pollbus/internal/config"
	"github.com/rzbill/pollbus/internal/messagelog"
	"github.com/rzbill/pollbus/internal/metrics"
	"github.com/rzbill/pollbus/internal/namespace"
	"github.com/rzbill/pollbus/internal/notify"
	pebblestore "github.com/rzbill/pollbus/internal/storage/pebble"
	logpkg "github.com/rzbill/pollbus/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	// Logger defaults to a no-op logger.
	Logger logpkg.Logger
	// Metrics defaults to a fresh registry.
	Metrics *metrics.Metrics
}

// Runtime owns the store, the transport and the bus of one process.
type Runtime struct {
	config  cfgpkg.Config
	logger  logpkg.Logger
	metrics *metrics.Metrics

	db        *pebblestore.DB
	ns        namespace.Meta
	log       messagelog.Log
	transport notify.Transport
	bus       *bus.Bus
}

// Open builds the configured backends and starts the bus. On error every
// component opened so far is closed again.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := namespace.Validate(cfg.Namespace); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	rt := &Runtime{config: cfg, logger: logger, metrics: m}

	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.openTransport(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	b, err := bus.New(rt.busOptions())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.bus = b
	if err := b.Start(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("runtime: start bus: %w", err)
	}
	m.WatchWaiters(b.Registry().Len)
	logger.Info("runtime ready",
		logpkg.Str("store", cfg.Store.Driver),
		logpkg.Str("transport", cfg.Transport.Kind),
		logpkg.Str("namespace", cfg.Namespace),
	)
	return rt, nil
}

func (r *Runtime) openStore(ctx context.Context) error {
	cfg := r.config
	switch cfg.Store.Driver {
	case cfgpkg.StorePebble:
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = cfgpkg.DefaultDataDir()
		}
		fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
		if err != nil {
			return err
		}
		db, err := pebblestore.Open(pebblestore.Options{
			DataDir:       dataDir,
			Fsync:         fsync,
			FsyncInterval: cfg.FsyncInterval.Std(),
			Metrics:       r.metrics,
			Logger:        r.logger.WithComponent("pebble"),
		})
		if err != nil {
			return fmt.Errorf("runtime: open pebble at %s: %w", dataDir, err)
		}
		r.db = db
		ns, err := namespace.Ensure(db, cfg.Namespace, cfg.NotifyTopic)
		if err != nil {
			return fmt.Errorf("runtime: namespace %s: %w", cfg.Namespace, err)
		}
		r.ns = ns
		if ns.Topic != "" && ns.Topic != cfg.NotifyTopic {
			r.logger.Warn("notify topic differs from the one this namespace was created with",
				logpkg.Str("namespace", ns.Name),
				logpkg.Str("stored", ns.Topic),
				logpkg.Str("configured", cfg.NotifyTopic),
			)
		}
		l, err := messagelog.NewPebble(db, messagelog.PebbleOptions{
			Namespace: cfg.Namespace,
			Observer:  r.metrics,
			Logger:    r.logger.WithComponent("messagelog"),
		})
		if err != nil {
			return err
		}
		r.log = l
	case cfgpkg.StorePostgres:
		r.ns = namespace.Meta{Name: cfg.Namespace, Topic: cfg.NotifyTopic}
		l, err := messagelog.OpenPostgres(ctx, cfg.Store.DSN, messagelog.PostgresOptions{Table: cfg.Store.Table})
		if err != nil {
			return fmt.Errorf("runtime: open postgres log: %w", err)
		}
		r.log = l
	default:
		return fmt.Errorf("runtime: unknown store driver %q", cfg.Store.Driver)
	}
	return nil
}

func (r *Runtime) openTransport(ctx context.Context) error {
	cfg := r.config
	switch cfg.Transport.Kind {
	case cfgpkg.TransportMemory:
		r.transport = notify.NewMemory()
	case cfgpkg.TransportPostgres:
		tr, err := notify.OpenPostgres(ctx, cfg.TransportDSN())
		if err != nil {
			return fmt.Errorf("runtime: open postgres transport: %w", err)
		}
		r.transport = tr
	case cfgpkg.TransportGossip:
		tr, err := notify.NewGossip(context.WithoutCancel(ctx), notify.GossipOptions{
			ListenAddrs:     cfg.Transport.ListenAddrs,
			Bootstrap:       cfg.Transport.Bootstrap,
			Rendezvous:      cfg.Transport.Rendezvous,
			EnableMDNS:      cfg.Transport.MDNS,
			IdentityKeyFile: cfg.Transport.IdentityKeyFile,
			Logger:          r.logger,
		})
		if err != nil {
			return fmt.Errorf("runtime: start gossip transport: %w", err)
		}
		r.logger.Info("gossip transport up",
			logpkg.Str("peer", tr.PeerID()),
			logpkg.Strs("addrs", tr.ListenAddrs()),
		)
		r.transport = tr
	default:
		return fmt.Errorf("runtime: unknown transport kind %q", cfg.Transport.Kind)
	}
	return nil
}

func (r *Runtime) busOptions() bus.Options {
	cfg := r.config
	rate := cfg.GCSampleRate
	if rate == 0 {
		// the bus reads 0 as "use the default"
		rate = -1
	}
	return bus.Options{
		Log:                 r.log,
		Transport:           r.transport,
		Logger:              r.logger,
		Observer:            r.metrics,
		Topic:               cfg.NotifyTopic,
		RetentionWindow:     cfg.RetentionWindow.Std(),
		GCHorizon:           cfg.GCHorizon.Std(),
		GCSampleRate:        rate,
		GCInterval:          cfg.GCInterval.Std(),
		MaxPollTimeout:      cfg.MaxPollTimeout.Std(),
		ListenerIdleTimeout: cfg.ListenerIdleTimeout.Std(),
		HistoryWindow:       cfg.HistoryWindow.Std(),
	}
}

// Close tears components down in reverse order of Open.
func (r *Runtime) Close() error {
	var errs []error
	if r.bus != nil {
		errs = append(errs, r.bus.Close())
	}
	if r.transport != nil {
		errs = append(errs, r.transport.Close())
	}
	if r.log != nil {
		errs = append(errs, r.log.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

// CheckHealth pings the message log through the bus.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.bus == nil {
		return errors.New("runtime: bus not started")
	}
	return r.bus.Ping(ctx)
}

func (r *Runtime) Bus() *bus.Bus { return r.bus }

func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

func (r *Runtime) Logger() logpkg.Logger { return r.logger }

// Namespace is the namespace record this runtime serves. CreatedAtMs is zero
// for the postgres store.
func (r *Runtime) Namespace() namespace.Meta { return r.ns }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
