package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/pollbus/internal/config"
	"github.com/rzbill/pollbus/internal/runtime"
	grpcserver "github.com/rzbill/pollbus/internal/server/grpc"
	httpserver "github.com/rzbill/pollbus/internal/server/http"
	logpkg "github.com/rzbill/pollbus/pkg/log"
)

type Options struct {
	Config cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Ready, when set, is called once both servers are accepting.
	Ready func(httpAddr, grpcAddr string)
}

// Run starts the runtime plus the gRPC and HTTP servers and blocks until ctx
// is cancelled or a server fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&cfg.Log)
		if err != nil {
			return fmt.Errorf("serverrun: logger: %w", err)
		}
		logger = l
	}
	// Pebble and net/http log through the standard library.
	logpkg.RedirectStdLog(logger)

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("starting pollbus server",
		logpkg.Str("grpc", cfg.GRPCAddr),
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("store", cfg.Store.Driver),
		logpkg.Str("transport", cfg.Transport.Kind),
		logpkg.Duration("retention", cfg.RetentionWindow.Std()),
		logpkg.Duration("max_poll", cfg.MaxPollTimeout.Std()),
	)

	gsrv := grpcserver.New(rt, logger)
	hsrv := httpserver.New(rt, logger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		if err := gsrv.ListenAndServe(gctx, cfg.GRPCAddr); err != nil {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := hsrv.ListenAndServe(gctx, cfg.HTTPAddr); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if opts.Ready != nil {
		g.Go(func() error {
			waitListening(gctx, hsrv, gsrv)
			if gctx.Err() == nil {
				opts.Ready(hsrv.Addr(), gsrv.Addr())
			}
			return nil
		})
	}

	err = g.Wait()
	gsrv.Close()
	hsrv.Close()
	if err != nil {
		logger.Error("server stopped", logpkg.Err(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
