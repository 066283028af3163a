// Package serverrun is the shared entrypoint that starts a pollbus runtime
// with its gRPC and HTTP servers and handles shutdown.
//
// Example:
//
//	cfg, _ := config.Load(path)
//	config.FromEnv(&cfg)
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
