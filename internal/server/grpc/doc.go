// Package grpcserver exposes the bus over gRPC: the standard
// grpc.health.v1.Health service and pollbus.v1.Bus (Send, Poll, Stream).
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	s := grpcserver.New(rt, logger)
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
