package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rzbill/pollbus/internal/api/busv1"
	transports "github.com/rzbill/pollbus/internal/cmd/client/transports"
)

// grpcAddrFromEnv returns the gRPC server address from POLLBUS_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("POLLBUS_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:50051"
}

// dialGRPCContext dials the pollbus gRPC endpoint with insecure transport for local/dev.
func dialGRPCContext(_ context.Context) (*grpc.ClientConn, error) {
	return grpc.NewClient(grpcAddrFromEnv(), grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func getTransport(kind string, baseURL BaseURLFunc) (transports.BusTransport, error) {
	switch kind {
	case "", "http":
		return transports.NewHTTPTransport(baseURL(), nil), nil
	case "grpc":
		return transports.NewGrpcTransport(dialGRPCContext), nil
	default:
		return nil, fmt.Errorf("unknown --transport %q; use http|grpc", kind)
	}
}

// payloadArg turns --data into a JSON payload: valid JSON passes through,
// anything else is sent as a JSON string.
func payloadArg(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

// printMessage writes one message as a JSON line.
func printMessage(w io.Writer, m busv1.Message) error {
	b, err := json.Marshal(map[string]any{
		"id":         m.ID,
		"channel":    m.Channel,
		"payload":    m.Payload,
		"created_at": m.CreatedAt,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
