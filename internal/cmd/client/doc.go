// Package client provides the pollbus command-line client.
//
// The commands talk to a running server over HTTP (default) or gRPC
// (--transport grpc). The HTTP base URL comes from the embedding binary via
// a BaseURLFunc (POLLBUS_HTTP, default http://127.0.0.1:8080); the gRPC
// address comes from POLLBUS_GRPC (default 127.0.0.1:50051).
//
// Usage
//
//	pollbus send --channel room1 --data '{"text":"hi"}'
//	pollbus send --entries-json '[{"channel":"a","payload":1},{"channel":"b","payload":2}]'
//
//	# one long poll; the new cursor is printed on stderr
//	pollbus poll --channel room1 --last 41 --timeout 30s
//	# keep polling and print every message as a JSON line
//	pollbus poll --channel room1 --channel room2 --follow --filter "json.kind == 'chat'"
//
//	pollbus stream --channel room1 --limit 10
//	pollbus --transport grpc stream --channel room1
package client
