package grpcserver

import "encoding/json"

// jsonPayload passes JSON payloads through and quotes anything else.
func jsonPayload(p []byte) json.RawMessage {
	if json.Valid(p) {
		return p
	}
	b, _ := json.Marshal(string(p))
	return b
}
