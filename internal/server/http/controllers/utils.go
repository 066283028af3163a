package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rzbill/pollbus/internal/bus"
)

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

var errEmptyChannel = errors.New("channel must not be empty")

// decodeChannel accepts "name" or a composite key such as ["res.partner", 7].
func decodeChannel(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errEmptyChannel
	}
	if raw[0] == '[' {
		var parts []any
		if err := json.Unmarshal(raw, &parts); err != nil {
			return "", err
		}
		if len(parts) == 0 {
			return "", errEmptyChannel
		}
		return bus.ChannelKey(parts...)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	if s == "" {
		return "", errEmptyChannel
	}
	return s, nil
}

// parseUint parses a cursor from a query string, returning 0 when absent or
// invalid.
func parseUint(s string) uint64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func millis(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
