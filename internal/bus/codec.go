package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var wakeAllPayload = []byte("null")

// encodeChannels renders the notification payload: a JSON array of channel
// names, or null when the array would not fit in maxPayload bytes.
func encodeChannels(channels []string, maxPayload int) ([]byte, error) {
	b, err := json.Marshal(channels)
	if err != nil {
		return nil, err
	}
	if maxPayload > 0 && len(b) > maxPayload {
		return wakeAllPayload, nil
	}
	return b, nil
}

// decodeChannels parses a notification payload. all is true for null.
func decodeChannels(payload []byte) (channels []string, all bool, err error) {
	trimmed := bytes.TrimSpace(payload)
	if bytes.Equal(trimmed, wakeAllPayload) {
		return nil, true, nil
	}
	if err := json.Unmarshal(trimmed, &channels); err != nil {
		return nil, false, fmt.Errorf("bus: malformed notification %q: %w", truncate(payload, 64), err)
	}
	return channels, false, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
