package bus

import (
	"encoding/json"
	"fmt"
)

// ChannelKey builds a channel name from a composite key. A single string part
// is used as is; anything else is encoded as a JSON array, so
// ChannelKey("res.partner", 7) is `["res.partner",7]`.
func ChannelKey(parts ...any) (string, error) {
	if len(parts) == 1 {
		if s, ok := parts[0].(string); ok {
			return s, nil
		}
	}
	b, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("bus: channel key: %w", err)
	}
	return string(b), nil
}

func dedupeChannels(channels []string) []string {
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, c := range channels {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
