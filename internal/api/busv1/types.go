package busv1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type Entry struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

type SendRequest struct {
	Entries []Entry `json:"entries"`
}

type SendResponse struct {
	IDs []uint64 `json:"ids"`
}

type PollRequest struct {
	Channels  []string `json:"channels"`
	Last      uint64   `json:"last"`
	TimeoutMs int64    `json:"timeout_ms"`
	Filter    string   `json:"filter,omitempty"`
}

type PollResponse struct {
	Messages []Message `json:"messages"`
	Last     uint64    `json:"last"`
}

type StreamRequest struct {
	Channels []string `json:"channels"`
	Last     uint64   `json:"last"`
	Filter   string   `json:"filter,omitempty"`
}

type Message struct {
	ID        uint64          `json:"id"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ToStruct converts v to a Struct through its JSON encoding. Ids travel as
// JSON numbers and stay exact up to 2^53.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("busv1: encode: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("busv1: encode: %w", err)
	}
	return s, nil
}

// FromStruct decodes s into v. Raw payloads come out compact with object keys
// sorted.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("busv1: decode: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return fmt.Errorf("busv1: decode: %w", err)
	}
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		return fmt.Errorf("busv1: decode: %w", err)
	}
	return nil
}
