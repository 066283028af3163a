package controllers

import (
	"encoding/json"
	"time"

	"github.com/rzbill/pollbus/internal/messagelog"
)

// sendEntry is one message of a send request. Channel is a string or a JSON
// array naming a composite channel; Payload is any JSON value.
type sendEntry struct {
	Channel json.RawMessage `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// sendReq carries either a list of entries or a single top-level entry.
type sendReq struct {
	Entries []sendEntry     `json:"entries"`
	Channel json.RawMessage `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type sendResp struct {
	IDs []uint64 `json:"ids"`
}

type pollReq struct {
	Channels  []json.RawMessage `json:"channels"`
	Last      uint64            `json:"last"`
	TimeoutMs int64             `json:"timeout_ms"`
	Filter    string            `json:"filter,omitempty"`
}

type pollResp struct {
	Messages []messageView `json:"messages"`
	Last     uint64        `json:"last"`
}

// messageView is the wire form of a message. Payloads are stored as JSON
// text and returned verbatim.
type messageView struct {
	ID        uint64          `json:"id"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func toViews(msgs []messagelog.Message) []messageView {
	out := make([]messageView, len(msgs))
	for i, m := range msgs {
		out[i] = messageView{ID: m.ID, Channel: m.Channel, Payload: rawPayload(m.Payload), CreatedAt: m.CreatedAt}
	}
	return out
}

// rawPayload returns p when it is valid JSON and p quoted as a string
// otherwise, so rows written by other producers still encode.
func rawPayload(p []byte) json.RawMessage {
	if json.Valid(p) {
		return json.RawMessage(p)
	}
	b, _ := json.Marshal(string(p))
	return b
}
