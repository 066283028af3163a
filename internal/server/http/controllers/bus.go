package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rzbill/pollbus/internal/bus"
	"github.com/rzbill/pollbus/internal/runtime"
	logpkg "github.com/rzbill/pollbus/pkg/log"
)

// BusController exposes send, long-poll and SSE stream endpoints.
type BusController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

func NewBusController(rt *runtime.Runtime, logger logpkg.Logger) *BusController {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &BusController{rt: rt, logger: logger.WithComponent("http.bus")}
}

// RegisterRoutes registers bus routes with the given mux.
func (c *BusController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/bus/send", c.handleSend)
	mux.HandleFunc("/v1/bus/poll", c.handlePoll)
	mux.HandleFunc("/v1/bus/stream", c.handleStream)
}

// handleSend appends one or more messages and answers with their ids.
func (c *BusController) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req sendReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	raw := req.Entries
	if len(req.Channel) > 0 {
		raw = append(raw, sendEntry{Channel: req.Channel, Payload: req.Payload})
	}
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "No entries")
		return
	}
	entries := make([]bus.Entry, len(raw))
	for i, e := range raw {
		ch, err := decodeChannel(e.Channel)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid channel: "+err.Error())
			return
		}
		payload := []byte(e.Payload)
		if len(payload) == 0 {
			payload = []byte("null")
		}
		entries[i] = bus.Entry{Channel: ch, Payload: payload}
	}
	ids, err := c.rt.Bus().SendMany(r.Context(), entries)
	if err != nil {
		c.logger.Error("send failed", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to send")
		return
	}
	writeJSON(w, sendResp{IDs: ids})
}

// handlePoll runs one long poll. The timeout is clamped by the bus; a client
// that disconnects simply ends the poll.
func (c *BusController) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req pollReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	channels, err := decodeChannels(req.Channels)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid channel: "+err.Error())
		return
	}
	filter, err := bus.CompileFilter(req.Filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter: "+err.Error())
		return
	}
	res, err := c.rt.Bus().PollWith(r.Context(), bus.PollRequest{
		Channels: channels,
		Last:     req.Last,
		Timeout:  millis(req.TimeoutMs),
		Filter:   filter,
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case errors.Is(err, bus.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "Shutting down")
		return
	default:
		c.logger.Error("poll failed", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to poll")
		return
	}
	writeJSON(w, pollResp{Messages: toViews(res.Messages), Last: res.Last})
}

// handleStream serves GET /v1/bus/stream?channel=a&channel=b&last=N as SSE.
// Last-Event-ID takes precedence over last when a browser reconnects.
func (c *BusController) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	q := r.URL.Query()
	channels := q["channel"]
	if len(channels) == 0 {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	last := parseUint(q.Get("last"))
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		last = parseUint(id)
	}
	filter, err := bus.CompileFilter(q.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter: "+err.Error())
		return
	}
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	b := c.rt.Bus()
	stream := b.Subscribe(channels, last, filter)
	w.WriteHeader(http.StatusOK)
	sse.Flush()

	wait := b.Options().MaxPollTimeout
	if ms := parseUint(q.Get("keepalive_ms")); ms > 0 && time.Duration(ms)*time.Millisecond < wait {
		wait = time.Duration(ms) * time.Millisecond
	}
	for {
		msgs, err := stream.Next(r.Context(), wait)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrClosed) {
				c.logger.Warn("stream ended", logpkg.Err(err))
			}
			return
		}
		if len(msgs) == 0 {
			if err := sse.Keepalive(); err != nil {
				return
			}
		}
		for _, v := range toViews(msgs) {
			if err := sse.Send(v); err != nil {
				return
			}
		}
		sse.Flush()
	}
}

func decodeChannels(raw []json.RawMessage) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		ch, err := decodeChannel(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}
