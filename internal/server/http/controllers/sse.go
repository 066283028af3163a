package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter formats bus messages as Server-Sent Events.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, f: f}, true
}

// Send writes one event. The event id is the message id so a reconnecting
// EventSource resumes through Last-Event-ID.
func (s *sseWriter) Send(m messageView) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.w, "id: %d\nevent: message\ndata: %s\n\n", m.ID, b)
	return err
}

// Keepalive writes a comment line.
func (s *sseWriter) Keepalive() error {
	_, err := s.w.Write([]byte(": keepalive\n\n"))
	return err
}

func (s *sseWriter) Flush() { s.f.Flush() }
