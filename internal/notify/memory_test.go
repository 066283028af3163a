package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryFanOut(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	a, err := m.Subscribe(ctx, "imbus")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b, err := m.Subscribe(ctx, "imbus")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	other, err := m.Subscribe(ctx, "elsewhere")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := m.Publish(ctx, "imbus", []byte(`["room1"]`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, s := range []Subscription{a, b} {
		got, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if string(got) != `["room1"]` {
			t.Fatalf("got %q", got)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := other.Next(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("other topic should time out, got %v", err)
	}
	if err := other.Ping(ctx); err != nil {
		t.Fatalf("subscription should survive a timeout: %v", err)
	}
}

func TestMemorySubscriptionClose(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	s, err := m.Subscribe(ctx, "imbus")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if m.Subscribers("imbus") != 1 {
		t.Fatalf("want 1 subscriber")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if m.Subscribers("imbus") != 0 {
		t.Fatalf("subscriber not removed")
	}
	if _, err := s.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("next after close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("ping after close: %v", err)
	}
}

func TestMemoryTransportClose(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	s, err := m.Subscribe(ctx, "imbus")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Next(ctx)
		done <- err
	}()
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("blocked Next returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Next did not unblock on transport close")
	}
	if err := m.Publish(ctx, "imbus", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("publish after close: %v", err)
	}
	if _, err := m.Subscribe(ctx, "imbus"); !errors.Is(err, ErrClosed) {
		t.Fatalf("subscribe after close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("closing a detached subscription: %v", err)
	}
}

func TestMemoryPublishCopiesPayload(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()
	s, _ := m.Subscribe(ctx, "t")

	buf := []byte("abc")
	_ = m.Publish(ctx, "t", buf)
	buf[0] = 'x'
	got, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("payload aliased caller buffer: %q", got)
	}
}
