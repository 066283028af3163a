package bus

import (
	"context"
	"testing"
	"time"

	"github.com/rzbill/pollbus/internal/messagelog"
	"github.com/rzbill/pollbus/internal/notify"
)

func parkPoll(t *testing.T, b *Bus, channels []string, last uint64) <-chan []messagelog.Message {
	t.Helper()
	out := make(chan []messagelog.Message, 1)
	before := b.Registry().Len()
	go func() {
		msgs, _, _ := b.Poll(context.Background(), channels, last, 5*time.Second)
		out <- msgs
	}()
	waitFor(t, "poll to park", func() bool { return b.Registry().Len() > before })
	return out
}

func expectWake(t *testing.T, ch <-chan []messagelog.Message, within time.Duration) []messagelog.Message {
	t.Helper()
	select {
	case msgs := <-ch:
		return msgs
	case <-time.After(within):
		t.Fatalf("poll was not woken within %v", within)
		return nil
	}
}

func TestListenerSkipsMalformedPayloads(t *testing.T) {
	tr := notify.NewMemory()
	obs := &recordingObserver{}
	b := startBus(t, Options{Log: newMemLog(), Transport: tr, Observer: obs})
	ctx := context.Background()

	for _, bad := range []string{"garbage", `{"x":1}`, ""} {
		if err := tr.Publish(ctx, DefaultTopic, []byte(bad)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	waitFor(t, "malformed payloads to be skipped", func() bool { return obs.malformed.Load() == 3 })

	woke := parkPoll(t, b, []string{"room1"}, 0)
	if _, err := b.SendOne(ctx, "room1", []byte("ok")); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := expectWake(t, woke, 2*time.Second)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if b.ListenerState() == ListenerStopped {
		t.Fatalf("listener stopped after malformed payloads")
	}
}

func TestListenerNullWakesAll(t *testing.T) {
	tr := notify.NewMemory()
	obs := &recordingObserver{}
	b := startBus(t, Options{Log: newMemLog(), Transport: tr, Observer: obs})

	w1 := parkPoll(t, b, []string{"a"}, 0)
	w2 := parkPoll(t, b, []string{"b", "c"}, 0)
	if err := tr.Publish(context.Background(), DefaultTopic, []byte("null")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "null to wake both polls", func() bool { return obs.wakes.Load() == 2 })
	// Nothing new in the log, so both polls park again.
	waitFor(t, "polls to re-park", func() bool { return b.Registry().Len() == 3 })

	if _, err := b.SendMany(context.Background(), []Entry{{Channel: "a"}, {Channel: "c"}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectWake(t, w1, 2*time.Second)
	expectWake(t, w2, 2*time.Second)
}

func TestListenerReconnectsAfterFailures(t *testing.T) {
	tr := &flakyTransport{Memory: notify.NewMemory()}
	tr.subscribeFailures.Store(2)
	tr.breakFirst.Store(true)
	obs := &recordingObserver{}
	b := startBus(t, Options{
		Log:          newMemLog(),
		Transport:    tr,
		Observer:     obs,
		ReconnectMin: 5 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
	})

	// Two failed subscribes, one broken subscription, then a healthy one.
	waitFor(t, "listener to resubscribe", func() bool {
		return tr.subscribes.Load() >= 4 && tr.Memory.Subscribers(DefaultTopic) == 1
	})
	if n := obs.reconnects.Load(); n < 2 {
		t.Fatalf("reconnects = %d, want at least 2", n)
	}

	woke := parkPoll(t, b, []string{"room1"}, 0)
	if _, err := b.SendOne(context.Background(), "room1", []byte("after reconnect")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msgs := expectWake(t, woke, 2*time.Second); len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
}

func TestListenerPingsWhenIdle(t *testing.T) {
	tr := &pingCountingTransport{Memory: notify.NewMemory()}
	startBus(t, Options{Log: newMemLog(), Transport: tr, ListenerIdleTimeout: 10 * time.Millisecond})
	waitFor(t, "idle pings", func() bool { return tr.pings.Load() >= 3 })
}

func TestListenerStopsWhenTransportCloses(t *testing.T) {
	tr := notify.NewMemory()
	b := startBus(t, Options{Log: newMemLog(), Transport: tr})
	waitFor(t, "listener", func() bool { return b.ListenerState() == ListenerListening })
	if err := tr.Close(); err != nil {
		t.Fatalf("close transport: %v", err)
	}
	waitFor(t, "listener to stop", func() bool { return b.ListenerState() == ListenerStopped })

	// Polls still work on timeout alone.
	msgs, last, err := b.Poll(context.Background(), []string{"x"}, 0, 20*time.Millisecond)
	if err != nil || len(msgs) != 0 || last != 0 {
		t.Fatalf("poll without listener: %v %d %v", msgs, last, err)
	}
}

func TestListenerStateString(t *testing.T) {
	for s, want := range map[ListenerState]string{
		ListenerStopped:    "stopped",
		ListenerListening:  "listening",
		ListenerProcessing: "processing",
		ListenerState(9):   "unknown",
	} {
		if s.String() != want {
			t.Fatalf("%d.String() = %q", s, s.String())
		}
	}
}

func TestNextBackoffCaps(t *testing.T) {
	d := 250 * time.Millisecond
	for i := 0; i < 10; i++ {
		d = nextBackoff(d, 10*time.Second)
	}
	if d != 10*time.Second {
		t.Fatalf("backoff = %v", d)
	}
}
