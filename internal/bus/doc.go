// Package bus implements the long-poll notification bus.
//
// Publishers append rows to a shared message log and then broadcast the set
// of touched channels on a notification transport. Every process runs one
// listener that turns those broadcasts into wakeups for its local waiters.
// A poll reads the log immediately and, when nothing is new, parks a waiter
// on its channels until it is woken, times out or is cancelled; either way it
// re-reads the log before returning, so a lost notification only costs
// latency.
//
//	b, _ := bus.New(bus.Options{Log: ml, Transport: notify.NewMemory()})
//	_ = b.Start(ctx)
//	defer b.Close()
//
//	_, _ = b.SendOne(ctx, "room1", []byte("hello"))
//	msgs, last, _ := b.Poll(ctx, []string{"room1"}, 0, 50*time.Second)
package bus
