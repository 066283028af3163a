package bus

import (
	"sync"

	"github.com/rzbill/pollbus/pkg/id"
)

var waiterIDs = id.NewGenerator()

// Waiter is one blocked poll. Its signal fires at most once.
type Waiter struct {
	id       id.ID
	channels []string
	done     chan struct{}
	once     sync.Once
}

func newWaiter(channels []string) *Waiter {
	return &Waiter{id: waiterIDs.Next(), channels: channels, done: make(chan struct{})}
}

func (w *Waiter) ID() id.ID { return w.id }

func (w *Waiter) Channels() []string { return w.channels }

// Done is closed when the waiter is signalled.
func (w *Waiter) Done() <-chan struct{} { return w.done }

// Signal wakes the waiter and reports whether this call was the one that did.
func (w *Waiter) Signal() bool {
	fired := false
	w.once.Do(func() {
		close(w.done)
		fired = true
	})
	return fired
}
