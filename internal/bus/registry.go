package bus

import "sync"

// Registry maps channels to the waiters blocked on them in this process.
type Registry struct {
	mu        sync.Mutex
	byChannel map[string]map[*Waiter]struct{}
	entries   int
}

func NewRegistry() *Registry {
	return &Registry{byChannel: make(map[string]map[*Waiter]struct{})}
}

// Register adds w under each of its channels. Registering twice is a no-op.
func (r *Registry) Register(w *Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range w.channels {
		set, ok := r.byChannel[ch]
		if !ok {
			set = make(map[*Waiter]struct{})
			r.byChannel[ch] = set
		}
		if _, dup := set[w]; dup {
			continue
		}
		set[w] = struct{}{}
		r.entries++
	}
}

// Wake removes every waiter registered under channel, signals each and
// returns the ones this call woke. Waiters stay registered under their other
// channels until Remove.
func (r *Registry) Wake(channel string) []*Waiter {
	r.mu.Lock()
	set := r.byChannel[channel]
	delete(r.byChannel, channel)
	r.entries -= len(set)
	r.mu.Unlock()

	woken := make([]*Waiter, 0, len(set))
	for w := range set {
		if w.Signal() {
			woken = append(woken, w)
		}
	}
	return woken
}

// WakeChannels wakes the waiters of every channel and returns how many
// distinct waiters were signalled.
func (r *Registry) WakeChannels(channels []string) int {
	n := 0
	for _, ch := range channels {
		n += len(r.Wake(ch))
	}
	return n
}

// WakeAll signals every registered waiter and empties the registry.
func (r *Registry) WakeAll() int {
	r.mu.Lock()
	all := r.byChannel
	r.byChannel = make(map[string]map[*Waiter]struct{})
	r.entries = 0
	r.mu.Unlock()

	n := 0
	for _, set := range all {
		for w := range set {
			if w.Signal() {
				n++
			}
		}
	}
	return n
}

// Remove drops w from all its channels. Safe to call repeatedly.
func (r *Registry) Remove(w *Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range w.channels {
		set, ok := r.byChannel[ch]
		if !ok {
			continue
		}
		if _, present := set[w]; !present {
			continue
		}
		delete(set, w)
		r.entries--
		if len(set) == 0 {
			delete(r.byChannel, ch)
		}
	}
}

// Len is the number of (waiter, channel) registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries
}
