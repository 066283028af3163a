package notify

import (
	"context"
	"sync"
)

const memoryBuffer = 256

// Memory is a process-local transport. Several buses sharing one Memory
// behave like processes sharing a notification channel.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]*memorySub
	closed bool
}

var _ Transport = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]*memorySub)}
}

// Publish never blocks: a subscriber whose buffer is full misses the payload.
func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, s := range m.subs[topic] {
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, topic string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]*memorySub)
	}
	s := &memorySub{parent: m, topic: topic, id: m.nextID, ch: make(chan []byte, memoryBuffer)}
	m.nextID++
	m.subs[topic][s.id] = s
	return s, nil
}

func (m *Memory) MaxPayload() int { return 0 }

// Close detaches every subscription; their Next calls return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, byID := range m.subs {
		for _, s := range byID {
			close(s.ch)
		}
		delete(m.subs, topic)
	}
	return nil
}

// Subscribers reports the number of live subscriptions on topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

type memorySub struct {
	parent *Memory
	topic  string
	id     int
	ch     chan []byte
}

func (s *memorySub) Next(ctx context.Context) ([]byte, error) {
	select {
	case p, ok := <-s.ch:
		if !ok {
			return nil, ErrClosed
		}
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memorySub) Ping(context.Context) error {
	s.parent.mu.RLock()
	defer s.parent.mu.RUnlock()
	if _, ok := s.parent.subs[s.topic][s.id]; !ok {
		return ErrClosed
	}
	return nil
}

func (s *memorySub) Close() error {
	m := s.parent
	m.mu.Lock()
	defer m.mu.Unlock()
	byTopic, ok := m.subs[s.topic]
	if !ok {
		return nil
	}
	if _, exists := byTopic[s.id]; exists {
		delete(byTopic, s.id)
		close(s.ch)
	}
	if len(byTopic) == 0 {
		delete(m.subs, s.topic)
	}
	return nil
}
