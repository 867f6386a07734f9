package notification

import (
	"context"
	"errors"
	"sync"
)

// ErrSubscriberLagging is returned when at least one subscriber buffer was full
// and the event was dropped for it.
var ErrSubscriberLagging = errors.New("subscriber lagging, event dropped")

const hubBuffer = 32

// Hub fans events out to subscribers in this process.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*hubSub]struct{}
}

type hubSub struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSub]struct{})}
}

func (h *Hub) Publish(_ context.Context, userID string, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var dropped bool
	for s := range h.subs[userID] {
		select {
		case s.ch <- ev:
		default:
			dropped = true
		}
	}
	if dropped {
		return ErrSubscriberLagging
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, userID string) (<-chan Event, func(), error) {
	s := &hubSub{ch: make(chan Event, hubBuffer), done: make(chan struct{})}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*hubSub]struct{})
	}
	h.subs[userID][s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], s)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(s.ch)
			close(s.done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-s.done:
		}
	}()
	return s.ch, cancel, nil
}

// Subscribers returns the number of live subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
