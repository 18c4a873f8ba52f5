package events

import "sync"

// Topic names used across the server
const (
	TopicGMReport    = "show-gm-report"
	TopicStoreChange = "store-change"
)

// GMReport is published when a debrief is compiled and ready to copy
type GMReport struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// StoreChange is published when a store mutates an entity, so other
// consumers of the same session can refresh
type StoreChange struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Version    int    `json:"version"`
}

// Event is a published message on the bus
type Event struct {
	Topic string
	Data  interface{}
}

// Bus is a small in-process pub/sub seam. Publishing never blocks: slow
// subscribers drop events rather than stalling store actions.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe registers for a topic and returns the receive channel plus an
// unsubscribe function
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[topic]
		for i, c := range chans {
			if c == ch {
				b.subs[topic] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers of the topic
func (b *Bus) Publish(topic string, data interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[topic] {
		select {
		case ch <- Event{Topic: topic, Data: data}:
		default:
		}
	}
}
