package identity

import (
	"sort"
	"sync"
	"time"
)

// Topics published by the library. Clients subscribe to refresh their view of
// the signed-in user whenever session-relevant state changes.
const (
	TopicUserDataUpdated = "USER_DATA_UPDATED"
	TopicShowMessage     = "SHOW_MESSAGE"
)

// Event is the payload delivered to subscribers.
type Event struct {
	Topic      string
	UserID     string
	Data       map[string]any
	OccurredAt time.Time
}

// Subscriber receives events for a topic.
type Subscriber func(Event)

// Bus is a minimal in-process publish/subscribe channel. Subscriptions are
// bounded-lifetime: Subscribe returns a disposer that the consuming component
// calls when its own lifecycle ends. Delivery is synchronous and in
// subscription order; subscribers must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]Subscriber)}
}

// Subscribe registers fn for topic and returns the disposer that removes the
// subscription. The disposer is idempotent.
func (b *Bus) Subscribe(topic string, fn Subscriber) func() {
	if fn == nil {
		return func() {}
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Subscriber)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers the event to every current subscriber of its topic.
func (b *Bus) Publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	b.mu.RLock()
	ids := make([]int, 0, len(b.subs[event.Topic]))
	for id := range b.subs[event.Topic] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[event.Topic][id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}

// Notifier publishes user snapshots on TopicUserDataUpdated.
type Notifier interface {
	NotifyUserUpdated(userID string, data map[string]any)
}

type busNotifier struct{ bus *Bus }

// NewNotifier wraps a Bus as the notifier collaborator used by the managers.
func NewNotifier(bus *Bus) Notifier {
	return busNotifier{bus: bus}
}

func (n busNotifier) NotifyUserUpdated(userID string, data map[string]any) {
	if n.bus == nil {
		return
	}
	n.bus.Publish(Event{
		Topic:  TopicUserDataUpdated,
		UserID: userID,
		Data:   data,
	})
}

type noopNotifier struct{}

func (noopNotifier) NotifyUserUpdated(string, map[string]any) {}

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}
