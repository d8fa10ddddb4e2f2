package workflow

import (
	"time"

	"uploadq/internal/queue"
)

// EventType names a coordinator notification.
type EventType string

const (
	EventAdded     EventType = "added"
	EventProgress  EventType = "progress"
	EventPart      EventType = "part"
	EventCompleted EventType = "completed"
	EventSucceeded EventType = "succeeded"
	EventCancelled EventType = "cancelled"
	EventFailed    EventType = "failed"
	EventRemoved   EventType = "removed"
)

// Event is delivered to subscribers in the order the coordinator produced it.
// Item is a copy taken when the event was queued.
type Event struct {
	Type EventType
	Item queue.Item
	// Loaded and Total are the byte counts for progress events; both are
	// queue.UnknownSize when not computable.
	Loaded int64
	Total  int64
	Time   time.Time
}

// Subscriber receives coordinator events. HandleEvent may call back into the
// Manager.
type Subscriber interface {
	HandleEvent(Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Event)

// HandleEvent calls f(evt).
func (f SubscriberFunc) HandleEvent(evt Event) { f(evt) }

type subscription struct {
	sub    Subscriber
	active bool
}

// Subscribe registers sub for all subsequent events. The returned function
// unregisters it.
func (m *Manager) Subscribe(sub Subscriber) func() {
	s := &subscription{sub: sub, active: true}
	m.mu.Lock()
	m.subs = append(m.subs, s)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		s.active = false
		for i, candidate := range m.subs {
			if candidate == s {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
	}
}

// emit queues an event. Callers hold m.mu.
func (m *Manager) emit(kind EventType, item *queue.Item) {
	m.events = append(m.events, Event{
		Type:   kind,
		Item:   *item,
		Loaded: item.Loaded,
		Total:  item.Total,
		Time:   time.Now().UTC(),
	})
}

// flush delivers queued events outside the lock. Only one goroutine drains
// at a time; events queued by other goroutines, or by subscribers while they
// run, are picked up by the drainer in order.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for {
		if len(m.events) == 0 {
			m.draining = false
			m.notifyChanged()
			m.mu.Unlock()
			return
		}
		batch := m.events
		m.events = nil
		subs := make([]*subscription, len(m.subs))
		copy(subs, m.subs)
		m.mu.Unlock()

		for _, evt := range batch {
			for _, s := range subs {
				if m.subscribed(s) {
					s.sub.HandleEvent(evt)
				}
			}
		}

		m.mu.Lock()
	}
}

func (m *Manager) subscribed(s *subscription) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.active
}
