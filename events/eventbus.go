package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/megamcloud/starcoin/logx"
)

const subscriberBuffer = 50

type SubscriberID string

type subscriber struct {
	id      SubscriberID
	channel chan ChainEvent
}

// EventBus fans chain events out to subscribers. Delivery is best effort: a
// subscriber that stops draining its channel loses events rather than
// blocking the publisher.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[SubscriberID]*subscriber
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[SubscriberID]*subscriber),
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
func (eb *EventBus) Subscribe() (SubscriberID, <-chan ChainEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := SubscriberID(uuid.Must(uuid.NewV7()).String())
	sub := &subscriber{id: id, channel: make(chan ChainEvent, subscriberBuffer)}
	eb.subscribers[id] = sub

	logx.Debug("EVENTBUS", fmt.Sprintf("subscriber %s added, total %d", id, len(eb.subscribers)))
	return id, sub.channel
}

// Unsubscribe removes a subscriber and closes its channel.
func (eb *EventBus) Unsubscribe(id SubscriberID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subscribers[id]
	if !ok {
		return false
	}
	delete(eb.subscribers, id)
	close(sub.channel)
	return true
}

// Publish delivers the event to every subscriber with room in its buffer.
func (eb *EventBus) Publish(event ChainEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, sub := range eb.subscribers {
		select {
		case sub.channel <- event:
		default:
			logx.Warn("EVENTBUS", fmt.Sprintf("subscriber %s full, dropping %s event", sub.id, event.Name()))
		}
	}
}

func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}
