package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"flowpilot-go/core/event"
	"flowpilot-go/infrastructure/logging"
)

// subscription represents a single event subscription.
// At most one of sessionID and requestID is set; both empty means all events.
type subscription struct {
	id        string
	handler   EventHandler
	sessionID string
	requestID string
}

func (s *subscription) accepts(e event.Event) bool {
	if s.sessionID != "" {
		se, ok := e.(event.SessionEvent)
		return ok && se.SessionID() == s.sessionID
	}
	if s.requestID != "" {
		re, ok := e.(event.RequestEvent)
		return ok && re.RequestID() == s.requestID
	}
	return true
}

// channelEventBus is a channel-based implementation of EventBus.
type channelEventBus struct {
	eventChan     chan event.Event
	subscriptions map[string]*subscription
	mu            sync.RWMutex
	closeMu       sync.RWMutex
	closed        bool
	dropped       atomic.Uint64
	wg            sync.WaitGroup
}

// New creates a new EventBus with the specified buffer size.
func New(bufferSize int) EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	bus := &channelEventBus{
		eventChan:     make(chan event.Event, bufferSize),
		subscriptions: make(map[string]*subscription),
	}

	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish publishes an event to all subscribers.
func (b *channelEventBus) Publish(e event.Event) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.eventChan <- e:
	default:
		b.dropped.Add(1)
		logging.L().Warn("event dropped, queue full", "event", e.EventName())
	}
}

// Subscribe subscribes to all events.
func (b *channelEventBus) Subscribe(handler EventHandler) string {
	return b.subscribe(&subscription{handler: handler})
}

// SubscribeSession subscribes to events from a specific session.
func (b *channelEventBus) SubscribeSession(sessionID string, handler EventHandler) string {
	return b.subscribe(&subscription{handler: handler, sessionID: sessionID})
}

// SubscribeRequest subscribes to events from a specific request.
func (b *channelEventBus) SubscribeRequest(requestID string, handler EventHandler) string {
	return b.subscribe(&subscription{handler: handler, requestID: requestID})
}

func (b *channelEventBus) subscribe(sub *subscription) string {
	sub.id = uuid.NewString()

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub.id
}

// Unsubscribe removes a subscription by its ID.
func (b *channelEventBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	delete(b.subscriptions, subscriptionID)
	b.mu.Unlock()
}

func (b *channelEventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts down the event bus.
func (b *channelEventBus) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return
	}
	b.closed = true
	close(b.eventChan)
	b.closeMu.Unlock()

	b.wg.Wait()
}

// dispatch is the main event dispatch loop.
func (b *channelEventBus) dispatch() {
	defer b.wg.Done()

	for e := range b.eventChan {
		b.deliverEvent(e)
	}
}

// deliverEvent delivers an event to all matching subscribers.
func (b *channelEventBus) deliverEvent(e event.Event) {
	b.mu.RLock()
	// Copy subscriptions to avoid holding lock during handler execution
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.accepts(e) {
			continue
		}

		// A panicking handler must not starve the others.
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.L().Error("event handler panicked",
						"event", e.EventName(),
						"subscription", sub.id,
						"panic", r,
					)
				}
			}()
			sub.handler(e)
		}()
	}
}
