package warden

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/warden/api"
)

var _ api.EventSink = (*Bus)(nil)

// Event is a notification delivered to host subscribers: either a
// plugin-published event or an engine lifecycle announcement
// ("plugin.registered", "plugin.enabled", "worker.replaced", ...).
type Event struct {
	// Source is the subject plugin's name@version identity, or "engine"
	// for events with no plugin subject. Set by the engine, never by
	// the plugin.
	Source string `json:"source"`

	Topic   string                 `json:"topic"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Time    time.Time              `json:"time"`
}

// EventHandler receives matching events. Delivery is synchronous on the
// publishing worker's goroutine; handlers that block slow the plugin
// that published.
type EventHandler func(Event)

// Subscription identifies one registered handler.
type Subscription struct {
	id      uint64
	pattern string
	handler EventHandler
}

// BusStats is a point-in-time snapshot of bus activity.
type BusStats struct {
	Published     uint64
	Delivered     uint64
	HandlerPanics uint64
	Subscribers   int
}

// Bus routes plugin notifications to host subscribers. Patterns match
// exact topics, a trailing ".*" segment wildcard, or "*" for all
// topics. A panicking handler is contained and counted; it never takes
// down the publishing invocation.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription

	published atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscribe registers a handler for topics matching pattern.
func (b *Bus) Subscribe(pattern string, handler EventHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, pattern: pattern, handler: handler}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
}

// Publish delivers an event to every matching subscriber. Implements
// the sink the scoped events capability publishes through.
func (b *Bus) Publish(source, topic string, payload map[string]interface{}) {
	b.published.Add(1)

	ev := Event{
		Source:  source,
		Topic:   topic,
		Payload: payload,
		Time:    time.Now().UTC(),
	}

	b.mu.RLock()
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if topicMatches(sub.pattern, topic) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("event handler panicked",
				"topic", ev.Topic,
				"source", ev.Source,
				"panic", r)
		}
	}()

	sub.handler(ev)
	b.delivered.Add(1)
}

// Stats reports bus activity counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	subscribers := len(b.subs)
	b.mu.RUnlock()

	return BusStats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerPanics: b.panics.Load(),
		Subscribers:   subscribers,
	}
}

// topicMatches reports whether a subscription pattern covers a topic.
func topicMatches(pattern, topic string) bool {
	if pattern == "*" || pattern == topic {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(topic, prefix+".")
	}
	return false
}
