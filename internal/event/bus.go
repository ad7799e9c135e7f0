// Package event provides the in-process pub/sub bus built on watermill.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type identifies the kind of event.
type Type string

const (
	// PermissionAsked fires when a confirmation request is surfaced to the consumer.
	PermissionAsked Type = "permission.asked"
	// PermissionReplied fires when a surfaced request receives a decision.
	PermissionReplied Type = "permission.replied"
	// QueueState fires on confirmation queue idle/showing transitions.
	QueueState Type = "queue.state"
	// ConfigChanged fires when a settings file on disk changes.
	ConfigChanged Type = "config.changed"
	// FileEdited fires after a tool mutates a file.
	FileEdited Type = "file.edited"
)

// Event is a typed payload published on the bus.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Subscriber receives published events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus manages pub/sub delivery. The watermill gochannel carries the
// infrastructure; subscribers are invoked directly so payloads keep their
// concrete Go types.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[Type][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

var globalBus = newBus()

func newBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
		subscribers: make(map[Type][]subscriberEntry),
	}
}

// NewBus creates an independent bus instance.
func NewBus() *Bus {
	return newBus()
}

// Subscribe registers a subscriber on the global bus for one event type.
// The returned function unsubscribes.
func Subscribe(t Type, fn Subscriber) func() {
	return globalBus.Subscribe(t, fn)
}

func (b *Bus) Subscribe(t Type, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.subscribers[t] = append(b.subscribers[t], subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[t]
		for i, entry := range subs {
			if entry.id == id {
				b.subscribers[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// SubscribeAll registers a subscriber on the global bus for every event type.
func SubscribeAll(fn Subscriber) func() {
	return globalBus.SubscribeAll(fn)
}

func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.global {
			if entry.id == id {
				b.global = append(b.global[:i], b.global[i+1:]...)
				break
			}
		}
	}
}

func (b *Bus) collect(t Type) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	subs := make([]Subscriber, 0, len(b.subscribers[t])+len(b.global))
	for _, entry := range b.subscribers[t] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Publish delivers an event asynchronously; each subscriber runs in its own
// goroutine so a slow consumer never blocks the publisher.
func Publish(event Event) {
	globalBus.Publish(event)
}

func (b *Bus) Publish(event Event) {
	for _, sub := range b.collect(event.Type) {
		go sub(event)
	}
}

// PublishSync delivers an event to all subscribers in the calling goroutine.
func PublishSync(event Event) {
	globalBus.PublishSync(event)
}

func (b *Bus) PublishSync(event Event) {
	for _, sub := range b.collect(event.Type) {
		sub(event)
	}
}

// Reset replaces the global bus, dropping all subscribers (for testing).
func Reset() {
	globalBus.mu.Lock()
	globalBus.closed = true
	globalBus.mu.Unlock()
	_ = globalBus.pubsub.Close()
	globalBus = newBus()
}

// Close shuts the bus down; further publishes and subscribes are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[Type][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub exposes the underlying watermill channel for middleware or a
// distributed backend swap.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
