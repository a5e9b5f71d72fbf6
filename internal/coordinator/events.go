package coordinator

import (
	"github.com/mcpauth/delegate/pkg/logging"
)

// CompletionEvent is published when an authorization-code flow finishes,
// successfully or not (§4.4 "Event subscription").
type CompletionEvent struct {
	ContextID string
	ServerURL string
	Success   bool
	Error     string
}

// Subscriber receives CompletionEvents. Implementations must return
// promptly; OnCompletion is called from the dispatch goroutine and a slow
// subscriber delays every other subscriber's delivery of that event.
type Subscriber interface {
	OnCompletion(event CompletionEvent)
}

const eventChannelBufferSize = 256

// eventBus serializes delivery of CompletionEvents to subscribers through
// one dispatch goroutine, so a panicking or slow subscriber can be
// contained without corrupting delivery order (§4.4 "deliveries are
// best-effort and serialized... order of delivery follows completion
// order").
type eventBus struct {
	subscribers []Subscriber
	events      chan CompletionEvent
	done        chan struct{}
}

func newEventBus() *eventBus {
	b := &eventBus{
		events: make(chan CompletionEvent, eventChannelBufferSize),
		done:   make(chan struct{}),
	}
	go b.dispatchLoop()
	return b
}

// Subscribe registers s to receive future events. Not safe to call
// concurrently with publish; callers should subscribe during setup.
func (b *eventBus) Subscribe(s Subscriber) {
	b.subscribers = append(b.subscribers, s)
}

// Publish enqueues event for delivery. Non-blocking: if the channel is
// full the event is dropped and logged, rather than stalling the caller.
func (b *eventBus) Publish(event CompletionEvent) {
	select {
	case b.events <- event:
	default:
		logging.Warn("Coordinator", "event channel full, dropping completion event for %s", event.ServerURL)
	}
}

func (b *eventBus) dispatchLoop() {
	for {
		select {
		case event := <-b.events:
			b.deliver(event)
		case <-b.done:
			return
		}
	}
}

func (b *eventBus) deliver(event CompletionEvent) {
	for _, sub := range b.subscribers {
		b.deliverOne(sub, event)
	}
}

// deliverOne isolates a panicking subscriber so it doesn't take down the
// dispatch goroutine or block delivery to the rest.
func (b *eventBus) deliverOne(sub Subscriber, event CompletionEvent) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Coordinator", nil, "subscriber panicked handling completion event: %v", r)
		}
	}()
	sub.OnCompletion(event)
}

// Close stops the dispatch goroutine.
func (b *eventBus) Close() {
	close(b.done)
}
