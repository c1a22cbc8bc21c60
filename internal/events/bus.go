// Package events is the in-process event bus connecting capture, processing
// and the API.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(CaptureStateChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case CaptureStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case FrameQueuedEvent:
		event.Publish(b.dispatcher, e)
	case AnalysisCompletedEvent:
		event.Publish(b.dispatcher, e)
	case AnalysisFailedEvent:
		event.Publish(b.dispatcher, e)
	case CatalogReloadedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type it accepts and returns an
// unsubscribe function. Unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e AnalysisFailedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CaptureStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameQueuedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(AnalysisCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(AnalysisFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CatalogReloadedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// Forward sends every event published on b into ch until the returned
// function is called. Events are dropped when ch is full.
func (b *Bus) Forward(ch chan<- any) func() {
	send := func(ev any) {
		select {
		case ch <- ev:
		default:
		}
	}
	unsubs := []func(){
		b.Subscribe(func(e CaptureStateChangedEvent) { send(e) }),
		b.Subscribe(func(e FrameQueuedEvent) { send(e) }),
		b.Subscribe(func(e AnalysisCompletedEvent) { send(e) }),
		b.Subscribe(func(e AnalysisFailedEvent) { send(e) }),
		b.Subscribe(func(e CatalogReloadedEvent) { send(e) }),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
