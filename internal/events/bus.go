package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher for process-internal pub/sub.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers of its type.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case DeviceDiscoveryEvent:
		event.Publish(b.dispatcher, e)
	case DeviceFormatChangedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case StreamCreatedEvent:
		event.Publish(b.dispatcher, e)
	case StreamRemovedEvent:
		event.Publish(b.dispatcher, e)
	case StreamDegradedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers a handler function; the handler's parameter type
// selects which events it receives. Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e PipelineStateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(DeviceDiscoveryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceFormatChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamCreatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamRemovedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamDegradedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
