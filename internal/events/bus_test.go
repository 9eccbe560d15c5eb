package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan PipelineStateChangedEvent, 1)

	unsub := bus.Subscribe(func(e PipelineStateChangedEvent) {
		received <- e
	})
	defer unsub()

	bus.Publish(PipelineStateChangedEvent{
		Stream:   "cam0/h264-1080p",
		NewState: "streaming",
	})

	select {
	case e := <-received:
		if e.Stream != "cam0/h264-1080p" {
			t.Errorf("got stream %q", e.Stream)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribeUnknownHandlerIsNoop(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(s string) {})
	unsub() // must not panic
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	received := make(chan StreamRemovedEvent, 1)

	unsub := bus.Subscribe(func(e StreamRemovedEvent) {
		received <- e
	})
	unsub()

	bus.Publish(StreamRemovedEvent{Stream: "gone"})

	select {
	case <-received:
		t.Error("handler called after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}
