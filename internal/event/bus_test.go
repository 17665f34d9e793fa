package event

import (
	"io"
	"log"
	"testing"
)

func TestBusRoutesByTopic(t *testing.T) {
	bus := NewBus(log.New(io.Discard, "", 0))
	var toolEvents, allEvents int
	bus.Subscribe(TopicToolStart, func(Event) { toolEvents++ })
	bus.SubscribeAll(func(Event) { allEvents++ })

	bus.Publish(Event{Topic: TopicToolStart, SessionID: "s"})
	bus.Publish(Event{Topic: TopicDone, SessionID: "s"})

	if toolEvents != 1 {
		t.Fatalf("topic handler fired %d times", toolEvents)
	}
	if allEvents != 2 {
		t.Fatalf("catch-all handler fired %d times", allEvents)
	}
}

func TestBusStampsTime(t *testing.T) {
	bus := NewBus(log.New(io.Discard, "", 0))
	var got Event
	bus.Subscribe(TopicDone, func(ev Event) { got = ev })
	bus.Publish(Event{Topic: TopicDone})
	if got.At.IsZero() {
		t.Fatalf("published event not timestamped")
	}
}

func TestBusRecoversSubscriberPanic(t *testing.T) {
	bus := NewBus(log.New(io.Discard, "", 0))
	delivered := false
	bus.Subscribe(TopicError, func(Event) { panic("bad sink") })
	bus.Subscribe(TopicError, func(Event) { delivered = true })

	bus.Publish(Event{Topic: TopicError})
	if !delivered {
		t.Fatalf("panic in one subscriber starved the others")
	}
}
