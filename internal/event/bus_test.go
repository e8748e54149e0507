package event

import (
	"sync"
	"testing"
	"time"
)

func testEvent(eventType string) Event {
	return newBaseEvent(eventType, time.Time{})
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	bus.Subscribe(TypeTicketTransition, func(e Event) {
		received = e
	})

	bus.Publish(NewTicketTransitionEvent(time.Time{}, "a", "pending", "ready", true, ""))

	tr, ok := received.(TicketTransitionEvent)
	if !ok {
		t.Fatalf("received %T, want TicketTransitionEvent", received)
	}
	if tr.TicketID != "a" || tr.To != "ready" || !tr.Critical {
		t.Errorf("received %+v", tr)
	}
	if tr.Timestamp().IsZero() {
		t.Error("zero time should default to now")
	}
}

func TestBus_Ordering(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.SubscribeAll(func(e Event) { got = append(got, "wildcard:"+e.EventType()) })
	bus.Subscribe("x.y", func(e Event) { got = append(got, "specific:"+e.EventType()) })
	bus.Subscribe("x.y", func(e Event) { got = append(got, "second:"+e.EventType()) })

	bus.Publish(testEvent("x.y"))
	bus.Publish(testEvent("other"))

	want := []string{"specific:x.y", "second:x.y", "wildcard:x.y", "wildcard:other"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := make(map[string]int)
	id1 := bus.Subscribe("test.event", func(e Event) { calls["h1"]++ })
	bus.Subscribe("test.event", func(e Event) { calls["h2"]++ })

	if !bus.Unsubscribe(id1) {
		t.Error("Unsubscribe should return true for an existing subscription")
	}
	if bus.Unsubscribe("sub-unknown") {
		t.Error("Unsubscribe should return false for an unknown id")
	}

	bus.Publish(testEvent("test.event"))

	if calls["h1"] != 0 || calls["h2"] != 1 {
		t.Errorf("calls = %v", calls)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	bus.Subscribe("test.event", func(e Event) {
		calls++
		panic("handler panic")
	})
	bus.Subscribe("test.event", func(e Event) {
		calls++
	})

	bus.Publish(testEvent("test.event"))

	if calls != 2 {
		t.Errorf("expected both handlers to run despite panic, got %d calls", calls)
	}
}

func TestBus_NilPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(testEvent("test.event"))
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	calls := 0
	bus.Subscribe("test.event", func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			bus.Publish(testEvent("test.event"))
		})
	}
	wg.Wait()

	if calls != 100 {
		t.Errorf("expected 100 calls, got %d", calls)
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus(nil)

	ids := make(map[string]bool)
	for range 100 {
		id := bus.Subscribe("test.event", func(e Event) {})
		if ids[id] {
			t.Errorf("duplicate subscription id %s", id)
		}
		ids[id] = true
	}
}
