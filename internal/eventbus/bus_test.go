package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	bus := New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	bus.Publish(Event{Type: "test", Data: 42})

	select {
	case e := <-ch:
		if e.Type != "test" || e.Data != 42 {
			t.Fatalf("event: %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatal("time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	bus := New()
	_, unsub := bus.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: "flood"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := New()
	ch, unsub := bus.Subscribe(4)
	unsub()
	bus.Publish(Event{Type: "late"})

	select {
	case e := <-ch:
		t.Fatalf("event delivered after unsubscribe: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}
