package realtime

import (
	"fmt"
	"testing"
	"time"
)

type row struct {
	ID     string
	Status string
}

func TestSubscribeReceivesInCommitOrder(t *testing.T) {
	b := NewBridge(16)
	sub := b.Subscribe(TopicRides, nil)
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		b.Publish(Change{Topic: TopicRides, Key: "r1", New: &row{ID: "r1", Status: fmt.Sprintf("s%d", i)}})
	}
	for i := 0; i < 5; i++ {
		select {
		case c := <-sub.Events():
			got := c.New.(*row).Status
			want := fmt.Sprintf("s%d", i)
			if got != want {
				t.Fatalf("event %d out of order: got %s, want %s", i, got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPredicateFilters(t *testing.T) {
	b := NewBridge(16)
	sub := b.Subscribe(TopicRides, func(c Change) bool { return c.Key == "mine" })
	defer sub.Unsubscribe()

	b.Publish(Change{Topic: TopicRides, Key: "other", New: &row{ID: "other"}})
	b.Publish(Change{Topic: TopicRides, Key: "mine", New: &row{ID: "mine"}})

	select {
	case c := <-sub.Events():
		if c.Key != "mine" {
			t.Fatalf("predicate leaked event for %q", c.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("expected one event")
	}
	select {
	case c := <-sub.Events():
		t.Fatalf("unexpected second event: %+v", c)
	default:
	}
}

func TestTopicIsolation(t *testing.T) {
	b := NewBridge(16)
	rides := b.Subscribe(TopicRides, nil)
	defer rides.Unsubscribe()

	b.Publish(Change{Topic: TopicDriverLocations, Key: "d1", New: &row{ID: "d1"}})
	select {
	case c := <-rides.Events():
		t.Fatalf("ride subscriber got location event: %+v", c)
	default:
	}
}

func TestUnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	b := NewBridge(16)
	sub := b.Subscribe(TopicRides, nil)
	sub.Unsubscribe()
	// Idempotent.
	sub.Unsubscribe()

	b.Publish(Change{Topic: TopicRides, Key: "r1", New: &row{ID: "r1"}})

	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBridge(2)
	sub := b.Subscribe(TopicRides, nil)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(Change{Topic: TopicRides, Key: "r1", New: &row{ID: "r1"}})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// Only the buffered prefix survives; the client re-fetches the rest.
	n := 0
	for {
		select {
		case <-sub.Events():
			n++
			continue
		default:
		}
		break
	}
	if n != 2 {
		t.Fatalf("buffered events = %d, want 2", n)
	}
}

func TestFullReplacementSemantics(t *testing.T) {
	b := NewBridge(4)
	sub := b.Subscribe(TopicRides, nil)
	defer sub.Unsubscribe()

	before := &row{ID: "r1", Status: "pending"}
	after := &row{ID: "r1", Status: "accepted"}
	b.Publish(Change{Topic: TopicRides, Key: "r1", Old: before, New: after})

	c := <-sub.Events()
	if c.Old.(*row).Status != "pending" || c.New.(*row).Status != "accepted" {
		t.Fatalf("change carries wrong rows: %+v", c)
	}
}
