package events

import (
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	first, cancelFirst := hub.Subscribe()
	second, cancelSecond := hub.Subscribe()
	defer cancelSecond()

	hub.Publish(Event{Type: TypeAlertOpened, ServiceID: "svc-1"})

	for _, sub := range []<-chan Event{first, second} {
		select {
		case event := <-sub:
			if event.Type != TypeAlertOpened || event.ServiceID != "svc-1" {
				t.Fatalf("unexpected event %+v", event)
			}
			if event.At.IsZero() {
				t.Fatal("expected publish timestamp")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	cancelFirst()
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber after cancel, got %d", hub.SubscriberCount())
	}
	// Publishing after a cancel must not panic or block.
	hub.Publish(Event{Type: TypeAlertClosed})
	cancelFirst()
}

func TestHubDoesNotBlockOnSlowSubscriber(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// More events than the subscriber buffer holds.
		for range 200 {
			hub.Publish(Event{Type: TypeExecutionStarted})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
