package state

import (
	"testing"
	"time"
)

func TestBus_SubscribeSingleDevice(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("dev1")
	defer cancel()

	b.Publish(Event{Kind: EventChange, DeviceID: "dev1", Timestamp: time.Now()})
	b.Publish(Event{Kind: EventChange, DeviceID: "dev2", Timestamp: time.Now()})

	select {
	case ev := <-ch:
		if ev.DeviceID != "dev1" {
			t.Errorf("event device = %q, want dev1", ev.DeviceID)
		}
	default:
		t.Fatal("no event delivered for subscribed device")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for other device: %+v", ev)
	default:
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	b := NewBus()
	ch, cancel := b.SubscribeAll()
	defer cancel()

	b.Publish(Event{Kind: EventChange, DeviceID: "dev1"})
	b.Publish(Event{Kind: EventCorrection, DeviceID: "dev2"})

	if len(ch) != 2 {
		t.Fatalf("delivered = %d events, want 2", len(ch))
	}
}

func TestBus_DropOnFullBuffer(t *testing.T) {
	b := NewBus()
	ch, cancel := b.SubscribeAll()
	defer cancel()

	for i := 0; i < defaultSubscriberBuffer+5; i++ {
		b.Publish(Event{Kind: EventChange, DeviceID: "dev1"})
	}

	if len(ch) != defaultSubscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(ch), defaultSubscriberBuffer)
	}
	if b.Dropped() != 5 {
		t.Errorf("dropped = %d, want 5", b.Dropped())
	}
}

func TestBus_CancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("dev1")

	cancel()
	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", b.SubscriberCount())
	}

	// Second cancel is a no-op.
	cancel()

	// Publishing after cancel must not panic.
	b.Publish(Event{Kind: EventChange, DeviceID: "dev1"})
}
