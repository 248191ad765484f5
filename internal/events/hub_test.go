package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishAssignsSequence(t *testing.T) {
	hub := NewHub(16)
	hub.Publish(Event{JobID: 1, Status: "queued"})
	hub.Publish(Event{JobID: 1, Status: "running"})

	events, next, err := hub.Fetch(context.Background(), 0, 0, 0, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 1 || events[1].Seq != 2 {
		t.Fatalf("events = %+v", events)
	}
	if next != 2 {
		t.Fatalf("next = %d, want 2", next)
	}
	if events[0].Timestamp.IsZero() {
		t.Fatal("publish should stamp events")
	}
}

func TestFetchSinceAndJobFilter(t *testing.T) {
	hub := NewHub(16)
	hub.Publish(Event{JobID: 1, Status: "queued"})
	hub.Publish(Event{JobID: 2, Status: "queued"})
	hub.Publish(Event{JobID: 1, Status: "running"})

	events, next, err := hub.Fetch(context.Background(), 1, 1, 0, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 1 || events[0].Status != "running" {
		t.Fatalf("events = %+v", events)
	}
	if next != 3 {
		t.Fatalf("next = %d, want 3", next)
	}
}

func TestFetchCursorAdvancesPastFilteredEvents(t *testing.T) {
	hub := NewHub(16)
	hub.Publish(Event{JobID: 2, Status: "queued"})
	hub.Publish(Event{JobID: 2, Status: "running"})

	events, next, err := hub.Fetch(context.Background(), 0, 1, 0, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %+v", events)
	}
	if next != 2 {
		t.Fatalf("cursor should skip filtered events, next = %d", next)
	}
}

func TestRingDropsOldest(t *testing.T) {
	hub := NewHub(2)
	hub.Publish(Event{JobID: 1})
	hub.Publish(Event{JobID: 2})
	hub.Publish(Event{JobID: 3})

	events, _, _ := hub.Fetch(context.Background(), 0, 0, 0, false)
	if len(events) != 2 || events[0].Seq != 2 {
		t.Fatalf("events = %+v", events)
	}
}

func TestFetchWaitWakesOnPublish(t *testing.T) {
	hub := NewHub(16)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan []Event, 1)
	go func() {
		events, _, err := hub.Fetch(ctx, 0, 0, 0, true)
		if err != nil {
			done <- nil
			return
		}
		done <- events
	}()

	time.Sleep(10 * time.Millisecond)
	hub.Publish(Event{JobID: 7, Status: "completed"})

	select {
	case events := <-done:
		if len(events) != 1 || events[0].JobID != 7 {
			t.Fatalf("events = %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch never woke")
	}
}

func TestFetchWaitHonorsContext(t *testing.T) {
	hub := NewHub(16)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := hub.Fetch(ctx, 0, 0, 0, true)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestFetchWaitWakesOnRacingCancellation(t *testing.T) {
	// Cancellation racing the transition into the wait must still wake the
	// fetcher; a lost wakeup here would block until the next Publish.
	for i := 0; i < 200; i++ {
		hub := NewHub(4)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() {
			_, _, err := hub.Fetch(ctx, 0, 0, 0, true)
			done <- err
		}()
		cancel()

		select {
		case err := <-done:
			if err == nil {
				t.Fatal("expected context error")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: Fetch did not return after cancellation", i)
		}
	}
}

func TestSubscribeStreamsInOrder(t *testing.T) {
	hub := NewHub(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := hub.Subscribe(ctx, 4)
	hub.Publish(Event{JobID: 4, Status: "queued"})
	hub.Publish(Event{JobID: 9, Status: "queued"})
	hub.Publish(Event{JobID: 4, Status: "running"})

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case evt := <-stream:
			got = append(got, evt.Status)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != "queued" || got[1] != "running" {
		t.Fatalf("got = %v", got)
	}
}
