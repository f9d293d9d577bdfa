package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishRunEvent(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishRunEvent("run.completed", map[string]any{"run_id": "r1", "linked": 2})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: run.completed\n") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"run_id":"r1"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestLinkedEvents_CursorThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishRunEvent(EventMessageLinked, map[string]int{"parent_id": 1})
	b.PublishRunEvent(EventMessageLinked, map[string]int{"parent_id": 3})
	b.PublishRunEvent("message.orphaned", map[string]string{"message_id": "9"})

	time.Sleep(50 * time.Millisecond)
	cursorCount, otherCount := 0, 0
loop:
	for {
		select {
		case msg := <-ch:
			if strings.Contains(string(msg), "event: "+EventCursorUpdated) {
				cursorCount++
			} else {
				otherCount++
			}
		default:
			break loop
		}
	}

	if otherCount != 3 {
		t.Errorf("run events = %d, want 3", otherCount)
	}
	if cursorCount != 1 {
		t.Errorf("cursor events = %d, want 1 (throttled)", cursorCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishRunEvent("run.started", map[string]string{})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if body := w.Body.String(); !strings.Contains(body, "event: run.started") {
		t.Errorf("handler output missing event: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Subscriber buffer holds 64; publishing more must not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: "run.started"})
	b.PublishRunEvent("run.completed", nil)
}
