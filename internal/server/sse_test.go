package server

import (
	"strconv"
	"testing"
	"time"
)

func ev(kind string) Event {
	return Event{Type: kind, SessionID: "s1", At: time.Now().UTC()}
}

func TestBroadcaster_SendAndSubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch, _, unsub := b.Subscribe()
	defer unsub()

	b.Send(ev("turn"))

	select {
	case got := <-ch:
		if got.Type != "turn" || got.SessionID != "s1" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_HistoryReplay(t *testing.T) {
	b := NewBroadcaster()

	b.Send(ev("begin"))
	b.Send(ev("turn"))

	ch, _, unsub := b.Subscribe()
	defer unsub()

	var kinds []string
	for i := 0; i < 2; i++ {
		select {
		case got := <-ch:
			kinds = append(kinds, got.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for replayed event")
		}
	}
	if kinds[0] != "begin" || kinds[1] != "turn" {
		t.Fatalf("unexpected replay order: %v", kinds)
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()

	ch1, _, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, _, unsub2 := b.Subscribe()
	defer unsub2()

	b.Send(ev("turn"))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Type != "turn" {
				t.Fatalf("unexpected event: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event on subscriber")
		}
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()

	ch, _, unsub := b.Subscribe()
	defer unsub()

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBroadcaster_SubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster()
	b.Send(ev("begin"))
	b.Close()

	// Post-close subscribers still get the history replay, then an
	// immediate close.
	ch, _, _ := b.Subscribe()

	var events []Event
	for got := range ch {
		events = append(events, got)
	}
	if len(events) != 1 || events[0].Type != "begin" {
		t.Fatalf("expected history replay on post-close subscribe, got: %+v", events)
	}
}

func TestBroadcaster_SendAfterClose(t *testing.T) {
	b := NewBroadcaster()
	b.Close()
	b.Close() // idempotent
	b.Send(ev("turn"))
	if h := b.History(); len(h) != 0 {
		t.Fatalf("expected no events after close, got %d", len(h))
	}
}

func TestBroadcaster_HistoryReplayOver256(t *testing.T) {
	b := NewBroadcaster()

	for i := 0; i < 300; i++ {
		b.Send(Event{Type: "turn", SessionID: strconv.Itoa(i)})
	}

	// Subscribe must not deadlock; the channel is sized to fit all history.
	done := make(chan struct{})
	go func() {
		ch, _, unsub := b.Subscribe()
		defer unsub()
		count := 0
		for range ch {
			count++
			if count == 300 {
				break
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe() deadlocked with >256 history events")
	}
}

func TestBroadcaster_SlowClientDropDoesNotCloseDoneCh(t *testing.T) {
	b := NewBroadcaster()

	ch, doneCh, _ := b.Subscribe()

	// Fill the channel buffer (history=0, so buffer=256), then one more to
	// trigger the drop.
	for i := 0; i <= 256; i++ {
		b.Send(ev("turn"))
	}

	for range ch {
	}

	select {
	case <-doneCh:
		t.Fatal("doneCh closed on slow-client drop")
	default:
	}

	b.Close()

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("doneCh not closed after Close")
	}
}
