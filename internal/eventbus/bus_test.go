package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(TopicAdmin)
	defer unsubscribe()

	b.Publish(TopicAdmin, EventRunnerStatus, map[string]any{"runner_id": "r1"})

	select {
	case ev := <-ch:
		if ev.Type != EventRunnerStatus {
			t.Fatalf("got type %q, want %q", ev.Type, EventRunnerStatus)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublicSafeEventsForwardToPublicTopic(t *testing.T) {
	b := New()
	publicCh, unsubscribe := b.Subscribe(TopicPublic)
	defer unsubscribe()

	b.Publish(TopicAdmin, EventChallengesUpdate, nil)

	select {
	case ev := <-publicCh:
		if ev.Type != EventChallengesUpdate {
			t.Fatalf("got type %q, want %q", ev.Type, EventChallengesUpdate)
		}
	case <-time.After(time.Second):
		t.Fatal("expected challenges_update to forward to public topic")
	}
}

func TestNonPublicEventDoesNotForward(t *testing.T) {
	b := New()
	publicCh, unsubscribe := b.Subscribe(TopicPublic)
	defer unsubscribe()

	b.Publish(TopicAdmin, EventRunnerStatus, nil)

	select {
	case ev := <-publicCh:
		t.Fatalf("unexpected event forwarded to public topic: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRingBufferWrapsAndOrdersOldestFirst(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.push(Event{Type: string(rune('a' + i))})
	}

	snap := r.snapshot()
	if len(snap) != 3 {
		t.Fatalf("got %d events, want 3", len(snap))
	}
	want := []string{"c", "d", "e"}
	for i, ev := range snap {
		if ev.Type != want[i] {
			t.Fatalf("position %d: got %q, want %q", i, ev.Type, want[i])
		}
	}
}

func TestRingBufferBeforeFull(t *testing.T) {
	r := newRing(5)
	r.push(Event{Type: "a"})
	r.push(Event{Type: "b"})

	snap := r.snapshot()
	if len(snap) != 2 {
		t.Fatalf("got %d events, want 2", len(snap))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(TopicAgents)
	unsubscribe()

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}
