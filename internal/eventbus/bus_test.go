package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Notification{Topic: TopicJobEnqueued, Queue: "mail"})

	select {
	case n := <-ch:
		if n.Topic != TopicJobEnqueued || n.Queue != "mail" {
			t.Fatalf("unexpected notification: %+v", n)
		}
		if n.Time.IsZero() {
			t.Fatal("Publish must stamp Time when zero")
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Notification{Topic: "a"})
	b.Publish(Notification{Topic: "b"}) // dropped, buffer full

	if got := len(ch); got != 1 {
		t.Fatalf("buffered = %d, want 1", got)
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// Must not panic even if a stale channel is raced.
	b.Publish(Notification{Topic: "a"})
}
