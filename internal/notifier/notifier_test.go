package notifier

import (
	"sync/atomic"
	"testing"
	"time"

	"caprun/internal/eventbus"
	"caprun/internal/executor"
	"caprun/internal/lifecycle"
	logx "caprun/pkg/logx"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestNotifierRelaysToRecipients(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	exec := executor.New(nil)
	defer exec.Shutdown(lifecycle.Immediate())

	n, err := New(true, exec, bus, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer n.Shutdown(lifecycle.Immediate())

	if !n.Listening() {
		t.Fatal("notifier should be listening")
	}

	var got atomic.Int32
	var lastQueue atomic.Value
	n.Subscribe(func(msg eventbus.Notification) {
		got.Add(1)
		lastQueue.Store(msg.Queue)
	})

	bus.Publish(eventbus.Notification{Topic: eventbus.TopicJobEnqueued, Queue: "mail"})
	waitFor(t, func() bool { return got.Load() == 1 }, "recipient never invoked")

	if q, _ := lastQueue.Load().(string); q != "mail" {
		t.Fatalf("queue = %q, want mail", q)
	}
}

func TestNotifierDisabledIsBornDrained(t *testing.T) {
	t.Parallel()
	exec := executor.New(nil)
	defer exec.Shutdown(lifecycle.Immediate())

	n, err := New(false, exec, eventbus.New(), logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if n.Listening() {
		t.Fatal("disabled notifier must not listen")
	}
	if !n.IsShutdown() {
		t.Fatal("disabled notifier should report shutdown immediately")
	}
	if err := n.Shutdown(lifecycle.WaitForever()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

func TestNotifierShutdownStopsListening(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	exec := executor.New(nil)
	defer exec.Shutdown(lifecycle.Immediate())

	n, err := New(true, exec, bus, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	var got atomic.Int32
	n.Subscribe(func(eventbus.Notification) { got.Add(1) })

	if n.IsShutdown() {
		t.Fatal("live notifier must not report shutdown")
	}
	if err := n.Shutdown(lifecycle.WaitForever()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	if !n.IsShutdown() {
		t.Fatal("IsShutdown should be true after drain")
	}

	bus.Publish(eventbus.Notification{Topic: eventbus.TopicJobEnqueued})
	time.Sleep(20 * time.Millisecond)
	if got.Load() != 0 {
		t.Fatal("recipient invoked after shutdown")
	}
}

func TestNotifierAsyncShutdownReturnsImmediately(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	exec := executor.New(nil)
	defer exec.Shutdown(lifecycle.Immediate())

	n, err := New(true, exec, bus, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if err := n.Shutdown(lifecycle.Async()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	// The stop signal is already sent; the loop exits on its own.
	waitFor(t, n.IsShutdown, "listen loop never exited after async shutdown")
}
