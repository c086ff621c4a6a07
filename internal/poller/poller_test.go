package poller

import (
	"sync/atomic"
	"testing"
	"time"

	"caprun/internal/lifecycle"
	logx "caprun/pkg/logx"
)

func TestPollerInvokesRecipients(t *testing.T) {
	t.Parallel()
	p := New(5*time.Millisecond, logx.Nop())
	defer p.Shutdown(lifecycle.Immediate())

	var got atomic.Int32
	p.Subscribe(func() { got.Add(1) })

	deadline := time.After(2 * time.Second)
	for got.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("recipient never invoked twice")
		case <-time.After(time.Millisecond):
		}
	}
	if p.Ticks() == 0 {
		t.Fatal("tick counter should advance")
	}
}

func TestPollerDisabledIsBornDrained(t *testing.T) {
	t.Parallel()
	p := New(0, logx.Nop())
	if !p.IsShutdown() {
		t.Fatal("disabled poller should report shutdown immediately")
	}
	if err := p.Shutdown(lifecycle.WaitForever()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

func TestPollerShutdownStopsLoop(t *testing.T) {
	t.Parallel()
	p := New(time.Millisecond, logx.Nop())
	if p.IsShutdown() {
		t.Fatal("live poller must not report shutdown")
	}

	if err := p.Shutdown(lifecycle.WaitForever()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	if !p.IsShutdown() {
		t.Fatal("IsShutdown should be true after drain")
	}

	before := p.Ticks()
	time.Sleep(20 * time.Millisecond)
	if p.Ticks() != before {
		t.Fatal("ticker still firing after shutdown")
	}
}

func TestPollerShutdownIdempotent(t *testing.T) {
	t.Parallel()
	p := New(time.Millisecond, logx.Nop())
	for i := 0; i < 3; i++ {
		if err := p.Shutdown(lifecycle.WaitForever()); err != nil {
			t.Fatalf("Shutdown #%d error: %v", i, err)
		}
	}
	if !p.IsShutdown() {
		t.Fatal("IsShutdown should hold after repeated shutdowns")
	}
}
