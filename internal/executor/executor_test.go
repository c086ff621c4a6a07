package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"caprun/internal/lifecycle"
)

func TestGoRunsAndCounts(t *testing.T) {
	t.Parallel()
	e := New(context.Background())

	var ran atomic.Bool
	if err := e.Go("probe", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Go error: %v", err)
	}

	if err := e.Shutdown(lifecycle.WaitForever()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	if !ran.Load() {
		t.Fatal("goroutine did not run")
	}
	if e.Started() != 1 {
		t.Fatalf("Started = %d, want 1", e.Started())
	}
	if e.Active() != 0 {
		t.Fatalf("Active = %d, want 0", e.Active())
	}
}

func TestGoAfterShutdownRejected(t *testing.T) {
	t.Parallel()
	e := New(context.Background())
	_ = e.Shutdown(lifecycle.WaitForever())

	err := e.Go("late", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrShutdown) {
		t.Fatalf("Go after shutdown err = %v, want ErrShutdown", err)
	}
}

func TestShutdownImmediateInterrupts(t *testing.T) {
	t.Parallel()
	e := New(context.Background())

	blocked := make(chan struct{})
	_ = e.Go("block", func(ctx context.Context) error {
		close(blocked)
		<-ctx.Done()
		return ctx.Err()
	})
	<-blocked

	start := time.Now()
	_ = e.Shutdown(lifecycle.Immediate())
	if took := time.Since(start); took > time.Second {
		t.Fatalf("immediate shutdown took %v", took)
	}
	if !e.IsShutdown() {
		t.Fatal("IsShutdown should be true after drain")
	}
}

func TestShutdownBoundedInterruptsStragglers(t *testing.T) {
	t.Parallel()
	e := New(context.Background())
	_ = e.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	_ = e.Shutdown(lifecycle.Wait(20 * time.Millisecond))
	if !e.IsShutdown() {
		t.Fatal("bounded shutdown must finish after interrupting stragglers")
	}
}

func TestShutdownAsyncReturnsImmediately(t *testing.T) {
	t.Parallel()
	e := New(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	_ = e.Go("drain", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	_ = e.Shutdown(lifecycle.Async())
	if e.IsShutdown() {
		t.Fatal("async shutdown must not already be complete")
	}

	close(release)
	deadline := time.After(time.Second)
	for !e.IsShutdown() {
		select {
		case <-deadline:
			t.Fatal("executor never finished draining")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPanicIsRecorded(t *testing.T) {
	t.Parallel()
	e := New(context.Background())
	_ = e.Go("boom", func(ctx context.Context) error { panic("kaput") })
	_ = e.Shutdown(lifecycle.WaitForever())
	if e.Err() == nil {
		t.Fatal("panic should surface via Err()")
	}
}

func TestIsShutdownFalseBeforeShutdown(t *testing.T) {
	t.Parallel()
	e := New(context.Background())
	if e.IsShutdown() {
		t.Fatal("fresh executor must not report shutdown")
	}
}
