package jobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"caprun/internal/eventbus"
	"caprun/internal/jobs"
	logx "caprun/pkg/logx"
)

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestMemoryClaimOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := Open(Config{}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	first, _ := jobs.New("mail", "mail.send", nil)
	second, _ := jobs.New("mail", "mail.send", nil)
	for _, j := range []jobs.Job{first, second} {
		if err := st.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
	}

	got, ok, err := st.Claim(ctx, "mail")
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	if got.ID != first.ID {
		t.Fatalf("Claim returned %s, want oldest %s", got.ID, first.ID)
	}

	if n, _ := st.Pending(ctx, "mail"); n != 1 {
		t.Fatalf("Pending = %d, want 1", n)
	}

	if err := st.Complete(ctx, got.ID, nil); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if err := st.Complete(ctx, got.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Complete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryClaimEmpty(t *testing.T) {
	t.Parallel()
	st := newMemory(nil)
	_, ok, err := st.Claim(context.Background(), "mail")
	if err != nil || ok {
		t.Fatalf("Claim on empty queue = %v, %v", ok, err)
	}
}

func TestEnqueuePublishesWake(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	st, err := Open(Config{Driver: "memory"}, bus, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	j, _ := jobs.New("reports", "reports.build", nil)
	if err := st.Enqueue(context.Background(), j); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	select {
	case n := <-ch:
		if n.Topic != eventbus.TopicJobEnqueued || n.Queue != "reports" {
			t.Fatalf("unexpected notification: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue did not publish a wake notification")
	}
}

func TestQueuesListsPendingOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMemory(nil)

	a, _ := jobs.New("alpha", "noop", nil)
	b, _ := jobs.New("beta", "noop", nil)
	_ = st.Enqueue(ctx, a)
	_ = st.Enqueue(ctx, b)
	if _, _, err := st.Claim(ctx, "alpha"); err != nil {
		t.Fatalf("Claim error: %v", err)
	}

	qs, err := st.Queues(ctx)
	if err != nil {
		t.Fatalf("Queues error: %v", err)
	}
	if len(qs) != 1 || qs[0] != "beta" {
		t.Fatalf("Queues = %v, want [beta]", qs)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: t.TempDir() + "/jobs.db"}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	j, _ := jobs.New("mail", "mail.send", map[string]int{"n": 1})
	if err := st.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	got, ok, err := st.Claim(ctx, "mail")
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	if got.ID != j.ID || got.Name != j.Name || string(got.Args) != string(j.Args) {
		t.Fatalf("claimed job mismatch: %+v", got)
	}

	// Claimed job is invisible to further claims.
	if _, ok, _ := st.Claim(ctx, "mail"); ok {
		t.Fatal("claimed job handed out twice")
	}

	if err := st.Complete(ctx, got.ID, errors.New("boom")); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if n, _ := st.Pending(ctx, ""); n != 0 {
		t.Fatalf("Pending = %d, want 0", n)
	}
}
