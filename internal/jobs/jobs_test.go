package jobs

import (
	"context"
	"errors"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()
	j, err := New("", "mail.send", map[string]string{"to": "ops"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if j.Queue != DefaultQueue {
		t.Fatalf("Queue = %q, want %q", j.Queue, DefaultQueue)
	}
	if j.ID == "" || j.EnqueuedAt.IsZero() {
		t.Fatalf("missing ID or EnqueuedAt: %+v", j)
	}
	if string(j.Args) != `{"to":"ops"}` {
		t.Fatalf("Args = %s", j.Args)
	}
}

func TestNewRequiresName(t *testing.T) {
	t.Parallel()
	if _, err := New("default", "  ", nil); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestRegistryPerform(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	ran := false
	if err := r.Register("noop", func(ctx context.Context, job Job) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	j, _ := New("default", "noop", nil)
	if err := r.Perform(context.Background(), j); err != nil {
		t.Fatalf("Perform error: %v", err)
	}
	if !ran {
		t.Fatal("handler did not run")
	}
}

func TestRegistryDuplicateAndUnknown(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	h := func(ctx context.Context, job Job) error { return nil }
	if err := r.Register("dup", h); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := r.Register("dup", h); err == nil {
		t.Fatal("expected duplicate registration error")
	}

	j, _ := New("default", "missing", nil)
	if err := r.Perform(context.Background(), j); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("Perform err = %v, want ErrUnknownJob", err)
	}
}
