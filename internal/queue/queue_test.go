package queue

import (
	"context"
	"testing"
	"time"

	"github.com/tminus/tminus/internal/types"
)

func TestSendReceive(t *testing.T) {
	q := NewMemory(8)
	defer q.Close()
	ctx := context.Background()

	if err := q.Send(ctx, Job{Type: JobCreateMirror, MirrorID: "mir_1"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if q.Depth() != 1 {
		t.Errorf("Depth = %d, want 1", q.Depth())
	}

	job, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if job.Type != JobCreateMirror || job.MirrorID != "mir_1" {
		t.Errorf("Unexpected job: %+v", job)
	}
	if job.EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt not stamped")
	}
	if q.Depth() != 0 {
		t.Errorf("Depth after receive = %d, want 0", q.Depth())
	}
}

func TestDelayedDelivery(t *testing.T) {
	q := NewMemory(8)
	defer q.Close()
	ctx := context.Background()

	start := time.Now()
	if err := q.Send(ctx, Job{
		Type:      JobUpdateMirror,
		MirrorID:  "mir_delayed",
		NotBefore: start.Add(50 * time.Millisecond),
	}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if q.Depth() != 1 {
		t.Errorf("Delayed job not counted in depth")
	}

	job, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Job delivered after %v, want >= ~50ms", elapsed)
	}
	if job.MirrorID != "mir_delayed" {
		t.Errorf("Unexpected job: %+v", job)
	}
}

func TestReceiveCancelled(t *testing.T) {
	q := NewMemory(8)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Receive(ctx)
	if !types.IsCancelled(err) {
		t.Errorf("Expected CANCELLED error, got: %v", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	q := NewMemory(8)
	q.Close()
	err := q.Send(context.Background(), Job{Type: JobDeleteMirror})
	if !types.IsPermanent(err) {
		t.Errorf("Expected PERMANENT error after close, got: %v", err)
	}
}
