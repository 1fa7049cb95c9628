// Package queue carries mirror-write work from ingestion to the writer.
// Delivery is at-least-once; the writer's WRITING state guard makes the
// visible provider side effect at-most-once.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/tminus/tminus/internal/types"
)

// JobType discriminates writer work.
type JobType string

const (
	JobCreateMirror JobType = "CREATE_MIRROR"
	JobUpdateMirror JobType = "UPDATE_MIRROR"
	JobDeleteMirror JobType = "DELETE_MIRROR"
	JobReleaseHold  JobType = "RELEASE_HOLD"
)

// Job is one unit of provider write work. MirrorID is set for mirror jobs;
// hold releases carry the provider coordinates directly so the writer needs
// no hold lookup. NotBefore delays delivery (retry backoff).
type Job struct {
	Type             JobType   `json:"type"`
	MirrorID         string    `json:"mirror_id,omitempty"`
	HoldID           string    `json:"hold_id,omitempty"`
	TargetAccountID  string    `json:"target_account_id,omitempty"`
	TargetCalendarID string    `json:"target_calendar_id,omitempty"`
	ProviderEventID  string    `json:"provider_event_id,omitempty"`
	Attempt          int       `json:"attempt,omitempty"`
	NotBefore        time.Time `json:"not_before,omitempty"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
}

// Sender enqueues jobs. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, job Job) error
	// Depth is the number of jobs enqueued but not yet received, including
	// delayed ones. The actor's back-pressure watermarks read it.
	Depth() int
}

// Receiver dequeues jobs, blocking until one is available or ctx is done.
type Receiver interface {
	Receive(ctx context.Context) (Job, error)
}

// Memory is the in-process queue used by the per-user engine. Jobs whose
// NotBefore is in the future are held back by a timer and delivered when due.
type Memory struct {
	mu     sync.Mutex
	ch     chan Job
	depth  int
	closed bool
}

var (
	_ Sender   = (*Memory)(nil)
	_ Receiver = (*Memory)(nil)
)

// NewMemory returns an in-process queue with the given ready-buffer size.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Memory{ch: make(chan Job, buffer)}
}

// Send enqueues the job, waiting for buffer space if necessary.
func (m *Memory) Send(ctx context.Context, job Job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return types.Permanentf(nil, "queue closed")
	}
	m.depth++
	m.mu.Unlock()

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	delay := time.Until(job.NotBefore)
	if delay > 0 {
		timer := time.NewTimer(delay)
		go func() {
			defer timer.Stop()
			select {
			case <-timer.C:
				m.deliver(job)
			case <-ctx.Done():
				m.drop()
			}
		}()
		return nil
	}
	return m.deliverCtx(ctx, job)
}

func (m *Memory) deliver(job Job) {
	defer func() {
		// Send on a closed channel after Close: the job is lost, which is
		// fine during shutdown.
		_ = recover()
	}()
	m.ch <- job
}

func (m *Memory) deliverCtx(ctx context.Context, job Job) error {
	select {
	case m.ch <- job:
		return nil
	case <-ctx.Done():
		m.drop()
		return types.Cancelledf("enqueue cancelled: %v", ctx.Err())
	}
}

func (m *Memory) drop() {
	m.mu.Lock()
	m.depth--
	m.mu.Unlock()
}

// Receive blocks until a job is due or ctx is done.
func (m *Memory) Receive(ctx context.Context) (Job, error) {
	select {
	case job, ok := <-m.ch:
		if !ok {
			return Job{}, types.Permanentf(nil, "queue closed")
		}
		m.drop()
		return job, nil
	case <-ctx.Done():
		return Job{}, types.Cancelledf("receive cancelled: %v", ctx.Err())
	}
}

// Depth reports jobs enqueued but not yet received.
func (m *Memory) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth
}

// Close stops delivery. Pending delayed jobs are dropped.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}
