package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/tminus/tminus/internal/types"
)

// FakeEvent is one event held by the fake provider.
type FakeEvent struct {
	ID       string
	Account  string
	Calendar string
	Payload  *types.MirrorPayload
}

// Fake is an in-memory WriteAdapter for tests and the simulation snapshot.
// FailNext injects one-shot errors; CreateEvent honors idempotency keys.
type Fake struct {
	mu       sync.Mutex
	seq      int
	events   map[string]*FakeEvent // provider event id -> event
	idem     map[string]string     // idempotency key -> provider event id
	failNext []error
}

var _ WriteAdapter = (*Fake)(nil)

// NewFake returns an empty fake provider.
func NewFake() *Fake {
	return &Fake{
		events: make(map[string]*FakeEvent),
		idem:   make(map[string]string),
	}
}

// FailNext queues errs to be returned, one per call, before normal behavior
// resumes.
func (f *Fake) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = append(f.failNext, errs...)
}

func (f *Fake) nextInjected() error {
	if len(f.failNext) == 0 {
		return nil
	}
	err := f.failNext[0]
	f.failNext = f.failNext[1:]
	return err
}

func (f *Fake) CreateEvent(_ context.Context, account, calendar, idemKey string, payload *types.MirrorPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextInjected(); err != nil {
		return "", err
	}
	if idemKey != "" {
		if id, ok := f.idem[idemKey]; ok {
			return id, nil
		}
	}
	f.seq++
	id := fmt.Sprintf("prov-%s-%d", account, f.seq)
	f.events[id] = &FakeEvent{ID: id, Account: account, Calendar: calendar, Payload: payload}
	if idemKey != "" {
		f.idem[idemKey] = id
	}
	return id, nil
}

func (f *Fake) UpdateEvent(_ context.Context, account, calendar, providerEventID string, payload *types.MirrorPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextInjected(); err != nil {
		return err
	}
	e, ok := f.events[providerEventID]
	if !ok {
		return &StatusError{StatusCode: 404, Message: "event not found"}
	}
	e.Account = account
	e.Calendar = calendar
	e.Payload = payload
	return nil
}

func (f *Fake) DeleteEvent(_ context.Context, _, _, providerEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextInjected(); err != nil {
		return err
	}
	if _, ok := f.events[providerEventID]; !ok {
		// Deleting an already-gone event is success: delete is idempotent.
		return nil
	}
	delete(f.events, providerEventID)
	return nil
}

// Event returns the stored event, or nil.
func (f *Fake) Event(providerEventID string) *FakeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[providerEventID]
}

// EventsFor lists events on one account/calendar pair.
func (f *Fake) EventsFor(account, calendar string) []*FakeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*FakeEvent
	for _, e := range f.events {
		if e.Account == account && e.Calendar == calendar {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the total number of live events.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}
