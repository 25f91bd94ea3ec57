package testutil

import (
	"errors"
	"sync"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
)

// ErrAppendFailed is returned by a failing RecordingLog.
var ErrAppendFailed = errors.New("append failed")

// RecordingLog is an in-memory event log for registry tests.
type RecordingLog struct {
	mu      sync.Mutex
	entries []Recorded
	fail    bool
}

type Recorded struct {
	Domain  event.Domain
	Payload event.Payload
}

func NewRecordingLog() *RecordingLog {
	return &RecordingLog{}
}

// FailAppends makes every later Append return ErrAppendFailed.
func (r *RecordingLog) FailAppends(fail bool) {
	r.mu.Lock()
	r.fail = fail
	r.mu.Unlock()
}

func (r *RecordingLog) Append(domain event.Domain, payload event.Payload) (event.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return event.Envelope{}, ErrAppendFailed
	}
	r.entries = append(r.entries, Recorded{Domain: domain, Payload: payload})
	return event.Envelope{Domain: domain, Event: payload.EventType(), Sequence: int64(len(r.entries))}, nil
}

// Of returns the payloads written to domain in order.
func (r *RecordingLog) Of(domain event.Domain) []event.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Payload
	for _, e := range r.entries {
		if e.Domain == domain {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Types returns the event types written to domain in order.
func (r *RecordingLog) Types(domain event.Domain) []event.Type {
	var out []event.Type
	for _, p := range r.Of(domain) {
		out = append(out, p.EventType())
	}
	return out
}
