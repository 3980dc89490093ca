package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"fulfillment-service/internal/models"
)

// Ordering selects the direction History returns events in: ascending for
// causal replay, descending for most-recent-first display.
type Ordering string

const (
	Ascending  Ordering = "asc"
	Descending Ordering = "desc"
)

var errMissingField = errors.New("audit event is missing a required field")

// Ledger is the append-only store of field-level change events. Events get a
// total order from (timestamp, insertion sequence), so both history
// directions are stable sorts over the same underlying set. There is no
// update and no delete.
type Ledger struct {
	mu      sync.RWMutex
	events  map[string][]models.AuditEvent
	applied map[string]struct{}
	seq     int64
}

func New() *Ledger {
	return &Ledger{
		events:  make(map[string][]models.AuditEvent),
		applied: make(map[string]struct{}),
	}
}

// Record appends one event and assigns its Seq in place, so the caller holds
// the sequenced event afterwards. Replaying an already-recorded logical change
// is a no-op, so retried operations do not duplicate history.
func (l *Ledger) Record(event *models.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.record(event)
}

// RecordAll appends a batch atomically: either every event of the operation
// lands in the ledger or none does. Seq is assigned into the passed slice, so
// callers hand sequenced events downstream.
func (l *Ledger) RecordAll(events []models.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range events {
		if err := validate(e); err != nil {
			return err
		}
	}
	for i := range events {
		if err := l.record(&events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) record(event *models.AuditEvent) error {
	if err := validate(*event); err != nil {
		return err
	}
	key := event.ChangeKey()
	if _, dup := l.applied[key]; dup {
		return nil
	}
	l.seq++
	event.Seq = l.seq
	l.events[event.OrderID] = append(l.events[event.OrderID], *event)
	l.applied[key] = struct{}{}
	return nil
}

func validate(e models.AuditEvent) error {
	if e.OrderID == "" || e.EntityName == "" || e.ChangedParameter == "" || e.Timestamp.IsZero() {
		return fmt.Errorf("%w: order=%q entity=%q parameter=%q",
			errMissingField, e.OrderID, e.EntityName, e.ChangedParameter)
	}
	return nil
}

// History returns the order's events in the requested direction. The result
// is a copy; callers cannot mutate the ledger through it.
func (l *Ledger) History(orderID string, ord Ordering) []models.AuditEvent {
	l.mu.RLock()
	stored := l.events[orderID]
	out := make([]models.AuditEvent, len(stored))
	copy(out, stored)
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			if ord == Descending {
				return out[i].Timestamp.After(out[j].Timestamp)
			}
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		if ord == Descending {
			return out[i].Seq > out[j].Seq
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Count returns the number of events recorded for an order.
func (l *Ledger) Count(orderID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events[orderID])
}
