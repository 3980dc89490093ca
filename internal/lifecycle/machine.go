package lifecycle

import (
	"fmt"

	"fulfillment-service/internal/ids"
	"fulfillment-service/internal/models"
)

// Machine owns the canonical order and line statuses. Statuses only move
// forward, one step at a time; Cancelled absorbs from any non-terminal state.
type Machine struct {
	clock ids.Clock
	ids   ids.Generator
}

func New(clock ids.Clock, gen ids.Generator) *Machine {
	return &Machine{clock: clock, ids: gen}
}

// Advance moves the order to target, which must strictly follow the current
// status. On success the order and every lagging non-cancelled line are
// updated, and one audit event per changed field is returned. Nothing is
// mutated on failure.
func (m *Machine) Advance(o *models.Order, target models.OrderStatus, actor string) ([]models.AuditEvent, error) {
	if o.Status.Terminal() {
		return nil, fmt.Errorf("advance %s to %s: %w", o.ID, target, models.ErrAlreadyTerminal)
	}
	if target == models.StatusCancelled || target != o.Status+1 {
		return nil, fmt.Errorf("advance %s from %s to %s: %w",
			o.ID, o.Status, target, models.ErrInvalidTransition)
	}

	now := m.clock.Now()
	var events []models.AuditEvent

	events = append(events, models.AuditEvent{
		ID:               m.ids.EventID(),
		OrderID:          o.ID,
		EntityName:       "Order",
		EntityID:         o.ID,
		ChangedParameter: "status",
		OldValue:         o.Status.String(),
		NewValue:         target.String(),
		UpdatedBy:        actor,
		Timestamp:        now,
	})

	for _, l := range o.Lines {
		if l.Status == models.StatusCancelled || l.Status >= target {
			continue
		}
		events = append(events, models.AuditEvent{
			ID:               m.ids.EventID(),
			OrderID:          o.ID,
			EntityName:       "OrderLine",
			EntityID:         l.ID,
			ChangedParameter: "status",
			OldValue:         l.Status.String(),
			NewValue:         target.String(),
			UpdatedBy:        actor,
			Timestamp:        now,
		})
		l.Status = target
		if target.TerminalSuccess() {
			l.FulfilledQty = l.OrderedQty
		}
	}

	o.Status = target
	o.UpdatedAt = now
	if target == models.StatusFulfilled && o.CompletedAt.IsZero() {
		o.CompletedAt = now
	}
	return events, nil
}

// Cancel moves a non-terminal order into the absorbing Cancelled state.
func (m *Machine) Cancel(o *models.Order, actor string) (models.AuditEvent, error) {
	if o.Status.Terminal() {
		return models.AuditEvent{}, fmt.Errorf("cancel %s: %w", o.ID, models.ErrAlreadyTerminal)
	}

	now := m.clock.Now()
	event := models.AuditEvent{
		ID:               m.ids.EventID(),
		OrderID:          o.ID,
		EntityName:       "Order",
		EntityID:         o.ID,
		ChangedParameter: "status",
		OldValue:         o.Status.String(),
		NewValue:         models.StatusCancelled.String(),
		UpdatedBy:        actor,
		Timestamp:        now,
	}

	for _, l := range o.Lines {
		if !l.Status.Terminal() {
			l.Status = models.StatusCancelled
		}
	}
	o.Status = models.StatusCancelled
	o.CancelledAt = now
	o.UpdatedAt = now
	return event, nil
}
