package lifecycle_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fulfillment-service/internal/ids"
	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/models"
)

func newOrder(status models.OrderStatus, lineStatuses ...models.OrderStatus) *models.Order {
	o := &models.Order{
		ID:       "ORD-100",
		Status:   status,
		PlacedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	for i, s := range lineStatuses {
		o.Lines = append(o.Lines, &models.OrderLine{
			ID:         fmt.Sprintf("ITEM-%s-%d", o.ID, i+1),
			OrderID:    o.ID,
			OrderedQty: 1,
			Status:     s,
		})
	}
	return o
}

func newMachine() *lifecycle.Machine {
	clock := ids.FixedClock{T: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	return lifecycle.New(clock, ids.NewGenerator())
}

func TestAdvanceSingleStep(t *testing.T) {
	m := newMachine()
	o := newOrder(models.StatusOpen, models.StatusOpen, models.StatusOpen)

	events, err := m.Advance(o, models.StatusAllocated, "system")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusAllocated, o.Status)

	// One event for the order, one per advanced line.
	assert.Len(t, events, 3)
	assert.Equal(t, "Order", events[0].EntityName)
	assert.Equal(t, "Open", events[0].OldValue)
	assert.Equal(t, "Allocated", events[0].NewValue)
	for _, l := range o.Lines {
		assert.Equal(t, models.StatusAllocated, l.Status)
	}
}

func TestAdvanceSkippingFails(t *testing.T) {
	m := newMachine()
	o := newOrder(models.StatusOpen, models.StatusOpen)

	_, err := m.Advance(o, models.StatusPicked, "system")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, models.StatusOpen, o.Status)
	assert.Equal(t, models.StatusOpen, o.Lines[0].Status)
}

func TestAdvanceRegressionFails(t *testing.T) {
	m := newMachine()
	o := newOrder(models.StatusPicked, models.StatusPicked)

	_, err := m.Advance(o, models.StatusReleased, "system")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = m.Advance(o, models.StatusPicked, "system")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestAdvanceToCancelledFails(t *testing.T) {
	m := newMachine()
	o := newOrder(models.StatusOpen, models.StatusOpen)

	_, err := m.Advance(o, models.StatusCancelled, "system")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestAdvanceTerminalFails(t *testing.T) {
	m := newMachine()

	for _, s := range []models.OrderStatus{models.StatusDelivered, models.StatusCancelled} {
		o := newOrder(s)
		_, err := m.Advance(o, s+1, "system")
		assert.ErrorIs(t, err, models.ErrAlreadyTerminal)
	}
}

func TestFullLifecycle(t *testing.T) {
	m := newMachine()
	o := newOrder(models.StatusOpen, models.StatusOpen, models.StatusOpen)

	steps := []models.OrderStatus{
		models.StatusAllocated, models.StatusReleased, models.StatusInProcess,
		models.StatusPicked, models.StatusPacked, models.StatusFulfilled, models.StatusDelivered,
	}
	for _, s := range steps {
		_, err := m.Advance(o, s, "system")
		assert.NoError(t, err, "advance to %s", s)
	}
	assert.Equal(t, models.StatusDelivered, o.Status)
	assert.False(t, o.CompletedAt.IsZero(), "CompletedAt set at Fulfilled")

	// Terminal: no further advance succeeds.
	_, err := m.Advance(o, models.StatusDelivered+1, "system")
	assert.Error(t, err)

	// Every line fulfilled in full.
	for _, l := range o.Lines {
		assert.Equal(t, l.OrderedQty, l.FulfilledQty)
	}
}

func TestAggregateStatusIsMinimum(t *testing.T) {
	o := newOrder(models.StatusPicked, models.StatusPicked, models.StatusPacked, models.StatusCancelled)
	assert.Equal(t, models.StatusPicked, o.AggregateStatus())

	all := newOrder(models.StatusCancelled, models.StatusCancelled, models.StatusCancelled)
	assert.Equal(t, models.StatusCancelled, all.AggregateStatus())
}

func TestCancel(t *testing.T) {
	m := newMachine()
	o := newOrder(models.StatusPicked, models.StatusPicked, models.StatusPicked)

	event, err := m.Cancel(o, "ops")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, o.Status)
	assert.Equal(t, "Picked", event.OldValue)
	assert.Equal(t, "Cancelled", event.NewValue)
	assert.Equal(t, "ops", event.UpdatedBy)
	for _, l := range o.Lines {
		assert.Equal(t, models.StatusCancelled, l.Status)
	}

	_, err = m.Cancel(o, "ops")
	assert.ErrorIs(t, err, models.ErrAlreadyTerminal)
}

func TestCancelDeliveredFails(t *testing.T) {
	m := newMachine()
	o := newOrder(models.StatusDelivered)
	_, err := m.Cancel(o, "ops")
	assert.ErrorIs(t, err, models.ErrAlreadyTerminal)
}
