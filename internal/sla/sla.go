package sla

import (
	"time"

	"fulfillment-service/internal/models"
)

// nearBreachWindow is the share of the target that counts as "approaching".
const nearBreachWindow = 0.2

// Classify is a pure function of (target, elapsed, terminal-success). An order
// that completed within its target stays COMPLIANT no matter how much wall
// clock time passes afterwards.
func Classify(target, elapsed time.Duration, terminalSuccess bool) models.SlaStatus {
	if terminalSuccess && elapsed <= target {
		return models.SlaCompliant
	}
	if elapsed > target {
		return models.SlaBreach
	}
	remaining := target - elapsed
	if float64(remaining) <= nearBreachWindow*float64(target) {
		return models.SlaNearBreach
	}
	return models.SlaCompliant
}

// Elapsed returns the SLA clock reading for an order at the given instant.
// The clock freezes at CompletedAt once the order succeeds, and at CancelledAt
// when it is cancelled.
func Elapsed(o *models.Order, now time.Time) time.Duration {
	switch {
	case !o.CompletedAt.IsZero():
		return o.CompletedAt.Sub(o.PlacedAt)
	case !o.CancelledAt.IsZero():
		return o.CancelledAt.Sub(o.PlacedAt)
	default:
		return now.Sub(o.PlacedAt)
	}
}

// Info builds the derived SLA view for an order. Never cached: elapsed grows
// continuously for non-terminal orders.
func Info(o *models.Order, now time.Time) models.SlaInfo {
	elapsed := Elapsed(o, now)
	return models.SlaInfo{
		Target:  o.SlaTarget,
		Elapsed: elapsed,
		Status:  Classify(o.SlaTarget, elapsed, o.Status.TerminalSuccess()),
	}
}

// FilterBreached returns the orders currently in breach.
func FilterBreached(orders []*models.Order, now time.Time) []*models.Order {
	var out []*models.Order
	for _, o := range orders {
		if Info(o, now).Status == models.SlaBreach {
			out = append(out, o)
		}
	}
	return out
}

// FilterApproaching returns the orders within the near-breach window.
func FilterApproaching(orders []*models.Order, now time.Time) []*models.Order {
	var out []*models.Order
	for _, o := range orders {
		if Info(o, now).Status == models.SlaNearBreach {
			out = append(out, o)
		}
	}
	return out
}

// ComplianceRate is the share of orders not in breach, in percent. An empty
// set counts as fully compliant.
func ComplianceRate(orders []*models.Order, now time.Time) float64 {
	if len(orders) == 0 {
		return 100
	}
	compliant := 0
	for _, o := range orders {
		if Info(o, now).Status != models.SlaBreach {
			compliant++
		}
	}
	return float64(compliant) / float64(len(orders)) * 100
}
