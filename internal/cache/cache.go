package cache

import (
	"context"
	"sync"
	"time"

	"fulfillment-service/internal/models"
)

// Source supplies the current SLA standings. The engine implements it.
type Source interface {
	ListBreached() ([]*models.Order, error)
	ListApproaching() ([]*models.Order, error)
}

// Escalator is implemented by sources that record breach escalations. The
// refresh sweep is the only place escalations run from.
type Escalator interface {
	EscalateBreaches()
}

// Watchlist caches the breached and near-breach order sets so dashboard reads
// do not rescan every order. Refreshed on a ticker; slightly stale by design
// of the refresh interval.
type Watchlist struct {
	mu          sync.RWMutex
	breached    []*models.Order
	approaching []*models.Order
	refreshedAt time.Time
}

func NewWatchlist() *Watchlist {
	return &Watchlist{}
}

func (c *Watchlist) Refresh(src Source) error {
	if esc, ok := src.(Escalator); ok {
		esc.EscalateBreaches()
	}
	breached, err := src.ListBreached()
	if err != nil {
		return err
	}
	approaching, err := src.ListApproaching()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.breached = breached
	c.approaching = approaching
	c.refreshedAt = time.Now().UTC()
	c.mu.Unlock()
	return nil
}

func (c *Watchlist) Breached() []*models.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.breached
}

func (c *Watchlist) Approaching() []*models.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.approaching
}

func (c *Watchlist) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

func (c *Watchlist) StartAutoRefresh(ctx context.Context, src Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(src); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
