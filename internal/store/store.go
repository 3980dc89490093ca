package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"fulfillment-service/internal/models"
)

// OrderStore is the in-memory order aggregate store, optionally snapshotted to
// a JSON file. It backs the engine directly and serves as the fallback dataset
// when the database repository is unavailable.
type OrderStore struct {
	mu       sync.RWMutex
	orders   map[string]*models.Order
	dataFile string
}

// New creates a store. With an empty dataFile the store is memory only;
// otherwise existing orders are loaded from the file and every mutation is
// written back.
func New(dataFile string) (*OrderStore, error) {
	st := &OrderStore{
		orders:   make(map[string]*models.Order),
		dataFile: dataFile,
	}
	if dataFile == "" {
		return st, nil
	}
	if err := st.loadFromFile(); err != nil {
		return st, err
	}
	return st, nil
}

func (st *OrderStore) loadFromFile() error {
	file, err := os.OpenFile(st.dataFile, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	var orderList []*models.Order
	if err := json.NewDecoder(file).Decode(&orderList); err != nil {
		// A freshly created snapshot file is empty.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decoding snapshot file: %w", err)
	}

	st.orders = make(map[string]*models.Order, len(orderList))
	for _, o := range orderList {
		st.orders[o.ID] = o
	}
	return nil
}

// saveToFile must be called with st.mu held.
func (st *OrderStore) saveToFile() error {
	if st.dataFile == "" {
		return nil
	}
	file, err := os.OpenFile(st.dataFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	orderList := make([]*models.Order, 0, len(st.orders))
	for _, o := range st.orders {
		orderList = append(orderList, o)
	}
	sortOrdersByUpdatedDesc(orderList)

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(orderList)
}

// Save upserts the order. The stored copy is detached from the caller's.
func (st *OrderStore) Save(o *models.Order) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.orders[o.ID] = o.Clone()
	if err := st.saveToFile(); err != nil {
		return fmt.Errorf("writing snapshot file: %w", err)
	}
	return nil
}

// Get returns a deep copy of the order, so callers can mutate freely and
// commit back through Save.
func (st *OrderStore) Get(orderID string) (*models.Order, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	o, ok := st.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// Exists reports whether the order is present without copying it.
func (st *OrderStore) Exists(orderID string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.orders[orderID]
	return ok
}

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	CustomerID string
	Status     *models.OrderStatus
	PageIndex  int
	PageSize   int
}

// List returns matching orders, newest change first. Pagination applies when
// both PageIndex and PageSize are positive.
func (st *OrderStore) List(f ListFilter) ([]*models.Order, error) {
	if f.PageIndex < 0 || f.PageSize < 0 {
		return nil, errors.New("page index and size must not be negative")
	}

	st.mu.RLock()
	result := make([]*models.Order, 0, len(st.orders))
	for _, o := range st.orders {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		result = append(result, o.Clone())
	}
	st.mu.RUnlock()

	sortOrdersByUpdatedDesc(result)

	if f.PageIndex > 0 && f.PageSize > 0 {
		start := (f.PageIndex - 1) * f.PageSize
		if start >= len(result) {
			return []*models.Order{}, nil
		}
		end := start + f.PageSize
		if end > len(result) {
			end = len(result)
		}
		result = result[start:end]
	}
	return result, nil
}

// Delete removes the order. Missing orders are not an error.
func (st *OrderStore) Delete(orderID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.orders, orderID)
	return st.saveToFile()
}

// Len reports the number of stored orders.
func (st *OrderStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.orders)
}

func sortOrdersByUpdatedDesc(orders []*models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].UpdatedAt.After(orders[j].UpdatedAt)
	})
}
