package engine

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"fulfillment-service/internal/allocator"
	"fulfillment-service/internal/ids"
	"fulfillment-service/internal/ledger"
	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/metrics"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/sla"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/timeline"
)

var ErrOrderExists = errors.New("order already exists")

// Recorder is the audit ledger as the engine sees it. *ledger.Ledger is the
// production implementation. Record and RecordAll assign Seq into the passed
// events, so everything published after a successful write carries the
// ledger's sequence numbers.
type Recorder interface {
	Record(event *models.AuditEvent) error
	RecordAll(events []models.AuditEvent) error
	History(orderID string, ord ledger.Ordering) []models.AuditEvent
}

// DefaultSlaTarget applies when a submission does not name its own target.
const DefaultSlaTarget = 300 * time.Minute

// Sink receives committed audit events for downstream delivery. Publishing is
// best effort and must not block the caller.
type Sink interface {
	Publish(events []models.AuditEvent)
}

// Persister writes orders to durable storage. The engine treats it as a
// write-behind: a persister failure is logged, not surfaced, and the in-memory
// store remains the working dataset.
type Persister interface {
	SaveOrder(o *models.Order) error
}

// Engine is the facade over the whole order lifecycle. Mutations run inside a
// per-order exclusive section: the order is copied, changed, recorded in the
// ledger, and only then committed back. A ledger write failure aborts the
// mutation entirely.
type Engine struct {
	store   *store.OrderStore
	ledger  Recorder
	alloc   *allocator.Allocator
	machine *lifecycle.Machine
	builder *timeline.Builder
	clock   ids.Clock
	gen     ids.Generator

	sink      Sink
	persister Persister
	metrics   *metrics.Metrics

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	breached map[string]struct{}
}

func New(st *store.OrderStore, led Recorder, alloc *allocator.Allocator, clock ids.Clock, gen ids.Generator) *Engine {
	return &Engine{
		store:    st,
		ledger:   led,
		alloc:    alloc,
		machine:  lifecycle.New(clock, gen),
		builder:  timeline.NewBuilder(clock, gen, timeline.EvenSpacing()),
		clock:    clock,
		gen:      gen,
		locks:    make(map[string]*sync.Mutex),
		breached: make(map[string]struct{}),
	}
}

func (e *Engine) WithSink(s Sink) *Engine {
	e.sink = s
	return e
}

func (e *Engine) WithPersister(p Persister) *Engine {
	e.persister = p
	return e
}

func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// lockOrder returns the mutex serializing mutations of one order.
func (e *Engine) lockOrder(orderID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[orderID] = l
	}
	return l
}

// SubmitRequest carries a new order. Store details are consulted only when the
// allocation policy routes units to click-and-collect.
type SubmitRequest struct {
	OrderID      string
	CustomerID   string
	BusinessUnit string
	Channel      string
	Lines        []allocator.RawLine
	Recipient    models.HomeDeliveryDetails
	Store        models.ClickCollectDetails
	OriginStore  string
	SlaTarget    time.Duration
	Actor        string
}

// Submit allocates delivery methods, normalizes the lines and opens the order.
// The creation events must reach the ledger before the order becomes visible.
func (e *Engine) Submit(req SubmitRequest) (*models.Order, error) {
	if req.OrderID == "" {
		return nil, errors.New("order id is required")
	}

	l := e.lockOrder(req.OrderID)
	l.Lock()
	defer l.Unlock()

	if e.store.Exists(req.OrderID) {
		return nil, fmt.Errorf("order %s: %w", req.OrderID, ErrOrderExists)
	}

	methods, lines, err := e.alloc.Allocate(allocator.Request{
		OrderID:     req.OrderID,
		Lines:       req.Lines,
		Recipient:   req.Recipient,
		Store:       req.Store,
		OriginStore: req.OriginStore,
	})
	if err != nil {
		return nil, err
	}

	target := req.SlaTarget
	if target <= 0 {
		target = DefaultSlaTarget
	}

	now := e.clock.Now()
	o := &models.Order{
		ID:              req.OrderID,
		CustomerID:      req.CustomerID,
		BusinessUnit:    req.BusinessUnit,
		Channel:         req.Channel,
		Lines:           lines,
		DeliveryMethods: methods,
		Status:          models.StatusOpen,
		SlaTarget:       target,
		PlacedAt:        now,
		UpdatedAt:       now,
	}

	events := make([]models.AuditEvent, 0, len(lines)+1)
	events = append(events, models.AuditEvent{
		ID:               e.gen.EventID(),
		OrderID:          o.ID,
		EntityName:       "Order",
		EntityID:         o.ID,
		ChangedParameter: "status",
		NewValue:         models.StatusOpen.String(),
		UpdatedBy:        req.Actor,
		Timestamp:        now,
	})
	for _, line := range lines {
		events = append(events, models.AuditEvent{
			ID:               e.gen.EventID(),
			OrderID:          o.ID,
			EntityName:       "OrderLine",
			EntityID:         line.ID,
			ChangedParameter: "status",
			NewValue:         models.StatusOpen.String(),
			UpdatedBy:        req.Actor,
			Timestamp:        now,
		})
	}

	allocated := 0
	for i := range methods {
		allocated += methods[i].ItemCount
	}
	if allocated != o.TotalUnits() {
		return nil, fmt.Errorf("allocation of %s lost units: methods carry %d, lines carry %d",
			o.ID, allocated, o.TotalUnits())
	}

	if err := e.ledger.RecordAll(events); err != nil {
		return nil, fmt.Errorf("recording submission of %s: %w", o.ID, err)
	}
	if err := e.store.Save(o); err != nil {
		return nil, err
	}

	e.persist(o)
	e.publish(events)
	if e.metrics != nil {
		e.metrics.OrdersSubmitted.Inc()
		e.metrics.AuditEvents.Add(float64(len(events)))
	}
	return o, nil
}

// Advance moves the order one step forward along the lifecycle.
func (e *Engine) Advance(orderID string, target models.OrderStatus, actor string) (*models.Order, error) {
	l := e.lockOrder(orderID)
	l.Lock()
	defer l.Unlock()

	o, err := e.store.Get(orderID)
	if err != nil {
		return nil, err
	}

	events, err := e.machine.Advance(o, target, actor)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.RecordAll(events); err != nil {
		return nil, fmt.Errorf("recording transition of %s: %w", orderID, err)
	}
	if err := e.store.Save(o); err != nil {
		return nil, err
	}

	e.persist(o)
	e.publish(events)
	if e.metrics != nil {
		e.metrics.Transitions.WithLabelValues(target.String()).Inc()
		e.metrics.AuditEvents.Add(float64(len(events)))
	}
	return o, nil
}

// Cancel moves the order into the absorbing Cancelled state.
func (e *Engine) Cancel(orderID, actor string) (*models.Order, error) {
	l := e.lockOrder(orderID)
	l.Lock()
	defer l.Unlock()

	o, err := e.store.Get(orderID)
	if err != nil {
		return nil, err
	}

	event, err := e.machine.Cancel(o, actor)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Record(&event); err != nil {
		return nil, fmt.Errorf("recording cancellation of %s: %w", orderID, err)
	}
	if err := e.store.Save(o); err != nil {
		return nil, err
	}

	e.persist(o)
	e.publish([]models.AuditEvent{event})
	if e.metrics != nil {
		e.metrics.OrdersCancelled.Inc()
		e.metrics.AuditEvents.Inc()
	}
	return o, nil
}

// AddNote appends a free-form annotation to the order's audit trail without
// touching its state.
func (e *Engine) AddNote(orderID, actor, note string) (models.AuditEvent, error) {
	if note == "" {
		return models.AuditEvent{}, errors.New("note must not be empty")
	}

	l := e.lockOrder(orderID)
	l.Lock()
	defer l.Unlock()

	if !e.store.Exists(orderID) {
		return models.AuditEvent{}, models.ErrOrderNotFound
	}

	event := models.AuditEvent{
		ID:               e.gen.EventID(),
		OrderID:          orderID,
		EntityName:       "Order",
		EntityID:         orderID,
		ChangedParameter: "note",
		NewValue:         note,
		UpdatedBy:        actor,
		Timestamp:        e.clock.Now(),
	}
	if err := e.ledger.Record(&event); err != nil {
		return models.AuditEvent{}, err
	}

	e.publish([]models.AuditEvent{event})
	if e.metrics != nil {
		e.metrics.AuditEvents.Inc()
	}
	return event, nil
}

// Get returns a detached copy of the order.
func (e *Engine) Get(orderID string) (*models.Order, error) {
	return e.store.Get(orderID)
}

// ClassifySLA computes the order's current SLA standing. It is a pure read:
// the history is identical before and after the call.
func (e *Engine) ClassifySLA(orderID string) (models.SlaInfo, error) {
	o, err := e.store.Get(orderID)
	if err != nil {
		return models.SlaInfo{}, err
	}
	info := sla.Info(o, e.clock.Now())
	if e.metrics != nil {
		e.metrics.SlaChecks.WithLabelValues(string(info.Status)).Inc()
	}
	return info, nil
}

// EscalateBreaches records the escalation event for every order currently in
// breach. It runs on the monitoring sweep, so read operations never write.
func (e *Engine) EscalateBreaches() {
	orders, err := e.store.List(store.ListFilter{})
	if err != nil {
		log.Printf("listing orders for breach escalation: %v", err)
		return
	}
	now := e.clock.Now()
	for _, o := range orders {
		if sla.Info(o, now).Status == models.SlaBreach {
			e.recordBreach(o.ID)
		}
	}
}

// recordBreach writes the escalation record the first time an order is seen
// in breach. Sweeps over an already-flagged order do nothing.
func (e *Engine) recordBreach(orderID string) {
	e.mu.Lock()
	if _, done := e.breached[orderID]; done {
		e.mu.Unlock()
		return
	}
	e.breached[orderID] = struct{}{}
	e.mu.Unlock()

	event := models.AuditEvent{
		ID:               e.gen.EventID(),
		OrderID:          orderID,
		EntityName:       "Order",
		EntityID:         orderID,
		ChangedParameter: "slaStatus",
		NewValue:         string(models.SlaBreach),
		UpdatedBy:        "sla-monitor",
		Timestamp:        e.clock.Now(),
	}
	if err := e.ledger.Record(&event); err != nil {
		log.Printf("recording SLA breach of %s: %v", orderID, err)
		return
	}
	e.publish([]models.AuditEvent{event})
}

// History returns the order's audit trail in the requested direction.
func (e *Engine) History(orderID string, ord ledger.Ordering) ([]models.AuditEvent, error) {
	if !e.store.Exists(orderID) {
		return nil, models.ErrOrderNotFound
	}
	return e.ledger.History(orderID, ord), nil
}

// Timeline derives the milestone sequence for one of the order's delivery
// methods.
func (e *Engine) Timeline(orderID string, method models.DeliveryMethodType) ([]models.TimelineEvent, error) {
	o, err := e.store.Get(orderID)
	if err != nil {
		return nil, err
	}
	return e.builder.Timeline(o, method), nil
}

// TrackingShipments derives the carrier view of the order.
func (e *Engine) TrackingShipments(orderID string) ([]models.TrackingShipment, error) {
	o, err := e.store.Get(orderID)
	if err != nil {
		return nil, err
	}
	return e.builder.TrackingShipments(o), nil
}

// ListOrders returns orders matching the filter, newest change first.
func (e *Engine) ListOrders(f store.ListFilter) ([]*models.Order, error) {
	return e.store.List(f)
}

// ListBreached returns orders currently in breach of their SLA target.
func (e *Engine) ListBreached() ([]*models.Order, error) {
	orders, err := e.store.List(store.ListFilter{})
	if err != nil {
		return nil, err
	}
	return sla.FilterBreached(orders, e.clock.Now()), nil
}

// ListApproaching returns orders inside the near-breach window.
func (e *Engine) ListApproaching() ([]*models.Order, error) {
	orders, err := e.store.List(store.ListFilter{})
	if err != nil {
		return nil, err
	}
	return sla.FilterApproaching(orders, e.clock.Now()), nil
}

func (e *Engine) persist(o *models.Order) {
	if e.persister == nil {
		return
	}
	if err := e.persister.SaveOrder(o); err != nil {
		log.Printf("persisting order %s failed, in-memory copy stays authoritative: %v", o.ID, err)
	}
}

func (e *Engine) publish(events []models.AuditEvent) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(events)
}
