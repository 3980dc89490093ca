package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyTerminal   = errors.New("order is in a terminal state")
	ErrInsufficientUnits = errors.New("not enough units to satisfy allocation")
	ErrOrderNotFound     = errors.New("order not found")
)

// OrderStatus is the closed set of lifecycle states. The numeric order of the
// constants is the canonical progression: a transition is valid only to the
// immediately following status.
type OrderStatus int

const (
	StatusOpen OrderStatus = iota
	StatusAllocated
	StatusReleased
	StatusInProcess
	StatusPicked
	StatusPacked
	StatusFulfilled
	StatusDelivered
	StatusCancelled
)

var statusNames = map[OrderStatus]string{
	StatusOpen:      "Open",
	StatusAllocated: "Allocated",
	StatusReleased:  "Released",
	StatusInProcess: "In Process",
	StatusPicked:    "Picked",
	StatusPacked:    "Packed",
	StatusFulfilled: "Fulfilled",
	StatusDelivered: "Delivered",
	StatusCancelled: "Cancelled",
}

func (s OrderStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OrderStatus(%d)", int(s))
}

// ParseStatus maps a status name back to its enum value. It accepts the
// canonical names produced by String.
func ParseStatus(name string) (OrderStatus, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown order status %q", name)
}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// TerminalSuccess reports whether the order completed its happy path. Both
// Fulfilled and Delivered freeze the SLA clock.
func (s OrderStatus) TerminalSuccess() bool {
	return s == StatusFulfilled || s == StatusDelivered
}

type SlaStatus string

const (
	SlaCompliant  SlaStatus = "COMPLIANT"
	SlaNearBreach SlaStatus = "NEAR_BREACH"
	SlaBreach     SlaStatus = "BREACH"
)

// SlaInfo is a derived view, recomputed on every read. Elapsed keeps growing
// until the order reaches a terminal-success state.
type SlaInfo struct {
	Target  time.Duration `json:"target"`
	Elapsed time.Duration `json:"elapsed"`
	Status  SlaStatus     `json:"status"`
}

type DeliveryMethodType string

const (
	HomeDelivery DeliveryMethodType = "HOME_DELIVERY"
	ClickCollect DeliveryMethodType = "CLICK_COLLECT"
)

// AllocationType distinguishes the click-and-collect sub-flows: a Pickup item
// is already at the pickup store, a Merge item ships from another store first.
type AllocationType string

const (
	AllocationDelivery AllocationType = "Delivery"
	AllocationPickup   AllocationType = "Pickup"
	AllocationMerge    AllocationType = "Merge"
)

type HomeDeliveryDetails struct {
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	District   string `json:"district"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

type ClickCollectDetails struct {
	StoreName      string         `json:"store_name"`
	StoreAddress   string         `json:"store_address"`
	StorePhone     string         `json:"store_phone"`
	RecipientName  string         `json:"recipient_name"`
	Phone          string         `json:"phone"`
	ReleaseNumber  string         `json:"release_number"`
	PickupDate     time.Time      `json:"pickup_date"`
	TimeSlot       string         `json:"time_slot"`
	CollectionCode string         `json:"collection_code"`
	AllocationType AllocationType `json:"allocation_type"`
	// OriginStore is set only for Merge: the store the goods ship from.
	OriginStore string `json:"origin_store,omitempty"`
}

type DeliveryMethod struct {
	Type         DeliveryMethodType   `json:"type"`
	ItemCount    int                  `json:"item_count"`
	HomeDelivery *HomeDeliveryDetails `json:"home_delivery,omitempty"`
	ClickCollect *ClickCollectDetails `json:"click_collect,omitempty"`
}

// OrderLine is a normalized unit line: after allocation OrderedQty is always 1
// for countable goods. ParentLineID/SplitIndex point back at the raw line the
// unit was split from.
type OrderLine struct {
	ID                string      `json:"id"`
	OrderID           string      `json:"order_id"`
	ProductID         string      `json:"product_id"`
	ProductName       string      `json:"product_name"`
	OrderedQty        float64     `json:"ordered_qty"`
	FulfilledQty      float64     `json:"fulfilled_qty"`
	UnitPrice         float64     `json:"unit_price"`
	PromotionDiscount float64     `json:"promotion_discount"`
	UOM               string      `json:"uom"`
	Status            OrderStatus `json:"status"`
	ShippingMethod    string      `json:"shipping_method"`
	ParentLineID      string      `json:"parent_line_id,omitempty"`
	SplitIndex        int         `json:"split_index"`
}

// SplitLine reports whether the line was produced by quantity normalization.
func (l *OrderLine) SplitLine() bool {
	return l.ParentLineID != ""
}

type Order struct {
	ID              string           `json:"id"`
	CustomerID      string           `json:"customer_id"`
	BusinessUnit    string           `json:"business_unit"`
	Channel         string           `json:"channel"`
	Lines           []*OrderLine     `json:"lines"`
	DeliveryMethods []DeliveryMethod `json:"delivery_methods"`
	Status          OrderStatus      `json:"status"`
	SlaTarget       time.Duration    `json:"sla_target"`
	PlacedAt        time.Time        `json:"placed_at"`
	// CompletedAt is set when the order reaches Fulfilled; it freezes the
	// SLA clock. Zero until then.
	CompletedAt time.Time `json:"completed_at,omitempty"`
	CancelledAt time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TotalUnits counts the order's allocation units, one per normalized line.
// Continuous-quantity lines stay whole through normalization, so a 2.5 KG
// line is a single unit regardless of its measure.
func (o *Order) TotalUnits() int {
	return len(o.Lines)
}

// AggregateStatus is the minimum status among non-cancelled lines: the order
// cannot be reported further along than its slowest line. Cancelled wins only
// when every line is cancelled.
func (o *Order) AggregateStatus() OrderStatus {
	agg := StatusCancelled
	seen := false
	for _, l := range o.Lines {
		if l.Status == StatusCancelled {
			continue
		}
		seen = true
		if l.Status < agg {
			agg = l.Status
		}
	}
	if !seen {
		return StatusCancelled
	}
	return agg
}

// Clone returns a deep copy. Mutating operations work on a copy and commit it
// back only after the audit write succeeds.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Lines = make([]*OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		lc := *l
		cp.Lines[i] = &lc
	}
	cp.DeliveryMethods = make([]DeliveryMethod, len(o.DeliveryMethods))
	for i, m := range o.DeliveryMethods {
		mc := m
		if m.HomeDelivery != nil {
			hd := *m.HomeDelivery
			mc.HomeDelivery = &hd
		}
		if m.ClickCollect != nil {
			cc := *m.ClickCollect
			mc.ClickCollect = &cc
		}
		cp.DeliveryMethods[i] = mc
	}
	return &cp
}

// Method returns the delivery method of the given type, or nil.
func (o *Order) Method(t DeliveryMethodType) *DeliveryMethod {
	for i := range o.DeliveryMethods {
		if o.DeliveryMethods[i].Type == t {
			return &o.DeliveryMethods[i]
		}
	}
	return nil
}

// LinesFor returns the normalized lines assigned to the given delivery type,
// matched through the line's shipping method label.
func (o *Order) LinesFor(t DeliveryMethodType) []*OrderLine {
	var out []*OrderLine
	for _, l := range o.Lines {
		if ShippingMethodType(l.ShippingMethod) == t {
			out = append(out, l)
		}
	}
	return out
}

// Shipping method labels are disjoint between the two delivery types.
const (
	ShipStandardDelivery = "Standard Delivery"
	ShipExpressDelivery  = "Express Delivery"
	ShipStandardPickup   = "Standard Pickup"
	ShipExpressPickup    = "Express Pickup"
)

// ShippingMethodType maps a shipping method label to its delivery type.
func ShippingMethodType(label string) DeliveryMethodType {
	switch label {
	case ShipStandardPickup, ShipExpressPickup:
		return ClickCollect
	default:
		return HomeDelivery
	}
}

// AuditEvent is a single field-level change record. Events are append-only and
// totally ordered by (Timestamp, Seq); Seq is assigned by the ledger.
type AuditEvent struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"order_id"`
	EntityName       string    `json:"entity_name"`
	EntityID         string    `json:"entity_id"`
	ChangedParameter string    `json:"changed_parameter"`
	OldValue         string    `json:"old_value"`
	NewValue         string    `json:"new_value"`
	UpdatedBy        string    `json:"updated_by"`
	Timestamp        time.Time `json:"timestamp"`
	Seq              int64     `json:"seq"`
}

// ChangeKey identifies the logical change so that a replayed operation does
// not append a duplicate event.
func (e *AuditEvent) ChangeKey() string {
	return e.OrderID + "|" + e.EntityName + "|" + e.EntityID + "|" + e.ChangedParameter + "|" + e.OldValue + ">" + e.NewValue
}

// Milestone names for the fulfillment timeline.
const (
	MilestonePicking           = "Picking"
	MilestonePacking           = "Packing"
	MilestonePacked            = "Packed"
	MilestoneReadyToShip       = "Ready To Ship"
	MilestonePendingCCReceived = "Pending CC Received"
	MilestoneCCReceived        = "CC Received"
	MilestoneReadyToCollect    = "Ready to Collect"
	MilestoneCCCollected       = "CC Collected"
)

type TimelineEvent struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

type ShipmentStatus string

const (
	ShipmentPending        ShipmentStatus = "PENDING"
	ShipmentPickedUp       ShipmentStatus = "PICKED_UP"
	ShipmentInTransit      ShipmentStatus = "IN_TRANSIT"
	ShipmentOutForDelivery ShipmentStatus = "OUT_FOR_DELIVERY"
	ShipmentDelivered      ShipmentStatus = "DELIVERED"
)

type TrackingEvent struct {
	Status    ShipmentStatus `json:"status"`
	Location  string         `json:"location,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type ShipToAddress struct {
	Name           string         `json:"name"`
	Address        string         `json:"address"`
	Phone          string         `json:"phone"`
	AllocationType AllocationType `json:"allocation_type"`
}

// TrackingShipment is one physical movement: a carrier leg, a store-to-store
// merge leg, or a customer-pickup leg.
type TrackingShipment struct {
	TrackingNumber string          `json:"tracking_number"`
	Carrier        string          `json:"carrier,omitempty"`
	ReleaseNumber  string          `json:"release_number"`
	Status         ShipmentStatus  `json:"status"`
	ETA            time.Time       `json:"eta"`
	ShippedFrom    string          `json:"shipped_from"`
	ShipTo         ShipToAddress   `json:"ship_to"`
	Events         []TrackingEvent `json:"events"`
}
