package timeline

import (
	"fmt"
	"time"

	"fulfillment-service/internal/ids"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/sla"
)

// TimingPolicy places milestone i of total on the order's time axis. The
// default spreads the milestones evenly across the SLA target; callers can
// inject other spacings without touching the builder.
type TimingPolicy interface {
	Offset(step, total int, target time.Duration) time.Duration
}

type evenSpacing struct{}

func (evenSpacing) Offset(step, total int, target time.Duration) time.Duration {
	return target * time.Duration(step+1) / time.Duration(total+1)
}

func EvenSpacing() TimingPolicy { return evenSpacing{} }

var homeMilestones = []string{
	models.MilestonePicking,
	models.MilestonePacking,
	models.MilestonePacked,
	models.MilestoneReadyToShip,
}

var clickCollectMilestones = []string{
	models.MilestonePicking,
	models.MilestonePacking,
	models.MilestonePacked,
	models.MilestoneReadyToShip,
	models.MilestonePendingCCReceived,
	models.MilestoneCCReceived,
	models.MilestoneReadyToCollect,
	models.MilestoneCCCollected,
}

// Builder derives presentation-ready timeline and shipment views from an
// order's current state. Everything here is a pure read; repeated calls with
// an unchanged order and clock yield identical output.
type Builder struct {
	clock  ids.Clock
	ids    ids.Generator
	timing TimingPolicy
}

func NewBuilder(clock ids.Clock, gen ids.Generator, timing TimingPolicy) *Builder {
	return &Builder{clock: clock, ids: gen, timing: timing}
}

// Timeline returns the milestone sequence for one delivery method. Milestones
// are strictly increasing and never placed past the order's elapsed time: a
// milestone is reported only once enough time has passed for it to have
// happened.
func (b *Builder) Timeline(o *models.Order, method models.DeliveryMethodType) []models.TimelineEvent {
	if o.Method(method) == nil {
		return nil
	}

	milestones := homeMilestones
	if method == models.ClickCollect {
		milestones = clickCollectMilestones
	}
	elapsed := sla.Elapsed(o, b.clock.Now())
	itemCount := o.Method(method).ItemCount

	var events []models.TimelineEvent
	for i, name := range milestones {
		offset := b.timing.Offset(i, len(milestones), o.SlaTarget)
		if offset > elapsed {
			break
		}
		e := models.TimelineEvent{
			ID:        fmt.Sprintf("%s-%s-%d", o.ID, method, i+1),
			Status:    name,
			Timestamp: o.PlacedAt.Add(offset),
		}
		if i == 0 {
			e.Details = fmt.Sprintf("%d item(s)", itemCount)
		}
		events = append(events, e)
	}
	return events
}

const carrierName = "CNJ Express"

// TrackingShipments derives the carrier-facing records for an order: one
// carrier leg per home delivery, one pickup leg per direct click-and-collect,
// and exactly two legs for the merge (ship-to-store) sub-flow.
func (b *Builder) TrackingShipments(o *models.Order) []models.TrackingShipment {
	if o.Status == models.StatusCancelled {
		return nil
	}

	var shipments []models.TrackingShipment
	leg := 1
	for i := range o.DeliveryMethods {
		m := &o.DeliveryMethods[i]
		switch m.Type {
		case models.HomeDelivery:
			shipments = append(shipments, b.carrierLeg(o, m, leg))
			leg++
		case models.ClickCollect:
			cc := m.ClickCollect
			if cc != nil && cc.AllocationType == models.AllocationMerge {
				shipments = append(shipments, b.mergeLeg(o, cc, leg))
				leg++
			}
			shipments = append(shipments, b.pickupLeg(o, cc, leg))
			leg++
		}
	}
	return shipments
}

// carrierLeg is the home-delivery movement. Carrier events accumulate as the
// order ages; the shipment's status is the status of its last event.
func (b *Builder) carrierLeg(o *models.Order, m *models.DeliveryMethod, leg int) models.TrackingShipment {
	elapsed := sla.Elapsed(o, b.clock.Now())

	steps := []struct {
		status   models.ShipmentStatus
		location string
	}{
		{models.ShipmentPickedUp, "Origin warehouse"},
		{models.ShipmentInTransit, "Distribution hub"},
		{models.ShipmentOutForDelivery, "Local depot"},
		{models.ShipmentDelivered, ""},
	}

	var events []models.TrackingEvent
	for i, s := range steps {
		offset := b.timing.Offset(i, len(steps), o.SlaTarget)
		if offset > elapsed {
			break
		}
		events = append(events, models.TrackingEvent{
			Status:    s.status,
			Location:  s.location,
			Timestamp: o.PlacedAt.Add(offset),
		})
	}

	status := models.ShipmentPending
	if len(events) > 0 {
		status = events[len(events)-1].Status
	}

	ship := models.TrackingShipment{
		TrackingNumber: b.ids.TrackingNumber(o.ID, leg),
		Carrier:        carrierName,
		ReleaseNumber:  b.ids.ReleaseNumber(o.ID, leg),
		Status:         status,
		ETA:            o.PlacedAt.Add(o.SlaTarget),
		ShippedFrom:    "Central Fulfillment Center",
		Events:         events,
	}
	if m.HomeDelivery != nil {
		ship.ShipTo = models.ShipToAddress{
			Name:           m.HomeDelivery.Recipient,
			Address:        m.HomeDelivery.Address,
			Phone:          m.HomeDelivery.Phone,
			AllocationType: models.AllocationDelivery,
		}
	}
	return ship
}

// mergeLeg is the store-to-store movement that precedes customer collection.
// It is always reported complete: the pickup leg only exists once the goods
// have arrived at the pickup store.
func (b *Builder) mergeLeg(o *models.Order, cc *models.ClickCollectDetails, leg int) models.TrackingShipment {
	elapsed := sla.Elapsed(o, b.clock.Now())

	steps := []models.ShipmentStatus{
		models.ShipmentPickedUp,
		models.ShipmentInTransit,
		models.ShipmentDelivered,
	}
	events := make([]models.TrackingEvent, 0, len(steps))
	for i, s := range steps {
		events = append(events, models.TrackingEvent{
			Status:    s,
			Location:  cc.OriginStore,
			Timestamp: o.PlacedAt.Add(elapsed * time.Duration(i+1) / time.Duration(len(steps)+1)),
		})
	}

	return models.TrackingShipment{
		TrackingNumber: b.ids.TrackingNumber(o.ID, leg),
		Carrier:        carrierName,
		ReleaseNumber:  cc.ReleaseNumber,
		Status:         models.ShipmentDelivered,
		ETA:            o.PlacedAt.Add(o.SlaTarget),
		ShippedFrom:    cc.OriginStore,
		ShipTo: models.ShipToAddress{
			Name:           cc.StoreName,
			Address:        cc.StoreAddress,
			Phone:          cc.StorePhone,
			AllocationType: models.AllocationMerge,
		},
		Events: events,
	}
}

// pickupLeg is the customer-collection movement. It never has carrier events;
// its status is fixed.
func (b *Builder) pickupLeg(o *models.Order, cc *models.ClickCollectDetails, leg int) models.TrackingShipment {
	ship := models.TrackingShipment{
		TrackingNumber: b.ids.TrackingNumber(o.ID, leg),
		Status:         models.ShipmentPickedUp,
		ETA:            o.PlacedAt.Add(o.SlaTarget),
		Events:         []models.TrackingEvent{},
	}
	if cc != nil {
		ship.ReleaseNumber = cc.ReleaseNumber
		ship.ShippedFrom = cc.StoreName
		ship.ShipTo = models.ShipToAddress{
			Name:           cc.RecipientName,
			Address:        cc.StoreAddress,
			Phone:          cc.Phone,
			AllocationType: models.AllocationPickup,
		}
	}
	return ship
}
