package allocator

import (
	"fmt"
	"strings"

	"fulfillment-service/internal/ids"
	"fulfillment-service/internal/models"
)

// weightUOMs are continuous quantities. Lines measured in these units are
// never split into unit lines.
var weightUOMs = []string{"KG", "G", "GRAM", "LB", "LBS", "OZ", "ML", "L", "LITER"}

func isWeightUOM(uom string) bool {
	if uom == "" {
		return false
	}
	u := strings.ToUpper(uom)
	for _, w := range weightUOMs {
		if strings.Contains(u, w) {
			return true
		}
	}
	return false
}

// RawLine is an incoming line item before quantity normalization.
type RawLine struct {
	ID                string
	ProductID         string
	ProductName       string
	Quantity          float64
	UnitPrice         float64
	PromotionDiscount float64 // total discount for the whole raw line
	UOM               string
}

// Request carries the order context the allocator needs to build delivery
// method payloads. Store details are required only for click-and-collect.
type Request struct {
	OrderID     string
	Lines       []RawLine
	Recipient   models.HomeDeliveryDetails
	Store       models.ClickCollectDetails
	OriginStore string // origin for the Merge sub-flow; empty means Pickup applies
}

// Allocator assigns an order's items to delivery methods and normalizes its
// lines to one unit each. Behaviour is fully determined by the injected
// policy; nothing here draws randomness.
type Allocator struct {
	policy Policy
	ids    ids.Generator
}

func New(policy Policy, gen ids.Generator) *Allocator {
	return &Allocator{policy: policy, ids: gen}
}

// Allocate normalizes the raw lines and partitions them across delivery
// methods. The returned methods' ItemCounts always sum to the number of
// normalized lines. Fails with ErrInsufficientUnits when the policy asks for
// more non-empty buckets than there are units; nothing is partially applied.
func (a *Allocator) Allocate(req Request) ([]models.DeliveryMethod, []*models.OrderLine, error) {
	lines := a.normalize(req.OrderID, req.Lines)
	total := len(lines)
	if total == 0 {
		return nil, nil, fmt.Errorf("order %s: %w", req.OrderID, models.ErrInsufficientUnits)
	}

	mode := a.policy.Mode(total)
	if mode == ModeMixed && total < 2 {
		return nil, nil, fmt.Errorf("mixed split of %d unit: %w", total, models.ErrInsufficientUnits)
	}

	var homeCount, collectCount int
	switch mode {
	case ModeHomeOnly:
		homeCount = total
	case ModeClickCollectOnly:
		collectCount = total
	case ModeMixed:
		homeCount, collectCount = a.policy.Split(total)
		if homeCount < 1 || collectCount < 1 || homeCount+collectCount != total {
			return nil, nil, fmt.Errorf("split %d+%d of %d units: %w",
				homeCount, collectCount, total, models.ErrInsufficientUnits)
		}
	}

	// First homeCount unit lines (original line order) go to home delivery,
	// the remainder to click-and-collect.
	for i, l := range lines {
		if i < homeCount {
			l.ShippingMethod = models.ShipStandardDelivery
		} else {
			l.ShippingMethod = models.ShipStandardPickup
		}
	}

	var methods []models.DeliveryMethod
	if homeCount > 0 {
		hd := req.Recipient
		methods = append(methods, models.DeliveryMethod{
			Type:         models.HomeDelivery,
			ItemCount:    homeCount,
			HomeDelivery: &hd,
		})
	}
	if collectCount > 0 {
		cc := req.Store
		cc.ReleaseNumber = a.ids.ReleaseNumber(req.OrderID, len(methods)+1)
		cc.CollectionCode = a.ids.CollectionCode(req.OrderID)
		cc.AllocationType = models.AllocationPickup
		if req.OriginStore != "" && req.OriginStore != cc.StoreName {
			cc.AllocationType = models.AllocationMerge
			cc.OriginStore = req.OriginStore
		}
		methods = append(methods, models.DeliveryMethod{
			Type:         models.ClickCollect,
			ItemCount:    collectCount,
			ClickCollect: &cc,
		})
	}
	return methods, lines, nil
}

// normalize splits every countable multi-unit line into unit lines, each
// inheriting the parent's product, per-unit price and per-unit promotion.
func (a *Allocator) normalize(orderID string, raw []RawLine) []*models.OrderLine {
	var out []*models.OrderLine
	next := 0
	for _, r := range raw {
		qty := r.Quantity
		if qty <= 0 {
			continue
		}
		whole := qty == float64(int(qty))
		if !whole || isWeightUOM(r.UOM) || qty == 1 {
			out = append(out, a.unitLine(orderID, r, next, qty, r.PromotionDiscount, "", 0))
			next++
			continue
		}
		n := int(qty)
		perUnitDiscount := r.PromotionDiscount / qty
		for i := 0; i < n; i++ {
			out = append(out, a.unitLine(orderID, r, next, 1, perUnitDiscount, r.ID, i))
			next++
		}
	}
	return out
}

func (a *Allocator) unitLine(orderID string, r RawLine, index int, qty, discount float64, parentID string, splitIndex int) *models.OrderLine {
	return &models.OrderLine{
		ID:                a.ids.LineID(orderID, index),
		OrderID:           orderID,
		ProductID:         r.ProductID,
		ProductName:       r.ProductName,
		OrderedQty:        qty,
		UnitPrice:         r.UnitPrice,
		PromotionDiscount: discount,
		UOM:               r.UOM,
		Status:            models.StatusOpen,
		ParentLineID:      parentID,
		SplitIndex:        splitIndex,
	}
}

// GroupByParent groups normalized lines under the raw line they were split
// from; unsplit lines group under their own ID.
func GroupByParent(lines []*models.OrderLine) map[string][]*models.OrderLine {
	groups := make(map[string][]*models.OrderLine)
	for _, l := range lines {
		key := l.ParentLineID
		if key == "" {
			key = l.ID
		}
		groups[key] = append(groups[key], l)
	}
	return groups
}

// OriginalQuantity recovers a raw line's quantity from its split siblings.
func OriginalQuantity(line *models.OrderLine, all []*models.OrderLine) float64 {
	if line.ParentLineID == "" {
		return line.OrderedQty
	}
	total := 0.0
	for _, l := range all {
		if l.ParentLineID == line.ParentLineID {
			total += l.OrderedQty
		}
	}
	return total
}
