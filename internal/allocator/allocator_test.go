package allocator_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"fulfillment-service/internal/allocator"
	"fulfillment-service/internal/ids"
	"fulfillment-service/internal/models"
)

func testRequest(orderID string, lines ...allocator.RawLine) allocator.Request {
	return allocator.Request{
		OrderID: orderID,
		Lines:   lines,
		Recipient: models.HomeDeliveryDetails{
			Recipient: "Somchai Prasert",
			Address:   "1027 Ploenchit Road",
			City:      "Bangkok",
		},
		Store: models.ClickCollectDetails{
			StoreName:    "CENTRAL CHIDLOM",
			StoreAddress: "1027 Ploenchit Road",
			TimeSlot:     "10:00 - 18:00",
		},
	}
}

func TestSplitMultiQuantityLine(t *testing.T) {
	a := allocator.New(allocator.FixedPolicy{FixedMode: allocator.ModeHomeOnly}, ids.NewGenerator())

	req := testRequest("ORD-1", allocator.RawLine{
		ID: "RAW-1", ProductID: "SKU-1", ProductName: "Fragrance 50ml",
		Quantity: 3, UnitPrice: 5200, PromotionDiscount: 300, UOM: "PCS",
	})
	methods, lines, err := a.Allocate(req)
	assert.NoError(t, err)
	assert.Len(t, lines, 3)
	assert.Len(t, methods, 1)
	assert.Equal(t, 3, methods[0].ItemCount)

	total := 0.0
	for i, l := range lines {
		assert.Equal(t, 1.0, l.OrderedQty)
		assert.Equal(t, 5200.0, l.UnitPrice)
		assert.Equal(t, 100.0, l.PromotionDiscount)
		assert.Equal(t, "RAW-1", l.ParentLineID)
		assert.Equal(t, i, l.SplitIndex)
		assert.True(t, l.SplitLine())
		total += l.OrderedQty
	}
	assert.Equal(t, 3.0, total)
	assert.Equal(t, 3.0, allocator.OriginalQuantity(lines[0], lines))
}

func TestWeightLinesAreNotSplit(t *testing.T) {
	a := allocator.New(allocator.FixedPolicy{FixedMode: allocator.ModeHomeOnly}, ids.NewGenerator())

	req := testRequest("ORD-2",
		allocator.RawLine{ID: "RAW-1", ProductID: "SKU-1", Quantity: 2.5, UnitPrice: 120, UOM: "KG"},
		allocator.RawLine{ID: "RAW-2", ProductID: "SKU-2", Quantity: 4, UnitPrice: 80, UOM: "ML"},
	)
	_, lines, err := a.Allocate(req)
	assert.NoError(t, err)
	assert.Len(t, lines, 2)
	assert.Equal(t, 2.5, lines[0].OrderedQty)
	assert.Equal(t, 4.0, lines[1].OrderedQty)
	assert.False(t, lines[0].SplitLine())
}

func TestInvalidQuantitiesAreDropped(t *testing.T) {
	a := allocator.New(allocator.FixedPolicy{FixedMode: allocator.ModeHomeOnly}, ids.NewGenerator())

	req := testRequest("ORD-3",
		allocator.RawLine{ID: "RAW-1", ProductID: "SKU-1", Quantity: 0},
		allocator.RawLine{ID: "RAW-2", ProductID: "SKU-2", Quantity: -1},
		allocator.RawLine{ID: "RAW-3", ProductID: "SKU-3", Quantity: 1, UnitPrice: 10},
	)
	_, lines, err := a.Allocate(req)
	assert.NoError(t, err)
	assert.Len(t, lines, 1)
	assert.Equal(t, "SKU-3", lines[0].ProductID)
}

func TestMixedAllocationConservesUnits(t *testing.T) {
	a := allocator.New(allocator.FixedPolicy{FixedMode: allocator.ModeMixed, HomeUnits: 9}, ids.NewGenerator())

	req := testRequest("ORD-4",
		allocator.RawLine{ID: "RAW-1", ProductID: "SKU-1", Quantity: 12, UnitPrice: 100},
		allocator.RawLine{ID: "RAW-2", ProductID: "SKU-2", Quantity: 5, UnitPrice: 40},
	)
	methods, lines, err := a.Allocate(req)
	assert.NoError(t, err)
	assert.Len(t, lines, 17)
	assert.Len(t, methods, 2)

	sum := 0
	for _, m := range methods {
		assert.GreaterOrEqual(t, m.ItemCount, 1)
		sum += m.ItemCount
	}
	assert.Equal(t, 17, sum)

	// First nine unit lines by original order go to home delivery.
	for i, l := range lines {
		if i < 9 {
			assert.Equal(t, models.HomeDelivery, models.ShippingMethodType(l.ShippingMethod))
		} else {
			assert.Equal(t, models.ClickCollect, models.ShippingMethodType(l.ShippingMethod))
		}
	}
}

func TestMixedSingleUnitFails(t *testing.T) {
	a := allocator.New(allocator.FixedPolicy{FixedMode: allocator.ModeMixed}, ids.NewGenerator())

	req := testRequest("ORD-5", allocator.RawLine{ID: "RAW-1", ProductID: "SKU-1", Quantity: 1})
	_, _, err := a.Allocate(req)
	assert.ErrorIs(t, err, models.ErrInsufficientUnits)
}

func TestEmptyOrderFails(t *testing.T) {
	a := allocator.New(allocator.FixedPolicy{FixedMode: allocator.ModeHomeOnly}, ids.NewGenerator())
	_, _, err := a.Allocate(testRequest("ORD-6"))
	assert.ErrorIs(t, err, models.ErrInsufficientUnits)
}

func TestClickCollectSubFlows(t *testing.T) {
	a := allocator.New(allocator.FixedPolicy{FixedMode: allocator.ModeClickCollectOnly}, ids.NewGenerator())

	req := testRequest("ORD-7", allocator.RawLine{ID: "RAW-1", ProductID: "SKU-1", Quantity: 2})
	methods, _, err := a.Allocate(req)
	assert.NoError(t, err)
	assert.Len(t, methods, 1)
	cc := methods[0].ClickCollect
	assert.NotNil(t, cc)
	assert.Equal(t, models.AllocationPickup, cc.AllocationType)
	assert.NotEmpty(t, cc.ReleaseNumber)
	assert.NotEmpty(t, cc.CollectionCode)

	// Shipping from a different store makes it a Merge.
	req.OriginStore = "CENTRAL BANGNA"
	methods, _, err = a.Allocate(req)
	assert.NoError(t, err)
	cc = methods[0].ClickCollect
	assert.Equal(t, models.AllocationMerge, cc.AllocationType)
	assert.Equal(t, "CENTRAL BANGNA", cc.OriginStore)
}

func TestWeightedPolicyNeverMixesSingleUnit(t *testing.T) {
	p := allocator.WeightedPolicy{HomeWeight: 1, CollectWeight: 1, MixedWeight: 8, Rand: rand.New(rand.NewSource(7))}
	for i := 0; i < 100; i++ {
		assert.NotEqual(t, allocator.ModeMixed, p.Mode(1))
	}
}

func TestWeightedPolicySplitIsPositive(t *testing.T) {
	p := allocator.WeightedPolicy{MixedWeight: 1, Rand: rand.New(rand.NewSource(42))}
	for i := 0; i < 100; i++ {
		home, collect := p.Split(17)
		assert.GreaterOrEqual(t, home, 1)
		assert.GreaterOrEqual(t, collect, 1)
		assert.Equal(t, 17, home+collect)
	}
}

func TestGroupByParent(t *testing.T) {
	a := allocator.New(allocator.FixedPolicy{FixedMode: allocator.ModeHomeOnly}, ids.NewGenerator())
	req := testRequest("ORD-8",
		allocator.RawLine{ID: "RAW-1", ProductID: "SKU-1", Quantity: 3},
		allocator.RawLine{ID: "RAW-2", ProductID: "SKU-2", Quantity: 1},
	)
	_, lines, err := a.Allocate(req)
	assert.NoError(t, err)

	groups := allocator.GroupByParent(lines)
	assert.Len(t, groups, 2)
	assert.Len(t, groups["RAW-1"], 3)
}
