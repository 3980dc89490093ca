package allocator

import "math/rand"

type Mode int

const (
	ModeHomeOnly Mode = iota
	ModeClickCollectOnly
	ModeMixed
)

// Policy decides the delivery mode and the mixed-mode unit split. The engine
// is deterministic given a policy; randomness, if wanted, lives in the policy
// implementation the caller injects.
type Policy interface {
	Mode(totalUnits int) Mode
	// Split partitions totalUnits into (home, clickCollect) for mixed mode.
	// Implementations must return two positive counts summing to totalUnits
	// whenever totalUnits >= 2.
	Split(totalUnits int) (home, clickCollect int)
}

// FixedPolicy always picks the same mode and assigns HomeUnits lines to home
// delivery in mixed mode. Used in tests and for replaying allocations.
type FixedPolicy struct {
	FixedMode Mode
	HomeUnits int
}

func (p FixedPolicy) Mode(int) Mode { return p.FixedMode }

func (p FixedPolicy) Split(total int) (int, int) {
	home := p.HomeUnits
	if home < 1 {
		home = 1
	}
	if home > total-1 {
		home = total - 1
	}
	return home, total - home
}

// WeightedPolicy draws the mode from configured weights. Orders with a single
// unit never come out mixed.
type WeightedPolicy struct {
	HomeWeight    int
	CollectWeight int
	MixedWeight   int
	Rand          *rand.Rand
}

func (p WeightedPolicy) Mode(totalUnits int) Mode {
	home, collect, mixed := p.HomeWeight, p.CollectWeight, p.MixedWeight
	if totalUnits < 2 {
		mixed = 0
	}
	sum := home + collect + mixed
	if sum <= 0 {
		return ModeHomeOnly
	}
	n := p.Rand.Intn(sum)
	switch {
	case n < home:
		return ModeHomeOnly
	case n < home+collect:
		return ModeClickCollectOnly
	default:
		return ModeMixed
	}
}

func (p WeightedPolicy) Split(total int) (int, int) {
	home := 1 + p.Rand.Intn(total-1)
	return home, total - home
}
