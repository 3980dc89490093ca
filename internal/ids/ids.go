package ids

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// Clock supplies timestamps to the engine so tests can pin time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func SystemClock() Clock { return systemClock{} }

// FixedClock always returns the same instant.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

// Generator produces every identifier the domain needs. Injected rather than
// read from ambient state so allocation and audit stay deterministic in tests.
type Generator interface {
	EventID() string
	LineID(orderID string, index int) string
	TrackingNumber(orderID string, leg int) string
	ReleaseNumber(orderID string, sequence int) string
	CollectionCode(orderID string) string
}

// DefaultGenerator uses random UUIDs for audit events and derives all
// order-scoped identifiers from the order number, so repeated derivations for
// the same order produce the same numbers.
type DefaultGenerator struct{}

func NewGenerator() DefaultGenerator { return DefaultGenerator{} }

func (DefaultGenerator) EventID() string {
	return uuid.NewString()
}

func (DefaultGenerator) LineID(orderID string, index int) string {
	return fmt.Sprintf("ITEM-%s-%d", orderID, index+1)
}

// TrackingNumber follows the carrier format CNJ<digits><leg>.
func (DefaultGenerator) TrackingNumber(orderID string, leg int) string {
	return fmt.Sprintf("CNJ%06d%d", hashID(orderID)%1000000, leg)
}

func (DefaultGenerator) ReleaseNumber(orderID string, sequence int) string {
	return fmt.Sprintf("REL-%s-%d", orderID, sequence)
}

func (DefaultGenerator) CollectionCode(orderID string) string {
	return fmt.Sprintf("CC-%06d", hashID(orderID)%1000000)
}

func hashID(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
