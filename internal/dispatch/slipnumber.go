package dispatch

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// slipMaxAttempts bounds retries after slip number collisions.
const slipMaxAttempts = 5

// SlipNumberGenerator produces human-readable packing slip identifiers of the
// form PS-YYYYMMDD-NNN. The suffix is random, not sequence-assigned, so the
// allocator treats a uniqueness violation from the store as retryable.
type SlipNumberGenerator struct {
	now  func() time.Time
	intN func(int) int
}

// NewSlipNumberGenerator builds a generator backed by the wall clock.
func NewSlipNumberGenerator() *SlipNumberGenerator {
	return &SlipNumberGenerator{now: time.Now, intN: rand.IntN}
}

// Generate returns a candidate slip number.
func (g *SlipNumberGenerator) Generate() string {
	return fmt.Sprintf("PS-%s-%03d", g.now().UTC().Format("20060102"), g.intN(1000))
}
