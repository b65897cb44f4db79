package assignment

import (
	"math/rand"
	"sync"

	"github.com/exphub/experiment-hub/internal/domain/experiment"
)

// RNG supplies uniform random values for the weighted draw. Injectable so
// bucketing tests are reproducible; production uses a seeded math/rand
// source (cryptographic strength is not required for traffic splitting).
type RNG interface {
	// Float64 returns a uniform value in [0, 1).
	Float64() float64
}

// LockedRNG wraps a math/rand source behind a mutex so a single generator
// can serve concurrent resolutions.
type LockedRNG struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewLockedRNG creates a concurrency-safe RNG from the given seed.
func NewLockedRNG(seed int64) *LockedRNG {
	return &LockedRNG{rnd: rand.New(rand.NewSource(seed))}
}

// Float64 implements RNG.
func (r *LockedRNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// Bucketer performs the weighted random draw over a definition's variants.
type Bucketer struct {
	rng RNG
}

// NewBucketer creates a Bucketer using the given RNG.
func NewBucketer(rng RNG) *Bucketer {
	return &Bucketer{rng: rng}
}

// Draw selects a variant: it builds a cumulative-weight table over the
// variants in declared order, draws r uniform in [0, totalWeight), and picks
// the first variant whose cumulative weight exceeds r. The definition is
// assumed validated (at least one variant, positive weights).
func (b *Bucketer) Draw(def *experiment.Definition) string {
	total := def.TotalWeight()
	r := b.rng.Float64() * total

	cumulative := 0.0
	for _, v := range def.Variants {
		cumulative += v.Weight
		if r < cumulative {
			return v.Name
		}
	}

	// Unreachable for a validated definition; guards float rounding at the
	// top of the table.
	return def.Variants[len(def.Variants)-1].Name
}
