// Package simctx bundles the clock, seeded RNG sub-streams, and config
// that the drift engine, generator, and orchestrator constructors take
// explicitly, rather than reaching for package-level
// time.Now()/math/rand globals. This mirrors
// spec.md's Design Note "Global singletons → explicit context" and
// generalizes the teacher's adapters.SimQuotesAdapter pattern of owning
// a single seeded *rand.Rand field per component.
package simctx

import (
	"math/rand"
	"time"

	"github.com/Rajchodisetti/paymentops-agent/internal/config"
)

// Clock is the time source components read through, so tests can
// substitute a controlled clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Context is the explicit dependency bundle passed to the drift,
// generator, and orchestrator constructors.
type Context struct {
	Clock  Clock
	Config config.Root
	root   *rand.Rand
	seed   int64
}

// New builds a Context from a loaded config and a seed. When seed is 0
// a time-derived seed is chosen (non-reproducible runs), matching the
// teacher's SimQuotesAdapter default of rand.NewSource(time.Now().UnixNano()).
func New(cfg config.Root, seed int64, clock Clock) *Context {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Context{
		Clock:  clock,
		Config: cfg,
		root:   rand.New(rand.NewSource(seed)),
		seed:   seed,
	}
}

// Seed returns the root seed this Context was constructed with, so the
// orchestrator can persist it in the state snapshot (spec.md §6).
func (c *Context) Seed() int64 { return c.seed }

// SubStream derives an independent, reproducible *rand.Rand for a named
// subsystem (e.g. "drift", "generator", "jitter") so that parallel
// threads never interleave draws from one shared sequence (spec.md §9
// "Stochastic reproducibility"). Deriving by hashing the seed with the
// stream name keeps sub-streams stable across process restarts given
// the same root seed.
func (c *Context) SubStream(name string) *rand.Rand {
	h := fnv1a(name) ^ uint64(c.seed)
	return rand.New(rand.NewSource(int64(h)))
}

func fnv1a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
