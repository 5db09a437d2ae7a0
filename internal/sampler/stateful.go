// Package sampler implements the batch machinery of training: a single
// shared node ordering per epoch (StatefulSampler) and a per-network
// neighborhood expander (NeighborSamplerWithWeights) driven by it.
//
// The shared ordering is the cross-network alignment point: every
// per-network sampler slices the same stored permutation, so batch k holds
// the same node ids in the same order for every network. Each per-network
// sampler drawing its own permutation would silently misalign node
// identities and corrupt every loss downstream.
package sampler

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// StatefulSampler holds the canonical node ordering for one unit of work: an
// epoch during training, or a whole inference pass. It is constructed once
// and injected by reference into every per-network sampler.
//
// It must be stepped before the ordering is consumed; consuming an un-stepped
// sampler is a programming error and fails loudly.
type StatefulSampler struct {
	rng   *rand.Rand
	order []int32
}

// New creates an un-stepped StatefulSampler with a randomly seeded generator.
func New() *StatefulSampler {
	return NewWithSeed(rand.Uint64())
}

// NewWithSeed creates an un-stepped StatefulSampler with a deterministic
// generator, for reproducible runs and tests.
func NewWithSeed(seed uint64) *StatefulSampler {
	return &StatefulSampler{
		rng: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}
}

// Step draws and stores a new ordering over [0, numNodes): a uniform random
// permutation if random is true, the identity ordering otherwise (used for
// inference, where output rows must follow the canonical node order).
// It returns the full stored ordering; consumers slice it into batches.
func (s *StatefulSampler) Step(numNodes int, random bool) []int32 {
	order := make([]int32, numNodes)
	for ii := range order {
		order[ii] = int32(ii)
	}
	if random {
		s.rng.Shuffle(numNodes, func(a, b int) {
			order[a], order[b] = order[b], order[a]
		})
	}
	s.order = order
	return order
}

// Order returns the stored ordering, or an error if Step was never called.
func (s *StatefulSampler) Order() ([]int32, error) {
	if s.order == nil {
		return nil, errors.New("StatefulSampler consulted before Step: the shared node ordering was never drawn")
	}
	return s.order, nil
}

// generator exposes the sampler's random stream so per-network samplers draw
// their neighbor choices from the same seed.
func (s *StatefulSampler) generator() *rand.Rand { return s.rng }
