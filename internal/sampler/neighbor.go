package sampler

import (
	"io"
	"math/rand/v2"

	"github.com/netfuse/netfuse/internal/netset"
	"github.com/pkg/errors"
)

// FullNeighborhood is the sentinel fan-out meaning "take every neighbor".
// It resolves to the network's maximum degree so tensor shapes stay fixed,
// with padding marked invalid.
const FullNeighborhood = -1

// PaddingIndex fills sampling slots that could not be fulfilled. 0 is also a
// valid node index: always consult the Valid mask.
const PaddingIndex = 0

// Hop is one sampled depth of a DataFlow. Entry i*FanOut+j is the j-th
// sampled neighbor of the i-th node of the previous frontier (the flow's
// targets at depth 0). Slots with Valid false are padding.
type Hop struct {
	FanOut  int
	Nodes   []int32
	Weights []float32
	Valid   []bool
}

// DataFlow is the fixed-depth sampled neighborhood of one batch in one
// network. All slices have fixed sizes given the sampler configuration, so
// the derived tensors keep a constant shape across batches.
type DataFlow struct {
	// Targets are the batch's node ids, padded to the batch size.
	// Only the first Used entries are real; TargetValid marks them.
	Targets     []int32
	TargetValid []bool
	Used        int

	// Hops has one entry per configured layer. The frontier feeding
	// Hops[0] is Targets; the frontier feeding Hops[d+1] is Hops[d].Nodes.
	Hops []*Hop
}

// NeighborSamplerWithWeights expands fixed-depth neighborhoods for one
// network, batch by batch, following the node ordering of the shared
// StatefulSampler. One instance exists per input network; all instances of a
// run share the same StatefulSampler.
//
// The sequence is lazy, finite and restartable: exhausting it is one epoch
// over the network. Shuffling is deliberately absent: ordering is controlled
// exclusively by the shared sampler.
type NeighborSamplerWithWeights struct {
	adj       *netset.CSR
	sizes     []int
	batchSize int
	shared    *StatefulSampler
	rng       *rand.Rand

	pos int
}

// NewNeighborSampler creates a sampler over adj with the given per-layer
// fan-outs. A size of FullNeighborhood resolves to the network's maximum
// degree. The shared StatefulSampler provides the node ordering.
func NewNeighborSampler(adj *netset.CSR, sizes []int, batchSize int, shared *StatefulSampler) (*NeighborSamplerWithWeights, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0, got %d", batchSize)
	}
	if len(sizes) == 0 {
		return nil, errors.New("at least one layer fan-out is required")
	}
	if shared == nil {
		return nil, errors.New("a shared StatefulSampler is required")
	}
	resolved := make([]int, len(sizes))
	for ii, size := range sizes {
		switch {
		case size == FullNeighborhood:
			// Max degree can be 0 on a degenerate network; keep at least one
			// (padded) slot so shapes stay well-formed.
			resolved[ii] = max(adj.MaxDegree(), 1)
		case size > 0:
			resolved[ii] = size
		default:
			return nil, errors.Errorf("invalid fan-out %d at layer %d", size, ii)
		}
	}
	return &NeighborSamplerWithWeights{
		adj:       adj,
		sizes:     resolved,
		batchSize: batchSize,
		shared:    shared,
		rng:       shared.generator(),
	}, nil
}

// FanOuts returns the resolved per-layer fan-outs.
func (ns *NeighborSamplerWithWeights) FanOuts() []int { return ns.sizes }

// BatchSize returns the configured batch size.
func (ns *NeighborSamplerWithWeights) BatchSize() int { return ns.batchSize }

// NumBatches in one epoch over the shared ordering.
func (ns *NeighborSamplerWithWeights) NumBatches() int {
	return (ns.adj.NumNodes() + ns.batchSize - 1) / ns.batchSize
}

// Reset restarts the sequence for a new epoch. The shared sampler is expected
// to have been re-stepped by the caller.
func (ns *NeighborSamplerWithWeights) Reset() {
	ns.pos = 0
}

// Next produces the data flow for the next batch, or io.EOF once the shared
// ordering is exhausted. It fails if the shared sampler was never stepped.
func (ns *NeighborSamplerWithWeights) Next() (*DataFlow, error) {
	order, err := ns.shared.Order()
	if err != nil {
		return nil, err
	}
	if ns.pos >= len(order) {
		return nil, io.EOF
	}
	used := min(ns.batchSize, len(order)-ns.pos)
	flow := &DataFlow{
		Targets:     make([]int32, ns.batchSize),
		TargetValid: make([]bool, ns.batchSize),
		Used:        used,
		Hops:        make([]*Hop, len(ns.sizes)),
	}
	copy(flow.Targets, order[ns.pos:ns.pos+used])
	for ii := 0; ii < used; ii++ {
		flow.TargetValid[ii] = true
	}
	ns.pos += used

	frontier, frontierValid := flow.Targets, flow.TargetValid
	for depth, fanOut := range ns.sizes {
		hop := ns.sampleHop(frontier, frontierValid, fanOut)
		flow.Hops[depth] = hop
		frontier, frontierValid = hop.Nodes, hop.Valid
	}
	return flow, nil
}

// sampleHop draws fanOut neighbors for every valid frontier node. Nodes with
// no neighbors (or padding slots) yield a well-formed empty neighborhood:
// all slots padded and invalid.
func (ns *NeighborSamplerWithWeights) sampleHop(frontier []int32, frontierValid []bool, fanOut int) *Hop {
	hop := &Hop{
		FanOut:  fanOut,
		Nodes:   make([]int32, len(frontier)*fanOut),
		Weights: make([]float32, len(frontier)*fanOut),
		Valid:   make([]bool, len(frontier)*fanOut),
	}
	var sampled []int32
	for fromIdx, fromValid := range frontierValid {
		if !fromValid {
			continue
		}
		targets, weights := ns.adj.Neighbors(frontier[fromIdx])
		if len(targets) == 0 {
			continue
		}
		baseIdx := fromIdx * fanOut
		if len(targets) <= fanOut {
			// Not enough neighbors to sample: take them all, pad the rest.
			for ii, target := range targets {
				hop.Nodes[baseIdx+ii] = target
				hop.Weights[baseIdx+ii] = weights[ii]
				hop.Valid[baseIdx+ii] = true
			}
			continue
		}
		if cap(sampled) < fanOut {
			sampled = make([]int32, fanOut)
		}
		sampled = sampled[:fanOut]
		randKOfN(ns.rng, sampled, len(targets))
		for ii, edgeIdx := range sampled {
			hop.Nodes[baseIdx+ii] = targets[edgeIdx]
			hop.Weights[baseIdx+ii] = weights[edgeIdx]
			hop.Valid[baseIdx+ii] = true
		}
	}
	return hop
}

// randKOfN stores k=len(values) random values without replacement out of
// `0..n-1` into values.
func randKOfN(rng *rand.Rand, values []int32, n int) {
	k := len(values)
	if k*k < n {
		randKOfNLinear(rng, values, n)
	} else {
		randKOfNReservoir(rng, values, n)
	}
}

// randKOfNLinear draws with rejection, O(k^2) but fast for small k.
func randKOfNLinear(rng *rand.Rand, values []int32, n int) {
	for ii := range values {
		var x int32
	takeANumber:
		for {
			x = int32(rng.IntN(n))
			for jj := range ii {
				if values[jj] == x {
					continue takeANumber
				}
			}
			break
		}
		values[ii] = x
	}
}

// randKOfNReservoir is the reservoir-sampling variant for larger k.
func randKOfNReservoir(rng *rand.Rand, values []int32, n int) {
	k := len(values)
	for ii := range k {
		values[ii] = int32(ii)
	}
	for ii := k; ii < n; ii++ {
		pos := rng.IntN(ii + 1)
		if pos < k {
			values[pos] = int32(ii)
		}
	}
}
