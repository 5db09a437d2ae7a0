// Package netset holds the preprocessed, immutable inputs of a run: the
// shared node index, one weighted adjacency per input network, the node
// presence masks, the per-network loss scale weights, the node features and
// the optional supervised label sets.
//
// Everything in a Bundle is read-only once training begins.
package netset

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// NodeIndex is the ordered universe of node identifiers shared by all
// networks. The order is canonical: embeddings and output tables are emitted
// in this order.
type NodeIndex struct {
	Names     []string
	positions map[string]int32
}

// NewNodeIndex builds an index from an ordered list of unique names.
func NewNodeIndex(names []string) (*NodeIndex, error) {
	idx := &NodeIndex{
		Names:     names,
		positions: make(map[string]int32, len(names)),
	}
	for pos, name := range names {
		if _, found := idx.positions[name]; found {
			return nil, errors.Errorf("duplicate node %q in index", name)
		}
		idx.positions[name] = int32(pos)
	}
	return idx, nil
}

// Len returns the number of nodes in the universe.
func (idx *NodeIndex) Len() int { return len(idx.Names) }

// Position returns the canonical position of the named node.
func (idx *NodeIndex) Position(name string) (int32, bool) {
	pos, found := idx.positions[name]
	return pos, found
}

// CSR is a sparse weighted adjacency in compressed sparse row form, indexed by
// the shared NodeIndex positions.
//
// For node i, its neighbors are Targets[Starts[i]:Starts[i+1]] with weights
// Weights[Starts[i]:Starts[i+1]]. len(Starts) == numNodes+1.
type CSR struct {
	Starts  []int32
	Targets []int32
	Weights []float32
}

// NumNodes covered by the adjacency (the full universe, including nodes with
// no edges in this network).
func (adj *CSR) NumNodes() int { return len(adj.Starts) - 1 }

// NumEdges stored (directed; symmetric inputs store each edge twice).
func (adj *CSR) NumEdges() int { return len(adj.Targets) }

// Neighbors returns the targets and weights of the edges leaving node.
// The returned slices alias internal storage and must not be modified.
func (adj *CSR) Neighbors(node int32) (targets []int32, weights []float32) {
	start, end := adj.Starts[node], adj.Starts[node+1]
	return adj.Targets[start:end], adj.Weights[start:end]
}

// Degree of the given node.
func (adj *CSR) Degree(node int32) int {
	return int(adj.Starts[node+1] - adj.Starts[node])
}

// MaxDegree over all nodes. Used as the fan-out of full-neighborhood sampling.
func (adj *CSR) MaxDegree() int {
	maxDeg := 0
	for node := 0; node < adj.NumNodes(); node++ {
		maxDeg = max(maxDeg, adj.Degree(int32(node)))
	}
	return maxDeg
}

// Weight returns the weight of the edge from source to target, 0 if absent.
func (adj *CSR) Weight(source, target int32) float32 {
	targets, weights := adj.Neighbors(source)
	for ii, tgt := range targets {
		if tgt == target {
			return weights[ii]
		}
	}
	return 0
}

// Network is one input graph: a name (derived from its file) and its
// adjacency over the shared node index.
type Network struct {
	Name string
	Adj  *CSR
}

// LabelSet is one supervised objective: a dense multi-label target matrix over
// the node universe, plus a row mask marking which nodes carry labels.
type LabelSet struct {
	Name       string
	ClassNames []string

	// Targets is row-major [numNodes x len(ClassNames)].
	Targets []float32

	// Mask is 1 for nodes present in the label table, 0 otherwise.
	Mask []float32
}

// NumClasses in this label set.
func (ls *LabelSet) NumClasses() int { return len(ls.ClassNames) }

// FeatureSet is either one shared feature matrix or one matrix per network
// (the per-network form is selected by SVD reduction).
type FeatureSet struct {
	// Dim is the feature dimension (number of columns).
	Dim int

	// Shared is the single [numNodes x Dim] matrix when PerNetwork is nil.
	Shared []float32

	// PerNetwork, when non-nil, holds one [numNodes x Dim] matrix per
	// network, aligned with Bundle.Networks.
	PerNetwork [][]float32
}

// IsPerNetwork reports whether features differ per network.
func (fs *FeatureSet) IsPerNetwork() bool { return fs.PerNetwork != nil }

// For returns the feature matrix used for the given network index.
func (fs *FeatureSet) For(netIdx int) []float32 {
	if fs.PerNetwork != nil {
		return fs.PerNetwork[netIdx]
	}
	return fs.Shared
}

// Bundle is the full preprocessed input of a run.
type Bundle struct {
	Index    *NodeIndex
	Networks []*Network

	// Masks is row-major [numNodes x len(Networks)], 1 where the node is
	// present in the network.
	Masks []float32

	// ScaleWeights is one reconstruction-loss scale per network, upweighting
	// networks that cover few nodes.
	ScaleWeights []float32

	Features *FeatureSet
	Labels   []*LabelSet
}

// NumNodes in the shared universe.
func (b *Bundle) NumNodes() int { return b.Index.Len() }

// NumNetworks integrated.
func (b *Bundle) NumNetworks() int { return len(b.Networks) }

// Present reports whether node is present in the given network.
func (b *Bundle) Present(node int32, netIdx int) bool {
	return b.Masks[int(node)*len(b.Networks)+netIdx] != 0
}

// MaskColumn returns a copy of the mask column for one network.
func (b *Bundle) MaskColumn(netIdx int) []float32 {
	column := make([]float32, b.NumNodes())
	for node := range column {
		column[node] = b.Masks[node*len(b.Networks)+netIdx]
	}
	return column
}

// scaleWeights computes the per-network loss scales: numNodes/numPresent, so
// networks covering few nodes are not drowned out in the joint objective.
func scaleWeights(masks []float32, numNodes, numNetworks int) []float32 {
	weights := make([]float32, numNetworks)
	for netIdx := range weights {
		present := 0
		for node := 0; node < numNodes; node++ {
			if masks[node*numNetworks+netIdx] != 0 {
				present++
			}
		}
		if present == 0 {
			weights[netIdx] = 0
			continue
		}
		weights[netIdx] = float32(numNodes) / math32.Max(1, float32(present))
	}
	return weights
}
