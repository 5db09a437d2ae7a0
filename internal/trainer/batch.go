package trainer

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/netfuse/netfuse/internal/generics"
	"github.com/netfuse/netfuse/internal/sampler"
)

// packBatch turns the aligned data flows of the active networks into the
// fixed input-tensor layout of the model's graph functions:
//
//	nodeIDs, batchMask, activeIdx, adjBatch, then per hop nodes/weights/valid,
//	hop tensors stacked over a leading active-network axis.
//
// flows[i] must be the flow of network active[i]; all flows share the same
// targets because they slice the same stored ordering. The tensor buffers
// are donated: each batch rebuilds them from scratch.
func (t *Trainer) packBatch(flows []*sampler.DataFlow, active []int32) []any {
	numActive := len(active)
	batchSize := len(flows[0].Targets)
	numHops := len(flows[0].Hops)

	nodeIDs := tensors.FromShape(shapes.Make(dtypes.Int32, batchSize))
	tensors.MutableFlatData(nodeIDs, func(flat []int32) {
		copy(flat, flows[0].Targets)
	})
	batchMask := tensors.FromShape(shapes.Make(dtypes.Bool, batchSize))
	tensors.MutableFlatData(batchMask, func(flat []bool) {
		copy(flat, flows[0].TargetValid)
	})
	activeIdx := tensors.FromShape(shapes.Make(dtypes.Int32, numActive))
	tensors.MutableFlatData(activeIdx, func(flat []int32) {
		copy(flat, active)
	})

	all := make([]*tensors.Tensor, 0, 4+3*numHops)
	all = append(all, nodeIDs, batchMask, activeIdx, t.packAdjacency(flows[0], active))

	for k := 0; k < numHops; k++ {
		width := len(flows[0].Hops[k].Nodes)
		nodes := tensors.FromShape(shapes.Make(dtypes.Int32, numActive, width))
		tensors.MutableFlatData(nodes, func(flat []int32) {
			for ii, flow := range flows {
				copy(flat[ii*width:], flow.Hops[k].Nodes)
			}
		})
		weights := tensors.FromShape(shapes.Make(dtypes.Float32, numActive, width))
		tensors.MutableFlatData(weights, func(flat []float32) {
			for ii, flow := range flows {
				copy(flat[ii*width:], flow.Hops[k].Weights)
			}
		})
		valid := tensors.FromShape(shapes.Make(dtypes.Bool, numActive, width))
		tensors.MutableFlatData(valid, func(flat []bool) {
			for ii, flow := range flows {
				copy(flat[ii*width:], flow.Hops[k].Valid)
			}
		})
		all = append(all, nodes, weights, valid)
	}
	return generics.SliceMap(all, func(tensor *tensors.Tensor) any {
		return graph.DonateTensorBuffer(tensor, t.backend)
	})
}

// packAdjacency extracts the dense [numActive, batch, batch] adjacency block
// of the batch nodes from each active network, the reconstruction target.
// Each row is filled by walking the node's neighbor list once.
func (t *Trainer) packAdjacency(flow *sampler.DataFlow, active []int32) *tensors.Tensor {
	batchSize := len(flow.Targets)
	posInBatch := make(map[int32]int, flow.Used)
	for pos := 0; pos < flow.Used; pos++ {
		posInBatch[flow.Targets[pos]] = pos
	}

	adjBatch := tensors.FromShape(shapes.Make(dtypes.Float32, len(active), batchSize, batchSize))
	tensors.MutableFlatData(adjBatch, func(flat []float32) {
		for ii, netIdx := range active {
			adj := t.bundle.Networks[netIdx].Adj
			base := ii * batchSize * batchSize
			for pos := 0; pos < flow.Used; pos++ {
				targets, weights := adj.Neighbors(flow.Targets[pos])
				for jj, target := range targets {
					if other, ok := posInBatch[target]; ok {
						flat[base+pos*batchSize+other] = weights[jj]
					}
				}
			}
		}
	})
	return adjBatch
}
