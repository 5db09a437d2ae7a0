package trainer

import (
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netfuse/netfuse/internal/config"
	"github.com/netfuse/netfuse/internal/netset"
	"github.com/netfuse/netfuse/internal/sampler"
)

// lossTestTrainer builds a trainer over 3 nodes and 2 networks, where the
// second network's presence mask covers no node at all.
func lossTestTrainer(t *testing.T) *Trainer {
	t.Helper()
	index, err := netset.NewNodeIndex([]string{"a", "b", "c"})
	require.NoError(t, err)
	bundle := &netset.Bundle{
		Index: index,
		Networks: []*netset.Network{
			{Name: "path", Adj: &netset.CSR{
				Starts:  []int32{0, 1, 3, 4},
				Targets: []int32{1, 0, 2, 1},
				Weights: []float32{1, 1, 1, 1},
			}},
			{Name: "empty", Adj: &netset.CSR{
				Starts:  []int32{0, 1, 3, 4},
				Targets: []int32{1, 0, 2, 1},
				Weights: []float32{1, 1, 1, 1},
			}},
		},
		Masks: []float32{
			1, 0,
			1, 0,
			1, 0,
		},
		ScaleWeights: []float32{1, 1},
		Features: &netset.FeatureSet{
			Dim:    3,
			Shared: []float32{1, 0, 0, 0, 1, 0, 0, 0, 1},
		},
	}
	cfg := config.New()
	cfg.NetNames = []string{"path.tsv", "empty.tsv"}
	cfg.BatchSize = 3
	cfg.Epochs = 1
	cfg.EmbeddingSize = 2
	cfg.Encoder.Dimension = 4
	cfg.Encoder.NumLayers = 1
	cfg.NeighborSizes = []int{2}

	tr, err := New(backends.New(), bundle, cfg)
	require.NoError(t, err)
	return tr
}

func (t *Trainer) nextFlows(active []int32) ([]*sampler.DataFlow, error) {
	flows := make([]*sampler.DataFlow, len(active))
	for ii, netIdx := range active {
		t.samplers[netIdx].Reset()
		var err error
		if flows[ii], err = t.samplers[netIdx].Next(); err != nil {
			return nil, err
		}
	}
	return flows, nil
}

// The backpropagated scalar is defined as the sum of the reported loss terms.
func TestLossGraphTotalIsSumOfParts(t *testing.T) {
	tr := lossTestTrainer(t)
	tr.shared.Step(tr.bundle.NumNodes(), false)
	active := tr.allNetworks()
	flows, err := tr.nextFlows(active)
	require.NoError(t, err)

	lossExec := context.NewExec(tr.backend, tr.model.Context(), tr.model.LossGraph)
	outputs := lossExec.Call(tr.packBatch(flows, active)...)
	require.Len(t, outputs, 1+len(active))

	total := tensors.ToScalar[float32](outputs[0])
	var sum float32
	for _, part := range outputs[1:] {
		sum += tensors.ToScalar[float32](part)
	}
	assert.InDelta(t, total, sum, 1e-5)
}

// A network covering none of the batch nodes must contribute exactly zero.
func TestLossGraphMaskedNetworkContributesZero(t *testing.T) {
	tr := lossTestTrainer(t)
	tr.shared.Step(tr.bundle.NumNodes(), false)

	losses, err := tr.trainPass(tr.allNetworks())
	require.NoError(t, err)
	require.Len(t, losses.PerNetwork, 2)
	assert.Greater(t, losses.PerNetwork[0], float32(0))
	assert.Zero(t, losses.PerNetwork[1])
}
