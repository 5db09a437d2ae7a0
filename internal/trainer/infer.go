package trainer

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/netfuse/netfuse/internal/sampler"
)

// InferenceResult holds the final outputs of a run, in canonical node order.
type InferenceResult struct {
	NumNodes      int
	EmbeddingSize int

	// Embeddings is row-major [NumNodes x EmbeddingSize].
	Embeddings []float32

	// FusionWeights is the softmax-normalized scale of every network.
	FusionWeights []float32

	// LabelPredictions holds, per label set, the sigmoid class probabilities
	// row-major [NumNodes x numClasses].
	LabelPredictions [][]float32
}

// Infer produces the integrated embedding of every node, visiting the nodes
// sequentially in canonical order, one node per step, with every neighbor of
// every node included (no sampling).
//
// For unsupervised runs the model is first rolled back to the best epoch's
// state; supervised runs keep the final state, since the classification head
// benefits from the full schedule.
func (t *Trainer) Infer() (*InferenceResult, error) {
	var result *InferenceResult
	err := exceptions.TryCatch[error](func() {
		var err error
		if result, err = t.infer(); err != nil {
			panic(err)
		}
	})
	return result, err
}

func (t *Trainer) infer() (*InferenceResult, error) {
	if !t.model.Supervised() || !t.RestoreBestOnlyIfUnsupervised {
		t.restoreBest()
	}
	numNodes := t.bundle.NumNodes()
	numNetworks := t.bundle.NumNetworks()

	// One slot per possible neighbor at every hop: with the maximum degree
	// as fan-out no neighbor is ever dropped, and batches of one node keep
	// the expansion manageable.
	fanOut := 1
	for _, net := range t.bundle.Networks {
		fanOut = max(fanOut, net.Adj.MaxDegree())
	}
	sizes := make([]int, t.cfg.Encoder.NumLayers)
	for ii := range sizes {
		sizes[ii] = fanOut
	}
	inferSamplers := make([]*sampler.NeighborSamplerWithWeights, numNetworks)
	for ii, net := range t.bundle.Networks {
		var err error
		if inferSamplers[ii], err = sampler.NewNeighborSampler(net.Adj, sizes, 1, t.shared); err != nil {
			return nil, err
		}
	}
	t.shared.Step(numNodes, false)

	inferExec := context.NewExec(t.backend, t.model.Context(),
		func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			out := t.model.Forward(ctx, inputs)
			all := []*graph.Node{out.Embedding, out.FusionWeights}
			for _, logits := range out.LabelLogits {
				all = append(all, graph.Sigmoid(logits))
			}
			return all
		})

	embDim := t.model.EmbeddingSize()
	result := &InferenceResult{
		NumNodes:      numNodes,
		EmbeddingSize: embDim,
		Embeddings:    make([]float32, numNodes*embDim),
	}
	for _, ls := range t.bundle.Labels {
		result.LabelPredictions = append(result.LabelPredictions,
			make([]float32, numNodes*ls.NumClasses()))
	}

	klog.V(1).Infof("Inference: %d nodes, neighborhood fan-out %d", numNodes, fanOut)
	bar := progressbar.Default(int64(numNodes), "embedding")
	active := t.allNetworks()
	flows := make([]*sampler.DataFlow, numNetworks)
	for row := 0; row < numNodes; row++ {
		for ii, s := range inferSamplers {
			var err error
			if flows[ii], err = s.Next(); err != nil {
				return nil, err
			}
		}
		outputs := inferExec.Call(t.packBatch(flows, active)...)
		tensors.ConstFlatData(outputs[0], func(flat []float32) {
			copy(result.Embeddings[row*embDim:], flat)
		})
		if row == 0 {
			result.FusionWeights = tensors.CopyFlatData[float32](outputs[1])
		}
		for ll, ls := range t.bundle.Labels {
			numClasses := ls.NumClasses()
			tensors.ConstFlatData(outputs[2+ll], func(flat []float32) {
				copy(result.LabelPredictions[ll][row*numClasses:], flat)
			})
		}
		for _, out := range outputs {
			out.FinalizeAll()
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return result, nil
}
