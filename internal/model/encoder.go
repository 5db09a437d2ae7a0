package model

import (
	"fmt"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// attentionEpsilon floors the normalizing sums of the attention and fusion
// weights, so nodes with no valid neighbors (or no covering network in the
// batch) yield zeros instead of NaNs.
const attentionEpsilon = 1e-10

// Outputs groups the graph nodes produced by one forward pass.
type Outputs struct {
	// Embedding is the integrated embedding of the batch, [batch, embDim].
	Embedding *Node

	// PerNetwork are the encoder outputs before fusion,
	// [numActive, batch, hiddenDim].
	PerNetwork *Node

	// Reconstruction is the dot-product decoding of the batch embedding,
	// [batch, batch], compared against every active network's adjacency.
	Reconstruction *Node

	// FusionWeights are the softmax-normalized network scales of the active
	// networks, [numActive].
	FusionWeights *Node

	// LabelLogits holds one [batch, numClasses] node per label set, nil when
	// the model is unsupervised.
	LabelLogits []*Node
}

// batchInputs is the parsed view of the fixed input layout:
//
//	inputs[0]  nodeIDs   int32 [batch]
//	inputs[1]  batchMask bool  [batch]
//	inputs[2]  activeIdx int32 [numActive]
//	inputs[3]  adjBatch  f32   [numActive, batch, batch]
//	inputs[4+3k .. 6+3k]  hop k: nodes int32, weights f32, valid bool,
//	                      each [numActive, batch*prod(fanOuts[:k+1])]
type batchInputs struct {
	nodeIDs, batchMask, activeIdx, adjBatch *Node

	hopNodes, hopWeights []*Node
	hopValid             []*Node
}

func parseInputs(inputs []*Node) *batchInputs {
	bi := &batchInputs{
		nodeIDs:   inputs[0],
		batchMask: inputs[1],
		activeIdx: inputs[2],
		adjBatch:  inputs[3],
	}
	for ii := 4; ii < len(inputs); ii += 3 {
		bi.hopNodes = append(bi.hopNodes, inputs[ii])
		bi.hopWeights = append(bi.hopWeights, inputs[ii+1])
		bi.hopValid = append(bi.hopValid, inputs[ii+2])
	}
	return bi
}

// NumInputs returns the input arity of the forward graph for the given
// number of sampled hops.
func NumInputs(numHops int) int { return 4 + 3*numHops }

// Forward builds the full forward pass: per-network encoding of the sampled
// neighborhoods, scale fusion, embedding projection, adjacency reconstruction
// and label heads.
func (m *Model) Forward(ctx *context.Context, inputs []*Node) *Outputs {
	g := inputs[0].Graph()
	bi := parseInputs(inputs)
	numActive := bi.activeIdx.Shape().Dim(0)
	batchSize := bi.nodeIDs.Shape().Dim(0)
	numHops := len(bi.hopNodes)

	// Node ids and validity per sampling level: level 0 is the batch itself,
	// level k+1 holds the sampled neighbors of level k.
	levelIDs := make([]*Node, numHops+1)
	levelValid := make([]*Node, numHops+1)
	levelIDs[0] = BroadcastToDims(InsertAxes(bi.nodeIDs, 0), numActive, batchSize)
	levelValid[0] = BroadcastToDims(InsertAxes(bi.batchMask, 0), numActive, batchSize)
	for k := 0; k < numHops; k++ {
		levelIDs[k+1] = bi.hopNodes[k]
		levelValid[k+1] = bi.hopValid[k]
	}

	// Raw features for every level.
	reps := make([]*Node, numHops+1)
	for level := range reps {
		reps[level] = m.gatherFeatures(levelIDs[level], bi.activeIdx)
	}

	// Each encoder layer collapses the deepest remaining level: after
	// numHops layers only the batch level is left.
	encCtx := ctx.In(EncoderScope)
	for layer := 0; layer < m.numLayers; layer++ {
		layerCtx := encCtx.In(fmt.Sprintf("layer-%d", layer))
		next := make([]*Node, len(reps)-1)
		for level := 0; level < len(next); level++ {
			fanOut := bi.hopNodes[level].Shape().Dim(1) / reps[level].Shape().Dim(1)
			next[level] = m.attendNeighbors(layerCtx, g, layer,
				reps[level], reps[level+1], levelValid[level],
				bi.hopWeights[level], fanOut, bi.activeIdx)
		}
		reps = next
	}
	perNetwork := reps[0] // [numActive, batch, hiddenDim]

	fusionWeights, fused := m.fuse(ctx, g, perNetwork, bi)
	emb := layers.DenseWithBias(
		m.initializedIn(ctx.In(FusionScope), "embedding", m.hiddenDim), fused, m.embDim)
	embMasked := Where(InsertAxes(bi.batchMask, -1), emb, ZerosLike(emb))

	out := &Outputs{
		Embedding:      embMasked,
		PerNetwork:     perNetwork,
		Reconstruction: MatMul(embMasked, Transpose(embMasked, 0, 1)),
		FusionWeights:  fusionWeights,
	}
	for ii, numClasses := range m.labelSizes {
		headCtx := m.initializedIn(ctx.In(HeadScope), m.labelNames[ii], m.embDim)
		out.LabelLogits = append(out.LabelLogits, layers.DenseWithBias(headCtx, embMasked, numClasses))
	}
	return out
}

// gatherFeatures fetches the raw feature rows of `ids` ([numActive, m]) from
// the frozen feature variable, returning [numActive, m, featDim].
func (m *Model) gatherFeatures(ids, activeIdx *Node) *Node {
	g := ids.Graph()
	features := m.featuresVar.ValueGraph(g)
	if m.perNetworkFeats {
		// [numNetworks, numNodes, featDim]: select the active networks, then
		// the rows of each, keeping the leading axis aligned.
		active := Gather(features, InsertAxes(activeIdx, -1))
		return GatherWithBatchDims(active, InsertAxes(ids, -1), 1)
	}
	return Gather(features, InsertAxes(ids, -1))
}

// networkWeights returns the weight tensor of one encoder parameter for the
// active networks. When the encoder is shared a single tensor is broadcast
// over the active axis, otherwise per-network stacked weights are selected by
// activeIdx. Either way the result has a leading numActive axis, so the rest
// of the layer is agnostic to the sharing mode.
func (m *Model) networkWeights(ctx *context.Context, g *Graph, name string, fanIn int, activeIdx *Node, dims ...int) *Node {
	wCtx := m.initializedIn(ctx, name, fanIn)
	if m.sharedEnc {
		w := wCtx.VariableWithShape("weights",
			shapes.Make(dtypes.Float32, dims...)).ValueGraph(g)
		numActive := activeIdx.Shape().Dim(0)
		return BroadcastToDims(InsertAxes(w, 0), append([]int{numActive}, dims...)...)
	}
	stacked := wCtx.VariableWithShape("weights",
		shapes.Make(dtypes.Float32, append([]int{m.numNetworks}, dims...)...)).ValueGraph(g)
	return Gather(stacked, InsertAxes(activeIdx, -1))
}

// attendNeighbors is one graph-attention step over a sampled bipartite block:
// self [numActive, m, in] attends over its fanOut sampled neighbors
// [numActive, m*fanOut, in] and returns [numActive, m, hiddenDim].
//
// Attention logits follow the usual additive form; coefficients are then
// multiplied by the edge weights and renormalized, so padded slots (weight 0)
// and isolated nodes degrade to zero contribution instead of NaN.
func (m *Model) attendNeighbors(ctx *context.Context, g *Graph, layer int,
	self, nbr, selfValid, edgeWeights *Node, fanOut int, activeIdx *Node) *Node {
	inDim, outDim := m.layerDims(layer)
	numActive := self.Shape().Dim(0)
	numSelf := self.Shape().Dim(1)

	w := m.networkWeights(ctx, g, "proj", inDim, activeIdx, inDim, outDim)
	attnSelf := m.networkWeights(ctx, g, "attn-self", outDim, activeIdx, outDim)
	attnNbr := m.networkWeights(ctx, g, "attn-nbr", outDim, activeIdx, outDim)

	selfProj := Einsum("gmi,gio->gmo", self, w)
	nbrProj := Einsum("gni,gio->gno", nbr, w)

	selfScore := Einsum("gmo,go->gm", selfProj, attnSelf)
	nbrScore := Reshape(Einsum("gno,go->gn", nbrProj, attnNbr), numActive, numSelf, fanOut)
	logits := activations.LeakyRelu(Add(InsertAxes(selfScore, -1), nbrScore))

	// Softmax ratios between valid slots are unaffected by the padded ones:
	// the edge-weight product zeroes padding before renormalization.
	alpha := Softmax(logits, -1)
	alpha = Mul(alpha, Reshape(edgeWeights, numActive, numSelf, fanOut))
	norm := MaxScalar(ReduceSum(alpha, -1), attentionEpsilon)
	alpha = Div(alpha, InsertAxes(norm, -1))

	aggregated := Einsum("gmf,gmfo->gmo", alpha,
		Reshape(nbrProj, numActive, numSelf, fanOut, outDim))
	out := activations.LeakyRelu(Add(selfProj, aggregated))
	return Where(InsertAxes(selfValid, -1), out, ZerosLike(out))
}

// fuse combines the per-network encodings into one integrated representation
// per batch node. Learned network scales are softmax-normalized over the
// active networks and gated per node by the presence masks, so networks that
// do not cover a node contribute nothing to it.
func (m *Model) fuse(ctx *context.Context, g *Graph, perNetwork *Node, bi *batchInputs) (fusionWeights, fused *Node) {
	scalesVar := ctx.In(FusionScope).WithInitializer(initializers.One).
		VariableWithShape("net_scales", shapes.Make(dtypes.Float32, m.numNetworks))
	scales := Gather(scalesVar.ValueGraph(g), InsertAxes(bi.activeIdx, -1))
	fusionWeights = Softmax(scales)

	netMasks := m.netMasksVar.ValueGraph(g)
	avail := Gather(netMasks, InsertAxes(bi.nodeIDs, -1))                // [batch, numNetworks]
	avail = Gather(Transpose(avail, 0, 1), InsertAxes(bi.activeIdx, -1)) // [numActive, batch]

	perNode := Mul(InsertAxes(fusionWeights, -1), avail)
	norm := MaxScalar(InsertAxes(ReduceSum(perNode, 0), 0), attentionEpsilon)
	perNode = Div(perNode, norm)
	fused = Einsum("gb,gbo->bo", perNode, perNetwork)
	return fusionWeights, fused
}
