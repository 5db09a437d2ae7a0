package model

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/losses"
)

// LossGraph builds the joint loss of one batch. The returned slice is
//
//	[0]              total loss (the optimizer target)
//	[1 .. numActive] reconstruction loss of each active network
//	[numActive+1 ..] classification loss of each label set
//
// The parts already carry their mixing factors, so the total is exactly the
// sum of the others: with label sets configured, reconstruction losses are
// scaled by (1-lambda) and classification losses by lambda; without, the
// reconstruction losses are unscaled.
func (m *Model) LossGraph(ctx *context.Context, inputs []*Node) []*Node {
	g := inputs[0].Graph()
	bi := parseInputs(inputs)
	out := m.Forward(ctx, inputs)

	recon := m.reconstructionLosses(g, out, bi) // [numActive]
	cls := m.classificationLosses(g, out, bi)

	total := ReduceAllSum(recon)
	for _, c := range cls {
		total = Add(total, c)
	}

	all := make([]*Node, 0, 1+recon.Shape().Dim(0)+len(cls))
	all = append(all, total)
	for ii := range recon.Shape().Dim(0) {
		all = append(all, Squeeze(Slice(recon, AxisElem(ii)), 0))
	}
	return append(all, cls...)
}

// reconstructionLosses compares the batch reconstruction against every
// active network's adjacency: a squared error over the entries where both
// endpoints are valid batch nodes present in the network, averaged over
// those entries and scaled by the network's coverage weight.
func (m *Model) reconstructionLosses(g *Graph, out *Outputs, bi *batchInputs) *Node {
	batchMaskF := ConvertDType(bi.batchMask, bi.adjBatch.DType())
	avail := Gather(m.netMasksVar.ValueGraph(g), InsertAxes(bi.nodeIDs, -1))
	avail = Gather(Transpose(avail, 0, 1), InsertAxes(bi.activeIdx, -1)) // [numActive, batch]
	nodeMask := Mul(avail, InsertAxes(batchMaskF, 0))

	pairMask := Einsum("gb,gc->gbc", nodeMask, nodeMask)
	sqErr := Sub(InsertAxes(out.Reconstruction, 0), bi.adjBatch)
	sqErr = Mul(Mul(sqErr, sqErr), pairMask)

	perNetwork := Div(
		ReduceSum(sqErr, 1, 2),
		MaxScalar(ReduceSum(pairMask, 1, 2), 1))
	scales := Gather(m.lossScalesVar.ValueGraph(g), InsertAxes(bi.activeIdx, -1))
	perNetwork = Mul(perNetwork, scales)
	if m.Supervised() {
		perNetwork = MulScalar(perNetwork, 1-float64(m.lambda))
	}
	return perNetwork
}

// classificationLosses returns one binary cross-entropy loss per label set,
// averaged over the label-carrying nodes of the batch.
func (m *Model) classificationLosses(g *Graph, out *Outputs, bi *batchInputs) []*Node {
	if !m.Supervised() {
		return nil
	}
	batchMaskF := ConvertDType(bi.batchMask, bi.adjBatch.DType())
	all := make([]*Node, 0, len(m.labelSizes))
	for ii, logits := range out.LabelLogits {
		labels := Gather(m.labelVars[ii].ValueGraph(g), InsertAxes(bi.nodeIDs, -1))
		rowMask := Gather(m.labelMaskVars[ii].ValueGraph(g), InsertAxes(bi.nodeIDs, -1))
		rowMask = Mul(rowMask, batchMaskF) // [batch]

		perElem := losses.BinaryCrossentropyLogits([]*Node{labels}, []*Node{logits})
		perElem = Mul(perElem, InsertAxes(rowMask, -1))

		numLabeled := MulScalar(ReduceAllSum(rowMask), float64(m.labelSizes[ii]))
		loss := Div(ReduceAllSum(perElem), MaxScalar(numLabeled, 1))
		all = append(all, MulScalar(loss, float64(m.lambda)))
	}
	return all
}
