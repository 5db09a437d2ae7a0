// Package model implements the multi-network embedding model: a per-network
// attention encoder over sampled neighborhoods, learned network scales fusing
// per-network embeddings into one integrated embedding, a dot-product decoder
// reconstructing each network's adjacency, and optional label heads.
//
// All graph functions take a fixed number of inputs with fixed shapes given
// the sampler configuration, so the compiled computation is reused across
// batches and across network subsets. Per-network encoder weights are stacked
// on a leading network axis and selected in-graph by the active-network
// indices, which keeps the compiled program independent of which subset of
// networks a batch covers.
package model

import (
	"fmt"
	"math"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/netfuse/netfuse/internal/config"
	"github.com/netfuse/netfuse/internal/netset"
)

// Scope names for the model's variables inside its context.
const (
	FrozenScope  = "frozen"
	EncoderScope = "encoder"
	FusionScope  = "fusion"
	HeadScope    = "heads"
)

// Model holds the context with all variables (trainable and frozen) and the
// static dimensions of the problem.
type Model struct {
	ctx *context.Context

	numNodes    int
	numNetworks int

	featDim         int
	perNetworkFeats bool

	hiddenDim  int
	numLayers  int
	embDim     int
	sharedEnc  bool
	initScheme string

	lambda     float32
	labelNames []string
	labelSizes []int

	// Frozen variables holding the bundle's constant data.
	featuresVar   *context.Variable
	netMasksVar   *context.Variable
	lossScalesVar *context.Variable
	labelVars     []*context.Variable
	labelMaskVars []*context.Variable
}

// New builds a model for the given network bundle, creating the context,
// setting hyperparameters and uploading the bundle's constant data (features,
// presence masks, loss scales and labels) as frozen variables.
func New(bundle *netset.Bundle, cfg *config.Config) (*Model, error) {
	if bundle.NumNetworks() == 0 {
		return nil, errors.New("model requires at least one network")
	}
	m := &Model{
		ctx:             context.New(),
		numNodes:        bundle.NumNodes(),
		numNetworks:     bundle.NumNetworks(),
		featDim:         bundle.Features.Dim,
		perNetworkFeats: bundle.Features.IsPerNetwork(),
		hiddenDim:       cfg.Encoder.Dimension,
		numLayers:       cfg.Encoder.NumLayers,
		embDim:          cfg.EmbeddingSize,
		sharedEnc:       cfg.SharedEncoder,
		initScheme:      cfg.Initialization,
		lambda:          float32(cfg.Lambda),
	}
	for _, ls := range bundle.Labels {
		m.labelNames = append(m.labelNames, ls.Name)
		m.labelSizes = append(m.labelSizes, ls.NumClasses())
	}

	m.ctx.RngStateReset()
	m.ctx.SetParams(map[string]any{
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: cfg.LearningRate,
	})
	m.ctx = m.ctx.Checked(false)

	m.freezeBundle(bundle)
	return m, nil
}

// Context returns the model's context, holding all variables.
func (m *Model) Context() *context.Context { return m.ctx }

// NumNetworks of the bundle the model was built for.
func (m *Model) NumNetworks() int { return m.numNetworks }

// NumLabelSets configured on the model.
func (m *Model) NumLabelSets() int { return len(m.labelSizes) }

// Supervised reports whether the model carries label heads.
func (m *Model) Supervised() bool { return len(m.labelSizes) > 0 }

// EmbeddingSize of the integrated embedding.
func (m *Model) EmbeddingSize() int { return m.embDim }

// freezeBundle uploads the bundle's constant data as non-trainable variables,
// so batches only carry indices and the large matrices cross to the
// accelerator exactly once.
func (m *Model) freezeBundle(bundle *netset.Bundle) {
	ctx := m.ctx.In(FrozenScope)

	if m.perNetworkFeats {
		t := tensors.FromShape(shapes.Make(dtypes.Float32, m.numNetworks, m.numNodes, m.featDim))
		tensors.MutableFlatData(t, func(flat []float32) {
			stride := m.numNodes * m.featDim
			for netIdx, mat := range bundle.Features.PerNetwork {
				copy(flat[netIdx*stride:], mat)
			}
		})
		v := ctx.VariableWithValue("features", t)
		v.Trainable = false
		m.featuresVar = v
	} else {
		m.featuresVar = m.frozen(ctx, "features", bundle.Features.Shared, m.numNodes, m.featDim)
	}
	m.netMasksVar = m.frozen(ctx, "net_masks", bundle.Masks, m.numNodes, m.numNetworks)
	m.lossScalesVar = m.frozen(ctx, "loss_scales", bundle.ScaleWeights, m.numNetworks)
	for ii, ls := range bundle.Labels {
		m.labelVars = append(m.labelVars,
			m.frozen(ctx, fmt.Sprintf("labels_%d", ii), ls.Targets, m.numNodes, ls.NumClasses()))
		m.labelMaskVars = append(m.labelMaskVars,
			m.frozen(ctx, fmt.Sprintf("labels_mask_%d", ii), ls.Mask, m.numNodes))
	}
}

func (m *Model) frozen(ctx *context.Context, name string, data []float32, dims ...int) *context.Variable {
	t := tensors.FromShape(shapes.Make(dtypes.Float32, dims...))
	tensors.MutableFlatData(t, func(flat []float32) {
		copy(flat, data)
	})
	v := ctx.VariableWithValue(name, t)
	v.Trainable = false
	return v
}

// initializedIn returns a child scope with the configured weight initializer.
// Kaiming scales a normal distribution by the layer's fan-in; xavier uses
// glorot-uniform, which derives its scale from the variable shape.
func (m *Model) initializedIn(ctx *context.Context, scope string, fanIn int) *context.Context {
	ctx = ctx.In(scope)
	if m.initScheme == config.InitXavier {
		return ctx.WithInitializer(initializers.GlorotUniformFn(ctx))
	}
	return ctx.WithInitializer(initializers.RandomNormalFn(ctx, math.Sqrt(2.0/float64(fanIn))))
}

// layerDims returns the input and output feature dimensions of encoder layer
// `layer` (0 is the deepest layer, consuming raw node features).
func (m *Model) layerDims(layer int) (in, out int) {
	in = m.hiddenDim
	if layer == 0 {
		in = m.featDim
	}
	return in, m.hiddenDim
}
