// Package trainer orchestrates training and inference of the multi-network
// embedding model: the epoch loop with its shared per-epoch node ordering,
// optional network sub-sampling, best-state tracking, and the final
// sequential inference pass producing the node embeddings.
package trainer

import (
	"io"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/netfuse/netfuse/internal/config"
	"github.com/netfuse/netfuse/internal/model"
	"github.com/netfuse/netfuse/internal/netset"
	"github.com/netfuse/netfuse/internal/sampler"
)

// checkpointsToKeep older checkpoint copies in the model directory.
const checkpointsToKeep = 3

// Trainer drives the joint training of all networks and label sets.
type Trainer struct {
	// RestoreBestOnlyIfUnsupervised limits the pre-inference rollback to the
	// best epoch's weights to unsupervised runs: classification heads benefit
	// from the full training schedule. Set false to always roll back.
	RestoreBestOnlyIfUnsupervised bool

	cfg    *config.Config
	bundle *netset.Bundle
	model  *model.Model

	backend backends.Backend

	shared    *sampler.StatefulSampler
	samplers  []*sampler.NeighborSamplerWithWeights
	batchSize int

	optimizer     optimizers.Interface
	trainStepExec *context.Exec

	checkpoint *checkpoints.Handler

	best    *snapshot
	history []*Losses
}

// New creates the model for the bundle and wires up the samplers and the
// compiled training step. With load_pretrained_model set, the model weights
// are restored from the configured model directory before anything else.
func New(backend backends.Backend, bundle *netset.Bundle, cfg *config.Config) (*Trainer, error) {
	m, err := model.New(bundle, cfg)
	if err != nil {
		return nil, err
	}
	t := &Trainer{
		RestoreBestOnlyIfUnsupervised: true,

		cfg:       cfg,
		bundle:    bundle,
		model:     m,
		backend:   backend,
		shared:    sampler.New(),
		batchSize: min(cfg.BatchSize, bundle.NumNodes()),
	}
	for _, net := range bundle.Networks {
		s, err := sampler.NewNeighborSampler(net.Adj, cfg.FanOuts(), t.batchSize, t.shared)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to build sampler for network %q", net.Name)
		}
		t.samplers = append(t.samplers, s)
	}

	// The checkpoint handler loads an existing checkpoint on creation, so a
	// populated model directory resumes from its last saved state.
	if cfg.ModelDir != "" && (cfg.SaveModel || cfg.LoadPretrained) {
		t.checkpoint, err = checkpoints.Build(m.Context()).
			Dir(cfg.ModelDir).Keep(checkpointsToKeep).Done()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to attach model directory %q", cfg.ModelDir)
		}
		if cfg.LoadPretrained {
			klog.V(1).Infof("Loaded pretrained model from %q", cfg.ModelDir)
		}
	}

	t.optimizer = optimizers.FromContext(m.Context())
	t.trainStepExec = context.NewExec(backend, m.Context(),
		func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			g := inputs[0].Graph()
			ctx.SetTraining(g, true)
			all := t.model.LossGraph(ctx, inputs)
			t.optimizer.UpdateGraph(ctx, g, all[0])
			train.ExecPerStepUpdateGraphFn(ctx, g)
			return all
		})
	return t, nil
}

// Model gives access to the underlying model and its context.
func (t *Trainer) Model() *model.Model { return t.model }

// History returns the per-epoch loss records accumulated by Train.
func (t *Trainer) History() []*Losses { return t.history }

// BestEpoch returns the epoch with the lowest total loss so far and whether
// any epoch completed yet.
func (t *Trainer) BestEpoch() (epoch int, loss float32, ok bool) {
	if t.best == nil {
		return 0, 0, false
	}
	return t.best.epoch, t.best.loss, true
}

// Save writes the current model weights to the configured model directory.
func (t *Trainer) Save() error {
	if t.cfg.ModelDir == "" {
		return errors.New("cannot save model: no model_dir configured")
	}
	if t.checkpoint == nil {
		var err error
		t.checkpoint, err = checkpoints.Build(t.model.Context()).
			Dir(t.cfg.ModelDir).Keep(checkpointsToKeep).Done()
		if err != nil {
			return errors.WithMessagef(err, "failed to create checkpoint in %q", t.cfg.ModelDir)
		}
	}
	if err := t.checkpoint.Save(); err != nil {
		return errors.WithMessagef(err, "failed to save model to %q", t.cfg.ModelDir)
	}
	klog.V(1).Infof("Saved model to %q", t.cfg.ModelDir)
	return nil
}

// trainPass runs one full pass over the epoch's batches restricted to the
// given networks, performing one optimizer step per batch. It returns the
// per-batch mean of every loss slot (absolute slot positions) and the number
// of batches. The shared ordering must have been stepped by the caller.
func (t *Trainer) trainPass(active []int32) (*Losses, error) {
	for _, netIdx := range active {
		t.samplers[netIdx].Reset()
	}
	sum := NewLosses(t.bundle.NumNetworks(), t.model.NumLabelSets())
	flows := make([]*sampler.DataFlow, len(active))
	numBatches := 0
	for {
		flow, err := t.samplers[active[0]].Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		flows[0] = flow
		for ii, netIdx := range active[1:] {
			if flows[ii+1], err = t.samplers[netIdx].Next(); err != nil {
				return nil, err
			}
		}

		outputs := t.trainStepExec.Call(t.packBatch(flows, active)...)
		for ii, netIdx := range active {
			sum.PerNetwork[netIdx] += tensors.ToScalar[float32](outputs[1+ii])
		}
		for ll := range sum.PerLabel {
			sum.PerLabel[ll] += tensors.ToScalar[float32](outputs[1+len(active)+ll])
		}
		for _, out := range outputs {
			out.FinalizeAll()
		}
		numBatches++
	}
	if numBatches == 0 {
		return nil, errors.New("training pass produced no batches")
	}
	sum.Scale(1 / float32(numBatches))
	return sum, nil
}

// allNetworks returns [0 .. numNetworks).
func (t *Trainer) allNetworks() []int32 {
	active := make([]int32, t.bundle.NumNetworks())
	for ii := range active {
		active[ii] = int32(ii)
	}
	return active
}
