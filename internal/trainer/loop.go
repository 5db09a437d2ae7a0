package trainer

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// Train runs the configured number of epochs. Every epoch draws one fresh
// node ordering shared by all networks, then performs one optimizer step per
// batch. With network sub-sampling enabled, the networks are partitioned
// into disjoint random groups each epoch and every group gets its own pass
// over the batches.
//
// The model state of the epoch with the lowest total loss is kept aside and
// can be restored for inference.
func (t *Trainer) Train() error {
	return exceptions.TryCatch[error](func() {
		if err := t.train(); err != nil {
			panic(err)
		}
	})
}

func (t *Trainer) train() error {
	numNetworks := t.bundle.NumNetworks()
	grouped := t.cfg.SampleSize > 0 && t.cfg.SampleSize < numNetworks
	klog.Infof("Training %d network(s), %d label set(s): %d epochs, batch size %d",
		numNetworks, t.model.NumLabelSets(), t.cfg.Epochs, t.batchSize)

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		t.shared.Step(t.bundle.NumNodes(), true)

		var epochLosses *Losses
		if !grouped {
			var err error
			if epochLosses, err = t.trainPass(t.allNetworks()); err != nil {
				return err
			}
		} else {
			// Each group updates its own reconstruction slots; the
			// classification slots reflect the last group's pass.
			epochLosses = NewLosses(numNetworks, t.model.NumLabelSets())
			for _, group := range t.networkGroups() {
				passLosses, err := t.trainPass(group)
				if err != nil {
					return err
				}
				for _, netIdx := range group {
					epochLosses.PerNetwork[netIdx] = passLosses.PerNetwork[netIdx]
				}
				copy(epochLosses.PerLabel, passLosses.PerLabel)
			}
		}

		t.history = append(t.history, epochLosses)
		total := epochLosses.Total()
		isBest := t.improvedLoss(total)
		if isBest {
			t.best = t.captureSnapshot(epoch, total)
		}
		t.reportEpoch(epoch, epochLosses, isBest)
	}
	if t.best != nil {
		klog.Infof("Best total loss %.6f at epoch %d", t.best.loss, t.best.epoch)
	}
	return nil
}

// improvedLoss reports whether total strictly improves on the best epoch so
// far. Equal totals do not improve, so ties keep the earlier epoch.
func (t *Trainer) improvedLoss(total float32) bool {
	return t.best == nil || total < t.best.loss
}

// networkGroups partitions a random permutation of the networks into
// floor(numNetworks/sampleSize) disjoint groups of near-equal size. Every
// network lands in exactly one group per epoch.
func (t *Trainer) networkGroups() [][]int32 {
	numNetworks := t.bundle.NumNetworks()
	perm := rand.Perm(numNetworks)
	numGroups := numNetworks / t.cfg.SampleSize

	groups := make([][]int32, 0, numGroups)
	base, extra := numNetworks/numGroups, numNetworks%numGroups
	next := 0
	for ii := 0; ii < numGroups; ii++ {
		size := base
		if ii < extra {
			size++
		}
		group := make([]int32, size)
		for jj := range group {
			group[jj] = int32(perm[next])
			next++
		}
		groups = append(groups, group)
	}
	return groups
}
