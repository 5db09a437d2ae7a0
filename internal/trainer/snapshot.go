package trainer

import (
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"k8s.io/klog/v2"
)

// snapshot is an in-memory copy of the trainable variables at the epoch with
// the lowest total loss. Frozen data and optimizer state are not included.
type snapshot struct {
	epoch  int
	loss   float32
	values map[string]*tensors.Tensor
}

func (t *Trainer) captureSnapshot(epoch int, loss float32) *snapshot {
	s := &snapshot{
		epoch:  epoch,
		loss:   loss,
		values: make(map[string]*tensors.Tensor),
	}
	t.model.Context().EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable {
			return
		}
		s.values[v.ParameterName()] = v.Value().LocalClone()
	})
	return s
}

// restoreBest rolls the trainable variables back to the best epoch's state.
// The snapshot survives the restore, so it can be applied more than once.
func (t *Trainer) restoreBest() {
	if t.best == nil {
		return
	}
	klog.V(1).Infof("Restoring model state of epoch %d (total loss %.6f)", t.best.epoch, t.best.loss)
	t.model.Context().EnumerateVariables(func(v *context.Variable) {
		if value, ok := t.best.values[v.ParameterName()]; ok {
			v.SetValue(value.LocalClone())
		}
	})
}
