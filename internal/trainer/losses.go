package trainer

// Losses is the decomposed loss of one epoch (or one training pass): one
// reconstruction slot per input network, in the bundle's network order, and
// one classification slot per label set. Slots keep their absolute position
// regardless of which network subset a pass covered, so reports stay
// comparable across epochs.
type Losses struct {
	PerNetwork []float32
	PerLabel   []float32
}

// NewLosses returns a zeroed loss record of the given arity.
func NewLosses(numNetworks, numLabelSets int) *Losses {
	return &Losses{
		PerNetwork: make([]float32, numNetworks),
		PerLabel:   make([]float32, numLabelSets),
	}
}

// Total is the sum over all slots.
func (l *Losses) Total() float32 {
	var total float32
	for _, v := range l.PerNetwork {
		total += v
	}
	for _, v := range l.PerLabel {
		total += v
	}
	return total
}

// Scale multiplies every slot in place, typically by 1/numBatches to turn
// per-batch sums into per-batch means.
func (l *Losses) Scale(factor float32) {
	for ii := range l.PerNetwork {
		l.PerNetwork[ii] *= factor
	}
	for ii := range l.PerLabel {
		l.PerLabel[ii] *= factor
	}
}

// clone returns an independent copy.
func (l *Losses) clone() *Losses {
	c := NewLosses(len(l.PerNetwork), len(l.PerLabel))
	copy(c.PerNetwork, l.PerNetwork)
	copy(c.PerLabel, l.PerLabel)
	return c
}
