package trainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netfuse/netfuse/internal/config"
	"github.com/netfuse/netfuse/internal/netset"
)

func TestLossesTotal(t *testing.T) {
	losses := NewLosses(3, 1)
	assert.Equal(t, float32(0), losses.Total())

	losses.PerNetwork = []float32{1, 2, 3}
	losses.PerLabel = []float32{0.5}
	assert.InDelta(t, 6.5, losses.Total(), 1e-6)
}

func TestLossesScale(t *testing.T) {
	losses := &Losses{PerNetwork: []float32{2, 4}, PerLabel: []float32{8}}
	losses.Scale(0.5)
	assert.Equal(t, []float32{1, 2}, losses.PerNetwork)
	assert.Equal(t, []float32{4}, losses.PerLabel)
}

func TestLossesClone(t *testing.T) {
	losses := &Losses{PerNetwork: []float32{1, 2}, PerLabel: []float32{3}}
	clone := losses.clone()
	clone.PerNetwork[0] = 99
	clone.PerLabel[0] = 99
	assert.Equal(t, float32(1), losses.PerNetwork[0])
	assert.Equal(t, float32(3), losses.PerLabel[0])
}

func TestImprovedLossStrictComparison(t *testing.T) {
	tr := &Trainer{}
	assert.True(t, tr.improvedLoss(1.0), "first epoch always improves")

	tr.best = &snapshot{epoch: 3, loss: 1.0}
	assert.False(t, tr.improvedLoss(1.0), "a tie must keep the earlier epoch")
	assert.False(t, tr.improvedLoss(1.5))
	assert.True(t, tr.improvedLoss(0.999))
}

func groupingTrainer(numNetworks, sampleSize int) *Trainer {
	networks := make([]*netset.Network, numNetworks)
	for ii := range networks {
		networks[ii] = &netset.Network{}
	}
	return &Trainer{
		cfg:    &config.Config{SampleSize: sampleSize},
		bundle: &netset.Bundle{Networks: networks},
	}
}

func TestNetworkGroupsCoverEveryNetworkOnce(t *testing.T) {
	tr := groupingTrainer(7, 2)
	groups := tr.networkGroups()
	require.Len(t, groups, 3) // floor(7/2)

	seen := make(map[int32]int)
	for _, group := range groups {
		// Near-equal split: 7 networks over 3 groups gives sizes 3, 2, 2.
		assert.GreaterOrEqual(t, len(group), 2)
		assert.LessOrEqual(t, len(group), 3)
		for _, netIdx := range group {
			seen[netIdx]++
		}
	}
	require.Len(t, seen, 7)
	for netIdx, count := range seen {
		assert.Equal(t, 1, count, "network %d must land in exactly one group", netIdx)
	}
}

func TestNetworkGroupsSingleGroup(t *testing.T) {
	tr := groupingTrainer(3, 3)
	groups := tr.networkGroups()
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 3)
}

func TestAllNetworks(t *testing.T) {
	tr := groupingTrainer(4, 0)
	assert.Equal(t, []int32{0, 1, 2, 3}, tr.allNetworks())
}
