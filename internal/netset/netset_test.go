package netset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

// Two small networks over a partially shared node universe:
//
//	netA: a-b (0.5), b-c (2), plus a duplicate a-b line with lower weight
//	netB: b-d (1, implicit weight), d-b reversed duplicate
func loadTestBundle(t *testing.T, opts LoadOptions) *Bundle {
	t.Helper()
	dir := t.TempDir()
	netA := writeFile(t, dir, "netA.tsv", "a\tb\t0.5\nb\tc\t2\na\tb\t0.25\na\ta\t9\n")
	netB := writeFile(t, dir, "netB.tsv", "b\td\nd\tb\n")
	bundle, err := Load([]string{netA, netB}, opts)
	require.NoError(t, err)
	return bundle
}

func TestLoadIndexIsSortedUnion(t *testing.T) {
	bundle := loadTestBundle(t, LoadOptions{})
	assert.Equal(t, []string{"a", "b", "c", "d"}, bundle.Index.Names)
	pos, ok := bundle.Index.Position("c")
	require.True(t, ok)
	assert.Equal(t, int32(2), pos)
	_, ok = bundle.Index.Position("z")
	assert.False(t, ok)
}

func TestLoadBuildsSymmetricCSR(t *testing.T) {
	bundle := loadTestBundle(t, LoadOptions{})
	adj := bundle.Networks[0].Adj // netA over index a=0 b=1 c=2 d=3
	require.Equal(t, 4, adj.NumNodes())

	// Symmetrized: a-b both directions, b-c both directions. The self-edge
	// a-a was dropped, the duplicate a-b kept the larger weight.
	assert.Equal(t, 4, adj.NumEdges())
	targets, weights := adj.Neighbors(1)
	assert.Equal(t, []int32{0, 2}, targets)
	assert.Equal(t, []float32{0.5, 2}, weights)
	assert.Equal(t, float32(0.5), adj.Weight(0, 1))
	assert.Equal(t, float32(2), adj.Weight(2, 1))
	assert.Equal(t, float32(0), adj.Weight(0, 2))
	assert.Equal(t, 2, adj.MaxDegree())
	assert.Equal(t, 0, adj.Degree(3)) // d is not in netA
}

func TestLoadMasksAndScaleWeights(t *testing.T) {
	bundle := loadTestBundle(t, LoadOptions{})
	require.Equal(t, 2, bundle.NumNetworks())

	// netA covers a,b,c; netB covers b,d.
	assert.Equal(t, []float32{
		1, 0,
		1, 1,
		1, 0,
		0, 1,
	}, bundle.Masks)
	assert.True(t, bundle.Present(0, 0))
	assert.False(t, bundle.Present(0, 1))
	assert.Equal(t, []float32{1, 1, 1, 0}, bundle.MaskColumn(0))

	// Scale is numNodes / covered: 4/3 for netA, 4/2 for netB.
	require.Len(t, bundle.ScaleWeights, 2)
	assert.InDelta(t, 4.0/3.0, bundle.ScaleWeights[0], 1e-6)
	assert.InDelta(t, 2.0, bundle.ScaleWeights[1], 1e-6)
}

func TestLoadIdentityFeatures(t *testing.T) {
	bundle := loadTestBundle(t, LoadOptions{})
	fs := bundle.Features
	require.False(t, fs.IsPerNetwork())
	assert.Equal(t, 4, fs.Dim)
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			want := float32(0)
			if row == col {
				want = 1
			}
			assert.Equal(t, want, fs.Shared[row*4+col])
		}
	}
}

func TestLoadSVDFeatures(t *testing.T) {
	bundle := loadTestBundle(t, LoadOptions{SVDDim: 2})
	fs := bundle.Features
	require.True(t, fs.IsPerNetwork())
	assert.Equal(t, 2, fs.Dim)
	require.Len(t, fs.PerNetwork, 2)
	for netIdx := range fs.PerNetwork {
		assert.Len(t, fs.For(netIdx), 4*2)
	}
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()
	netA := writeFile(t, dir, "netA.tsv", "a\tb\t0.5\nb\tc\t2\n")
	labels := writeFile(t, dir, "go_terms.tsv",
		"node\tterm1\tterm2\na\t1\t0\nc\t1\t1\nunknown_node\t0\t1\n")
	bundle, err := Load([]string{netA}, LoadOptions{LabelPaths: []string{labels}})
	require.NoError(t, err)

	require.Len(t, bundle.Labels, 1)
	ls := bundle.Labels[0]
	assert.Equal(t, "go_terms", ls.Name)
	assert.Equal(t, []string{"term1", "term2"}, ls.ClassNames)
	assert.Equal(t, 2, ls.NumClasses())
	// Index is a=0 b=1 c=2; the unknown node row is skipped.
	assert.Equal(t, []float32{1, 0, 0, 0, 1, 1}, ls.Targets)
	assert.Equal(t, []float32{1, 0, 1}, ls.Mask)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.tsv", "")
	_, err := Load([]string{empty}, LoadOptions{})
	assert.Error(t, err)

	oneColumn := writeFile(t, dir, "bad.tsv", "a\n")
	_, err = Load([]string{oneColumn}, LoadOptions{})
	assert.Error(t, err)

	badWeight := writeFile(t, dir, "badw.tsv", "a\tb\theavy\n")
	_, err = Load([]string{badWeight}, LoadOptions{})
	assert.Error(t, err)

	_, err = Load([]string{filepath.Join(dir, "missing.tsv")}, LoadOptions{})
	assert.Error(t, err)

	pair := writeFile(t, dir, "pair.tsv", "a\tb\n")
	_, err = Load([]string{pair}, LoadOptions{SVDDim: 100})
	assert.Error(t, err, "SVD dimension beyond the node count must fail")
}

func TestNewNodeIndexRejectsDuplicates(t *testing.T) {
	_, err := NewNodeIndex([]string{"a", "b", "a"})
	assert.Error(t, err)
}
