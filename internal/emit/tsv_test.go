package emit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netfuse/netfuse/internal/netset"
	"github.com/netfuse/netfuse/internal/trainer"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestEmbeddings(t *testing.T) {
	index, err := netset.NewNodeIndex([]string{"a", "b"})
	require.NoError(t, err)
	result := &trainer.InferenceResult{
		NumNodes:      2,
		EmbeddingSize: 3,
		Embeddings:    []float32{1, 0.5, 0, -1, 2, 0.25},
	}

	path := filepath.Join(t.TempDir(), "features.tsv")
	require.NoError(t, Embeddings(path, index, result, "\t"))

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "a\t1\t0.5\t0", lines[0])
	assert.Equal(t, "b\t-1\t2\t0.25", lines[1])
}

func TestNetworkScales(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.tsv")
	require.NoError(t, NetworkScales(path, []string{"ppi", "coex"}, []float32{0.75, 0.25}, "\t"))

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "ppi\t0.75", lines[0])
	assert.Equal(t, "coex\t0.25", lines[1])
}

func TestLabelPredictions(t *testing.T) {
	index, err := netset.NewNodeIndex([]string{"a", "b"})
	require.NoError(t, err)
	labelSet := &netset.LabelSet{
		Name:       "functions",
		ClassNames: []string{"f1", "f2"},
	}

	path := filepath.Join(t.TempDir(), "predictions.tsv")
	require.NoError(t, LabelPredictions(path, index, labelSet, []float32{0.9, 0.1, 0.5, 0.5}, "\t"))

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.Equal(t, "\tf1\tf2", lines[0])
	assert.Equal(t, "a\t0.9\t0.1", lines[1])
	assert.Equal(t, "b\t0.5\t0.5", lines[2])
}

func TestWriteTableBadPath(t *testing.T) {
	err := NetworkScales(filepath.Join(t.TempDir(), "missing", "weights.tsv"), nil, nil, "\t")
	assert.Error(t, err)
}
