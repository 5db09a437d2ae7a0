package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netfuse/netfuse/internal/params"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
net_names:
  - networks/ppi.tsv
  - networks/coexpression.tsv
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Epochs)
	assert.Equal(t, 2048, cfg.BatchSize)
	assert.Equal(t, 512, cfg.EmbeddingSize)
	assert.Equal(t, 0.95, cfg.Lambda)
	assert.Equal(t, InitKaiming, cfg.Initialization)
	assert.Equal(t, 64, cfg.Encoder.Dimension)
	assert.Equal(t, 2, cfg.Encoder.NumLayers)
	assert.True(t, cfg.SaveModel)

	// The output prefix defaults to the config path without extension.
	assert.Equal(t, path[:len(path)-len(".yaml")], cfg.OutName)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
net_names: [a.tsv]
epochs: 100
embedding_size: 128
lambda: 0.5
initialization: xavier
gat_shapes:
  dimension: 32
  n_layers: 3
neighbor_sizes: [20, 10, 5]
out_name: results/run
`))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Epochs)
	assert.Equal(t, 128, cfg.EmbeddingSize)
	assert.Equal(t, 0.5, cfg.Lambda)
	assert.Equal(t, InitXavier, cfg.Initialization)
	assert.Equal(t, []int{20, 10, 5}, cfg.FanOuts())
	assert.Equal(t, "results/run", cfg.OutName)
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg := New()
		cfg.NetNames = []string{"a.tsv", "b.tsv"}
		return cfg
	}
	for name, breakIt := range map[string]func(cfg *Config){
		"no networks":        func(cfg *Config) { cfg.NetNames = nil },
		"bad epochs":         func(cfg *Config) { cfg.Epochs = 0 },
		"bad batch size":     func(cfg *Config) { cfg.BatchSize = -1 },
		"bad learning rate":  func(cfg *Config) { cfg.LearningRate = 0 },
		"bad lambda":         func(cfg *Config) { cfg.Lambda = 1.5 },
		"bad init scheme":    func(cfg *Config) { cfg.Initialization = "lecun" },
		"sample too large":   func(cfg *Config) { cfg.SampleSize = 3 },
		"bad neighbor sizes": func(cfg *Config) { cfg.NeighborSizes = []int{10} },
		"pretrained w/o dir": func(cfg *Config) { cfg.LoadPretrained = true },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			breakIt(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, base().Validate())
}

func TestFanOutDefaults(t *testing.T) {
	cfg := New()
	cfg.Encoder.NumLayers = 7
	// 30, 25, 20, ... floored at 5.
	assert.Equal(t, []int{30, 25, 20, 15, 10, 5, 5}, cfg.FanOuts())
}

func TestApplyOverrides(t *testing.T) {
	cfg := New()
	cfg.NetNames = []string{"a.tsv"}
	overrides := params.FromConfigString("epochs=10,lambda=0.25,shared_encoder,adam_epsilon=1e-8")
	require.NoError(t, cfg.ApplyOverrides(overrides))
	assert.Equal(t, 10, cfg.Epochs)
	assert.Equal(t, 0.25, cfg.Lambda)
	assert.True(t, cfg.SharedEncoder)

	// Keys the config does not know stay for the model context.
	assert.Equal(t, params.Overrides{"adam_epsilon": "1e-8"}, overrides)
}

func TestApplyOverridesRevalidates(t *testing.T) {
	cfg := New()
	cfg.NetNames = []string{"a.tsv"}
	assert.Error(t, cfg.ApplyOverrides(params.FromConfigString("lambda=2.0")))
}

func TestNetworkNames(t *testing.T) {
	cfg := New()
	cfg.NetNames = []string{"data/ppi.tsv", "coexpression.txt"}
	assert.Equal(t, []string{"ppi", "coexpression"}, cfg.NetworkNames())
}
