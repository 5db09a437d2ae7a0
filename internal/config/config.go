// Package config defines the run configuration: which networks and label
// files to integrate, the model shape, and the training schedule.
//
// A configuration is loaded from a YAML file and can be amended with
// `key=value,...` override strings (see internal/params). All validation
// happens before any training step executes: a malformed configuration is
// fatal, never retried.
package config

import (
	"os"
	"path/filepath"

	"github.com/netfuse/netfuse/internal/params"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Initialization schemes supported for the encoder weights.
const (
	InitKaiming = "kaiming"
	InitXavier  = "xavier"
)

// EncoderShape describes the stacked attention encoder.
type EncoderShape struct {
	// Dimension of the hidden node states in each attention layer.
	Dimension int `yaml:"dimension"`

	// NumLayers is the neighborhood depth: one sampled hop per layer.
	NumLayers int `yaml:"n_layers"`
}

// Config is the full run configuration.
//
// The zero value is not usable; obtain one through Load or New, which apply
// defaults, and call Validate before use.
type Config struct {
	// NetNames are paths to the input networks, one weighted edge list per
	// network.
	NetNames []string `yaml:"net_names"`

	// LabelNames are paths to optional label tables used for the supervised
	// objective. May be empty.
	LabelNames []string `yaml:"label_names"`

	// OutName is the prefix for every emitted file. Defaults to the config
	// file path without extension.
	OutName string `yaml:"out_name"`

	// Delimiter used in the input edge lists and output tables.
	Delimiter string `yaml:"delimiter"`

	Epochs        int     `yaml:"epochs"`
	BatchSize     int     `yaml:"batch_size"`
	LearningRate  float64 `yaml:"learning_rate"`
	EmbeddingSize int     `yaml:"embedding_size"`

	// SVDDim, if > 0, replaces the identity features by per-network
	// SVD-reduced features of that dimension.
	SVDDim int `yaml:"svd_dim"`

	// SampleSize, if > 0, enables network sub-sampling: each training pass is
	// restricted to a random group of roughly SampleSize networks.
	SampleSize int `yaml:"sample_size"`

	// Lambda balances the supervised objective against reconstruction when
	// labels are configured. Must be in [0, 1].
	Lambda float64 `yaml:"lambda"`

	// Initialization is the weight initialization scheme, "kaiming" or
	// "xavier".
	Initialization string `yaml:"initialization"`

	// SharedEncoder makes all networks share one set of encoder weights.
	SharedEncoder bool `yaml:"shared_encoder"`

	// NeighborSizes is the per-layer sampling fan-out. When empty it defaults
	// to max(30-5*layer, 5) per layer, matching the encoder depth.
	NeighborSizes []int `yaml:"neighbor_sizes"`

	Encoder EncoderShape `yaml:"gat_shapes"`

	// ModelDir, when set, is the checkpoint directory where the trained
	// model is saved, and — with LoadPretrained — loaded from.
	ModelDir       string `yaml:"model_dir"`
	SaveModel      bool   `yaml:"save_model"`
	LoadPretrained bool   `yaml:"load_pretrained_model"`

	PlotLoss             bool `yaml:"plot_loss"`
	SaveNetworkScales    bool `yaml:"save_network_scales"`
	SaveLabelPredictions bool `yaml:"save_label_predictions"`
}

// New returns a Config with defaults applied.
func New() *Config {
	return &Config{
		Delimiter:      "\t",
		Epochs:         3000,
		BatchSize:      2048,
		LearningRate:   0.0005,
		EmbeddingSize:  512,
		Lambda:         0.95,
		Initialization: InitKaiming,
		Encoder: EncoderShape{
			Dimension: 64,
			NumLayers: 2,
		},
		SaveModel: true,
	}
}

// Load reads the YAML configuration at path, applies defaults for missing
// fields and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", path)
	}
	cfg := New()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %q", path)
	}
	if cfg.OutName == "" {
		cfg.OutName = strippedExt(path)
	}
	if err = cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid config %q", path)
	}
	return cfg, nil
}

func strippedExt(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)]
}

// ApplyOverrides amends the configuration with `key=value` overrides. Keys not
// recognized here are left in the map — typically to be applied to the model
// context afterwards. The amended configuration is re-validated.
func (cfg *Config) ApplyOverrides(overrides params.Overrides) error {
	var err error
	pop := func(fn func() error) {
		if err == nil {
			err = fn()
		}
	}
	pop(func() (e error) { cfg.Epochs, e = params.PopOr(overrides, "epochs", cfg.Epochs); return })
	pop(func() (e error) { cfg.BatchSize, e = params.PopOr(overrides, "batch_size", cfg.BatchSize); return })
	pop(func() (e error) {
		cfg.LearningRate, e = params.PopOr(overrides, "learning_rate", cfg.LearningRate)
		return
	})
	pop(func() (e error) {
		cfg.EmbeddingSize, e = params.PopOr(overrides, "embedding_size", cfg.EmbeddingSize)
		return
	})
	pop(func() (e error) { cfg.SVDDim, e = params.PopOr(overrides, "svd_dim", cfg.SVDDim); return })
	pop(func() (e error) { cfg.SampleSize, e = params.PopOr(overrides, "sample_size", cfg.SampleSize); return })
	pop(func() (e error) { cfg.Lambda, e = params.PopOr(overrides, "lambda", cfg.Lambda); return })
	pop(func() (e error) {
		cfg.Initialization, e = params.PopOr(overrides, "initialization", cfg.Initialization)
		return
	})
	pop(func() (e error) {
		cfg.SharedEncoder, e = params.PopOr(overrides, "shared_encoder", cfg.SharedEncoder)
		return
	})
	pop(func() (e error) { cfg.OutName, e = params.PopOr(overrides, "out_name", cfg.OutName); return })
	if err != nil {
		return err
	}
	return cfg.Validate()
}

// Validate fails fast on any unusable configuration.
func (cfg *Config) Validate() error {
	if len(cfg.NetNames) == 0 {
		return errors.New("config: at least one input network is required (net_names)")
	}
	if cfg.Epochs <= 0 {
		return errors.Errorf("config: epochs must be > 0, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return errors.Errorf("config: batch_size must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.LearningRate <= 0 {
		return errors.Errorf("config: learning_rate must be > 0, got %g", cfg.LearningRate)
	}
	if cfg.EmbeddingSize <= 0 {
		return errors.Errorf("config: embedding_size must be > 0, got %d", cfg.EmbeddingSize)
	}
	if cfg.Encoder.Dimension <= 0 || cfg.Encoder.NumLayers <= 0 {
		return errors.Errorf("config: gat_shapes must have dimension > 0 and n_layers > 0, got %+v", cfg.Encoder)
	}
	if cfg.Lambda < 0 || cfg.Lambda > 1 {
		return errors.Errorf("config: lambda must be in [0, 1], got %g", cfg.Lambda)
	}
	if cfg.Initialization != InitKaiming && cfg.Initialization != InitXavier {
		return errors.Errorf("config: the initialization scheme %q provided is not supported (want %q or %q)",
			cfg.Initialization, InitKaiming, InitXavier)
	}
	if cfg.SampleSize < 0 {
		return errors.Errorf("config: sample_size must be >= 0, got %d", cfg.SampleSize)
	}
	if cfg.SampleSize > len(cfg.NetNames) {
		return errors.Errorf("config: sample_size (%d) cannot exceed the number of networks (%d)",
			cfg.SampleSize, len(cfg.NetNames))
	}
	if len(cfg.NeighborSizes) != 0 && len(cfg.NeighborSizes) != cfg.Encoder.NumLayers {
		return errors.Errorf("config: neighbor_sizes must have one entry per encoder layer (%d), got %d",
			cfg.Encoder.NumLayers, len(cfg.NeighborSizes))
	}
	if cfg.LoadPretrained && cfg.ModelDir == "" {
		return errors.New("config: load_pretrained_model requires model_dir")
	}
	return nil
}

// FanOuts returns the per-layer neighbor sampling fan-out used in training:
// NeighborSizes when given, otherwise max(30-5*layer, 5) per layer.
func (cfg *Config) FanOuts() []int {
	if len(cfg.NeighborSizes) != 0 {
		return cfg.NeighborSizes
	}
	sizes := make([]int, cfg.Encoder.NumLayers)
	for idx := range sizes {
		sizes[idx] = max(30-idx*5, 5)
	}
	return sizes
}

// NetworkNames returns the base name of each input network, used to identify
// networks in reports and output tables.
func (cfg *Config) NetworkNames() []string {
	names := make([]string, len(cfg.NetNames))
	for idx, path := range cfg.NetNames {
		names[idx] = strippedExt(filepath.Base(path))
	}
	return names
}
