// netfuse trains a joint node embedding over multiple weighted networks that
// share (part of) their node set, and writes the integrated embedding table
// plus optional network weights, label predictions and a loss plot.
//
// Usage:
//
//	netfuse --config=run.yaml
//	netfuse --config=run.yaml --set="epochs=500,lambda=0.8"
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/netfuse/netfuse/internal/config"
	"github.com/netfuse/netfuse/internal/emit"
	"github.com/netfuse/netfuse/internal/netset"
	"github.com/netfuse/netfuse/internal/params"
	"github.com/netfuse/netfuse/internal/trainer"
)

var (
	flagConfig = flag.String("config", "", "Path to the YAML run configuration. Required.")
	flagSet    = flag.String("set", "", "Comma-separated key=value overrides applied on top of the "+
		"configuration, e.g. \"epochs=500,lambda=0.8\". Keys not known to the configuration are "+
		"matched against the model's hyperparameters.")
	flagCPUProfile = flag.String("cpu_profile", "", "Write a CPU profile to `file`.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagConfig == "" {
		fmt.Fprintln(os.Stderr, "Usage: netfuse --config=<run.yaml> [--set=key=value,...]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *flagCPUProfile != "" {
		f := must.M1(os.Create(*flagCPUProfile))
		must.M(pprof.StartCPUProfile(f))
		defer pprof.StopCPUProfile()
	}

	if err := run(); err != nil {
		klog.Exitf("netfuse failed: %+v", err)
	}
}

func run() error {
	cfg, err := config.Load(*flagConfig)
	if err != nil {
		return err
	}
	overrides := params.FromConfigString(*flagSet)
	if err = cfg.ApplyOverrides(overrides); err != nil {
		return err
	}

	bundle, err := netset.Load(cfg.NetNames, netset.LoadOptions{
		Delimiter:  cfg.Delimiter,
		SVDDim:     cfg.SVDDim,
		LabelPaths: cfg.LabelNames,
	})
	if err != nil {
		return err
	}
	klog.Infof("Loaded %d network(s) over %d nodes", bundle.NumNetworks(), bundle.NumNodes())

	t, err := trainer.New(backends.New(), bundle, cfg)
	if err != nil {
		return err
	}
	// Leftover overrides address the model's hyperparameters directly.
	if err = params.ApplyToContext(overrides, t.Model().Context()); err != nil {
		return err
	}
	if len(overrides) > 0 {
		keys := make([]string, 0, len(overrides))
		for key := range overrides {
			keys = append(keys, key)
		}
		return fmt.Errorf("unknown override(s) in --set: %s", strings.Join(keys, ", "))
	}

	if err = t.Train(); err != nil {
		return err
	}
	result, err := t.Infer()
	if err != nil {
		return err
	}
	return writeOutputs(cfg, bundle, t, result)
}

func writeOutputs(cfg *config.Config, bundle *netset.Bundle, t *trainer.Trainer, result *trainer.InferenceResult) error {
	if err := emit.Embeddings(cfg.OutName+"_features.tsv", bundle.Index, result, cfg.Delimiter); err != nil {
		return err
	}
	if cfg.SaveNetworkScales {
		err := emit.NetworkScales(cfg.OutName+"_network_weights.tsv",
			cfg.NetworkNames(), result.FusionWeights, cfg.Delimiter)
		if err != nil {
			return err
		}
	}
	if cfg.SaveLabelPredictions && len(bundle.Labels) == 0 {
		klog.Warning("save_label_predictions is set but no label_names are configured, skipping predictions output")
	}
	if cfg.SaveLabelPredictions {
		for ii, labelSet := range bundle.Labels {
			path := fmt.Sprintf("%s_%s_predictions.tsv", cfg.OutName, labelSet.Name)
			err := emit.LabelPredictions(path, bundle.Index, labelSet, result.LabelPredictions[ii], cfg.Delimiter)
			if err != nil {
				return err
			}
		}
	}
	if cfg.PlotLoss {
		if err := emit.LossPlot(cfg.OutName+"_loss.png", t.History()); err != nil {
			return err
		}
	}
	if cfg.SaveModel && cfg.ModelDir != "" {
		if err := t.Save(); err != nil {
			return err
		}
	}
	return nil
}
