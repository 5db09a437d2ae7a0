// Package emit writes the run outputs: the integrated embedding table, the
// learned network weights, label predictions and the training-loss plot.
package emit

import (
	"bufio"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/netfuse/netfuse/internal/netset"
	"github.com/netfuse/netfuse/internal/trainer"
)

// Embeddings writes the integrated node embeddings as a delimited table with
// one row per node, the node name in the first column.
func Embeddings(path string, index *netset.NodeIndex, result *trainer.InferenceResult, delimiter string) error {
	return writeTable(path, func(w *bufio.Writer) error {
		for row, name := range index.Names {
			if _, err := w.WriteString(name); err != nil {
				return err
			}
			base := row * result.EmbeddingSize
			for col := 0; col < result.EmbeddingSize; col++ {
				if err := writeCell(w, delimiter, result.Embeddings[base+col]); err != nil {
					return err
				}
			}
			if err := w.WriteByte('\n'); err != nil {
				return err
			}
		}
		return nil
	})
}

// NetworkScales writes the learned fusion weight of every input network.
func NetworkScales(path string, networkNames []string, weights []float32, delimiter string) error {
	return writeTable(path, func(w *bufio.Writer) error {
		for ii, name := range networkNames {
			if _, err := w.WriteString(name); err != nil {
				return err
			}
			if err := writeCell(w, delimiter, weights[ii]); err != nil {
				return err
			}
			if err := w.WriteByte('\n'); err != nil {
				return err
			}
		}
		return nil
	})
}

// LabelPredictions writes the predicted class probabilities of one label set,
// one row per node, with a header naming the classes.
func LabelPredictions(path string, index *netset.NodeIndex, labelSet *netset.LabelSet, predictions []float32, delimiter string) error {
	numClasses := labelSet.NumClasses()
	return writeTable(path, func(w *bufio.Writer) error {
		for _, class := range labelSet.ClassNames {
			if _, err := w.WriteString(delimiter + class); err != nil {
				return err
			}
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
		for row, name := range index.Names {
			if _, err := w.WriteString(name); err != nil {
				return err
			}
			base := row * numClasses
			for col := 0; col < numClasses; col++ {
				if err := writeCell(w, delimiter, predictions[base+col]); err != nil {
					return err
				}
			}
			if err := w.WriteByte('\n'); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeTable(path string, fill func(w *bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	w := bufio.NewWriter(f)
	if err = fill(w); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %q", path)
	}
	if err = w.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %q", path)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", path)
	}
	klog.V(1).Infof("Wrote %q", path)
	return nil
}

func writeCell(w *bufio.Writer, delimiter string, value float32) error {
	if _, err := w.WriteString(delimiter); err != nil {
		return err
	}
	_, err := w.WriteString(strconv.FormatFloat(float64(value), 'g', -1, 32))
	return err
}
