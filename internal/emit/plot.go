package emit

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"

	"github.com/netfuse/netfuse/internal/trainer"
)

// LossPlot renders the per-epoch total loss curve to an image file (the
// format follows the path extension, typically .png).
func LossPlot(path string, history []*trainer.Losses) error {
	if len(history) == 0 {
		return errors.New("no loss history to plot")
	}
	points := make(plotter.XYs, len(history))
	for ii, losses := range history {
		points[ii].X = float64(ii + 1)
		points[ii].Y = float64(losses.Total())
	}

	p := plot.New()
	p.Title.Text = "Training loss"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Total loss"
	line, err := plotter.NewLine(points)
	if err != nil {
		return errors.Wrap(err, "failed to build loss curve")
	}
	p.Add(line, plotter.NewGrid())

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save loss plot to %q", path)
	}
	klog.V(1).Infof("Wrote %q", path)
	return nil
}
