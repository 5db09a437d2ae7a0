package trainer

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"k8s.io/klog/v2"
)

var (
	epochStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	bestStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
)

// reportEpoch prints the one-line epoch summary, and the per-slot breakdown
// at higher verbosity.
func (t *Trainer) reportEpoch(epoch int, losses *Losses, isBest bool) {
	line := fmt.Sprintf("%s  %s",
		epochStyle.Render(fmt.Sprintf("epoch %*d/%d", numWidth(t.cfg.Epochs), epoch, t.cfg.Epochs)),
		lossStyle.Render(fmt.Sprintf("loss %.6f", losses.Total())))
	if isBest {
		line += "  " + bestStyle.Render("best")
	}
	fmt.Println(line)

	if klog.V(2).Enabled() {
		parts := make([]string, 0, len(losses.PerNetwork)+len(losses.PerLabel))
		names := t.cfg.NetworkNames()
		for ii, v := range losses.PerNetwork {
			parts = append(parts, fmt.Sprintf("%s=%.6f", names[ii], v))
		}
		for ii, v := range losses.PerLabel {
			parts = append(parts, fmt.Sprintf("labels[%d]=%.6f", ii, v))
		}
		klog.Infof("epoch %d breakdown: %s", epoch, strings.Join(parts, " "))
	}
}

func numWidth(n int) int {
	return len(fmt.Sprintf("%d", n))
}
