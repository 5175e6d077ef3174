package ui

import (
	"fmt"

	"github.com/OpticalFlyer/tilestream/layer"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

// Controller manages all UI elements
type Controller struct {
	panels []*Panel

	// Stats feeds the layer panel, if set
	Stats      func() []layer.Stats
	statsPanel *Panel
}

// NewController creates a new UI controller
func NewController() *Controller {
	return &Controller{
		panels: make([]*Panel, 0),
	}
}

// AddPanel adds a new panel to the UI
func (c *Controller) AddPanel(panel *Panel) {
	c.panels = append(c.panels, panel)
}

// SetStatsPanel makes panel show the layer stats on every update
func (c *Controller) SetStatsPanel(panel *Panel, stats func() []layer.Stats) {
	c.statsPanel = panel
	c.Stats = stats
}

// Update updates all UI elements
func (c *Controller) Update() error {
	if c.statsPanel != nil && c.Stats != nil {
		c.statsPanel.SetLines(FormatStats(c.Stats()))
	}
	for _, panel := range c.panels {
		if err := panel.Update(); err != nil {
			return err
		}
	}
	return nil
}

// Draw draws all UI elements
func (c *Controller) Draw(screen *ebiten.Image) {
	for _, panel := range c.panels {
		panel.Draw(screen)
	}
}

// UpdateWindowSize updates the window size for all panels
func (c *Controller) UpdateWindowSize(width, height int) {
	for _, panel := range c.panels {
		panel.UpdateWindowSize(width, height)
	}
}

// ShowDebugInfo draws debug information
func (c *Controller) ShowDebugInfo(screen *ebiten.Image, y int) {
	fps := ebiten.ActualFPS()
	tps := ebiten.ActualTPS()
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("FPS: %.2f TPS: %.2f", fps, tps), 0, y)
}

// IsInteractingWithUI reports whether a panel is being dragged or the cursor
// is over one
func (c *Controller) IsInteractingWithUI(x, y float64) bool {
	for _, panel := range c.panels {
		if panel.Dragging() || panel.Bounds().Contains(x, y) {
			return true
		}
	}
	return false
}

// FormatStats renders one block of lines per layer
func FormatStats(stats []layer.Stats) []string {
	if len(stats) == 0 {
		return []string{"no layers"}
	}
	var lines []string
	for _, s := range stats {
		switch {
		case s.Err != "":
			lines = append(lines, fmt.Sprintf("%s: failed", s.ID))
		case !s.Ready:
			lines = append(lines, fmt.Sprintf("%s: loading", s.ID))
		default:
			lines = append(lines,
				fmt.Sprintf("%s: %d/%d nodes", s.ID, s.Loaded, s.Nodes),
				fmt.Sprintf("  hidden %d failed %d", s.Hidden, s.Failed),
				fmt.Sprintf("  %s / %s", FormatBytes(s.Bytes), FormatBytes(s.MaxBytes)))
		}
	}
	return lines
}

// FormatBytes prints n with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
