package ui

import (
	"testing"

	"github.com/OpticalFlyer/tilestream/layer"
	"github.com/OpticalFlyer/tilestream/tiles"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	for _, tc := range []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KiB"},
		{512 << 20, "512.0 MiB"},
		{3 << 30, "3.0 GiB"},
	} {
		assert.Equal(t, tc.want, FormatBytes(tc.n))
	}
}

func TestFormatStats(t *testing.T) {
	assert.Equal(t, []string{"no layers"}, FormatStats(nil))

	lines := FormatStats([]layer.Stats{
		{ID: "broken", Ready: true, Err: "404"},
		{ID: "city", Ready: true, Stats: tiles.Stats{Nodes: 9, Loaded: 5, Hidden: 4, Failed: 1, Bytes: 90 << 20, MaxBytes: 100 << 20}},
		{ID: "trees"},
	})
	assert.Equal(t, []string{
		"broken: failed",
		"city: 5/9 nodes",
		"  hidden 4 failed 1",
		"  90.0 MiB / 100.0 MiB",
		"trees: loading",
	}, lines)
}

func TestButtonClick(t *testing.T) {
	p := NewPanel(100, 100, 200, 200, "Layers")
	clicks := 0
	b := NewButton(0, 0, "Sweep", func() { clicks++ })
	p.AddChild(b)

	// Stacked below the title bar, in panel coordinates.
	r := b.Bounds()
	assert.Equal(t, padding, r.X)
	assert.Equal(t, titleBarHeight+padding, r.Y)

	x, y := 100+r.X+5, 100+r.Y+5
	assert.True(t, p.HandleInput(x, y, true))
	assert.Equal(t, 0, clicks)
	assert.True(t, p.HandleInput(x, y, false))
	assert.Equal(t, 1, clicks)

	// Released elsewhere.
	p.HandleInput(x, y, true)
	p.HandleInput(x+500, y, false)
	assert.Equal(t, 1, clicks)

	p.SetLines([]string{"a", "b"})
	assert.Equal(t, titleBarHeight+padding+2*lineHeight, b.Bounds().Y)
}

func TestPanelDragAndDock(t *testing.T) {
	p := NewPanel(100, 100, 200, 150, "Layers")
	p.UpdateWindowSize(1000, 800)

	require.True(t, p.HandleInput(110, 105, true))
	require.True(t, p.Dragging())
	p.HandleInput(310, 205, true)
	assert.Equal(t, 300.0, p.X)
	assert.Equal(t, 200.0, p.Y)

	// Dropped at the right edge it docks full height.
	p.HandleInput(995, 205, true)
	p.HandleInput(995, 205, false)
	assert.False(t, p.Dragging())
	assert.Equal(t, Rectangle{X: 1000 - dockedWidth, Y: 0, Width: dockedWidth, Height: 800}, p.Bounds())

	p.UpdateWindowSize(1200, 900)
	assert.Equal(t, 1200-dockedWidth, p.X)
	assert.Equal(t, 900.0, p.Height)

	// Dragging it off restores the undocked size.
	p.HandleInput(p.X+10, 5, true)
	p.HandleInput(500, 300, true)
	p.HandleInput(500, 300, false)
	assert.Equal(t, 200.0, p.Width)
	assert.Equal(t, 150.0, p.Height)
}

func TestInteractingWithUI(t *testing.T) {
	c := NewController()
	p := NewPanel(0, 0, 100, 100, "Layers")
	c.AddPanel(p)
	c.SetStatsPanel(p, func() []layer.Stats { return nil })

	assert.True(t, c.IsInteractingWithUI(50, 50))
	assert.False(t, c.IsInteractingWithUI(150, 50))
}
