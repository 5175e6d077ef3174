package ui

import (
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"
)

var _ Component = (*Button)(nil)

// Button fires onClick when released over itself. Its position is relative
// to its parent.
type Button struct {
	x, y          float64
	width, height float64
	text          string
	onClick       func()
	parent        Container

	// State
	isHovered bool
	isPressed bool
}

func (b *Button) SetParent(parent Container) {
	b.parent = parent
}

func (b *Button) GetParent() Container {
	return b.parent
}

func (b *Button) SetPosition(x, y float64) {
	b.x, b.y = x, y
}

// NewButton returns a button sized to its default.
func NewButton(x, y float64, text string, onClick func()) *Button {
	return &Button{
		x:       x,
		y:       y,
		width:   100,
		height:  20,
		text:    text,
		onClick: onClick,
	}
}

func (b *Button) Draw(screen *ebiten.Image) {
	var bgColor color.Color
	switch {
	case b.isPressed:
		bgColor = color.RGBA{100, 100, 100, 255}
	case b.isHovered:
		bgColor = color.RGBA{180, 180, 180, 255}
	default:
		bgColor = color.RGBA{150, 150, 150, 255}
	}

	r := b.Bounds().Offset(b.parent)
	vector.DrawFilledRect(screen, float32(r.X), float32(r.Y),
		float32(r.Width), float32(r.Height), bgColor, true)
	vector.StrokeRect(screen, float32(r.X), float32(r.Y),
		float32(r.Width), float32(r.Height), 1, color.Black, true)
	ebitenutil.DebugPrintAt(screen, b.text, int(r.X)+4, int(r.Y)+2)
}

func (b *Button) HandleInput(x, y float64, pressed bool) bool {
	if !b.Bounds().Offset(b.parent).Contains(x, y) {
		b.isHovered = false
		b.isPressed = false
		return false
	}

	b.isHovered = true
	if pressed {
		b.isPressed = true
	} else if b.isPressed {
		b.isPressed = false
		if b.onClick != nil {
			b.onClick()
		}
	}
	return true
}

func (b *Button) Bounds() Rectangle {
	return Rectangle{
		X:      b.x,
		Y:      b.y,
		Width:  b.width,
		Height: b.height,
	}
}
