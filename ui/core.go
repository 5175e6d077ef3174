package ui

import "github.com/hajimehoshi/ebiten/v2"

// Component represents the basic building block of the UI system.
// All UI elements must implement this interface.
type Component interface {
	Draw(screen *ebiten.Image)
	Bounds() Rectangle
	// HandleInput takes the cursor in screen pixels and reports whether
	// the component consumed it.
	HandleInput(x, y float64, pressed bool) bool
	SetParent(parent Container)
	GetParent() Container
}

// Container represents a Component that can hold and manage other Components.
type Container interface {
	Component
	AddChild(child Component)
	Children() []Component
}

// Rectangle represents the bounds of a Component
type Rectangle struct {
	X, Y          float64
	Width, Height float64
}

func (r Rectangle) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// Offset returns r translated by the origin of parent, or r if parent is nil
func (r Rectangle) Offset(parent Container) Rectangle {
	if parent == nil {
		return r
	}
	pb := parent.Bounds()
	r.X += pb.X
	r.Y += pb.Y
	return r
}
