package ui

import (
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"
)

// DockState is the edge a panel is docked to, if any.
type DockState int

const (
	dockNone DockState = iota
	dockLeft
	dockRight
)

const (
	titleBarHeight = 20.0
	lineHeight     = 16.0
	padding        = 6.0
	dockThreshold  = 20.0
	dockedWidth    = 260.0
	previewAlpha   = 84
	panelAlpha     = 200
)

var _ Container = (*Panel)(nil)

// Panel is a draggable text panel that docks to the left or right window
// edge. Children are stacked below the text.
type Panel struct {
	X, Y          float64
	Width, Height float64
	Title         string

	lines    []string
	children []Component

	// Docking state
	dockState     DockState
	isDockPreview bool

	// Undocked dimensions (saved before docking)
	undockedWidth, undockedHeight float64

	// Interaction state
	isDragging                bool
	dragStartX, dragStartY    float64
	mouseButtonPreviouslyDown bool

	windowWidth  int
	windowHeight int
}

// NewPanel returns an undocked panel.
func NewPanel(x, y, width, height float64, title string) *Panel {
	return &Panel{
		X:              x,
		Y:              y,
		Width:          width,
		Height:         height,
		Title:          title,
		undockedWidth:  width,
		undockedHeight: height,
		windowWidth:    800,
		windowHeight:   600,
	}
}

func (p *Panel) SetParent(Container) {}

func (p *Panel) GetParent() Container { return nil }

func (p *Panel) Children() []Component { return p.children }

func (p *Panel) Bounds() Rectangle {
	return Rectangle{X: p.X, Y: p.Y, Width: p.Width, Height: p.Height}
}

// AddChild places child below the panel text and the previous children.
func (p *Panel) AddChild(child Component) {
	child.SetParent(p)
	p.children = append(p.children, child)
	p.layout()
}

// SetLines replaces the panel text.
func (p *Panel) SetLines(lines []string) {
	p.lines = lines
	p.layout()
}

type mover interface {
	SetPosition(x, y float64)
}

func (p *Panel) layout() {
	for i, c := range p.children {
		if m, ok := c.(mover); ok {
			m.SetPosition(p.childOrigin(i))
		}
	}
}

func (p *Panel) Lines() []string { return p.lines }

// Dragging reports whether the panel is being moved.
func (p *Panel) Dragging() bool { return p.isDragging }

func (p *Panel) UpdateWindowSize(width, height int) {
	p.windowWidth = width
	p.windowHeight = height
	p.applyDock()
}

func (p *Panel) applyDock() {
	switch p.dockState {
	case dockLeft:
		p.X, p.Y = 0, 0
		p.Width = dockedWidth
		p.Height = float64(p.windowHeight)
	case dockRight:
		p.Width = dockedWidth
		p.X, p.Y = float64(p.windowWidth)-p.Width, 0
		p.Height = float64(p.windowHeight)
	}
}

func (p *Panel) checkDocking(x float64) {
	switch {
	case x < dockThreshold:
		p.dockState = dockLeft
	case float64(p.windowWidth)-x < dockThreshold:
		p.dockState = dockRight
	default:
		p.dockState = dockNone
	}
	p.isDockPreview = p.dockState != dockNone
}

func (p *Panel) isInTitleBar(x, y float64) bool {
	return x >= p.X && x <= p.X+p.Width &&
		y >= p.Y && y <= p.Y+titleBarHeight
}

// Update feeds the mouse state to the panel.
func (p *Panel) Update() error {
	x, y := ebiten.CursorPosition()
	fx, fy := float64(x), float64(y)
	if p.isInTitleBar(fx, fy) || p.isDragging {
		ebiten.SetCursorShape(ebiten.CursorShapeMove)
	}
	p.HandleInput(fx, fy, ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft))
	return nil
}

func (p *Panel) HandleInput(fx, fy float64, pressed bool) bool {
	consumed := p.isDragging
	for _, c := range p.children {
		if c.HandleInput(fx, fy, pressed) {
			consumed = true
		}
	}

	if !pressed {
		if p.isDragging && p.isDockPreview {
			p.isDockPreview = false
			p.applyDock()
		}
		p.isDragging = false
		p.mouseButtonPreviouslyDown = false
		return consumed || p.Bounds().Contains(fx, fy)
	}

	if !p.mouseButtonPreviouslyDown {
		p.mouseButtonPreviouslyDown = true
		if p.isInTitleBar(fx, fy) {
			p.isDragging = true
			if p.dockState != dockNone {
				// Undocking restores the size the panel had before
				relativeX := (fx - p.X) / p.Width
				p.dockState = dockNone
				p.Width, p.Height = p.undockedWidth, p.undockedHeight
				p.X = fx - p.Width*relativeX
				p.Y = fy - titleBarHeight/2
			} else {
				p.undockedWidth, p.undockedHeight = p.Width, p.Height
			}
			p.dragStartX = fx - p.X
			p.dragStartY = fy - p.Y
		}
	}

	if p.isDragging {
		p.X = fx - p.dragStartX
		p.Y = fy - p.dragStartY
		p.checkDocking(fx)
		return true
	}
	return consumed || p.Bounds().Contains(fx, fy)
}

// contentHeight is the height of the text block below the title bar
func (p *Panel) contentHeight() float64 {
	return padding + float64(len(p.lines))*lineHeight
}

// childOrigin returns where the i-th child is stacked, relative to the panel
func (p *Panel) childOrigin(i int) (float64, float64) {
	y := titleBarHeight + p.contentHeight()
	for _, c := range p.children[:i] {
		y += c.Bounds().Height + padding
	}
	return padding, y
}

func (p *Panel) Draw(screen *ebiten.Image) {
	var bgColor, titleColor color.RGBA
	if p.isDockPreview {
		bgColor = color.RGBA{33, 150, 243, previewAlpha}
		titleColor = color.RGBA{60, 60, 60, previewAlpha}
	} else {
		bgColor = color.RGBA{40, 40, 40, panelAlpha}
		titleColor = color.RGBA{60, 60, 60, panelAlpha}
	}

	vector.DrawFilledRect(screen, float32(p.X), float32(p.Y), float32(p.Width), float32(p.Height), bgColor, true)
	vector.DrawFilledRect(screen, float32(p.X), float32(p.Y), float32(p.Width), float32(titleBarHeight), titleColor, true)
	ebitenutil.DebugPrintAt(screen, p.Title, int(p.X+padding), int(p.Y)+2)

	for i, line := range p.lines {
		ebitenutil.DebugPrintAt(screen, line,
			int(p.X+padding), int(p.Y+titleBarHeight+padding+float64(i)*lineHeight))
	}
	for _, c := range p.children {
		c.Draw(screen)
	}
}
