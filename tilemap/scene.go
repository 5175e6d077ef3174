package tilemap

import (
	"image/color"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/layer"
	"github.com/OpticalFlyer/tilestream/proj"
	"github.com/OpticalFlyer/tilestream/render"

	"github.com/google/uuid"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
)

// SceneColor is the outline color of undecorated primitives
var SceneColor = color.NRGBA{R: 0x30, G: 0x90, B: 0xff, A: 0xff}

// boxEdges indexes geom.Box3.Corners
var boxEdges = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// Outline is a primitive's bounding box projected to the screen
type Outline struct {
	ID     uuid.UUID
	Points [8][2]float32
	Color  color.NRGBA
}

// ProjectScene projects the bounds of every visible primitive in scene.
// Primitives crossing the near or far plane are skipped.
func ProjectScene(scene *render.MemScene, frame *proj.Frame, fr layer.Frame) []Outline {
	frame.RLock()
	defer frame.RUnlock()
	local := frame.LocalMatrix()

	var out []Outline
	scene.EachVisible(func(id uuid.UUID, e render.Entry) {
		box := e.Primitive.Bounds()
		if box.IsEmpty() {
			return
		}
		o, ok := projectBox(box, local.Mul(e.Transform), fr)
		if !ok {
			return
		}
		o.ID = id
		o.Color = primitiveColor(e.Primitive)
		out = append(out, o)
	})
	return out
}

func projectBox(box geom.Box3, m geom.Mat4, fr layer.Frame) (Outline, bool) {
	var o Outline
	for i, c := range box.Corners() {
		x, y, ok := fr.Project(m.MulPoint(c))
		if !ok {
			return Outline{}, false
		}
		o.Points[i] = [2]float32{float32(x), float32(y)}
	}
	return o, true
}

func primitiveColor(p render.Primitive) color.NRGBA {
	c := SceneColor
	d, ok := p.(render.Decorator)
	if !ok {
		return c
	}
	params := d.Decoration()
	if params.Color != nil {
		c = *params.Color
	}
	if params.Opacity > 0 {
		c.A = uint8(float64(c.A) * params.Opacity)
	}
	return c
}

// DrawScene strokes the outlines onto screen
func DrawScene(screen *ebiten.Image, outlines []Outline) {
	for _, o := range outlines {
		for _, e := range boxEdges {
			a, b := o.Points[e[0]], o.Points[e[1]]
			vector.StrokeLine(screen, a[0], a[1], b[0], b[1], 1, o.Color, true)
		}
	}
}
