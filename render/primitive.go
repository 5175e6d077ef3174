// Package render defines the contract between the tile engine and a
// rendering engine: opaque primitives inserted into a Scene under a
// transform, shown, hidden and removed by id.
package render

import (
	"image/color"
	"math"

	"github.com/OpticalFlyer/tilestream/geom"

	"github.com/golang/geo/r3"
)

// Primitive is renderable content decoded from a tile.
type Primitive interface {
	// Bounds returns the primitive's bounding box in its own frame.
	Bounds() geom.Box3
	// Pick intersects a world-space ray with the primitive placed by
	// transform. It returns the hit distance along the ray and the index
	// of the element hit (instance, point or batch); -1 if the primitive
	// has no addressable elements.
	Pick(ray geom.Ray, transform geom.Mat4) (dist float64, index int, ok bool)
}

// Mesh is a decoded model. Geometry is opaque to the engine; only its
// extent and names are kept.
type Mesh struct {
	Name        string
	MeshNames   []string
	Box         geom.Box3
	BatchLength int
}

func (m *Mesh) Bounds() geom.Box3 { return m.Box }

func (m *Mesh) Pick(ray geom.Ray, transform geom.Mat4) (float64, int, bool) {
	d, ok := m.Box.Transform(transform).IntersectRay(ray)
	return d, -1, ok
}

// Instances draws Base once per transform.
type Instances struct {
	Base       *Mesh
	Transforms []geom.Mat4
	BatchIDs   []int
}

func (in *Instances) Bounds() geom.Box3 {
	b := geom.EmptyBox()
	if in.Base == nil {
		return b
	}
	for _, t := range in.Transforms {
		b = b.Union(in.Base.Box.Transform(t))
	}
	return b
}

func (in *Instances) Pick(ray geom.Ray, transform geom.Mat4) (float64, int, bool) {
	if in.Base == nil {
		return 0, -1, false
	}
	best, idx := math.Inf(1), -1
	for i, t := range in.Transforms {
		if d, ok := in.Base.Box.Transform(transform.Mul(t)).IntersectRay(ray); ok && d < best {
			best, idx = d, i
		}
	}
	return best, idx, idx >= 0
}

// Points is a point cloud. Colors, when present, has one normalized RGBA
// entry per position.
type Points struct {
	Positions []r3.Vector
	Colors    [][4]float32
	Constant  *[4]float32
	BatchIDs  []int
	Size      float64

	box geom.Box3
}

// NewPoints returns a point cloud bounded by positions.
func NewPoints(positions []r3.Vector) *Points {
	p := &Points{Positions: positions, Size: 1, box: geom.EmptyBox()}
	for _, v := range positions {
		p.box = p.box.ExpandByPoint(v)
	}
	return p
}

func (p *Points) Bounds() geom.Box3 { return p.box }

// Pick returns the point closest to the ray among those within the point
// size of it.
func (p *Points) Pick(ray geom.Ray, transform geom.Mat4) (float64, int, bool) {
	if _, ok := p.box.Transform(transform).IntersectRay(ray); !ok {
		return 0, -1, false
	}
	radius := math.Max(p.Size, 1)
	best, idx := math.Inf(1), -1
	for i, v := range p.Positions {
		w := transform.MulPoint(v)
		t := w.Sub(ray.Origin).Dot(ray.Dir)
		if t < 0 {
			continue
		}
		if ray.At(t).Distance(w) <= radius && t < best {
			best, idx = t, i
		}
	}
	return best, idx, idx >= 0
}

// Composite groups the primitives of a composite tile.
type Composite struct {
	Parts []Primitive
}

func (c *Composite) Bounds() geom.Box3 {
	b := geom.EmptyBox()
	for _, p := range c.Parts {
		b = b.Union(p.Bounds())
	}
	return b
}

// Pick reports the nearest hit among the parts; index identifies the
// element within that part.
func (c *Composite) Pick(ray geom.Ray, transform geom.Mat4) (float64, int, bool) {
	best, idx, hit := math.Inf(1), -1, false
	for _, p := range c.Parts {
		if d, i, ok := p.Pick(ray, transform); ok && d < best {
			best, idx, hit = d, i, true
		}
	}
	return best, idx, hit
}

// Transformed places Base under an additional transform.
type Transformed struct {
	Base   Primitive
	Matrix geom.Mat4
}

func (t *Transformed) Bounds() geom.Box3 { return t.Base.Bounds().Transform(t.Matrix) }

func (t *Transformed) Pick(ray geom.Ray, transform geom.Mat4) (float64, int, bool) {
	return t.Base.Pick(ray, transform.Mul(t.Matrix))
}

// Params is the style bundle carried by a decorated primitive.
type Params struct {
	Color     *color.NRGBA
	Opacity   float64
	PointSize float64
}

// IsZero reports whether no style override is set.
func (p Params) IsZero() bool {
	return p.Color == nil && p.Opacity == 0 && p.PointSize == 0
}

// Decorator is implemented by primitives carrying a style override.
// Renderers type-assert for it rather than relying on concrete types.
type Decorator interface {
	Decoration() Params
}

// Decorated wraps Base with a style override.
type Decorated struct {
	Base   Primitive
	Params Params
}

// Decorate wraps p with params, or returns p unchanged if params is empty.
func Decorate(p Primitive, params Params) Primitive {
	if params.IsZero() || p == nil {
		return p
	}
	return &Decorated{Base: p, Params: params}
}

func (d *Decorated) Bounds() geom.Box3  { return d.Base.Bounds() }
func (d *Decorated) Decoration() Params { return d.Params }

func (d *Decorated) Pick(ray geom.Ray, transform geom.Mat4) (float64, int, bool) {
	return d.Base.Pick(ray, transform)
}

// Undecorate strips any decorations from p.
func Undecorate(p Primitive) Primitive {
	for {
		d, ok := p.(*Decorated)
		if !ok {
			return p
		}
		p = d.Base
	}
}
