package render

import (
	"image/color"
	"testing"

	"github.com/OpticalFlyer/tilestream/geom"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitMesh() *Mesh {
	return &Mesh{Name: "box", Box: geom.BoxFromCenter(r3.Vector{}, r3.Vector{X: 1, Y: 1, Z: 1})}
}

func downRay(x, y float64) geom.Ray {
	return geom.Ray{Origin: r3.Vector{X: x, Y: y, Z: 100}, Dir: r3.Vector{Z: -1}}
}

func TestMemScene(t *testing.T) {
	s := NewMemScene()
	a, b := uuid.New(), uuid.New()
	s.Insert(a, unitMesh(), geom.Identity())
	s.Insert(b, unitMesh(), geom.Translate(r3.Vector{X: 5}))

	total, visible := s.Len()
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, visible)

	s.SetVisible(a, false)
	_, visible = s.Len()
	assert.Equal(t, 1, visible)

	s.SetTransform(b, geom.Translate(r3.Vector{X: 7}))
	e, ok := s.Get(b)
	require.True(t, ok)
	assert.Equal(t, 7.0, e.Transform.Translation().X)

	var seen []uuid.UUID
	s.EachVisible(func(id uuid.UUID, e Entry) { seen = append(seen, id) })
	assert.Equal(t, []uuid.UUID{b}, seen)

	s.Remove(a)
	s.Remove(a)
	total, _ = s.Len()
	assert.Equal(t, 1, total)

	// Operations on unknown ids are ignored.
	s.SetVisible(a, true)
	s.SetTransform(a, geom.Identity())
	_, ok = s.Get(a)
	assert.False(t, ok)
}

func TestPick(t *testing.T) {
	mesh := unitMesh()
	d, idx, ok := mesh.Pick(downRay(0, 0), geom.Translate(r3.Vector{Z: 10}))
	require.True(t, ok)
	assert.InDelta(t, 89, d, 1e-9)
	assert.Equal(t, -1, idx)

	inst := &Instances{Base: mesh, Transforms: []geom.Mat4{
		geom.Translate(r3.Vector{X: -10}),
		geom.Translate(r3.Vector{X: 10}),
		geom.Translate(r3.Vector{X: 10, Z: 5}),
	}}
	_, idx, ok = inst.Pick(downRay(10, 0), geom.Identity())
	require.True(t, ok)
	assert.Equal(t, 2, idx, "the higher instance is hit first")
	assert.InDelta(t, 22, inst.Bounds().Size().X, 1e-9)

	pts := NewPoints([]r3.Vector{{X: 0}, {X: 3}, {X: 6}})
	_, idx, ok = pts.Pick(downRay(3.2, 0), geom.Identity())
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	_, _, ok = pts.Pick(downRay(20, 0), geom.Identity())
	assert.False(t, ok)

	comp := &Composite{Parts: []Primitive{pts, inst}}
	_, idx, ok = comp.Pick(downRay(10, 0), geom.Identity())
	require.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestDecorate(t *testing.T) {
	mesh := unitMesh()
	assert.Same(t, mesh, Decorate(mesh, Params{}))

	red := color.NRGBA{R: 255, A: 255}
	p := Decorate(mesh, Params{Color: &red, Opacity: 0.5})
	dec, ok := p.(Decorator)
	require.True(t, ok)
	assert.Equal(t, 0.5, dec.Decoration().Opacity)
	assert.Equal(t, mesh.Bounds(), p.Bounds())
	assert.Same(t, mesh, Undecorate(Decorate(p, Params{PointSize: 2})))
}
