package geom

import (
	"math"

	"github.com/golang/geo/r3"
)

// Box3 is an axis-aligned bounding box.
type Box3 struct {
	Min, Max r3.Vector
}

// EmptyBox returns a box that contains nothing; expanding it by a point
// yields a box containing just that point.
func EmptyBox() Box3 {
	inf := math.Inf(1)
	return Box3{
		Min: r3.Vector{X: inf, Y: inf, Z: inf},
		Max: r3.Vector{X: -inf, Y: -inf, Z: -inf},
	}
}

// BoxFromCenter returns the box with the given center and half extents.
func BoxFromCenter(center, half r3.Vector) Box3 {
	return Box3{Min: center.Sub(half), Max: center.Add(half)}
}

// IsEmpty reports whether the box contains no points.
func (b Box3) IsEmpty() bool {
	return b.Max.X < b.Min.X || b.Max.Y < b.Min.Y || b.Max.Z < b.Min.Z
}

// Center returns the center of the box.
func (b Box3) Center() r3.Vector {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size returns the extent of the box along each axis.
func (b Box3) Size() r3.Vector {
	if b.IsEmpty() {
		return r3.Vector{}
	}
	return b.Max.Sub(b.Min)
}

// ExpandByPoint returns the smallest box containing b and p.
func (b Box3) ExpandByPoint(p r3.Vector) Box3 {
	b.Min = r3.Vector{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
	b.Max = r3.Vector{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
	return b
}

// Union returns the smallest box containing both boxes.
func (b Box3) Union(o Box3) Box3 {
	if o.IsEmpty() {
		return b
	}
	return b.ExpandByPoint(o.Min).ExpandByPoint(o.Max)
}

// ContainsPoint reports whether p lies inside or on the box.
func (b Box3) ContainsPoint(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// ClampPoint returns the point of the box closest to p.
func (b Box3) ClampPoint(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: math.Max(b.Min.X, math.Min(b.Max.X, p.X)),
		Y: math.Max(b.Min.Y, math.Min(b.Max.Y, p.Y)),
		Z: math.Max(b.Min.Z, math.Min(b.Max.Z, p.Z)),
	}
}

// DistanceToPoint returns the Euclidean distance from p to the box; zero if
// p is inside.
func (b Box3) DistanceToPoint(p r3.Vector) float64 {
	return b.ClampPoint(p).Sub(p).Norm()
}

// Corners returns the eight corners of the box.
func (b Box3) Corners() [8]r3.Vector {
	return [8]r3.Vector{
		{X: b.Min.X, Y: b.Min.Y, Z: b.Min.Z},
		{X: b.Max.X, Y: b.Min.Y, Z: b.Min.Z},
		{X: b.Min.X, Y: b.Max.Y, Z: b.Min.Z},
		{X: b.Max.X, Y: b.Max.Y, Z: b.Min.Z},
		{X: b.Min.X, Y: b.Min.Y, Z: b.Max.Z},
		{X: b.Max.X, Y: b.Min.Y, Z: b.Max.Z},
		{X: b.Min.X, Y: b.Max.Y, Z: b.Max.Z},
		{X: b.Max.X, Y: b.Max.Y, Z: b.Max.Z},
	}
}

// Transform returns the axis-aligned box enclosing b after transformation by m.
func (b Box3) Transform(m Mat4) Box3 {
	if b.IsEmpty() {
		return b
	}
	r := EmptyBox()
	for _, c := range b.Corners() {
		r = r.ExpandByPoint(m.MulPoint(c))
	}
	return r
}

// IntersectRay returns the distance along r at which it first enters the
// box. A ray starting inside the box reports zero.
func (b Box3) IntersectRay(r Ray) (float64, bool) {
	tmin, tmax := math.Inf(-1), math.Inf(1)
	o := [3]float64{r.Origin.X, r.Origin.Y, r.Origin.Z}
	d := [3]float64{r.Dir.X, r.Dir.Y, r.Dir.Z}
	lo := [3]float64{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float64{b.Max.X, b.Max.Y, b.Max.Z}
	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			if o[i] < lo[i] || o[i] > hi[i] {
				return 0, false
			}
			continue
		}
		t0 := (lo[i] - o[i]) / d[i]
		t1 := (hi[i] - o[i]) / d[i]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tmin = math.Max(tmin, t0)
		tmax = math.Min(tmax, t1)
		if tmin > tmax {
			return 0, false
		}
	}
	if tmax < 0 {
		return 0, false
	}
	return math.Max(tmin, 0), true
}

// Sphere is a bounding sphere.
type Sphere struct {
	Center r3.Vector
	Radius float64
}

// Box returns the axis-aligned box enclosing the sphere.
func (s Sphere) Box() Box3 {
	h := r3.Vector{X: s.Radius, Y: s.Radius, Z: s.Radius}
	return BoxFromCenter(s.Center, h)
}

// OrientedBoxBounds returns the axis-aligned box enclosing a 3D Tiles
// "box" bounding volume: a center followed by three half-axis vectors.
func OrientedBoxBounds(v [12]float64) Box3 {
	c := r3.Vector{X: v[0], Y: v[1], Z: v[2]}
	ax := r3.Vector{X: v[3], Y: v[4], Z: v[5]}.Abs()
	ay := r3.Vector{X: v[6], Y: v[7], Z: v[8]}.Abs()
	az := r3.Vector{X: v[9], Y: v[10], Z: v[11]}.Abs()
	return BoxFromCenter(c, ax.Add(ay).Add(az))
}

// Ray is a half-line starting at Origin heading along Dir.
type Ray struct {
	Origin, Dir r3.Vector
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float64) r3.Vector {
	return r.Origin.Add(r.Dir.Mul(t))
}
