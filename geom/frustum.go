package geom

import (
	"math"

	"github.com/golang/geo/r3"
)

// Plane is the set of points p with Normal·p + D = 0. Points with a positive
// signed distance are on the inside.
type Plane struct {
	Normal r3.Vector
	D      float64
}

func makePlane(x, y, z, w float64) Plane {
	n := r3.Vector{X: x, Y: y, Z: z}
	l := n.Norm()
	if l == 0 {
		return Plane{}
	}
	return Plane{Normal: n.Mul(1 / l), D: w / l}
}

// Distance returns the signed distance from p to the plane.
func (pl Plane) Distance(p r3.Vector) float64 {
	return pl.Normal.Dot(p) + pl.D
}

// Frustum is a view volume bounded by six inward-facing planes.
type Frustum struct {
	Planes [6]Plane
}

// FrustumFromMatrix extracts the frustum planes of a combined
// projection * view matrix.
func FrustumFromMatrix(m Mat4) Frustum {
	var f Frustum
	f.Planes[0] = makePlane(m[3]-m[0], m[7]-m[4], m[11]-m[8], m[15]-m[12])
	f.Planes[1] = makePlane(m[3]+m[0], m[7]+m[4], m[11]+m[8], m[15]+m[12])
	f.Planes[2] = makePlane(m[3]+m[1], m[7]+m[5], m[11]+m[9], m[15]+m[13])
	f.Planes[3] = makePlane(m[3]-m[1], m[7]-m[5], m[11]-m[9], m[15]-m[13])
	f.Planes[4] = makePlane(m[3]-m[2], m[7]-m[6], m[11]-m[10], m[15]-m[14])
	f.Planes[5] = makePlane(m[3]+m[2], m[7]+m[6], m[11]+m[10], m[15]+m[14])
	return f
}

// IntersectsBox reports whether any part of b may lie inside the frustum.
// It tests the box corner furthest along each plane normal, so it may
// report boxes near frustum corners as intersecting.
func (f Frustum) IntersectsBox(b Box3) bool {
	if b.IsEmpty() {
		return false
	}
	for _, pl := range f.Planes {
		p := b.Min
		if pl.Normal.X > 0 {
			p.X = b.Max.X
		}
		if pl.Normal.Y > 0 {
			p.Y = b.Max.Y
		}
		if pl.Normal.Z > 0 {
			p.Z = b.Max.Z
		}
		if pl.Distance(p) < 0 {
			return false
		}
	}
	return true
}

// IntersectsSphere reports whether any part of s may lie inside the frustum.
func (f Frustum) IntersectsSphere(s Sphere) bool {
	for _, pl := range f.Planes {
		if pl.Distance(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}

// ContainsPoint reports whether p is inside the frustum.
func (f Frustum) ContainsPoint(p r3.Vector) bool {
	for _, pl := range f.Planes {
		if pl.Distance(p) < 0 {
			return false
		}
	}
	return true
}

// ScreenRay returns the ray through normalized device coordinates (ndcX,
// ndcY), each in [-1, 1], given the inverse of projection * view.
func ScreenRay(invViewProj Mat4, ndcX, ndcY float64) Ray {
	near := invViewProj.MulPoint(r3.Vector{X: ndcX, Y: ndcY, Z: -1})
	far := invViewProj.MulPoint(r3.Vector{X: ndcX, Y: ndcY, Z: 1})
	dir := far.Sub(near)
	if dir.Norm2() == 0 || math.IsNaN(dir.X) {
		dir = r3.Vector{Z: -1}
	}
	return Ray{Origin: near, Dir: dir.Normalize()}
}
