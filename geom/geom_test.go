package geom

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

func vecNear(a, b r3.Vector, eps float64) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps && math.Abs(a.Z-b.Z) <= eps
}

func TestInvertRoundTrip(t *testing.T) {
	m := Compose(r3.Vector{X: 10, Y: -4, Z: 3}, 0.7, r3.Vector{X: 2, Y: 2, Z: 0.5})
	inv, ok := m.Invert()
	if !ok {
		t.Fatalf("matrix should be invertible")
	}
	if !m.Mul(inv).ApproxEqual(Identity(), 1e-12) {
		t.Errorf("m * inv(m) = %v; want identity", m.Mul(inv))
	}

	p := r3.Vector{X: 1, Y: 2, Z: 3}
	if got := inv.MulPoint(m.MulPoint(p)); !vecNear(got, p, 1e-9) {
		t.Errorf("round trip of %v gave %v", p, got)
	}
}

func TestInvertSingular(t *testing.T) {
	if _, ok := Scale(r3.Vector{X: 1, Y: 0, Z: 1}).Invert(); ok {
		t.Errorf("singular matrix reported invertible")
	}
}

func TestBoxDistanceAndTransform(t *testing.T) {
	b := BoxFromCenter(r3.Vector{}, r3.Vector{X: 1, Y: 1, Z: 1})

	tests := []struct {
		name string
		p    r3.Vector
		want float64
	}{
		{"inside", r3.Vector{X: 0.5}, 0},
		{"face", r3.Vector{X: 3}, 2},
		{"corner", r3.Vector{X: 2, Y: 2, Z: 1}, math.Sqrt2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.DistanceToPoint(tt.p); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("DistanceToPoint(%v) = %f; want %f", tt.p, got, tt.want)
			}
		})
	}

	moved := b.Transform(Translate(r3.Vector{X: 10}))
	if !vecNear(moved.Center(), r3.Vector{X: 10}, 1e-12) {
		t.Errorf("translated center = %v", moved.Center())
	}
	rotated := b.Transform(RotateZ(math.Pi / 4))
	if math.Abs(rotated.Max.X-math.Sqrt2) > 1e-9 {
		t.Errorf("rotated box max x = %f; want %f", rotated.Max.X, math.Sqrt2)
	}
}

func TestOrientedBoxBounds(t *testing.T) {
	b := OrientedBoxBounds([12]float64{5, 5, 0, 2, 0, 0, 0, -3, 0, 0, 0, 4})
	want := Box3{Min: r3.Vector{X: 3, Y: 2, Z: -4}, Max: r3.Vector{X: 7, Y: 8, Z: 4}}
	if !vecNear(b.Min, want.Min, 0) || !vecNear(b.Max, want.Max, 0) {
		t.Errorf("OrientedBoxBounds = %v; want %v", b, want)
	}
}

func testFrustum() Frustum {
	eye := r3.Vector{Z: 100}
	view := LookAt(eye, r3.Vector{}, r3.Vector{Y: 1})
	proj := Perspective(math.Pi/3, 1, 1, 1000)
	return FrustumFromMatrix(proj.Mul(view))
}

func TestFrustumCulling(t *testing.T) {
	f := testFrustum()

	tests := []struct {
		name string
		box  Box3
		want bool
	}{
		{"origin", BoxFromCenter(r3.Vector{}, r3.Vector{X: 5, Y: 5, Z: 5}), true},
		{"far to the side", BoxFromCenter(r3.Vector{X: 10000}, r3.Vector{X: 5, Y: 5, Z: 5}), false},
		{"behind camera", BoxFromCenter(r3.Vector{Z: 200}, r3.Vector{X: 5, Y: 5, Z: 5}), false},
		{"beyond far plane", BoxFromCenter(r3.Vector{Z: -2000}, r3.Vector{X: 5, Y: 5, Z: 5}), false},
		{"straddles side plane", BoxFromCenter(r3.Vector{X: 60}, r3.Vector{X: 10, Y: 5, Z: 5}), true},
		{"empty", EmptyBox(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.IntersectsBox(tt.box); got != tt.want {
				t.Errorf("IntersectsBox = %v; want %v", got, tt.want)
			}
		})
	}

	if !f.ContainsPoint(r3.Vector{}) {
		t.Errorf("frustum should contain the look-at target")
	}
	if f.IntersectsSphere(Sphere{Center: r3.Vector{Y: 5000}, Radius: 10}) {
		t.Errorf("sphere far above the view should be culled")
	}
}

func TestScreenRayHitsCenterBox(t *testing.T) {
	eye := r3.Vector{Z: 100}
	view := LookAt(eye, r3.Vector{}, r3.Vector{Y: 1})
	proj := Perspective(math.Pi/3, 1, 1, 1000)
	inv, ok := proj.Mul(view).Invert()
	if !ok {
		t.Fatalf("view projection should be invertible")
	}

	ray := ScreenRay(inv, 0, 0)
	b := BoxFromCenter(r3.Vector{}, r3.Vector{X: 1, Y: 1, Z: 1})
	d, hit := b.IntersectRay(ray)
	if !hit {
		t.Fatalf("center ray should hit box at origin")
	}
	if math.Abs(d-98) > 1e-6 {
		t.Errorf("hit distance = %f; want 98", d)
	}

	if _, hit := b.IntersectRay(ScreenRay(inv, 0.9, 0.9)); hit {
		t.Errorf("corner ray should miss small box")
	}
}

func BenchmarkFrustumIntersectsBox(b *testing.B) {
	f := testFrustum()
	box := BoxFromCenter(r3.Vector{X: 20}, r3.Vector{X: 5, Y: 5, Z: 5})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.IntersectsBox(box)
	}
}
