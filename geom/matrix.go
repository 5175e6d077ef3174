// Package geom provides the float64 linear algebra the tile engine needs:
// 4x4 transforms, axis-aligned boxes, spheres, planes, frusta and rays.
//
// Matrices are stored column-major, matching the layout used by 3D Tiles
// "transform" arrays, so a tileset transform can be loaded verbatim.
package geom

import (
	"math"

	"github.com/golang/geo/r3"
)

// Mat4 is a 4x4 matrix in column-major order. Elements 12, 13 and 14 hold
// the translation.
type Mat4 [16]float64

// Identity returns the identity matrix.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mat4FromSlice builds a matrix from a column-major slice of 16 values. It
// returns the identity and false if the slice has the wrong length.
func Mat4FromSlice(s []float64) (Mat4, bool) {
	if len(s) != 16 {
		return Identity(), false
	}
	var m Mat4
	copy(m[:], s)
	return m, true
}

// Translate returns a translation matrix.
func Translate(v r3.Vector) Mat4 {
	m := Identity()
	m[12], m[13], m[14] = v.X, v.Y, v.Z
	return m
}

// Scale returns a non-uniform scale matrix.
func Scale(v r3.Vector) Mat4 {
	m := Identity()
	m[0], m[5], m[10] = v.X, v.Y, v.Z
	return m
}

// RotateX returns a rotation of theta radians about the X axis.
func RotateX(theta float64) Mat4 {
	s, c := math.Sincos(theta)
	m := Identity()
	m[5], m[6] = c, s
	m[9], m[10] = -s, c
	return m
}

// RotateZ returns a rotation of theta radians about the Z axis.
func RotateZ(theta float64) Mat4 {
	s, c := math.Sincos(theta)
	m := Identity()
	m[0], m[1] = c, s
	m[4], m[5] = -s, c
	return m
}

// Compose builds translation * rotation(about Z) * scale, the order used for
// instance and layer anchor transforms.
func Compose(t r3.Vector, rotZ float64, s r3.Vector) Mat4 {
	return Translate(t).Mul(RotateZ(rotZ)).Mul(Scale(s))
}

// Mul returns m * o.
func (m Mat4) Mul(o Mat4) Mat4 {
	var r Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[k*4+row] * o[col*4+k]
			}
			r[col*4+row] = sum
		}
	}
	return r
}

// MulPoint transforms p as a point, performing the perspective divide
// when the matrix is projective.
func (m Mat4) MulPoint(p r3.Vector) r3.Vector {
	x := m[0]*p.X + m[4]*p.Y + m[8]*p.Z + m[12]
	y := m[1]*p.X + m[5]*p.Y + m[9]*p.Z + m[13]
	z := m[2]*p.X + m[6]*p.Y + m[10]*p.Z + m[14]
	w := m[3]*p.X + m[7]*p.Y + m[11]*p.Z + m[15]
	if w != 1 && w != 0 {
		return r3.Vector{X: x / w, Y: y / w, Z: z / w}
	}
	return r3.Vector{X: x, Y: y, Z: z}
}

// MulDir transforms d as a direction (no translation).
func (m Mat4) MulDir(d r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0]*d.X + m[4]*d.Y + m[8]*d.Z,
		Y: m[1]*d.X + m[5]*d.Y + m[9]*d.Z,
		Z: m[2]*d.X + m[6]*d.Y + m[10]*d.Z,
	}
}

// Translation returns the translation component.
func (m Mat4) Translation() r3.Vector {
	return r3.Vector{X: m[12], Y: m[13], Z: m[14]}
}

// WithTranslation returns a copy of m with its translation replaced.
func (m Mat4) WithTranslation(t r3.Vector) Mat4 {
	m[12], m[13], m[14] = t.X, t.Y, t.Z
	return m
}

// Determinant returns the determinant of m.
func (m Mat4) Determinant() float64 {
	inv := m.cofactors()
	return m[0]*inv[0] + m[1]*inv[4] + m[2]*inv[8] + m[3]*inv[12]
}

// Invert returns the inverse of m. The boolean is false if m is singular,
// in which case the identity is returned.
func (m Mat4) Invert() (Mat4, bool) {
	inv := m.cofactors()
	det := m[0]*inv[0] + m[1]*inv[4] + m[2]*inv[8] + m[3]*inv[12]
	if det == 0 || math.IsNaN(det) {
		return Identity(), false
	}
	for i := range inv {
		inv[i] /= det
	}
	return inv, true
}

// cofactors returns the adjugate of m (transposed cofactor matrix).
func (m Mat4) cofactors() Mat4 {
	var inv Mat4
	inv[0] = m[5]*m[10]*m[15] - m[5]*m[11]*m[14] - m[9]*m[6]*m[15] + m[9]*m[7]*m[14] + m[13]*m[6]*m[11] - m[13]*m[7]*m[10]
	inv[4] = -m[4]*m[10]*m[15] + m[4]*m[11]*m[14] + m[8]*m[6]*m[15] - m[8]*m[7]*m[14] - m[12]*m[6]*m[11] + m[12]*m[7]*m[10]
	inv[8] = m[4]*m[9]*m[15] - m[4]*m[11]*m[13] - m[8]*m[5]*m[15] + m[8]*m[7]*m[13] + m[12]*m[5]*m[11] - m[12]*m[7]*m[9]
	inv[12] = -m[4]*m[9]*m[14] + m[4]*m[10]*m[13] + m[8]*m[5]*m[14] - m[8]*m[6]*m[13] - m[12]*m[5]*m[10] + m[12]*m[6]*m[9]
	inv[1] = -m[1]*m[10]*m[15] + m[1]*m[11]*m[14] + m[9]*m[2]*m[15] - m[9]*m[3]*m[14] - m[13]*m[2]*m[11] + m[13]*m[3]*m[10]
	inv[5] = m[0]*m[10]*m[15] - m[0]*m[11]*m[14] - m[8]*m[2]*m[15] + m[8]*m[3]*m[14] + m[12]*m[2]*m[11] - m[12]*m[3]*m[10]
	inv[9] = -m[0]*m[9]*m[15] + m[0]*m[11]*m[13] + m[8]*m[1]*m[15] - m[8]*m[3]*m[13] - m[12]*m[1]*m[11] + m[12]*m[3]*m[9]
	inv[13] = m[0]*m[9]*m[14] - m[0]*m[10]*m[13] - m[8]*m[1]*m[14] + m[8]*m[2]*m[13] + m[12]*m[1]*m[10] - m[12]*m[2]*m[9]
	inv[2] = m[1]*m[6]*m[15] - m[1]*m[7]*m[14] - m[5]*m[2]*m[15] + m[5]*m[3]*m[14] + m[13]*m[2]*m[7] - m[13]*m[3]*m[6]
	inv[6] = -m[0]*m[6]*m[15] + m[0]*m[7]*m[14] + m[4]*m[2]*m[15] - m[4]*m[3]*m[14] - m[12]*m[2]*m[7] + m[12]*m[3]*m[6]
	inv[10] = m[0]*m[5]*m[15] - m[0]*m[7]*m[13] - m[4]*m[1]*m[15] + m[4]*m[3]*m[13] + m[12]*m[1]*m[7] - m[12]*m[3]*m[5]
	inv[14] = -m[0]*m[5]*m[14] + m[0]*m[6]*m[13] + m[4]*m[1]*m[14] - m[4]*m[2]*m[13] - m[12]*m[1]*m[6] + m[12]*m[2]*m[5]
	inv[3] = -m[1]*m[6]*m[11] + m[1]*m[7]*m[10] + m[5]*m[2]*m[11] - m[5]*m[3]*m[10] - m[9]*m[2]*m[7] + m[9]*m[3]*m[6]
	inv[7] = m[0]*m[6]*m[11] - m[0]*m[7]*m[10] - m[4]*m[2]*m[11] + m[4]*m[3]*m[10] + m[8]*m[2]*m[7] - m[8]*m[3]*m[6]
	inv[11] = -m[0]*m[5]*m[11] + m[0]*m[7]*m[9] + m[4]*m[1]*m[11] - m[4]*m[3]*m[9] - m[8]*m[1]*m[7] + m[8]*m[3]*m[5]
	inv[15] = m[0]*m[5]*m[10] - m[0]*m[6]*m[9] - m[4]*m[1]*m[10] + m[4]*m[2]*m[9] + m[8]*m[1]*m[6] - m[8]*m[2]*m[5]
	return inv
}

// LookAt returns a view matrix (world to camera) for a camera at eye
// looking at target. If up is parallel to the view direction a fallback
// up vector is used.
func LookAt(eye, target, up r3.Vector) Mat4 {
	z := eye.Sub(target).Normalize()
	if z.Norm2() == 0 {
		z = r3.Vector{Z: 1}
	}
	x := up.Cross(z)
	if x.Norm2() < 1e-20 {
		// Looking straight along up; pick any perpendicular.
		x = r3.Vector{Y: 1}.Cross(z)
		if x.Norm2() < 1e-20 {
			x = r3.Vector{X: 1}
		}
	}
	x = x.Normalize()
	y := z.Cross(x)

	world := Mat4{
		x.X, x.Y, x.Z, 0,
		y.X, y.Y, y.Z, 0,
		z.X, z.Y, z.Z, 0,
		eye.X, eye.Y, eye.Z, 1,
	}
	view, _ := world.Invert()
	return view
}

// Perspective returns an OpenGL-style projection matrix. fovY is the
// vertical field of view in radians.
func Perspective(fovY, aspect, near, far float64) Mat4 {
	f := 1 / math.Tan(fovY/2)
	var m Mat4
	m[0] = f / aspect
	m[5] = f
	m[10] = -(far + near) / (far - near)
	m[11] = -1
	m[14] = -2 * far * near / (far - near)
	return m
}

// ApproxEqual reports whether every element of m and o differs by at most eps.
func (m Mat4) ApproxEqual(o Mat4, eps float64) bool {
	for i := range m {
		if math.Abs(m[i]-o[i]) > eps {
			return false
		}
	}
	return true
}
