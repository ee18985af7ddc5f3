// Package math provides bone transform math for Ghoul2 skeletons.
package math

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Mat34 is a 3x4 affine matrix in row-major order, matching the bone
// matrices stored in GLA files.
// Layout: [m0 m1  m2  m3 ]
//
//	[m4 m5  m6  m7 ]
//	[m8 m9  m10 m11]
//
// The implicit fourth row is (0, 0, 0, 1).
type Mat34 [12]float32

// Identity34 returns an identity matrix.
func Identity34() Mat34 {
	return Mat34{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}
}

// FromRotationTranslation builds a rigid transform.
func FromRotationTranslation(q mgl32.Quat, t mgl32.Vec3) Mat34 {
	r := q.Normalize().Mat4()
	return Mat34{
		r.At(0, 0), r.At(0, 1), r.At(0, 2), t[0],
		r.At(1, 0), r.At(1, 1), r.At(1, 2), t[1],
		r.At(2, 0), r.At(2, 1), r.At(2, 2), t[2],
	}
}

// FromMat4 drops the bottom row of a column-major 4x4 matrix.
func FromMat4(m mgl32.Mat4) Mat34 {
	return Mat34{
		m.At(0, 0), m.At(0, 1), m.At(0, 2), m.At(0, 3),
		m.At(1, 0), m.At(1, 1), m.At(1, 2), m.At(1, 3),
		m.At(2, 0), m.At(2, 1), m.At(2, 2), m.At(2, 3),
	}
}

// Mat4 returns the column-major 4x4 form.
func (m Mat34) Mat4() mgl32.Mat4 {
	return mgl32.Mat4{
		m[0], m[4], m[8], 0,
		m[1], m[5], m[9], 0,
		m[2], m[6], m[10], 0,
		m[3], m[7], m[11], 1,
	}
}

// Mul multiplies this matrix by another (m * other).
func (m Mat34) Mul(other Mat34) Mat34 {
	var r Mat34
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			v := m[row*4+0]*other[0*4+col] +
				m[row*4+1]*other[1*4+col] +
				m[row*4+2]*other[2*4+col]
			if col == 3 {
				v += m[row*4+3]
			}
			r[row*4+col] = v
		}
	}
	return r
}

// Add returns the element-wise sum, used when blending skin matrices.
func (m Mat34) Add(other Mat34) Mat34 {
	for i := range m {
		m[i] += other[i]
	}
	return m
}

// Scale returns every element multiplied by s.
func (m Mat34) Scale(s float32) Mat34 {
	for i := range m {
		m[i] *= s
	}
	return m
}

// TransformPoint applies rotation and translation to p.
func (m Mat34) TransformPoint(p mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		m[0]*p[0] + m[1]*p[1] + m[2]*p[2] + m[3],
		m[4]*p[0] + m[5]*p[1] + m[6]*p[2] + m[7],
		m[8]*p[0] + m[9]*p[1] + m[10]*p[2] + m[11],
	}
}

// TransformDirection applies only the 3x3 part to d.
func (m Mat34) TransformDirection(d mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		m[0]*d[0] + m[1]*d[1] + m[2]*d[2],
		m[4]*d[0] + m[5]*d[1] + m[6]*d[2],
		m[8]*d[0] + m[9]*d[1] + m[10]*d[2],
	}
}

// Translation returns the translation column.
func (m Mat34) Translation() mgl32.Vec3 {
	return mgl32.Vec3{m[3], m[7], m[11]}
}

// Rotation extracts the rotation as a unit quaternion. Scale is assumed
// to be 1.
func (m Mat34) Rotation() mgl32.Quat {
	return mgl32.Mat4ToQuat(m.Mat4()).Normalize()
}

// Inverse returns the inverse of the affine transform.
// Returns identity if the matrix is singular.
func (m Mat34) Inverse() Mat34 {
	c00 := m[5]*m[10] - m[6]*m[9]
	c01 := m[6]*m[8] - m[4]*m[10]
	c02 := m[4]*m[9] - m[5]*m[8]

	det := m[0]*c00 + m[1]*c01 + m[2]*c02
	if det == 0 {
		return Identity34()
	}
	inv := 1 / det

	var r Mat34
	r[0] = c00 * inv
	r[1] = (m[2]*m[9] - m[1]*m[10]) * inv
	r[2] = (m[1]*m[6] - m[2]*m[5]) * inv
	r[4] = c01 * inv
	r[5] = (m[0]*m[10] - m[2]*m[8]) * inv
	r[6] = (m[2]*m[4] - m[0]*m[6]) * inv
	r[8] = c02 * inv
	r[9] = (m[1]*m[8] - m[0]*m[9]) * inv
	r[10] = (m[0]*m[5] - m[1]*m[4]) * inv

	t := r.TransformDirection(m.Translation())
	r[3], r[7], r[11] = -t[0], -t[1], -t[2]
	return r
}

// ApproxEqual reports whether all elements differ by at most eps.
func (m Mat34) ApproxEqual(other Mat34, eps float32) bool {
	for i := range m {
		if math32.Abs(m[i]-other[i]) > eps {
			return false
		}
	}
	return true
}

// IsIdentity reports whether m is the identity within 1e-6.
func (m Mat34) IsIdentity() bool {
	return m.ApproxEqual(Identity34(), 1e-6)
}
