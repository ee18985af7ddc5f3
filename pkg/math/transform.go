package math

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// CompressedBoneSize is the on-disk size of a CompressedBone.
const CompressedBoneSize = 14

// Quantisation constants for compressed bones.
const (
	quatScale  = 16383.0
	quatBias   = 2.0
	transScale = 64.0
	transBias  = 512.0
)

// Transform is a rigid bone transform: rotation followed by translation.
type Transform struct {
	Rotation    mgl32.Quat
	Translation mgl32.Vec3
}

// IdentityTransform returns a transform with no rotation or translation.
func IdentityTransform() Transform {
	return Transform{Rotation: mgl32.QuatIdent()}
}

// Mat34 returns the transform as a matrix.
func (t Transform) Mat34() Mat34 {
	return FromRotationTranslation(t.Rotation, t.Translation)
}

// TransformFromMat34 decomposes a rigid matrix.
func TransformFromMat34(m Mat34) Transform {
	return Transform{Rotation: m.Rotation(), Translation: m.Translation()}
}

// CompressedBone is a 14-byte quantised transform: quaternion W, X, Y, Z
// then translation X, Y, Z, each as an unsigned 16-bit value.
type CompressedBone [7]uint16

// Compress quantises t. Quaternion components outside [-2, 2] and
// translations outside [-512, 512) are clamped; check Compressible first
// when that matters.
func Compress(t Transform) CompressedBone {
	q := t.Rotation
	return CompressedBone{
		quantize(q.W, quatBias, quatScale),
		quantize(q.V[0], quatBias, quatScale),
		quantize(q.V[1], quatBias, quatScale),
		quantize(q.V[2], quatBias, quatScale),
		quantize(t.Translation[0], transBias, transScale),
		quantize(t.Translation[1], transBias, transScale),
		quantize(t.Translation[2], transBias, transScale),
	}
}

// Compressible reports whether Compress stores t without clamping.
func Compressible(t Transform) bool {
	q := t.Rotation
	for _, v := range []float32{q.W, q.V[0], q.V[1], q.V[2]} {
		if !fits(v, quatBias, quatScale) {
			return false
		}
	}
	for _, v := range t.Translation {
		if !fits(v, transBias, transScale) {
			return false
		}
	}
	return true
}

// Transform expands the compressed bone.
func (c CompressedBone) Transform() Transform {
	return Transform{
		Rotation: mgl32.Quat{
			W: float32(c[0])/quatScale - quatBias,
			V: mgl32.Vec3{
				float32(c[1])/quatScale - quatBias,
				float32(c[2])/quatScale - quatBias,
				float32(c[3])/quatScale - quatBias,
			},
		},
		Translation: mgl32.Vec3{
			float32(c[4])/transScale - transBias,
			float32(c[5])/transScale - transBias,
			float32(c[6])/transScale - transBias,
		},
	}
}

// Quantize snaps t onto the compressed grid.
func Quantize(t Transform) Transform {
	return Compress(t).Transform()
}

func fits(v, bias, scale float32) bool {
	raw := math32.Floor((v+bias)*scale + 0.5)
	return raw >= 0 && raw <= 0xFFFF
}

func quantize(v, bias, scale float32) uint16 {
	raw := math32.Floor((v+bias)*scale + 0.5)
	switch {
	case raw < 0:
		return 0
	case raw > 0xFFFF:
		return 0xFFFF
	}
	return uint16(raw)
}
