package math

import "github.com/go-gl/mathgl/mgl32"

// Ghoul2 data is Z-up. Interchange formats such as glTF are Y-up; the
// conversion is a -90 degree rotation about X: (x, y, z) -> (x, z, -y).
var zUpToYUp = Mat34{
	1, 0, 0, 0,
	0, 0, 1, 0,
	0, -1, 0, 0,
}

var yUpToZUp = Mat34{
	1, 0, 0, 0,
	0, 0, -1, 0,
	0, 1, 0, 0,
}

// ZUpToYUp returns the basis change from Ghoul2 to Y-up space.
func ZUpToYUp() Mat34 { return zUpToYUp }

// YUpToZUp returns the basis change from Y-up space to Ghoul2.
func YUpToZUp() Mat34 { return yUpToZUp }

// ToYUp converts a Ghoul2 point or direction to Y-up space.
func ToYUp(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{v[0], v[2], -v[1]}
}

// ToZUp converts a Y-up point or direction to Ghoul2 space.
func ToZUp(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{v[0], -v[2], v[1]}
}

// ChangeBasis re-expresses transform m in the basis b: b * m * b^-1.
func ChangeBasis(m, b Mat34) Mat34 {
	return b.Mul(m).Mul(b.Inverse())
}
