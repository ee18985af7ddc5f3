package math

import (
	gomath "math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func vecNear(a, b mgl32.Vec3, eps float32) bool {
	return a.ApproxEqualThreshold(b, eps)
}

func TestIdentity34(t *testing.T) {
	m := Identity34()
	if !m.IsIdentity() {
		t.Fatal("Identity34 is not identity")
	}
	p := mgl32.Vec3{1, 2, 3}
	if got := m.TransformPoint(p); got != p {
		t.Errorf("identity moved point to %v", got)
	}
}

func TestMat34_MulMatchesMat4(t *testing.T) {
	a := FromRotationTranslation(mgl32.QuatRotate(float32(gomath.Pi/3), mgl32.Vec3{0, 0, 1}), mgl32.Vec3{1, 2, 3})
	b := FromRotationTranslation(mgl32.QuatRotate(float32(gomath.Pi/5), mgl32.Vec3{1, 0, 0}), mgl32.Vec3{-4, 0, 2})

	got := a.Mul(b)
	want := FromMat4(a.Mat4().Mul4(b.Mat4()))
	if !got.ApproxEqual(want, 1e-5) {
		t.Errorf("Mul mismatch:\n got  %v\n want %v", got, want)
	}
}

func TestMat34_Inverse(t *testing.T) {
	m := FromRotationTranslation(mgl32.QuatRotate(0.7, mgl32.Vec3{1, 1, 0}.Normalize()), mgl32.Vec3{5, -3, 8})
	if !m.Mul(m.Inverse()).ApproxEqual(Identity34(), 1e-5) {
		t.Error("m * m^-1 is not identity")
	}
	if !m.Inverse().Mul(m).ApproxEqual(Identity34(), 1e-5) {
		t.Error("m^-1 * m is not identity")
	}

	var singular Mat34
	if !singular.Inverse().IsIdentity() {
		t.Error("singular matrix should invert to identity")
	}
}

func TestMat34_TransformPoint(t *testing.T) {
	// 90 degrees about Z: X -> Y
	m := FromRotationTranslation(mgl32.QuatRotate(float32(gomath.Pi/2), mgl32.Vec3{0, 0, 1}), mgl32.Vec3{0, 0, 10})

	got := m.TransformPoint(mgl32.Vec3{1, 0, 0})
	if !vecNear(got, mgl32.Vec3{0, 1, 10}, 1e-5) {
		t.Errorf("TransformPoint = %v, want (0,1,10)", got)
	}
	dir := m.TransformDirection(mgl32.Vec3{1, 0, 0})
	if !vecNear(dir, mgl32.Vec3{0, 1, 0}, 1e-5) {
		t.Errorf("TransformDirection = %v, want (0,1,0)", dir)
	}
}

func TestMat34_RotationRoundTrip(t *testing.T) {
	q := mgl32.QuatRotate(1.1, mgl32.Vec3{0, 1, 1}.Normalize())
	m := FromRotationTranslation(q, mgl32.Vec3{})
	back := FromRotationTranslation(m.Rotation(), mgl32.Vec3{})
	if !m.ApproxEqual(back, 1e-5) {
		t.Errorf("rotation did not survive decomposition")
	}
}

func TestMat34_AddScale(t *testing.T) {
	a := Identity34()
	blend := a.Scale(0.25).Add(a.Scale(0.75))
	if !blend.ApproxEqual(Identity34(), 1e-6) {
		t.Errorf("blend of identities = %v", blend)
	}
}

func TestBasisConversion(t *testing.T) {
	up := mgl32.Vec3{0, 0, 1}
	if got := ToYUp(up); got != (mgl32.Vec3{0, 1, 0}) {
		t.Errorf("ToYUp(Z) = %v, want Y", got)
	}
	p := mgl32.Vec3{1, 2, 3}
	if got := ToZUp(ToYUp(p)); got != p {
		t.Errorf("basis round trip = %v, want %v", got, p)
	}
	if got := ZUpToYUp().TransformPoint(p); got != ToYUp(p) {
		t.Errorf("matrix and vector conversions disagree: %v vs %v", got, ToYUp(p))
	}
	if !ZUpToYUp().Mul(YUpToZUp()).IsIdentity() {
		t.Error("basis matrices are not inverses")
	}

	m := FromRotationTranslation(mgl32.QuatRotate(0.4, mgl32.Vec3{0, 0, 1}), mgl32.Vec3{1, 2, 3})
	converted := ChangeBasis(m, ZUpToYUp())
	want := ToYUp(m.TransformPoint(p))
	if got := converted.TransformPoint(ToYUp(p)); !vecNear(got, want, 1e-5) {
		t.Errorf("ChangeBasis point = %v, want %v", got, want)
	}
}
