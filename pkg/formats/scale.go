package formats

import "github.com/Faultbox/g2tools/pkg/math"

// Scale multiplies every vertex position of every LOD by f.
func (m *Mesh) Scale(f float32) {
	for l := range m.LODs {
		for s := range m.LODs[l].Surfaces {
			verts := m.LODs[l].Surfaces[s].Vertices
			for v := range verts {
				verts[v].Position = verts[v].Position.Mul(f)
			}
		}
	}
}

// Scale multiplies bind pose and frame translations by f. Rotations are
// unchanged, so the result stays rigid.
func (sk *Skeleton) Scale(f float32) {
	for i := range sk.Bones {
		b := &sk.Bones[i]
		b.BasePose = scaleTranslation(b.BasePose, f)
		b.BasePoseInv = b.BasePose.Inverse()
		for k := range b.Frames {
			b.Frames[k].Translation = b.Frames[k].Translation.Mul(f)
		}
	}
}

func scaleTranslation(m math.Mat34, f float32) math.Mat34 {
	m[3] *= f
	m[7] *= f
	m[11] *= f
	return m
}
