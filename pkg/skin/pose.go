package skin

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/g2tools/pkg/math"
)

// SurfacePose holds the skinned vertices of one surface.
type SurfacePose struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Pose is a whole LOD skinned at one frame.
type Pose struct {
	Surfaces []SurfacePose
	Bounds   Bounds
}

// SkinVertex blends the skin matrices of a vertex's bones and applies
// them to its position and normal. Bones without a matrix in mats are
// skipped.
func (b *Binding) SkinVertex(lod, surface, vertex int, mats []math.Mat34) (mgl32.Vec3, mgl32.Vec3) {
	v := &b.Mesh.LODs[lod].Surfaces[surface].Vertices[vertex]

	var m math.Mat34
	for _, w := range b.weights[lod][surface][vertex] {
		if w.Bone < 0 || w.Bone >= len(mats) {
			continue
		}
		m = m.Add(mats[w.Bone].Scale(w.Weight))
	}

	pos := m.TransformPoint(v.Position)
	normal := m.TransformDirection(v.Normal)
	if normal.Len() > 1e-6 {
		normal = normal.Normalize()
	}
	return pos, normal
}

// Pose skins every vertex of a LOD at a frame.
func (b *Binding) Pose(lod, frame int) (*Pose, error) {
	mats, err := b.SkinMatrices(frame)
	if err != nil {
		return nil, err
	}

	surfaces := b.Mesh.LODs[lod].Surfaces
	p := &Pose{
		Surfaces: make([]SurfacePose, len(surfaces)),
		Bounds: Bounds{
			Min: mgl32.Vec3{1e10, 1e10, 1e10},
			Max: mgl32.Vec3{-1e10, -1e10, -1e10},
		},
	}
	empty := true
	for s, sd := range surfaces {
		sp := SurfacePose{
			Positions: make([]mgl32.Vec3, len(sd.Vertices)),
			Normals:   make([]mgl32.Vec3, len(sd.Vertices)),
		}
		for v := range sd.Vertices {
			pos, normal := b.SkinVertex(lod, s, v, mats)
			sp.Positions[v] = pos
			sp.Normals[v] = normal
			p.Bounds.extend(pos)
			empty = false
		}
		p.Surfaces[s] = sp
	}
	if empty {
		p.Bounds = Bounds{}
	}
	return p, nil
}

func (bb *Bounds) extend(p mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		bb.Min[i] = min(bb.Min[i], p[i])
		bb.Max[i] = max(bb.Max[i], p[i])
	}
}
