// Package skin cross-validates a GLM mesh against a GLA skeleton and
// computes skinned vertex positions.
package skin

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/Faultbox/g2tools/pkg/formats"
	"github.com/Faultbox/g2tools/pkg/math"
)

// WeightEpsilon is the tolerance on a vertex weight sum before it is
// renormalised.
const WeightEpsilon = 1e-5

// BindPose selects the bind pose in SkinMatrices and Pose.
const BindPose = -1

// Binding errors.
var (
	ErrUnresolvedBoneReference = errors.New("unresolved bone reference")
	ErrSkeletonMismatch        = errors.New("skeleton does not match mesh")
	ErrFrameOutOfRange         = errors.New("frame out of range")
	ErrMissingModel            = errors.New("mesh and skeleton are required")
)

// UnresolvedBoneError reports the first vertex whose bone index does not
// exist in the skeleton.
type UnresolvedBoneError struct {
	LOD         int
	Surface     int
	SurfaceName string
	Vertex      int
	Bone        int
	BoneCount   int
}

func (e *UnresolvedBoneError) Error() string {
	return fmt.Sprintf("%v: LOD %d surface %d (%s) vertex %d uses bone %d, skeleton has %d bones",
		ErrUnresolvedBoneReference, e.LOD, e.Surface, e.SurfaceName, e.Vertex, e.Bone, e.BoneCount)
}

func (e *UnresolvedBoneError) Unwrap() error {
	return ErrUnresolvedBoneReference
}

// Binding is a mesh validated against a skeleton, with normalised weights.
type Binding struct {
	Mesh     *formats.Mesh
	Skeleton *formats.Skeleton

	weights    [][][][]formats.BoneWeight // LOD, surface, vertex
	normalized int
}

// Bind checks every vertex bone index of every LOD against the skeleton.
// A default skeleton only rejects negative indices and skins with identity
// matrices.
func Bind(m *formats.Mesh, sk *formats.Skeleton) (*Binding, error) {
	if m == nil || sk == nil {
		return nil, ErrMissingModel
	}

	// The default skeleton accepts any non-negative bone index.
	boneCount := sk.BoneCount()
	for l, lod := range m.LODs {
		for s, sd := range lod.Surfaces {
			for v, vert := range sd.Vertices {
				for _, w := range vert.Weights {
					if w.Bone >= 0 && (sk.IsDefault || w.Bone < boneCount) {
						continue
					}
					name := ""
					if s < len(m.Surfaces) {
						name = m.Surfaces[s].Name
					}
					return nil, &UnresolvedBoneError{
						LOD:         l,
						Surface:     s,
						SurfaceName: name,
						Vertex:      v,
						Bone:        w.Bone,
						BoneCount:   boneCount,
					}
				}
			}
		}
	}
	if !sk.IsDefault && m.BoneCount != boneCount {
		return nil, fmt.Errorf("%w: mesh expects %d bones, skeleton %q has %d",
			ErrSkeletonMismatch, m.BoneCount, sk.Name, boneCount)
	}

	b := &Binding{
		Mesh:     m,
		Skeleton: sk,
		weights:  make([][][][]formats.BoneWeight, len(m.LODs)),
	}
	for l, lod := range m.LODs {
		b.weights[l] = make([][][]formats.BoneWeight, len(lod.Surfaces))
		for s, sd := range lod.Surfaces {
			surf := make([][]formats.BoneWeight, len(sd.Vertices))
			for v := range sd.Vertices {
				w, changed := normalize(sd.Vertices[v].Weights)
				if changed {
					b.normalized++
				}
				surf[v] = w
			}
			b.weights[l][s] = surf
		}
	}
	return b, nil
}

// normalize returns weights summing to 1. Stored weights are returned
// unchanged when already within WeightEpsilon.
func normalize(weights []formats.BoneWeight) ([]formats.BoneWeight, bool) {
	if len(weights) == 0 {
		return weights, false
	}
	var sum float32
	for _, w := range weights {
		sum += w.Weight
	}
	if math32.Abs(sum-1) <= WeightEpsilon {
		return weights, false
	}

	out := make([]formats.BoneWeight, len(weights))
	for i, w := range weights {
		out[i].Bone = w.Bone
		if sum == 0 {
			out[i].Weight = 1 / float32(len(weights))
		} else {
			out[i].Weight = w.Weight / sum
		}
	}
	return out, true
}

// Weights returns the normalised weights of one vertex.
func (b *Binding) Weights(lod, surface, vertex int) []formats.BoneWeight {
	return b.weights[lod][surface][vertex]
}

// NormalizedCount returns how many vertices needed renormalisation.
func (b *Binding) NormalizedCount() int {
	return b.normalized
}

// SkinMatrices returns one skinning matrix per bone for a frame:
// frame transform times inverse bind pose. BindPose yields identities.
func (b *Binding) SkinMatrices(frame int) ([]math.Mat34, error) {
	sk := b.Skeleton
	count := sk.BoneCount()
	if sk.IsDefault {
		count = b.Mesh.MaxBoneIndex() + 1
	}
	if frame != BindPose && (frame < 0 || frame >= sk.FrameCount()) {
		return nil, fmt.Errorf("%w: frame %d, skeleton has %d", ErrFrameOutOfRange, frame, sk.FrameCount())
	}

	mats := make([]math.Mat34, count)
	for i := range mats {
		if frame == BindPose || sk.IsDefault {
			mats[i] = math.Identity34()
			continue
		}
		bone := &sk.Bones[i]
		mats[i] = bone.Frames[frame].Mat34().Mul(bone.BasePoseInv)
	}
	return mats, nil
}
