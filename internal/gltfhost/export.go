package gltfhost

import (
	"fmt"
	"path"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"go.uber.org/zap"

	"github.com/Faultbox/g2tools/internal/scene"
	"github.com/Faultbox/g2tools/pkg/formats"
	"github.com/Faultbox/g2tools/pkg/math"
	"github.com/Faultbox/g2tools/pkg/skin"
)

// boneExtras carries bone data glTF has no place for.
type boneExtras struct {
	Flags uint32 `json:"g2_flags"`
}

// skinExtras carries skeleton-wide data.
type skinExtras struct {
	Name      string  `json:"g2_name"`
	AnimScale float32 `json:"g2_anim_scale"`
	FrameRate float32 `json:"g2_frame_rate"`
}

// surfaceExtras marks a node as one surface of one LOD.
type surfaceExtras struct {
	Surface     *int   `json:"g2_surface"`
	LOD         int    `json:"g2_lod"`
	Name        string `json:"g2_name"`
	Flags       uint32 `json:"g2_flags"`
	ShaderIndex int    `json:"g2_shader_index"`
}

const defaultFrameRate = 20

// setLocal stores a Y-up rigid transform as node TRS.
func setLocal(n *gltf.Node, m math.Mat34) {
	t := m.Translation()
	q := m.Rotation()
	n.Translation = [3]float32{t[0], t[1], t[2]}
	n.Rotation = [4]float32{q.V[0], q.V[1], q.V[2], q.W}
}

// bindLocal returns bone i's bind pose relative to its parent, Y-up.
func bindLocal(sk *formats.Skeleton, i int) math.Mat34 {
	b := &sk.Bones[i]
	local := b.BasePose
	if b.Parent >= 0 {
		local = sk.Bones[b.Parent].BasePoseInv.Mul(b.BasePose)
	}
	return math.ChangeBasis(local, math.ZUpToYUp())
}

// frameLocal returns bone i at frame f relative to its parent, Y-up.
func frameLocal(sk *formats.Skeleton, i, f int) math.Mat34 {
	b := &sk.Bones[i]
	local := b.Frames[f].Mat34()
	if b.Parent >= 0 {
		local = sk.Bones[b.Parent].Frames[f].Mat34().Inverse().Mul(local)
	}
	return math.ChangeBasis(local, math.ZUpToYUp())
}

// CreateBoneObjects adds one node per bone under the scene root, a skin
// binding them, and an animation when the skeleton has frames. The default
// skeleton creates nothing.
func (h *Host) CreateBoneObjects(sk *formats.Skeleton) (map[string]scene.Handle, error) {
	root, err := h.rootNode()
	if err != nil {
		return nil, err
	}
	out := make(map[string]scene.Handle, sk.BoneCount())
	h.joints, h.skin = nil, nil
	if sk.IsDefault || sk.BoneCount() == 0 {
		return out, nil
	}

	h.joints = make([]uint32, len(sk.Bones))
	for i := range sk.Bones {
		b := &sk.Bones[i]
		n := newNode(b.Name)
		n.Extras = boneExtras{Flags: b.Flags}
		setLocal(n, bindLocal(sk, i))
		h.joints[i] = uint32(h.addNode(n))
		out[b.Name] = scene.Handle(h.joints[i])
	}
	for i, b := range sk.Bones {
		parent := root
		if b.Parent >= 0 {
			parent = int(h.joints[b.Parent])
		}
		h.addChild(parent, int(h.joints[i]))
	}

	ibm := make([]float32, 0, 16*len(sk.Bones))
	for _, b := range sk.Bones {
		m := math.ChangeBasis(b.BasePoseInv, math.ZUpToYUp()).Mat4()
		ibm = append(ibm, m[:]...)
	}
	s := &gltf.Skin{
		Name:                path.Base(sk.Name),
		InverseBindMatrices: index(int(h.floatAccessor(ibm, gltf.AccessorMat4, 0))),
		Joints:              h.joints,
		Extras:              skinExtras{Name: sk.Name, AnimScale: sk.AnimScale, FrameRate: sk.FrameRate},
	}
	for i, b := range sk.Bones {
		if b.Parent < 0 {
			s.Skeleton = index(int(h.joints[i]))
			break
		}
	}
	h.doc.Skins = append(h.doc.Skins, s)
	h.skin = index(len(h.doc.Skins) - 1)

	if sk.HasAnimation() {
		h.addAnimation(sk)
	}
	h.log.Debug("created armature",
		zap.Int("bones", len(sk.Bones)),
		zap.Int("frames", sk.FrameCount()))
	return out, nil
}

func (h *Host) addAnimation(sk *formats.Skeleton) {
	rate := sk.FrameRate
	if rate <= 0 {
		rate = defaultFrameRate
	}
	frames := sk.FrameCount()
	times := make([]float32, frames)
	for f := range times {
		times[f] = float32(f) / rate
	}
	input := h.timeAccessor(times)

	anim := &gltf.Animation{Name: path.Base(sk.Name)}
	for i := range sk.Bones {
		trans := make([]float32, 0, 3*frames)
		rots := make([]float32, 0, 4*frames)
		for f := 0; f < frames; f++ {
			m := frameLocal(sk, i, f)
			t := m.Translation()
			q := m.Rotation()
			trans = append(trans, t[0], t[1], t[2])
			rots = append(rots, q.V[0], q.V[1], q.V[2], q.W)
		}
		for _, ch := range []struct {
			path gltf.TRSProperty
			out  uint32
		}{
			{gltf.TRSTranslation, h.floatAccessor(trans, gltf.AccessorVec3, 0)},
			{gltf.TRSRotation, h.floatAccessor(rots, gltf.AccessorVec4, 0)},
		} {
			anim.Samplers = append(anim.Samplers, &gltf.AnimationSampler{
				Input:         index(int(input)),
				Interpolation: gltf.InterpolationLinear,
				Output:        index(int(ch.out)),
			})
			anim.Channels = append(anim.Channels, &gltf.Channel{
				Sampler: index(len(anim.Samplers) - 1),
				Target:  gltf.ChannelTarget{Node: index(int(h.joints[i])), Path: ch.path},
			})
		}
	}
	h.doc.Animations = append(h.doc.Animations, anim)
}

func (h *Host) material(shader string) *uint32 {
	if shader == "" {
		return nil
	}
	if i, ok := h.materials[shader]; ok {
		return index(int(i))
	}
	h.doc.Materials = append(h.doc.Materials, &gltf.Material{Name: shader, DoubleSided: true})
	i := uint32(len(h.doc.Materials) - 1)
	h.materials[shader] = i
	return index(int(i))
}

// CreateMeshObjects adds one node tree per LOD mirroring the surface
// hierarchy. Surface nodes are named <surface>_<lod>; the tree of LOD l is
// rooted at model_root_<l> for a conventional model.
func (h *Host) CreateMeshObjects(m *formats.Mesh, b *skin.Binding) ([]scene.Handle, error) {
	root, err := h.rootNode()
	if err != nil {
		return nil, err
	}
	if b != nil && !b.Skeleton.IsDefault && h.skin == nil {
		return nil, fmt.Errorf("%w: bones must be created before surfaces", ErrNoArmature)
	}

	var out []scene.Handle
	for l, lod := range m.LODs {
		nodes := make([]int, len(m.Surfaces))
		for s := range m.Surfaces {
			surf := &m.Surfaces[s]
			n := newNode(fmt.Sprintf("%s_%d", surf.Name, l))
			si := s
			n.Extras = surfaceExtras{
				Surface:     &si,
				LOD:         l,
				Name:        surf.Name,
				Flags:       surf.Flags,
				ShaderIndex: surf.ShaderIndex,
			}
			if s < len(lod.Surfaces) && len(lod.Surfaces[s].Vertices) > 0 {
				n.Mesh = index(h.addSurfaceMesh(m, b, l, s))
				n.Skin = h.skin
			}
			nodes[s] = h.addNode(n)
			out = append(out, scene.Handle(nodes[s]))
		}
		for s, surf := range m.Surfaces {
			parent := root
			if surf.Parent >= 0 && surf.Parent < len(nodes) {
				parent = nodes[surf.Parent]
			}
			h.addChild(parent, nodes[s])
		}
	}
	h.log.Debug("created surfaces",
		zap.Int("lods", len(m.LODs)),
		zap.Int("surfaces", len(m.Surfaces)))
	return out, nil
}

func (h *Host) addSurfaceMesh(m *formats.Mesh, b *skin.Binding, l, s int) int {
	sd := &m.LODs[l].Surfaces[s]
	n := len(sd.Vertices)
	pos := make([]mgl32.Vec3, n)
	nrm := make([]mgl32.Vec3, n)
	uv := make([]float32, 0, 2*n)
	joints := make([][4]uint16, n)
	weights := make([]float32, 0, 4*n)
	for v := range sd.Vertices {
		vert := &sd.Vertices[v]
		pos[v] = math.ToYUp(vert.Position)
		nrm[v] = math.ToYUp(vert.Normal)
		uv = append(uv, vert.TexCoord[0], vert.TexCoord[1])

		ws := vert.Weights
		if b != nil {
			ws = b.Weights(l, s, v)
		}
		var w [4]float32
		for k := 0; k < len(ws) && k < formats.MaxWeights; k++ {
			if ws[k].Bone < 0 || ws[k].Bone > 0xFFFF {
				continue
			}
			joints[v][k] = uint16(ws[k].Bone)
			w[k] = ws[k].Weight
		}
		weights = append(weights, w[:]...)
	}

	prim := &gltf.Primitive{
		Attributes: gltf.Attribute{
			"POSITION":   h.vec3Accessor(pos, true),
			"NORMAL":     h.vec3Accessor(nrm, false),
			"TEXCOORD_0": h.floatAccessor(uv, gltf.AccessorVec2, gltf.TargetArrayBuffer),
			"JOINTS_0":   h.jointsAccessor(joints),
			"WEIGHTS_0":  h.floatAccessor(weights, gltf.AccessorVec4, gltf.TargetArrayBuffer),
		},
		Material: h.material(m.Surfaces[s].Shader),
		Mode:     gltf.PrimitiveTriangles,
	}
	if len(sd.Triangles) > 0 {
		idx := make([]uint32, 0, 3*len(sd.Triangles))
		for _, t := range sd.Triangles {
			idx = append(idx, uint32(t[0]), uint32(t[1]), uint32(t[2]))
		}
		prim.Indices = index(int(h.indexAccessor(idx)))
	} else {
		prim.Mode = gltf.PrimitivePoints
	}

	h.doc.Meshes = append(h.doc.Meshes, &gltf.Mesh{
		Name:       fmt.Sprintf("%s_%d", m.Surfaces[s].Name, l),
		Primitives: []*gltf.Primitive{prim},
	})
	return len(h.doc.Meshes) - 1
}
