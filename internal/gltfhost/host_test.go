package gltfhost

import (
	"bytes"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Faultbox/g2tools/internal/scene"
	"github.com/Faultbox/g2tools/pkg/formats"
	"github.com/Faultbox/g2tools/pkg/math"
)

const eps = 1e-3

func pose(axis mgl32.Vec3, angle float32, t mgl32.Vec3) math.Transform {
	return math.Transform{Rotation: mgl32.QuatRotate(angle, axis), Translation: t}
}

func makeSkeleton() *formats.Skeleton {
	z := mgl32.Vec3{0, 0, 1}
	root := formats.NewBone("model_root", -1, math.IdentityTransform())
	pelvis := formats.NewBone("pelvis", 0, pose(z, 0, mgl32.Vec3{0, 0, 40}))
	pelvis.Flags = 1
	spine := formats.NewBone("lower_lumbar", 1, pose(z, 0.5, mgl32.Vec3{0, 2, 48}))

	root.Frames = []math.Transform{math.IdentityTransform(), math.IdentityTransform()}
	pelvis.Frames = []math.Transform{pose(z, 0, mgl32.Vec3{0, 0, 40}), pose(z, 0.25, mgl32.Vec3{1, 0, 40})}
	spine.Frames = []math.Transform{pose(z, 0.5, mgl32.Vec3{0, 2, 48}), pose(mgl32.Vec3{1, 0, 0}, -0.5, mgl32.Vec3{0, 2.5, 47})}

	return &formats.Skeleton{
		Name:      "models/players/_humanoid/_humanoid",
		AnimScale: 1,
		FrameRate: 20,
		Bones:     []formats.Bone{root, pelvis, spine},
	}
}

func quad(z float32, weights ...formats.BoneWeight) ([]formats.Vertex, []formats.Triangle) {
	corners := []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	verts := make([]formats.Vertex, len(corners))
	for i, c := range corners {
		verts[i] = formats.Vertex{
			Position: mgl32.Vec3{c[0], c[1] + 2, z},
			Normal:   mgl32.Vec3{0, -1, 0},
			TexCoord: c,
			Weights:  weights,
		}
	}
	return verts, []formats.Triangle{{0, 1, 2}, {0, 2, 3}}
}

func makeMesh() *formats.Mesh {
	m := &formats.Mesh{
		Name:      "models/players/test/model.glm",
		AnimName:  "models/players/_humanoid/_humanoid",
		BoneCount: 3,
		Surfaces: []formats.Surface{
			{Name: "model_root", Parent: -1},
			{Name: "torso", Shader: "models/players/test/torso", Parent: 0},
			{Name: "head", Shader: "models/players/test/head", ShaderIndex: 1, Parent: 1},
			{Name: "*r_hand", Flags: formats.SurfaceTag, Parent: 1},
		},
	}
	for l := 0; l < 2; l++ {
		z := float32(40 + l)
		torsoV, torsoT := quad(z, formats.BoneWeight{Bone: 1, Weight: 1})
		headV, headT := quad(z+10,
			formats.BoneWeight{Bone: 2, Weight: 0.75},
			formats.BoneWeight{Bone: 1, Weight: 0.25})
		tagV := []formats.Vertex{{
			Position: mgl32.Vec3{5, 0, 45},
			Normal:   mgl32.Vec3{1, 0, 0},
			Weights:  []formats.BoneWeight{{Bone: 2, Weight: 1}},
		}}
		m.LODs = append(m.LODs, formats.LOD{Surfaces: []formats.SurfaceData{
			{},
			{Vertices: torsoV, Triangles: torsoT},
			{Vertices: headV, Triangles: headT},
			{Vertices: tagV},
		}})
	}
	return m
}

// pushed returns a host holding the test model, written through a scene.
func pushed(t *testing.T, scale float32) *Host {
	t.Helper()
	h := New(zaptest.NewLogger(t))
	s := scene.New(".", scene.Deps{Host: h, Logger: zaptest.NewLogger(t)})
	s.Mesh = makeMesh()
	s.Skeleton = makeSkeleton()
	require.NoError(t, s.SaveToHost(scale))
	return h
}

// reloaded encodes h as GLB and decodes it again.
func reloaded(t *testing.T, h *Host) *Host {
	t.Helper()
	data, err := h.Bytes()
	require.NoError(t, err)
	require.Equal(t, "glTF", string(data[:4]))

	out, err := Decode(bytes.NewReader(data), zaptest.NewLogger(t))
	require.NoError(t, err)
	return out
}

func nodeByName(t *testing.T, doc *gltf.Document, name string) *gltf.Node {
	t.Helper()
	for _, n := range doc.Nodes {
		if n.Name == name {
			return n
		}
	}
	t.Fatalf("no node %q", name)
	return nil
}

func TestSaveToHost_Layout(t *testing.T) {
	h := pushed(t, 0.5)
	doc := h.Document()

	root, ok := h.FindRootObject()
	require.True(t, ok)
	assert.Equal(t, [3]float32{0.5, 0.5, 0.5}, doc.Nodes[root].Scale)
	assert.Contains(t, doc.Scenes[0].Nodes, uint32(root))

	for _, name := range []string{"model_root", "pelvis", "lower_lumbar", "model_root_0", "torso_0", "head_1", "*r_hand_1"} {
		nodeByName(t, doc, name)
	}

	require.Len(t, doc.Skins, 1)
	assert.Len(t, doc.Skins[0].Joints, 3)
	require.Len(t, doc.Animations, 1)
	assert.Len(t, doc.Animations[0].Channels, 6)

	// One material per distinct shader.
	assert.Len(t, doc.Materials, 2)

	torso := nodeByName(t, doc, "torso_0")
	require.NotNil(t, torso.Mesh)
	require.NotNil(t, torso.Skin)
	prim := doc.Meshes[*torso.Mesh].Primitives[0]
	for _, attr := range []string{"POSITION", "NORMAL", "TEXCOORD_0", "JOINTS_0", "WEIGHTS_0"} {
		assert.Contains(t, prim.Attributes, attr)
	}
	pos := doc.Accessors[prim.Attributes["POSITION"]]
	assert.Equal(t, uint32(4), pos.Count)
	// Z-up (x, y, z) is stored Y-up as (x, z, -y).
	assert.Equal(t, []float32{0, 40, -3}, pos.Min)
	assert.Equal(t, []float32{1, 40, -2}, pos.Max)

	// Surfaces without geometry get no mesh; tags without triangles are points.
	assert.Nil(t, nodeByName(t, doc, "model_root_0").Mesh)
	tag := nodeByName(t, doc, "*r_hand_0")
	require.NotNil(t, tag.Mesh)
	assert.Equal(t, gltf.PrimitivePoints, doc.Meshes[*tag.Mesh].Primitives[0].Mode)
}

func TestSaveToHost_ExistingRootKeepsScale(t *testing.T) {
	h := New(nil)
	root, created, err := h.CreateOrGetRootObject()
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, h.ApplyUniformScale(root, 2))

	s := scene.New(".", scene.Deps{Host: h})
	s.Skeleton = makeSkeleton()
	require.NoError(t, s.SaveToHost(0.25))

	assert.Equal(t, [3]float32{2, 2, 2}, h.Document().Nodes[root].Scale)
	again, created, err := h.CreateOrGetRootObject()
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, root, again)
}

func assertSkeleton(t *testing.T, want, got *formats.Skeleton) {
	t.Helper()
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.FrameRate, got.FrameRate)
	assert.Equal(t, want.AnimScale, got.AnimScale)
	require.Equal(t, want.BoneCount(), got.BoneCount())
	require.Equal(t, want.FrameCount(), got.FrameCount())
	for i := range want.Bones {
		wb, gb := &want.Bones[i], &got.Bones[i]
		assert.Equal(t, wb.Name, gb.Name)
		assert.Equal(t, wb.Parent, gb.Parent)
		assert.Equal(t, wb.Flags, gb.Flags)
		assert.True(t, wb.BasePose.ApproxEqual(gb.BasePose, eps), "bone %s base pose %v, want %v", wb.Name, gb.BasePose, wb.BasePose)
		assert.True(t, wb.BasePoseInv.ApproxEqual(gb.BasePoseInv, eps), "bone %s inverse", wb.Name)
		for f := range wb.Frames {
			w, g := wb.Frames[f].Mat34(), gb.Frames[f].Mat34()
			assert.True(t, w.ApproxEqual(g, eps), "bone %s frame %d: %v, want %v", wb.Name, f, g, w)
		}
	}
}

func assertMesh(t *testing.T, want, got *formats.Mesh) {
	t.Helper()
	assert.Equal(t, want.BoneCount, got.BoneCount)
	assert.Equal(t, want.Surfaces, got.Surfaces)
	require.Equal(t, len(want.LODs), len(got.LODs))
	for l := range want.LODs {
		for s := range want.Surfaces {
			ws, gs := want.LODs[l].Surfaces[s], got.LODs[l].Surfaces[s]
			assert.Equal(t, ws.Triangles, gs.Triangles, "lod %d surface %d", l, s)
			require.Len(t, gs.Vertices, len(ws.Vertices), "lod %d surface %d", l, s)
			for v := range ws.Vertices {
				wv, gv := ws.Vertices[v], gs.Vertices[v]
				assert.True(t, wv.Position.ApproxEqualThreshold(gv.Position, eps), "position %v, want %v", gv.Position, wv.Position)
				assert.True(t, wv.Normal.ApproxEqualThreshold(gv.Normal, eps))
				assert.Equal(t, wv.TexCoord, gv.TexCoord)
				assert.Equal(t, wv.Weights, gv.Weights)
			}
		}
	}
}

func TestRoundTrip_InMemory(t *testing.T) {
	h := pushed(t, 1)
	root, ok := h.FindRootObject()
	require.True(t, ok)

	sk, err := h.ExtractSkeletonFromScene(root)
	require.NoError(t, err)
	assertSkeleton(t, makeSkeleton(), sk)

	m, err := h.ExtractMeshFromScene(root)
	require.NoError(t, err)
	assertMesh(t, makeMesh(), m)
}

func TestRoundTrip_GLB(t *testing.T) {
	h := reloaded(t, pushed(t, 0.5))

	s := scene.New(".", scene.Deps{Host: h, Logger: zaptest.NewLogger(t)})
	require.NoError(t, s.LoadSkeletonFromHost("models/players/_humanoid/_humanoid"))
	require.NoError(t, s.LoadModelFromHost("models/players/test/model.glm", "models/players/_humanoid/_humanoid"))

	assertSkeleton(t, makeSkeleton(), s.Skeleton)
	assertMesh(t, makeMesh(), s.Mesh)
	assert.Equal(t, "models/players/_humanoid/_humanoid", s.RequestedGLA())

	// The extracted model encodes as GLM.
	_, err := formats.EncodeMesh(s.Mesh)
	assert.NoError(t, err)
	_, err = formats.EncodeSkeleton(s.Skeleton)
	assert.NoError(t, err)
}

func TestDefaultSkeleton(t *testing.T) {
	h := New(nil)
	s := scene.New(".", scene.Deps{Host: h})
	s.Mesh = makeMesh()
	s.Skeleton = formats.DefaultSkeleton()
	require.NoError(t, s.SaveToHost(1))

	doc := h.Document()
	assert.Empty(t, doc.Skins)
	assert.Empty(t, doc.Animations)
	assert.Nil(t, nodeByName(t, doc, "torso_0").Skin)

	root, _ := h.FindRootObject()
	_, err := h.ExtractSkeletonFromScene(root)
	assert.ErrorIs(t, err, ErrNoArmature)

	m, err := h.ExtractMeshFromScene(root)
	require.NoError(t, err)
	assert.Equal(t, 0, m.BoneCount)
	assert.Equal(t, makeMesh().LODs[0].Surfaces[2].Vertices[0].Weights, m.LODs[0].Surfaces[2].Vertices[0].Weights)
}

func TestExtractMesh_ForeignDocument(t *testing.T) {
	h := New(nil)
	root, _, err := h.CreateOrGetRootObject()
	require.NoError(t, err)

	pos := h.vec3Accessor([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, true)
	h.doc.Materials = append(h.doc.Materials, &gltf.Material{Name: "textures/crate"})
	h.doc.Meshes = append(h.doc.Meshes, &gltf.Mesh{Primitives: []*gltf.Primitive{{
		Attributes: gltf.Attribute{"POSITION": pos},
		Material:   index(0),
		Mode:       gltf.PrimitiveTriangles,
	}}})
	crate := newNode("crate")
	crate.Mesh = index(0)
	h.addChild(int(root), h.addNode(crate))

	m, err := h.ExtractMeshFromScene(root)
	require.NoError(t, err)
	require.Len(t, m.Surfaces, 2)
	assert.Equal(t, formats.Surface{Name: "model_root", Parent: -1}, m.Surfaces[0])
	assert.Equal(t, formats.Surface{Name: "crate", Shader: "textures/crate", Parent: 0}, m.Surfaces[1])

	sd := m.LODs[0].Surfaces[1]
	assert.Equal(t, []formats.Triangle{{0, 1, 2}}, sd.Triangles)
	require.Len(t, sd.Vertices, 3)
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, sd.Vertices[2].Position, "converted back to Z-up")
	assert.Equal(t, []formats.BoneWeight{{Bone: 0, Weight: 1}}, sd.Vertices[0].Weights)
	assert.NoError(t, m.ValidateSurfaceGraph())
}

func TestExtract_Errors(t *testing.T) {
	h := New(nil)
	root, _, err := h.CreateOrGetRootObject()
	require.NoError(t, err)

	_, err = h.ExtractMeshFromScene(root)
	assert.ErrorIs(t, err, ErrNoSurfaces)
	_, err = h.ExtractSkeletonFromScene(root)
	assert.ErrorIs(t, err, ErrNoArmature)
	_, err = h.ExtractMeshFromScene(99)
	assert.ErrorIs(t, err, ErrBadHandle)
	assert.ErrorIs(t, h.ApplyUniformScale(-1, 1), ErrBadHandle)
}

func TestCreateMesh_RequiresRootAndBones(t *testing.T) {
	h := New(nil)
	_, err := h.CreateBoneObjects(makeSkeleton())
	assert.ErrorIs(t, err, scene.ErrNoRoot)

	s := scene.New(".", scene.Deps{Host: h})
	s.Skeleton = makeSkeleton()
	s.Mesh = makeMesh()
	b, err := s.Bind()
	require.NoError(t, err)

	_, _, err = h.CreateOrGetRootObject()
	require.NoError(t, err)
	_, err = h.CreateMeshObjects(s.Mesh, b)
	assert.ErrorIs(t, err, ErrNoArmature)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not a gltf file")), nil)
	assert.Error(t, err)
}
