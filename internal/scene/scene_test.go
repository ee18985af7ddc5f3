package scene

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Faultbox/g2tools/internal/fsys"
	"github.com/Faultbox/g2tools/pkg/formats"
	"github.com/Faultbox/g2tools/pkg/math"
	"github.com/Faultbox/g2tools/pkg/skin"
)

// fakeHost records what the scene asks of it.
type fakeHost struct {
	root    Handle
	hasRoot bool
	linked  []Handle
	scales  map[Handle]float32

	bones    *formats.Skeleton
	mesh     *formats.Mesh
	binding  *skin.Binding
	objects  int
	extractM *formats.Mesh
	extractS *formats.Skeleton
}

func newFakeHost() *fakeHost {
	return &fakeHost{scales: map[Handle]float32{}}
}

func (h *fakeHost) CreateOrGetRootObject() (Handle, bool, error) {
	if h.hasRoot {
		return h.root, false, nil
	}
	h.objects++
	h.root, h.hasRoot = Handle(h.objects), true
	return h.root, true, nil
}

func (h *fakeHost) LinkObjectIntoScene(o Handle) error {
	h.linked = append(h.linked, o)
	return nil
}

func (h *fakeHost) ApplyUniformScale(o Handle, scale float32) error {
	h.scales[o] = scale
	return nil
}

func (h *fakeHost) CreateBoneObjects(sk *formats.Skeleton) (map[string]Handle, error) {
	h.bones = sk
	out := make(map[string]Handle, sk.BoneCount())
	for _, b := range sk.Bones {
		h.objects++
		out[b.Name] = Handle(h.objects)
	}
	return out, nil
}

func (h *fakeHost) CreateMeshObjects(m *formats.Mesh, b *skin.Binding) ([]Handle, error) {
	h.mesh, h.binding = m, b
	out := make([]Handle, len(m.Surfaces))
	for i := range out {
		h.objects++
		out[i] = Handle(h.objects)
	}
	return out, nil
}

func (h *fakeHost) ExtractSkeletonFromScene(Handle) (*formats.Skeleton, error) {
	if h.extractS == nil {
		return nil, errors.New("no armature")
	}
	return h.extractS.Clone()
}

func (h *fakeHost) ExtractMeshFromScene(Handle) (*formats.Mesh, error) {
	if h.extractM == nil {
		return nil, errors.New("no surfaces")
	}
	return h.extractM.Clone()
}

func (h *fakeHost) FindRootObject() (Handle, bool) {
	return h.root, h.hasRoot
}

// failingIO fails every call.
type failingIO struct{}

func (failingIO) ReadAllBytes(string) ([]byte, error) { return nil, errors.New("unexpected read") }
func (failingIO) WriteAllBytes(string, []byte) error  { return errors.New("unexpected write") }
func (failingIO) FindFile(string, string, []string) (string, bool) {
	return "", false
}
func (failingIO) AbsPath(rel, _ string) string { return rel }

func makeSkeleton() *formats.Skeleton {
	sk := &formats.Skeleton{Name: "models/players/_humanoid/_humanoid", AnimScale: 1, FrameRate: 20}
	poses := []math.Transform{
		math.IdentityTransform(),
		{Rotation: mgl32.QuatIdent(), Translation: mgl32.Vec3{0, 0, 40}},
		{Rotation: mgl32.QuatIdent(), Translation: mgl32.Vec3{0, 0, 48}},
	}
	for i, name := range []string{"model_root", "pelvis", "lower_lumbar"} {
		b := formats.NewBone(name, i-1, poses[i])
		b.Frames = []math.Transform{math.Quantize(poses[i]), math.Quantize(poses[i])}
		sk.Bones = append(sk.Bones, b)
	}
	return sk
}

func makeMesh() *formats.Mesh {
	weights := []formats.BoneWeight{{Bone: 1, Weight: 1}}
	return &formats.Mesh{
		Name:      "models/players/test/model.glm",
		AnimName:  "models/players/_humanoid/_humanoid",
		BoneCount: 3,
		Surfaces: []formats.Surface{
			{Name: "model_root", Parent: -1},
			{Name: "torso", Shader: "models/players/test/torso", Parent: 0},
		},
		LODs: []formats.LOD{{Surfaces: []formats.SurfaceData{
			{Vertices: []formats.Vertex{}, Triangles: []formats.Triangle{}, BoneReferences: []int{}},
			{
				Vertices: []formats.Vertex{
					{Position: mgl32.Vec3{0, 0, 40}, Normal: mgl32.Vec3{0, 0, 1}, Weights: weights},
					{Position: mgl32.Vec3{1, 0, 40}, Normal: mgl32.Vec3{0, 0, 1}, Weights: weights},
					{Position: mgl32.Vec3{0, 1, 40}, Normal: mgl32.Vec3{0, 0, 1}, Weights: weights},
				},
				Triangles:      []formats.Triangle{{0, 1, 2}},
				BoneReferences: []int{1},
			},
		}}},
	}
}

// newTestScene returns a scene over an in-memory file system holding the
// test model and skeleton under base/.
func newTestScene(t *testing.T, host Host) (*Scene, *fsys.FS) {
	t.Helper()
	memFS, err := mem.NewFS()
	require.NoError(t, err)
	files := fsys.New(memFS, 0)

	glm, err := formats.EncodeMesh(makeMesh())
	require.NoError(t, err)
	gla, err := formats.EncodeSkeleton(makeSkeleton())
	require.NoError(t, err)
	require.NoError(t, files.WriteAllBytes("base/models/players/test/model.glm", glm))
	require.NoError(t, files.WriteAllBytes("base/models/players/_humanoid/_humanoid.gla", gla))

	s := New("base", Deps{
		Host:     host,
		Resolver: files,
		IO:       files,
		Logger:   zaptest.NewLogger(t),
	})
	return s, files
}

func TestLoadFromFiles(t *testing.T) {
	s, _ := newTestScene(t, nil)

	require.NoError(t, s.LoadFromGLM("models/players/test/model"))
	assert.Equal(t, makeMesh(), s.Mesh)
	assert.Equal(t, "models/players/_humanoid/_humanoid", s.RequestedGLA())

	require.NoError(t, s.LoadFromGLA(s.RequestedGLA(), true))
	assert.Equal(t, makeSkeleton(), s.Skeleton)

	b, err := s.Bind()
	require.NoError(t, err)
	assert.Zero(t, b.NormalizedCount())
}

func TestLoadFromGLA_WithoutAnimations(t *testing.T) {
	s, _ := newTestScene(t, nil)

	require.NoError(t, s.LoadFromGLA("models/players/_humanoid/_humanoid", false))
	assert.Equal(t, 3, s.Skeleton.BoneCount())
	assert.False(t, s.Skeleton.HasAnimation())
}

func TestLoadFromGLA_Default(t *testing.T) {
	s := New("base", Deps{Resolver: failingIO{}, IO: failingIO{}})

	require.NoError(t, s.LoadFromGLA(formats.DefaultSkeletonName, true))
	assert.True(t, s.Skeleton.IsDefault)
	assert.Zero(t, s.Skeleton.BoneCount())
}

func TestLoad_NotFound(t *testing.T) {
	s, _ := newTestScene(t, nil)

	err := s.LoadFromGLM("models/players/nobody/model")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	assert.Nil(t, s.Mesh)

	err = s.LoadFromGLA("models/players/nobody/nobody", true)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestLoad_DecodeError(t *testing.T) {
	s, files := newTestScene(t, nil)
	require.NoError(t, files.WriteAllBytes("base/broken.glm", []byte("2LGM not really")))

	err := s.LoadFromGLM("broken")
	assert.True(t, errors.Is(err, formats.ErrTruncatedData), "got %v", err)
}

func TestSaveToFiles(t *testing.T) {
	s, files := newTestScene(t, nil)
	require.NoError(t, s.LoadFromGLM("models/players/test/model"))
	require.NoError(t, s.LoadFromGLA("models/players/_humanoid/_humanoid", true))

	require.NoError(t, s.SaveToGLM("out/model"))
	require.NoError(t, s.SaveToGLA("out/anims.gla"))

	data, err := files.ReadAllBytes("base/out/model.glm")
	require.NoError(t, err)
	m, err := formats.DecodeMesh(data)
	require.NoError(t, err)
	assert.Equal(t, s.Mesh, m)

	data, err = files.ReadAllBytes("base/out/anims.gla")
	require.NoError(t, err)
	sk, err := formats.DecodeSkeleton(data)
	require.NoError(t, err)
	assert.Equal(t, s.Skeleton, sk)
}

func TestSave_Errors(t *testing.T) {
	s, files := newTestScene(t, nil)

	assert.ErrorIs(t, s.SaveToGLM("out/model"), ErrNoMesh)
	assert.ErrorIs(t, s.SaveToGLA("out/anims"), ErrNoSkeleton)

	require.NoError(t, s.LoadFromGLA(formats.DefaultSkeletonName, false))
	assert.ErrorIs(t, s.SaveToGLA("out/anims"), formats.ErrDefaultSkeleton)

	// An invalid model must not leave a file behind.
	s.Mesh = makeMesh()
	s.Mesh.LODs[0].Surfaces[1].Triangles[0][2] = 9
	assert.ErrorIs(t, s.SaveToGLM("out/model"), formats.ErrInvalidTriangle)
	assert.False(t, files.Exists("base/out/model.glm"))
}

func TestSaveToHost_NewRoot(t *testing.T) {
	host := newFakeHost()
	s, _ := newTestScene(t, host)
	require.NoError(t, s.LoadFromGLM("models/players/test/model"))
	require.NoError(t, s.LoadFromGLA("models/players/_humanoid/_humanoid", true))

	require.NoError(t, s.SaveToHost(0.5))

	assert.True(t, host.hasRoot)
	assert.Equal(t, float32(0.5), host.scales[host.root])
	assert.Equal(t, []Handle{host.root}, host.linked)
	assert.Same(t, s.Skeleton, host.bones)
	assert.Same(t, s.Mesh, host.mesh)
	require.NotNil(t, host.binding)
	assert.Equal(t, float32(0.5), s.Scale)
}

func TestSaveToHost_ExistingRootKeepsScale(t *testing.T) {
	host := newFakeHost()
	host.root, host.hasRoot = 7, true
	s, _ := newTestScene(t, host)
	require.NoError(t, s.LoadFromGLA(formats.DefaultSkeletonName, false))

	require.NoError(t, s.SaveToHost(2))

	assert.Empty(t, host.scales)
	assert.Equal(t, []Handle{7}, host.linked)
	assert.Nil(t, host.mesh, "no mesh loaded")
	assert.Equal(t, float32(1), s.Scale)
}

func TestSaveToHost_UnresolvedBone(t *testing.T) {
	host := newFakeHost()
	s, _ := newTestScene(t, host)
	s.Mesh = makeMesh()
	s.Mesh.LODs[0].Surfaces[1].Vertices[2].Weights = []formats.BoneWeight{{Bone: 5, Weight: 1}}
	s.Skeleton = makeSkeleton()

	err := s.SaveToHost(1)
	require.ErrorIs(t, err, skin.ErrUnresolvedBoneReference)

	var ube *skin.UnresolvedBoneError
	require.ErrorAs(t, err, &ube)
	assert.Equal(t, 5, ube.Bone)
	assert.False(t, host.hasRoot, "nothing is created for an unbindable model")
}

func TestSaveToHost_Errors(t *testing.T) {
	s, _ := newTestScene(t, nil)
	assert.ErrorIs(t, s.SaveToHost(1), ErrNoHost)

	s, _ = newTestScene(t, newFakeHost())
	assert.ErrorIs(t, s.SaveToHost(1), ErrNoSkeleton)
}

func TestLoadFromHost(t *testing.T) {
	host := newFakeHost()
	s, _ := newTestScene(t, host)

	assert.ErrorIs(t, s.LoadModelFromHost("models/x/model", "models/x/anims"), ErrNoRoot)
	assert.ErrorIs(t, s.LoadSkeletonFromHost("models/x/anims"), ErrNoRoot)

	host.root, host.hasRoot = 1, true
	host.extractS = makeSkeleton()
	extracted := makeMesh()
	extracted.BoneCount = 0
	host.extractM = extracted

	require.NoError(t, s.LoadSkeletonFromHost("models/x/anims"))
	assert.Equal(t, "models/x/anims", s.Skeleton.Name)
	assert.Equal(t, 3, s.Skeleton.BoneCount())

	require.NoError(t, s.LoadModelFromHost("models/x/model", "models/x/anims"))
	assert.Equal(t, "models/x/model", s.Mesh.Name)
	assert.Equal(t, "models/x/anims", s.RequestedGLA())
	assert.Equal(t, 3, s.Mesh.BoneCount, "bone count taken from the loaded skeleton")

	_, err := s.Bind()
	assert.NoError(t, err)
}

func TestLoadFromHost_NoHost(t *testing.T) {
	s, _ := newTestScene(t, nil)
	assert.ErrorIs(t, s.LoadModelFromHost("a", "b"), ErrNoHost)
}

func TestRequestedGLA_NoMesh(t *testing.T) {
	s, _ := newTestScene(t, nil)
	assert.Equal(t, "", s.RequestedGLA())
	_, err := s.Bind()
	assert.ErrorIs(t, err, ErrNoMesh)
}
