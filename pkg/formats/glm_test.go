package formats

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// GLM header field offsets.
const (
	glmOfsNumBones = 140
	glmOfsNumLODs  = 144
	glmOfsOfsLODs  = 148
	glmOfsNumSurfs = 152
	glmOfsOfsHier  = 156
)

// Surface header field offsets.
const (
	surfOfsNumTriangles = 20
	surfOfsOfsTriangles = 24
	surfOfsNumBoneRefs  = 28
	surfOfsOfsBoneRefs  = 32
)

// w returns a weight that lies exactly on the 10-bit grid.
func w(raw int) float32 {
	return float32(raw) / 1023
}

func quad(z float32, weights ...BoneWeight) ([]Vertex, []Triangle) {
	verts := []Vertex{
		{Position: mgl32.Vec3{0, 0, z}, Normal: mgl32.Vec3{0, 0, 1}, TexCoord: mgl32.Vec2{0, 0}, Weights: weights},
		{Position: mgl32.Vec3{1, 0, z}, Normal: mgl32.Vec3{0, 0, 1}, TexCoord: mgl32.Vec2{1, 0}, Weights: weights},
		{Position: mgl32.Vec3{1, 1, z}, Normal: mgl32.Vec3{0, 0, 1}, TexCoord: mgl32.Vec2{1, 1}, Weights: weights},
		{Position: mgl32.Vec3{0, 1, z}, Normal: mgl32.Vec3{0, 0, 1}, TexCoord: mgl32.Vec2{0, 1}, Weights: weights},
	}
	return verts, []Triangle{{0, 1, 2}, {0, 2, 3}}
}

// makeMesh builds a four-surface model with two LODs.
func makeMesh() *Mesh {
	m := &Mesh{
		Name:      "models/players/test/model.glm",
		AnimName:  "models/players/_humanoid/_humanoid",
		BoneCount: 3,
		Surfaces: []Surface{
			{Name: "model_root", Parent: -1},
			{Name: "torso", Shader: "models/players/test/torso", ShaderIndex: 0, Parent: 0},
			{Name: "head", Shader: "models/players/test/head", ShaderIndex: 0, Parent: 1},
			{Name: "*r_hand", Flags: SurfaceTag, Parent: 1},
		},
	}

	for l := 0; l < 2; l++ {
		z := float32(l)
		torsoV, torsoT := quad(z, BoneWeight{Bone: 1, Weight: w(1023)})
		headV, headT := quad(z+10,
			BoneWeight{Bone: 2, Weight: w(700)},
			BoneWeight{Bone: 1, Weight: w(256)},
			BoneWeight{Bone: 0, Weight: w(64)},
			BoneWeight{Bone: 1, Weight: w(3)},
		)
		tagV := []Vertex{{
			Position: mgl32.Vec3{5, 0, 0},
			Normal:   mgl32.Vec3{1, 0, 0},
			Weights:  []BoneWeight{{Bone: 2, Weight: 1}},
		}}
		m.LODs = append(m.LODs, LOD{Surfaces: []SurfaceData{
			{Vertices: []Vertex{}, Triangles: []Triangle{}, BoneReferences: []int{}},
			{Vertices: torsoV, Triangles: torsoT, BoneReferences: []int{1}},
			{Vertices: headV, Triangles: headT, BoneReferences: []int{2, 1, 0}},
			{Vertices: tagV, Triangles: []Triangle{}, BoneReferences: []int{2}},
		}})
	}
	return m
}

func mustEncodeMesh(t *testing.T, m *Mesh) []byte {
	t.Helper()
	data, err := EncodeMesh(m)
	require.NoError(t, err)
	return data
}

// surfaceOffset returns the absolute offset of surface i in LOD 0.
func surfaceOffset(data []byte, i int) int {
	table := int(getInt32(data, glmOfsOfsLODs)) + 4
	return table + int(getInt32(data, table+4*i))
}

func TestMesh_RoundTrip(t *testing.T) {
	m := makeMesh()
	data := mustEncodeMesh(t, m)

	got, err := DecodeMesh(data)
	require.NoError(t, err)

	assert.Equal(t, m, got)
	assert.Equal(t, "models/players/_humanoid/_humanoid", got.RequestedGLA())
	assert.Equal(t, 2, got.LODCount())
	assert.Equal(t, 9, got.VertexCount(0))
	assert.Equal(t, 4, got.TriangleCount(1))
	assert.True(t, got.Surfaces[3].IsTag())
	assert.False(t, got.Surfaces[1].IsOff())
}

func TestMesh_ByteExactReencode(t *testing.T) {
	data := mustEncodeMesh(t, makeMesh())

	m, err := DecodeMesh(data)
	require.NoError(t, err)
	again := mustEncodeMesh(t, m)

	if !bytes.Equal(data, again) {
		t.Fatalf("re-encoded mesh differs: %d vs %d bytes", len(data), len(again))
	}
}

func TestMesh_HeaderFields(t *testing.T) {
	data := mustEncodeMesh(t, makeMesh())

	if string(data[:4]) != GLMMagic {
		t.Errorf("magic = %q", data[:4])
	}
	if v := getInt32(data, 4); v != Version {
		t.Errorf("version = %d", v)
	}
	if n := getInt32(data, glmOfsNumBones); n != 3 {
		t.Errorf("numBones = %d, want 3", n)
	}
	if n := getInt32(data, glmOfsNumLODs); n != 2 {
		t.Errorf("numLODs = %d, want 2", n)
	}
	if n := getInt32(data, glmOfsNumSurfs); n != 4 {
		t.Errorf("numSurfaces = %d, want 4", n)
	}
	if off := getInt32(data, glmOfsOfsHier); off != glmHeaderSize {
		t.Errorf("ofsSurfHierarchy = %d, want %d", off, glmHeaderSize)
	}
}

func TestMesh_BuildsMissingBoneReferences(t *testing.T) {
	m := makeMesh()
	for l := range m.LODs {
		for s := range m.LODs[l].Surfaces {
			m.LODs[l].Surfaces[s].BoneReferences = nil
		}
	}

	got, err := DecodeMesh(mustEncodeMesh(t, m))
	require.NoError(t, err)

	// First-use order of the head surface weights.
	assert.Equal(t, []int{2, 1, 0}, got.LODs[0].Surfaces[2].BoneReferences)
	assert.Equal(t, []int{1}, got.LODs[1].Surfaces[1].BoneReferences)
	assert.Equal(t, m.LODs[0].Surfaces[2].Vertices, got.LODs[0].Surfaces[2].Vertices)
}

func TestBuildBoneReferences(t *testing.T) {
	sd := &SurfaceData{
		BoneReferences: []int{7},
		Vertices: []Vertex{
			{Weights: []BoneWeight{{Bone: 4, Weight: 1}}},
			{Weights: []BoneWeight{{Bone: 7, Weight: 0.5}, {Bone: 9, Weight: 0.5}}},
		},
	}
	refs, err := BuildBoneReferences(sd)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 4, 9}, refs)

	sd = &SurfaceData{}
	for i := 0; i <= MaxBoneReferences; i++ {
		sd.Vertices = append(sd.Vertices, Vertex{Weights: []BoneWeight{{Bone: i, Weight: 1}}})
	}
	if _, err := BuildBoneReferences(sd); !errors.Is(err, ErrTooManyBoneReferences) {
		t.Errorf("expected ErrTooManyBoneReferences, got %v", err)
	}
}

func TestDecodeMesh_DoesNotCheckBones(t *testing.T) {
	m := makeMesh()
	m.LODs[0].Surfaces[1].Vertices[0].Weights = []BoneWeight{{Bone: 5, Weight: 1}}
	m.LODs[0].Surfaces[1].BoneReferences = nil

	got, err := DecodeMesh(mustEncodeMesh(t, m))
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxBoneIndex())
	assert.Equal(t, 3, got.BoneCount)
}

func TestDecodeMesh_Errors(t *testing.T) {
	valid := mustEncodeMesh(t, makeMesh())

	tests := []struct {
		name    string
		mutate  func(b []byte) []byte
		wantErr error
	}{
		{"empty", func(b []byte) []byte { return nil }, ErrTruncatedData},
		{"short header", func(b []byte) []byte { return b[:glmHeaderSize-1] }, ErrTruncatedData},
		{"cut body", func(b []byte) []byte { return b[:len(b)-4] }, ErrTruncatedData},
		{"bad magic", func(b []byte) []byte { copy(b, "2LGA"); return b }, ErrBadMagic},
		{"wrong version", func(b []byte) []byte { putInt32(b, 4, 3); return b }, ErrUnsupportedVersion},
		{"too many LODs", func(b []byte) []byte { putInt32(b, glmOfsNumLODs, 1000); return b }, ErrLimitExceeded},
		{"LODs past end", func(b []byte) []byte { putInt32(b, glmOfsOfsLODs, int32(len(b)+1)); return b }, ErrOutOfRange},
		{"surface 0 not root", func(b []byte) []byte {
			hier := int(getInt32(b, glmOfsOfsHier))
			entry := hier + int(getInt32(b, hier))
			putInt32(b, entry+NameSize+4+NameSize+4, 1)
			return b
		}, ErrInvalidSurfaceGraph},
		{"triangle past vertices", func(b []byte) []byte {
			s := surfaceOffset(b, 1)
			putInt32(b, s+int(getInt32(b, s+surfOfsOfsTriangles)), 99)
			return b
		}, ErrInvalidTriangle},
		{"vertex past bone table", func(b []byte) []byte {
			putInt32(b, surfaceOffset(b, 1)+surfOfsNumBoneRefs, 0)
			return b
		}, ErrInvalidBoneRefTable},
		{"negative bone reference", func(b []byte) []byte {
			s := surfaceOffset(b, 1)
			putInt32(b, s+int(getInt32(b, s+surfOfsOfsBoneRefs)), -1)
			return b
		}, ErrInvalidBoneRefTable},
		{"shared surface data", func(b []byte) []byte {
			table := int(getInt32(b, glmOfsOfsLODs)) + 4
			putInt32(b, table+8, getInt32(b, table+4))
			return b
		}, ErrOutOfRange},
		{"negative triangle count", func(b []byte) []byte {
			putInt32(b, surfaceOffset(b, 1)+surfOfsNumTriangles, -2)
			return b
		}, ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(bytes.Clone(valid))
			_, err := DecodeMesh(data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDecodeMesh_ShortHeader(t *testing.T) {
	valid := mustEncodeMesh(t, makeMesh())
	for n := 0; n < glmHeaderSize; n++ {
		if _, err := DecodeMesh(valid[:n]); !errors.Is(err, ErrTruncatedData) {
			t.Fatalf("%d bytes: expected ErrTruncatedData, got %v", n, err)
		}
	}
}

func TestEncodeMesh_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Mesh)
		wantErr error
	}{
		{"no weights", func(m *Mesh) {
			m.LODs[0].Surfaces[1].Vertices[0].Weights = nil
		}, ErrInvalidWeights},
		{"five weights", func(m *Mesh) {
			m.LODs[0].Surfaces[1].Vertices[0].Weights = make([]BoneWeight, 5)
		}, ErrInvalidWeights},
		{"weight above one", func(m *Mesh) {
			m.LODs[0].Surfaces[1].Vertices[0].Weights[0].Weight = 1.5
		}, ErrInvalidWeights},
		{"negative bone", func(m *Mesh) {
			m.LODs[1].Surfaces[3].Vertices[0].Weights[0].Bone = -1
		}, ErrInvalidWeights},
		{"triangle index", func(m *Mesh) {
			m.LODs[0].Surfaces[1].Triangles[1][2] = 4
		}, ErrInvalidTriangle},
		{"surface cycle", func(m *Mesh) {
			m.Surfaces[1].Parent = 2
		}, ErrInvalidSurfaceGraph},
		{"surface 0 not root", func(m *Mesh) {
			m.Surfaces[0].Parent = 3
			m.Surfaces[3].Parent = -1
		}, ErrInvalidSurfaceGraph},
		{"LOD missing a surface", func(m *Mesh) {
			m.LODs[1].Surfaces = m.LODs[1].Surfaces[:3]
		}, ErrInvalidSurfaceGraph},
		{"too many bones", func(m *Mesh) {
			sd := &m.LODs[0].Surfaces[1]
			sd.BoneReferences = nil
			for i := 0; i < 33; i++ {
				sd.Vertices = append(sd.Vertices, Vertex{Weights: []BoneWeight{{Bone: i, Weight: 1}}})
			}
		}, ErrTooManyBoneReferences},
		{"long shader", func(m *Mesh) {
			m.Surfaces[2].Shader = string(bytes.Repeat([]byte{'s'}, 80))
		}, ErrStringTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := makeMesh()
			tt.mutate(m)
			_, err := EncodeMesh(m)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMesh_Lookups(t *testing.T) {
	m := makeMesh()

	assert.Equal(t, 2, m.SurfaceIndex("head"))
	assert.Equal(t, -1, m.SurfaceIndex("legs"))
	require.NotNil(t, m.SurfaceByName("torso"))
	assert.Equal(t, "models/players/test/torso", m.SurfaceByName("torso").Shader)
	assert.Nil(t, m.SurfaceByName("legs"))
	assert.Equal(t, []int{2, 3}, m.Children(1))
	assert.Equal(t, 2, m.MaxBoneIndex())
	assert.Zero(t, m.VertexCount(5))
}

func TestMesh_Clone(t *testing.T) {
	m := makeMesh()
	cp, err := m.Clone()
	require.NoError(t, err)

	cp.Surfaces[1].Name = "renamed"
	cp.LODs[0].Surfaces[1].Vertices[0].Position[0] = 42

	assert.Equal(t, "torso", m.Surfaces[1].Name)
	assert.Equal(t, float32(0), m.LODs[0].Surfaces[1].Vertices[0].Position[0])
}
