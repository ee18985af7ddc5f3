// GLM (Ghoul2 model) codec: surface hierarchy plus skinned geometry per LOD.
package formats

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/jinzhu/copier"

	"github.com/Faultbox/g2tools/pkg/binio"
)

// GLMMagic is the file signature of a GLM file.
const GLMMagic = "2LGM"

// Surface flags.
const (
	SurfaceOff uint32 = 0x1 // hidden by default
	SurfaceTag uint32 = 0x2 // attachment point, not rendered
)

// MaxBoneReferences is the per-surface bone table size addressable by a
// packed vertex.
const MaxBoneReferences = 32

// MaxWeights is the number of bone influences a vertex can carry.
const MaxWeights = 4

const (
	glmHeaderSize        = 164
	glmSurfaceHeaderSize = 40
	glmVertexSize        = 32
	glmTexCoordSize      = 8
	glmTriangleSize      = 12
	weightScale          = 1023
)

// glmHeader is the fixed GLM header as stored on disk.
type glmHeader struct {
	Magic            [4]byte
	Version          int32
	Name             [NameSize]byte
	AnimName         [NameSize]byte
	AnimIndex        int32
	NumBones         int32
	NumLODs          int32
	OfsLODs          int32
	NumSurfaces      int32
	OfsSurfHierarchy int32
	OfsEnd           int32
}

// glmHierarchyEntry is the fixed part of a surface hierarchy entry.
type glmHierarchyEntry struct {
	Name        [NameSize]byte
	Flags       uint32
	Shader      [NameSize]byte
	ShaderIndex int32
	Parent      int32
	NumChildren int32
}

// glmSurfaceHeader precedes each surface's geometry. Offsets are relative
// to the surface start.
type glmSurfaceHeader struct {
	Ident            int32
	ThisSurfaceIndex int32
	OfsHeader        int32
	NumVerts         int32
	OfsVerts         int32
	NumTriangles     int32
	OfsTriangles     int32
	NumBoneRefs      int32
	OfsBoneRefs      int32
	OfsEnd           int32
}

// glmVertex is a stored vertex. Texture coordinates follow the vertex array.
type glmVertex struct {
	Normal    mgl32.Vec3
	Position  mgl32.Vec3
	Packed    uint32
	WeightLow [MaxWeights]uint8
}

// BoneWeight is one bone influence. Bone is a skeleton bone index.
type BoneWeight struct {
	Bone   int
	Weight float32
}

// Vertex is a skinned vertex.
type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	TexCoord mgl32.Vec2
	Weights  []BoneWeight
}

// Triangle holds three vertex indices into the owning surface.
type Triangle [3]int

// Surface is a surface hierarchy entry, shared by all LODs.
type Surface struct {
	Name        string
	Flags       uint32
	Shader      string
	ShaderIndex int
	Parent      int // -1 for a root
}

// IsTag returns true for attachment-point surfaces.
func (s *Surface) IsTag() bool { return s.Flags&SurfaceTag != 0 }

// IsOff returns true for surfaces hidden by default.
func (s *Surface) IsOff() bool { return s.Flags&SurfaceOff != 0 }

// SurfaceData is the geometry of one surface at one LOD.
type SurfaceData struct {
	Vertices  []Vertex
	Triangles []Triangle
	// BoneReferences is the surface-local bone table. When nil the encoder
	// builds it from the vertex weights.
	BoneReferences []int
}

// LOD holds one SurfaceData per hierarchy entry.
type LOD struct {
	Surfaces []SurfaceData
}

// Mesh is a decoded GLM.
type Mesh struct {
	Name      string
	AnimName  string // GLA the model was built against, as stored
	AnimIndex int
	BoneCount int
	Surfaces  []Surface
	LODs      []LOD
}

// DecodeMesh parses GLM data using DefaultLimits.
func DecodeMesh(data []byte) (*Mesh, error) {
	return DecodeMeshWithLimits(data, DefaultLimits())
}

// DecodeMeshWithLimits parses GLM data. Vertex bone indices are resolved
// to skeleton indices but not checked against any skeleton.
func DecodeMeshWithLimits(data []byte, lim Limits) (*Mesh, error) {
	if err := lim.checkInput(len(data)); err != nil {
		return nil, err
	}
	if len(data) < glmHeaderSize {
		return nil, fmt.Errorf("%w: GLM header needs %d bytes, have %d", ErrTruncatedData, glmHeaderSize, len(data))
	}

	c := binio.NewReader(data)
	h, err := binio.ReadFixed[glmHeader](c)
	if err != nil {
		return nil, fmt.Errorf("reading GLM header: %w", err)
	}
	if string(h.Magic[:]) != GLMMagic {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrBadMagic, GLMMagic, h.Magic[:])
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: GLM version %d, want %d", ErrUnsupportedVersion, h.Version, Version)
	}
	if int(h.OfsEnd) > len(data) {
		return nil, fmt.Errorf("%w: GLM declares %d bytes, have %d", ErrTruncatedData, h.OfsEnd, len(data))
	}
	if err := checkCount("surface", h.NumSurfaces, lim.MaxSurfaces); err != nil {
		return nil, err
	}
	if err := checkCount("LOD", h.NumLODs, lim.MaxLODs); err != nil {
		return nil, err
	}
	if err := checkCount("bone", h.NumBones, lim.MaxBones); err != nil {
		return nil, err
	}

	m := &Mesh{
		AnimIndex: int(h.AnimIndex),
		BoneCount: int(h.NumBones),
	}
	if m.Name, err = nameField(h.Name); err != nil {
		return nil, fmt.Errorf("GLM name: %w", err)
	}
	if m.AnimName, err = nameField(h.AnimName); err != nil {
		return nil, fmt.Errorf("GLM anim name: %w", err)
	}

	if err := decodeHierarchy(c, m, int(h.OfsSurfHierarchy), int(h.NumSurfaces)); err != nil {
		return nil, err
	}

	m.LODs = make([]LOD, h.NumLODs)
	lodStart := int(h.OfsLODs)
	used := make(map[int]int)
	for l := range m.LODs {
		next, err := decodeLOD(c, m, l, lodStart, lim, used)
		if err != nil {
			return nil, err
		}
		lodStart = next
	}
	return m, nil
}

func decodeHierarchy(c *binio.Cursor, m *Mesh, base, numSurfaces int) error {
	if err := c.Seek(base); err != nil {
		return fmt.Errorf("seeking surface hierarchy: %w", err)
	}
	offsets := make([]int32, numSurfaces)
	for i := range offsets {
		off, err := c.ReadInt32()
		if err != nil {
			return fmt.Errorf("reading hierarchy offset %d: %w", i, err)
		}
		offsets[i] = off
	}

	m.Surfaces = make([]Surface, numSurfaces)
	children := make([][]int32, numSurfaces)
	for i, off := range offsets {
		if err := seekOffset(c, base, off); err != nil {
			return fmt.Errorf("seeking hierarchy entry %d: %w", i, err)
		}
		e, err := binio.ReadFixed[glmHierarchyEntry](c)
		if err != nil {
			return fmt.Errorf("reading hierarchy entry %d: %w", i, err)
		}
		s := Surface{
			Flags:       e.Flags,
			ShaderIndex: int(e.ShaderIndex),
			Parent:      int(e.Parent),
		}
		if s.Name, err = nameField(e.Name); err != nil {
			return fmt.Errorf("surface %d name: %w", i, err)
		}
		if s.Shader, err = nameField(e.Shader); err != nil {
			return fmt.Errorf("surface %d shader: %w", i, err)
		}
		if err := checkCount("child", e.NumChildren, numSurfaces); err != nil {
			return fmt.Errorf("surface %d: %w", i, err)
		}
		kids := make([]int32, e.NumChildren)
		for k := range kids {
			if kids[k], err = c.ReadInt32(); err != nil {
				return fmt.Errorf("reading surface %d child %d: %w", i, k, err)
			}
		}
		children[i] = kids
		m.Surfaces[i] = s
	}

	if err := m.ValidateSurfaceGraph(); err != nil {
		return err
	}
	derived := childrenOf(m.parents())
	for i := range m.Surfaces {
		if !sameChildren(children[i], derived[i]) {
			return fmt.Errorf("%w: surface %d (%s) child list does not match parent indices",
				ErrInvalidSurfaceGraph, i, m.Surfaces[i].Name)
		}
	}
	return nil
}

// decodeLOD reads LOD l starting at lodStart and returns the start of the next one.
// used maps surface data offsets already decoded to their LOD; every surface
// slot must own its data.
func decodeLOD(c *binio.Cursor, m *Mesh, l, lodStart int, lim Limits, used map[int]int) (int, error) {
	if err := c.Seek(lodStart); err != nil {
		return 0, fmt.Errorf("seeking LOD %d: %w", l, err)
	}
	ofsEnd, err := c.ReadInt32()
	if err != nil {
		return 0, fmt.Errorf("reading LOD %d header: %w", l, err)
	}
	numSurfaces := len(m.Surfaces)
	if int(ofsEnd) < 4+4*numSurfaces || lodStart+int(ofsEnd) > c.Len() {
		return 0, fmt.Errorf("%w: LOD %d end offset %d", ErrOutOfRange, l, ofsEnd)
	}

	table := c.Pos()
	offsets := make([]int32, numSurfaces)
	for i := range offsets {
		if offsets[i], err = c.ReadInt32(); err != nil {
			return 0, fmt.Errorf("reading LOD %d surface offset %d: %w", l, i, err)
		}
	}

	lod := LOD{Surfaces: make([]SurfaceData, numSurfaces)}
	for i, off := range offsets {
		start := table + int(off)
		if prev, ok := used[start]; ok {
			return 0, fmt.Errorf("%w: LOD %d surface %d (%s) reuses surface data at %d from LOD %d",
				ErrOutOfRange, l, i, m.Surfaces[i].Name, start, prev)
		}
		used[start] = l
		sd, err := decodeSurface(c, start, lim)
		if err != nil {
			return 0, fmt.Errorf("LOD %d surface %d (%s): %w", l, i, m.Surfaces[i].Name, err)
		}
		lod.Surfaces[i] = sd
	}
	m.LODs[l] = lod
	return lodStart + int(ofsEnd), nil
}

func decodeSurface(c *binio.Cursor, start int, lim Limits) (SurfaceData, error) {
	var sd SurfaceData
	if err := c.Seek(start); err != nil {
		return sd, err
	}
	sh, err := binio.ReadFixed[glmSurfaceHeader](c)
	if err != nil {
		return sd, fmt.Errorf("reading header: %w", err)
	}
	if err := checkCount("vertex", sh.NumVerts, lim.MaxVertices); err != nil {
		return sd, err
	}
	// Triangles share the vertex cap.
	if err := checkCount("triangle", sh.NumTriangles, lim.MaxVertices); err != nil {
		return sd, err
	}
	if err := checkCount("bone reference", sh.NumBoneRefs, lim.MaxBones); err != nil {
		return sd, err
	}
	numVerts := int(sh.NumVerts)

	if err := seekOffset(c, start, sh.OfsBoneRefs); err != nil {
		return sd, fmt.Errorf("seeking bone references: %w", err)
	}
	if err := need(c, int(sh.NumBoneRefs), 4); err != nil {
		return sd, err
	}
	sd.BoneReferences = make([]int, sh.NumBoneRefs)
	for i := range sd.BoneReferences {
		ref, err := c.ReadInt32()
		if err != nil {
			return sd, err
		}
		if ref < 0 {
			return sd, fmt.Errorf("%w: entry %d is bone %d", ErrInvalidBoneRefTable, i, ref)
		}
		sd.BoneReferences[i] = int(ref)
	}

	if err := seekOffset(c, start, sh.OfsTriangles); err != nil {
		return sd, fmt.Errorf("seeking triangles: %w", err)
	}
	if err := need(c, int(sh.NumTriangles), glmTriangleSize); err != nil {
		return sd, err
	}
	sd.Triangles = make([]Triangle, sh.NumTriangles)
	for i := range sd.Triangles {
		tri, err := binio.ReadFixed[[3]int32](c)
		if err != nil {
			return sd, err
		}
		for k, idx := range tri {
			if idx < 0 || int(idx) >= numVerts {
				return sd, fmt.Errorf("%w: triangle %d index %d, %d vertices", ErrInvalidTriangle, i, idx, numVerts)
			}
			sd.Triangles[i][k] = int(idx)
		}
	}

	if err := seekOffset(c, start, sh.OfsVerts); err != nil {
		return sd, fmt.Errorf("seeking vertices: %w", err)
	}
	if err := need(c, numVerts, glmVertexSize+glmTexCoordSize); err != nil {
		return sd, err
	}
	sd.Vertices = make([]Vertex, numVerts)
	for i := range sd.Vertices {
		raw, err := binio.ReadFixed[glmVertex](c)
		if err != nil {
			return sd, err
		}
		weights, err := unpackWeights(raw.Packed, raw.WeightLow, sd.BoneReferences)
		if err != nil {
			return sd, fmt.Errorf("vertex %d: %w", i, err)
		}
		sd.Vertices[i] = Vertex{
			Position: raw.Position,
			Normal:   raw.Normal,
			Weights:  weights,
		}
	}
	for i := range sd.Vertices {
		uv, err := binio.ReadFixed[mgl32.Vec2](c)
		if err != nil {
			return sd, err
		}
		sd.Vertices[i].TexCoord = uv
	}
	return sd, nil
}

// need fails if n records of size bytes do not fit after the position.
func need(c *binio.Cursor, n, size int) error {
	if n*size > c.Remaining() {
		return fmt.Errorf("%w: %d records of %d bytes at %d, have %d", ErrTruncatedData, n, size, c.Pos(), c.Remaining())
	}
	return nil
}

func unpackWeights(packed uint32, low [MaxWeights]uint8, refs []int) ([]BoneWeight, error) {
	count := int(packed>>30) + 1
	weights := make([]BoneWeight, count)
	for i := range weights {
		local := int(packed>>(5*i)) & 0x1F
		if local >= len(refs) {
			return nil, fmt.Errorf("%w: weight %d uses entry %d of %d", ErrInvalidBoneRefTable, i, local, len(refs))
		}
		raw := uint32(low[i]) | (packed>>(20+2*i)&0x3)<<8
		weights[i] = BoneWeight{
			Bone:   refs[local],
			Weight: float32(raw) / weightScale,
		}
	}
	return weights, nil
}

func packWeights(weights []BoneWeight, local map[int]int) (uint32, [MaxWeights]uint8) {
	var low [MaxWeights]uint8
	packed := uint32(len(weights)-1) << 30
	for i, w := range weights {
		raw := uint32(math32.Round(w.Weight * weightScale))
		packed |= uint32(local[w.Bone]) << (5 * i)
		packed |= (raw >> 8 & 0x3) << (20 + 2*i)
		low[i] = uint8(raw)
	}
	return packed, low
}

// EncodeMesh serialises a mesh to GLM bytes. The whole file is built in
// memory before it is returned.
func EncodeMesh(m *Mesh) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil mesh", ErrInvalidSurfaceGraph)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	h := glmHeader{
		Version:   Version,
		AnimIndex: int32(m.AnimIndex),
		NumBones:  int32(m.BoneCount),
		NumLODs:   int32(len(m.LODs)),
	}
	copy(h.Magic[:], GLMMagic)
	var err error
	if h.Name, err = putName(m.Name); err != nil {
		return nil, fmt.Errorf("GLM name: %w", err)
	}
	if h.AnimName, err = putName(m.AnimName); err != nil {
		return nil, fmt.Errorf("GLM anim name: %w", err)
	}

	w := binio.NewWriter(glmHeaderSize + m.VertexCount(0)*(glmVertexSize+glmTexCoordSize)*len(m.LODs))
	w.WriteBytes(make([]byte, glmHeaderSize))

	h.OfsSurfHierarchy = int32(w.Pos())
	h.NumSurfaces = int32(len(m.Surfaces))
	if err := encodeHierarchy(w, m); err != nil {
		return nil, err
	}

	h.OfsLODs = int32(w.Pos())
	for l := range m.LODs {
		if err := encodeLOD(w, m, l); err != nil {
			return nil, err
		}
	}
	h.OfsEnd = int32(w.Pos())

	if err := w.Seek(0); err != nil {
		return nil, err
	}
	if err := binio.WriteFixed(w, h); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func encodeHierarchy(w *binio.Cursor, m *Mesh) error {
	base := w.Pos()
	w.WriteBytes(make([]byte, 4*len(m.Surfaces)))
	children := childrenOf(m.parents())
	for i, s := range m.Surfaces {
		if err := w.PatchInt32At(base+4*i, int32(w.Pos()-base)); err != nil {
			return err
		}
		e := glmHierarchyEntry{
			Flags:       s.Flags,
			ShaderIndex: int32(s.ShaderIndex),
			Parent:      int32(s.Parent),
			NumChildren: int32(len(children[i])),
		}
		var err error
		if e.Name, err = putName(s.Name); err != nil {
			return fmt.Errorf("surface %d name: %w", i, err)
		}
		if e.Shader, err = putName(s.Shader); err != nil {
			return fmt.Errorf("surface %d shader: %w", i, err)
		}
		if err := binio.WriteFixed(w, e); err != nil {
			return err
		}
		for _, child := range children[i] {
			w.WriteInt32(int32(child))
		}
	}
	return nil
}

func encodeLOD(w *binio.Cursor, m *Mesh, l int) error {
	lodStart := w.Pos()
	w.WriteInt32(0)
	table := w.Pos()
	w.WriteBytes(make([]byte, 4*len(m.Surfaces)))

	for i := range m.Surfaces {
		start := w.Pos()
		if err := w.PatchInt32At(table+4*i, int32(start-table)); err != nil {
			return err
		}
		if err := encodeSurface(w, &m.LODs[l].Surfaces[i], i); err != nil {
			return fmt.Errorf("LOD %d surface %d (%s): %w", l, i, m.Surfaces[i].Name, err)
		}
	}
	return w.PatchInt32At(lodStart, int32(w.Pos()-lodStart))
}

func encodeSurface(w *binio.Cursor, sd *SurfaceData, index int) error {
	refs, err := BuildBoneReferences(sd)
	if err != nil {
		return err
	}
	local := make(map[int]int, len(refs))
	for i, bone := range refs {
		if _, ok := local[bone]; !ok {
			local[bone] = i
		}
	}

	start := w.Pos()
	numVerts := len(sd.Vertices)
	sh := glmSurfaceHeader{
		ThisSurfaceIndex: int32(index),
		OfsHeader:        int32(-start),
		NumVerts:         int32(numVerts),
		NumTriangles:     int32(len(sd.Triangles)),
		NumBoneRefs:      int32(len(refs)),
	}
	sh.OfsTriangles = glmSurfaceHeaderSize
	sh.OfsVerts = sh.OfsTriangles + int32(len(sd.Triangles)*glmTriangleSize)
	sh.OfsBoneRefs = sh.OfsVerts + int32(numVerts*(glmVertexSize+glmTexCoordSize))
	sh.OfsEnd = sh.OfsBoneRefs + int32(4*len(refs))
	if err := binio.WriteFixed(w, sh); err != nil {
		return err
	}

	for _, tri := range sd.Triangles {
		w.WriteInt32(int32(tri[0]))
		w.WriteInt32(int32(tri[1]))
		w.WriteInt32(int32(tri[2]))
	}
	for _, v := range sd.Vertices {
		packed, low := packWeights(v.Weights, local)
		raw := glmVertex{
			Normal:    v.Normal,
			Position:  v.Position,
			Packed:    packed,
			WeightLow: low,
		}
		if err := binio.WriteFixed(w, raw); err != nil {
			return err
		}
	}
	for _, v := range sd.Vertices {
		if err := binio.WriteFixed(w, v.TexCoord); err != nil {
			return err
		}
	}
	for _, bone := range refs {
		w.WriteInt32(int32(bone))
	}
	return nil
}

// BuildBoneReferences returns the bone table a surface is written with:
// the existing BoneReferences followed by any bone the vertices use that is
// missing from it, in first-use order.
func BuildBoneReferences(sd *SurfaceData) ([]int, error) {
	refs := make([]int, 0, len(sd.BoneReferences)+4)
	seen := make(map[int]bool, cap(refs))
	for _, bone := range sd.BoneReferences {
		refs = append(refs, bone)
		seen[bone] = true
	}
	for _, v := range sd.Vertices {
		for _, w := range v.Weights {
			if !seen[w.Bone] {
				seen[w.Bone] = true
				refs = append(refs, w.Bone)
			}
		}
	}
	if len(refs) > MaxBoneReferences {
		return nil, fmt.Errorf("%w: %d bones, max %d", ErrTooManyBoneReferences, len(refs), MaxBoneReferences)
	}
	return refs, nil
}

// RequestedGLA returns the GLA path stored in the header, verbatim.
func (m *Mesh) RequestedGLA() string {
	return m.AnimName
}

// LODCount returns the number of LODs.
func (m *Mesh) LODCount() int {
	return len(m.LODs)
}

// SurfaceIndex returns the index of the named surface, or -1.
func (m *Mesh) SurfaceIndex(name string) int {
	for i := range m.Surfaces {
		if m.Surfaces[i].Name == name {
			return i
		}
	}
	return -1
}

// SurfaceByName returns a surface by its name, or nil if not found.
func (m *Mesh) SurfaceByName(name string) *Surface {
	if i := m.SurfaceIndex(name); i >= 0 {
		return &m.Surfaces[i]
	}
	return nil
}

// Children returns the indices of surfaces whose parent is surface i.
func (m *Mesh) Children(i int) []int {
	var out []int
	for j := range m.Surfaces {
		if m.Surfaces[j].Parent == i {
			out = append(out, j)
		}
	}
	return out
}

// VertexCount returns the total vertex count of a LOD, or 0 if it does not exist.
func (m *Mesh) VertexCount(lod int) int {
	if lod < 0 || lod >= len(m.LODs) {
		return 0
	}
	n := 0
	for _, sd := range m.LODs[lod].Surfaces {
		n += len(sd.Vertices)
	}
	return n
}

// TriangleCount returns the total triangle count of a LOD, or 0 if it does not exist.
func (m *Mesh) TriangleCount(lod int) int {
	if lod < 0 || lod >= len(m.LODs) {
		return 0
	}
	n := 0
	for _, sd := range m.LODs[lod].Surfaces {
		n += len(sd.Triangles)
	}
	return n
}

// MaxBoneIndex returns the highest bone index any vertex uses, or -1.
func (m *Mesh) MaxBoneIndex() int {
	highest := -1
	for _, lod := range m.LODs {
		for _, sd := range lod.Surfaces {
			for _, v := range sd.Vertices {
				for _, w := range v.Weights {
					highest = max(highest, w.Bone)
				}
			}
		}
	}
	return highest
}

// ValidateSurfaceGraph checks that parent indices form an acyclic forest
// rooted at surface 0.
func (m *Mesh) ValidateSurfaceGraph() error {
	if idx, reason := checkForest(m.parents(), false); idx >= 0 {
		name := ""
		if idx < len(m.Surfaces) {
			name = m.Surfaces[idx].Name
		}
		return fmt.Errorf("%w: surface %d (%s): %s", ErrInvalidSurfaceGraph, idx, name, reason)
	}
	if len(m.Surfaces) > 0 && m.Surfaces[0].Parent != -1 {
		return fmt.Errorf("%w: surface 0 (%s) must be a root", ErrInvalidSurfaceGraph, m.Surfaces[0].Name)
	}
	return nil
}

// Validate checks everything EncodeMesh needs: the surface graph, one
// SurfaceData per surface in every LOD, triangle indices and weights.
func (m *Mesh) Validate() error {
	if err := m.ValidateSurfaceGraph(); err != nil {
		return err
	}
	for l, lod := range m.LODs {
		if len(lod.Surfaces) != len(m.Surfaces) {
			return fmt.Errorf("%w: LOD %d has %d surfaces, hierarchy has %d",
				ErrInvalidSurfaceGraph, l, len(lod.Surfaces), len(m.Surfaces))
		}
		for s := range lod.Surfaces {
			if err := validateSurfaceData(&lod.Surfaces[s]); err != nil {
				return fmt.Errorf("LOD %d surface %d (%s): %w", l, s, m.Surfaces[s].Name, err)
			}
		}
	}
	return nil
}

func validateSurfaceData(sd *SurfaceData) error {
	n := len(sd.Vertices)
	for i, tri := range sd.Triangles {
		for _, idx := range tri {
			if idx < 0 || idx >= n {
				return fmt.Errorf("%w: triangle %d index %d, %d vertices", ErrInvalidTriangle, i, idx, n)
			}
		}
	}
	for i, v := range sd.Vertices {
		if len(v.Weights) == 0 || len(v.Weights) > MaxWeights {
			return fmt.Errorf("%w: vertex %d has %d weights", ErrInvalidWeights, i, len(v.Weights))
		}
		for _, w := range v.Weights {
			if w.Bone < 0 {
				return fmt.Errorf("%w: vertex %d bone index %d", ErrInvalidWeights, i, w.Bone)
			}
			if !(w.Weight >= 0 && w.Weight <= 1) {
				return fmt.Errorf("%w: vertex %d weight %v", ErrInvalidWeights, i, w.Weight)
			}
		}
	}
	return nil
}

// Clone returns an independent deep copy.
func (m *Mesh) Clone() (*Mesh, error) {
	out := &Mesh{}
	if err := copier.CopyWithOption(out, m, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("cloning mesh: %w", err)
	}
	return out, nil
}

func (m *Mesh) parents() []int {
	p := make([]int, len(m.Surfaces))
	for i := range m.Surfaces {
		p[i] = m.Surfaces[i].Parent
	}
	return p
}
