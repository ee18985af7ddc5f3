// GLA (Ghoul2 animation) codec: bone hierarchy plus per-frame transforms.
package formats

import (
	"fmt"

	"github.com/jinzhu/copier"

	"github.com/Faultbox/g2tools/pkg/binio"
	"github.com/Faultbox/g2tools/pkg/math"
)

// GLAMagic is the file signature of a GLA file.
const GLAMagic = "2LGA"

// DefaultSkeletonName requests the built-in empty skeleton instead of a file.
const DefaultSkeletonName = "*default"

const (
	glaHeaderSize     = 104
	glaBoneRecordSize = NameSize + 4 + 4 + 12*4 + 12*4 + 4
	glaFrameIndexSize = 3
	maxPoolEntries    = 1 << 24
)

// glaHeader is the fixed GLA header as stored on disk.
type glaHeader struct {
	Magic           [4]byte
	Version         int32
	Name            [NameSize]byte
	AnimScale       float32
	FrameRate       float32
	NumFrames       int32
	OfsFrames       int32
	NumBones        int32
	OfsCompBonePool int32
	OfsSkel         int32
	OfsEnd          int32
}

// glaBoneRecord is the fixed part of a bone record; child indices follow.
type glaBoneRecord struct {
	Name        [NameSize]byte
	Flags       uint32
	Parent      int32
	BasePose    math.Mat34
	BasePoseInv math.Mat34
	NumChildren int32
}

// Bone is one joint of a skeleton.
type Bone struct {
	Name        string
	Flags       uint32
	Parent      int // -1 for the root
	BasePose    math.Mat34
	BasePoseInv math.Mat34
	Frames      []math.Transform // model-space transform per frame
}

// Skeleton is a decoded GLA: an ordered bone list whose order is the
// canonical bone index used by meshes and frames.
type Skeleton struct {
	Name      string
	AnimScale float32
	FrameRate float32
	Bones     []Bone
	IsDefault bool
}

// DefaultSkeleton returns the empty skeleton used when a model needs no
// animation data.
func DefaultSkeleton() *Skeleton {
	return &Skeleton{Name: DefaultSkeletonName, IsDefault: true}
}

// NewBone returns a bone at the bind pose described by t.
func NewBone(name string, parent int, t math.Transform) Bone {
	pose := t.Mat34()
	return Bone{
		Name:        name,
		Parent:      parent,
		BasePose:    pose,
		BasePoseInv: pose.Inverse(),
	}
}

// DecodeSkeleton parses GLA data using DefaultLimits.
func DecodeSkeleton(data []byte) (*Skeleton, error) {
	return DecodeSkeletonWithLimits(data, DefaultLimits())
}

// DecodeSkeletonWithLimits parses GLA data.
func DecodeSkeletonWithLimits(data []byte, lim Limits) (*Skeleton, error) {
	if err := lim.checkInput(len(data)); err != nil {
		return nil, err
	}
	if len(data) < glaHeaderSize {
		return nil, fmt.Errorf("%w: GLA header needs %d bytes, have %d", ErrTruncatedData, glaHeaderSize, len(data))
	}

	c := binio.NewReader(data)
	h, err := binio.ReadFixed[glaHeader](c)
	if err != nil {
		return nil, fmt.Errorf("reading GLA header: %w", err)
	}
	if string(h.Magic[:]) != GLAMagic {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrBadMagic, GLAMagic, h.Magic[:])
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: GLA version %d, want %d", ErrUnsupportedVersion, h.Version, Version)
	}
	if int(h.OfsEnd) > len(data) {
		return nil, fmt.Errorf("%w: GLA declares %d bytes, have %d", ErrTruncatedData, h.OfsEnd, len(data))
	}
	if err := checkCount("bone", h.NumBones, lim.MaxBones); err != nil {
		return nil, err
	}
	if err := checkCount("frame", h.NumFrames, lim.MaxFrames); err != nil {
		return nil, err
	}

	sk := &Skeleton{
		AnimScale: h.AnimScale,
		FrameRate: h.FrameRate,
	}
	if sk.Name, err = nameField(h.Name); err != nil {
		return nil, fmt.Errorf("GLA name: %w", err)
	}

	children, err := decodeBones(c, sk, int(h.OfsSkel), int(h.NumBones))
	if err != nil {
		return nil, err
	}
	if err := sk.ValidateBoneGraph(); err != nil {
		return nil, err
	}
	derived := childrenOf(sk.parents())
	for i := range sk.Bones {
		if !sameChildren(children[i], derived[i]) {
			return nil, fmt.Errorf("%w: bone %d (%s) child list does not match parent indices",
				ErrInvalidBoneGraph, i, sk.Bones[i].Name)
		}
	}

	if h.NumFrames > 0 && h.NumBones > 0 {
		if err := decodeFrames(c, sk, h); err != nil {
			return nil, err
		}
	}
	return sk, nil
}

// decodeBones reads the offset-indexed bone table at ofsSkel and returns
// each bone's stored child list.
func decodeBones(c *binio.Cursor, sk *Skeleton, ofsSkel, numBones int) ([][]int32, error) {
	if err := c.Seek(ofsSkel); err != nil {
		return nil, fmt.Errorf("seeking bone table: %w", err)
	}
	offsets := make([]int32, numBones)
	for i := range offsets {
		off, err := c.ReadInt32()
		if err != nil {
			return nil, fmt.Errorf("reading bone offset %d: %w", i, err)
		}
		offsets[i] = off
	}

	sk.Bones = make([]Bone, numBones)
	children := make([][]int32, numBones)
	names := make(map[string]int, numBones)
	for i, off := range offsets {
		if err := seekOffset(c, ofsSkel, off); err != nil {
			return nil, fmt.Errorf("seeking bone %d: %w", i, err)
		}
		rec, err := binio.ReadFixed[glaBoneRecord](c)
		if err != nil {
			return nil, fmt.Errorf("reading bone %d: %w", i, err)
		}
		name, err := nameField(rec.Name)
		if err != nil {
			return nil, fmt.Errorf("bone %d name: %w", i, err)
		}
		if prev, dup := names[name]; dup {
			return nil, fmt.Errorf("%w: bones %d and %d are both named %q", ErrInvalidBoneGraph, prev, i, name)
		}
		names[name] = i

		if err := checkCount("child", rec.NumChildren, numBones); err != nil {
			return nil, fmt.Errorf("bone %d: %w", i, err)
		}
		kids := make([]int32, rec.NumChildren)
		for k := range kids {
			if kids[k], err = c.ReadInt32(); err != nil {
				return nil, fmt.Errorf("reading bone %d child %d: %w", i, k, err)
			}
		}
		children[i] = kids

		sk.Bones[i] = Bone{
			Name:        name,
			Flags:       rec.Flags,
			Parent:      int(rec.Parent),
			BasePose:    rec.BasePose,
			BasePoseInv: rec.BasePoseInv,
		}
	}
	return children, nil
}

// decodeFrames reads the frame index table and expands pool entries.
func decodeFrames(c *binio.Cursor, sk *Skeleton, h glaHeader) error {
	poolStart := int(h.OfsCompBonePool)
	if poolStart < 0 || poolStart > int(h.OfsEnd) {
		return fmt.Errorf("%w: bone pool at %d, end %d", ErrOutOfRange, poolStart, h.OfsEnd)
	}
	poolCount := (int(h.OfsEnd) - poolStart) / math.CompressedBoneSize

	// The frame table must exist before anything is sized from it.
	numFrames, numBones := int(h.NumFrames), int(h.NumBones)
	tableSize := numFrames * numBones * glaFrameIndexSize
	if int(h.OfsFrames) < 0 || tableSize > int(h.OfsEnd)-int(h.OfsFrames) {
		return fmt.Errorf("%w: %d frames of %d bones at %d, end %d",
			ErrTruncatedData, numFrames, numBones, h.OfsFrames, h.OfsEnd)
	}
	if err := c.Seek(int(h.OfsFrames)); err != nil {
		return fmt.Errorf("seeking frame table: %w", err)
	}
	indices, err := c.ReadBytes(tableSize)
	if err != nil {
		return fmt.Errorf("reading frame table: %w", err)
	}

	pool := make([]*math.Transform, poolCount)
	for b := range sk.Bones {
		sk.Bones[b].Frames = make([]math.Transform, numFrames)
	}

	for f := 0; f < numFrames; f++ {
		for b := 0; b < numBones; b++ {
			p := (f*numBones + b) * glaFrameIndexSize
			idx := int(indices[p]) | int(indices[p+1])<<8 | int(indices[p+2])<<16
			if idx >= poolCount {
				return fmt.Errorf("%w: frame %d bone %d references pool entry %d of %d",
					ErrOutOfRange, f, b, idx, poolCount)
			}
			if pool[idx] == nil {
				if err := c.Seek(poolStart + idx*math.CompressedBoneSize); err != nil {
					return fmt.Errorf("seeking pool entry %d: %w", idx, err)
				}
				cb, err := binio.ReadFixed[math.CompressedBone](c)
				if err != nil {
					return fmt.Errorf("reading pool entry %d: %w", idx, err)
				}
				t := cb.Transform()
				pool[idx] = &t
			}
			sk.Bones[b].Frames[f] = *pool[idx]
		}
	}
	return nil
}

// EncodeSkeleton serialises a skeleton to GLA bytes. The whole file is
// built in memory before it is returned.
func EncodeSkeleton(sk *Skeleton) ([]byte, error) {
	if sk == nil {
		return nil, fmt.Errorf("%w: nil skeleton", ErrInvalidBoneGraph)
	}
	if sk.IsDefault {
		return nil, ErrDefaultSkeleton
	}
	if err := sk.Validate(); err != nil {
		return nil, err
	}

	name, err := putName(sk.Name)
	if err != nil {
		return nil, fmt.Errorf("GLA name: %w", err)
	}
	numBones := len(sk.Bones)
	numFrames := sk.FrameCount()

	w := binio.NewWriter(glaHeaderSize + numBones*(glaBoneRecordSize+8) + numFrames*numBones*4)
	w.WriteBytes(make([]byte, glaHeaderSize))

	// Skeleton: offset table, then records.
	ofsSkel := w.Pos()
	w.WriteBytes(make([]byte, 4*numBones))
	children := childrenOf(sk.parents())
	for i, bone := range sk.Bones {
		if err := w.PatchInt32At(ofsSkel+4*i, int32(w.Pos()-ofsSkel)); err != nil {
			return nil, err
		}
		bname, err := putName(bone.Name)
		if err != nil {
			return nil, fmt.Errorf("bone %d name: %w", i, err)
		}
		rec := glaBoneRecord{
			Name:        bname,
			Flags:       bone.Flags,
			Parent:      int32(bone.Parent),
			BasePose:    bone.BasePose,
			BasePoseInv: bone.BasePoseInv,
			NumChildren: int32(len(children[i])),
		}
		if err := binio.WriteFixed(w, rec); err != nil {
			return nil, err
		}
		for _, child := range children[i] {
			w.WriteInt32(int32(child))
		}
	}

	// Frames: pool indices, frame major. Identical transforms share a pool entry.
	ofsFrames := w.Pos()
	poolIndex := make(map[math.CompressedBone]uint32)
	var pool []math.CompressedBone
	for f := 0; f < numFrames; f++ {
		for b := range sk.Bones {
			fr := sk.Bones[b].Frames[f]
			if !math.Compressible(fr) {
				return nil, fmt.Errorf("%w: bone %d (%s) frame %d does not fit the compressed range (rotation %v, translation %v)",
					ErrOutOfRange, b, sk.Bones[b].Name, f, fr.Rotation, fr.Translation)
			}
			cb := math.Compress(fr)
			idx, ok := poolIndex[cb]
			if !ok {
				if len(pool) >= maxPoolEntries {
					return nil, fmt.Errorf("%w: more than %d distinct bone transforms", ErrLimitExceeded, maxPoolEntries)
				}
				idx = uint32(len(pool))
				poolIndex[cb] = idx
				pool = append(pool, cb)
			}
			if err := w.WriteUint24(idx); err != nil {
				return nil, err
			}
		}
	}
	w.Align(4)

	ofsPool := w.Pos()
	for _, cb := range pool {
		if err := binio.WriteFixed(w, cb); err != nil {
			return nil, err
		}
	}
	ofsEnd := w.Pos()

	h := glaHeader{
		Version:         Version,
		Name:            name,
		AnimScale:       sk.AnimScale,
		FrameRate:       sk.FrameRate,
		NumFrames:       int32(numFrames),
		OfsFrames:       int32(ofsFrames),
		NumBones:        int32(numBones),
		OfsCompBonePool: int32(ofsPool),
		OfsSkel:         int32(ofsSkel),
		OfsEnd:          int32(ofsEnd),
	}
	copy(h.Magic[:], GLAMagic)
	if err := w.Seek(0); err != nil {
		return nil, err
	}
	if err := binio.WriteFixed(w, h); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// BoneCount returns the number of bones.
func (sk *Skeleton) BoneCount() int {
	return len(sk.Bones)
}

// FrameCount returns the number of animation frames (0 for a static skeleton).
func (sk *Skeleton) FrameCount() int {
	if len(sk.Bones) == 0 {
		return 0
	}
	return len(sk.Bones[0].Frames)
}

// HasAnimation returns true if the skeleton carries frame data.
func (sk *Skeleton) HasAnimation() bool {
	return sk.FrameCount() > 0
}

// BoneIndex returns the index of the named bone, or -1.
func (sk *Skeleton) BoneIndex(name string) int {
	for i := range sk.Bones {
		if sk.Bones[i].Name == name {
			return i
		}
	}
	return -1
}

// BoneByName returns a bone by its name, or nil if not found.
func (sk *Skeleton) BoneByName(name string) *Bone {
	if i := sk.BoneIndex(name); i >= 0 {
		return &sk.Bones[i]
	}
	return nil
}

// Children returns the indices of bones whose parent is bone i.
func (sk *Skeleton) Children(i int) []int {
	var out []int
	for j := range sk.Bones {
		if sk.Bones[j].Parent == i {
			out = append(out, j)
		}
	}
	return out
}

// Roots returns the indices of parentless bones.
func (sk *Skeleton) Roots() []int {
	return sk.Children(-1)
}

// StripAnimation drops all frame data, leaving the bind pose.
func (sk *Skeleton) StripAnimation() {
	for i := range sk.Bones {
		sk.Bones[i].Frames = nil
	}
}

// ValidateBoneGraph checks that parent indices form a single acyclic tree.
func (sk *Skeleton) ValidateBoneGraph() error {
	if idx, reason := checkForest(sk.parents(), true); idx >= 0 {
		name := ""
		if idx < len(sk.Bones) {
			name = sk.Bones[idx].Name
		}
		return fmt.Errorf("%w: bone %d (%s): %s", ErrInvalidBoneGraph, idx, name, reason)
	}
	return nil
}

// Validate checks the bone graph, name uniqueness and frame counts.
func (sk *Skeleton) Validate() error {
	if err := sk.ValidateBoneGraph(); err != nil {
		return err
	}
	names := make(map[string]int, len(sk.Bones))
	frames := sk.FrameCount()
	for i, bone := range sk.Bones {
		if prev, dup := names[bone.Name]; dup {
			return fmt.Errorf("%w: bones %d and %d are both named %q", ErrInvalidBoneGraph, prev, i, bone.Name)
		}
		names[bone.Name] = i
		if len(bone.Frames) != frames {
			return fmt.Errorf("%w: bone %d (%s) has %d frames, bone 0 has %d",
				ErrInconsistentFrames, i, bone.Name, len(bone.Frames), frames)
		}
	}
	return nil
}

// Clone returns an independent deep copy.
func (sk *Skeleton) Clone() (*Skeleton, error) {
	out := &Skeleton{}
	if err := copier.CopyWithOption(out, sk, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("cloning skeleton: %w", err)
	}
	return out, nil
}

func (sk *Skeleton) parents() []int {
	p := make([]int, len(sk.Bones))
	for i := range sk.Bones {
		p[i] = sk.Bones[i].Parent
	}
	return p
}
