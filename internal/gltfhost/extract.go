package gltfhost

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"go.uber.org/zap"

	"github.com/Faultbox/g2tools/internal/scene"
	"github.com/Faultbox/g2tools/pkg/formats"
	"github.com/Faultbox/g2tools/pkg/math"
)

// nodeLocal returns the node's transform relative to its parent. TRS takes
// precedence over a matrix; zero rotation and scale read as defaults.
func nodeLocal(n *gltf.Node) math.Mat34 {
	if n.Matrix != identityMatrix && n.Matrix != [16]float32{} {
		trsDefault := n.Translation == [3]float32{} &&
			(n.Rotation == [4]float32{} || n.Rotation == [4]float32{0, 0, 0, 1}) &&
			(n.Scale == [3]float32{} || n.Scale == [3]float32{1, 1, 1})
		if trsDefault {
			return math.FromMat4(mgl32.Mat4(n.Matrix))
		}
	}
	return trsMatrix(n.Translation, n.Rotation, n.Scale)
}

func trsMatrix(t [3]float32, r [4]float32, s [3]float32) math.Mat34 {
	q := mgl32.Quat{W: r[3], V: mgl32.Vec3{r[0], r[1], r[2]}}
	if r == [4]float32{} {
		q = mgl32.QuatIdent()
	}
	if s == [3]float32{} {
		s = [3]float32{1, 1, 1}
	}
	m := mgl32.Translate3D(t[0], t[1], t[2]).
		Mul4(q.Normalize().Mat4()).
		Mul4(mgl32.Scale3D(s[0], s[1], s[2]))
	return math.FromMat4(m)
}

// world composes local transforms from node i up to, but excluding, root.
func world(i, root int, parents map[int]int, local func(int) math.Mat34) math.Mat34 {
	m := local(i)
	for {
		p, ok := parents[i]
		if !ok || p == root {
			return m
		}
		m = local(p).Mul(m)
		i = p
	}
}

// skeletonSkin picks the skin that defines the skeleton: the one created
// here, else the first used under root, else the first in the document.
func (h *Host) skeletonSkin(root int) (*gltf.Skin, error) {
	if h.skin != nil && int(*h.skin) < len(h.doc.Skins) {
		return h.doc.Skins[*h.skin], nil
	}
	for _, i := range h.descendants(root) {
		if n := h.doc.Nodes[i]; n.Skin != nil && int(*n.Skin) < len(h.doc.Skins) {
			return h.doc.Skins[*n.Skin], nil
		}
	}
	if len(h.doc.Skins) > 0 {
		return h.doc.Skins[0], nil
	}
	return nil, ErrNoArmature
}

// ExtractSkeletonFromScene rebuilds bones from the skin under root, in
// joint order, and frames from the first animation driving them.
func (h *Host) ExtractSkeletonFromScene(o scene.Handle) (*formats.Skeleton, error) {
	if _, err := h.node(o); err != nil {
		return nil, err
	}
	root := int(o)
	s, err := h.skeletonSkin(root)
	if err != nil {
		return nil, err
	}
	if len(s.Joints) == 0 {
		return nil, fmt.Errorf("%w: skin %q has no joints", ErrNoArmature, s.Name)
	}

	sk := &formats.Skeleton{Name: s.Name, AnimScale: 1}
	var ex skinExtras
	if readExtras(s.Extras, &ex) {
		if ex.Name != "" {
			sk.Name = ex.Name
		}
		if ex.AnimScale != 0 {
			sk.AnimScale = ex.AnimScale
		}
		sk.FrameRate = ex.FrameRate
	}

	boneOf := make(map[int]int, len(s.Joints))
	for b, j := range s.Joints {
		if int(j) >= len(h.doc.Nodes) {
			return nil, fmt.Errorf("%w: joint %d", ErrBadHandle, j)
		}
		boneOf[int(j)] = b
	}
	parents := h.parents()
	bindLocal := func(i int) math.Mat34 { return nodeLocal(h.doc.Nodes[i]) }

	sk.Bones = make([]formats.Bone, len(s.Joints))
	for b, j := range s.Joints {
		n := h.doc.Nodes[j]
		parent := -1
		for p, ok := parents[int(j)]; ok && p != root; p, ok = parents[p] {
			if pb, isBone := boneOf[p]; isBone {
				parent = pb
				break
			}
		}
		pose := math.ChangeBasis(world(int(j), root, parents, bindLocal), math.YUpToZUp())
		var bx boneExtras
		readExtras(n.Extras, &bx)
		sk.Bones[b] = formats.Bone{
			Name:        n.Name,
			Flags:       bx.Flags,
			Parent:      parent,
			BasePose:    pose,
			BasePoseInv: pose.Inverse(),
		}
	}

	if err := h.extractFrames(sk, s, root, parents); err != nil {
		return nil, err
	}
	h.log.Debug("extracted armature",
		zap.Int("bones", sk.BoneCount()),
		zap.Int("frames", sk.FrameCount()))
	return sk, nil
}

// channelData holds one sampled TRS property of one node.
type channelData struct {
	values []float32
	comps  int
}

func (h *Host) extractFrames(sk *formats.Skeleton, s *gltf.Skin, root int, parents map[int]int) error {
	isJoint := make(map[int]bool, len(s.Joints))
	for _, j := range s.Joints {
		isJoint[int(j)] = true
	}

	var anim *gltf.Animation
	for _, a := range h.doc.Animations {
		for _, ch := range a.Channels {
			if ch.Target.Node != nil && isJoint[int(*ch.Target.Node)] {
				anim = a
				break
			}
		}
		if anim != nil {
			break
		}
	}
	if anim == nil {
		return nil
	}

	trans := map[int]channelData{}
	rots := map[int]channelData{}
	frames := 0
	var times []float32
	for _, ch := range anim.Channels {
		if ch.Target.Node == nil || ch.Sampler == nil || int(*ch.Sampler) >= len(anim.Samplers) {
			continue
		}
		node := int(*ch.Target.Node)
		if !isJoint[node] {
			continue
		}
		smp := anim.Samplers[*ch.Sampler]
		if smp.Input == nil || smp.Output == nil {
			continue
		}
		in, _, err := h.readFloats(*smp.Input)
		if err != nil {
			return fmt.Errorf("animation %q input: %w", anim.Name, err)
		}
		out, comps, err := h.readFloats(*smp.Output)
		if err != nil {
			return fmt.Errorf("animation %q output: %w", anim.Name, err)
		}
		switch ch.Target.Path {
		case gltf.TRSTranslation:
			trans[node] = channelData{out, comps}
		case gltf.TRSRotation:
			rots[node] = channelData{out, comps}
		default:
			continue
		}
		if len(in) > frames {
			frames, times = len(in), in
		}
	}
	if frames == 0 {
		return nil
	}
	if sk.FrameRate == 0 {
		sk.FrameRate = defaultFrameRate
		if len(times) > 1 && times[1] > times[0] {
			sk.FrameRate = math32.Round(1 / (times[1] - times[0]))
		}
	}

	for b := range sk.Bones {
		sk.Bones[b].Frames = make([]math.Transform, frames)
	}
	for f := 0; f < frames; f++ {
		local := func(i int) math.Mat34 {
			n := h.doc.Nodes[i]
			ct, hasT := trans[i]
			cr, hasR := rots[i]
			if !hasT && !hasR {
				return nodeLocal(n)
			}
			t, r := n.Translation, n.Rotation
			if hasT && ct.comps == 3 {
				k := min(f, len(ct.values)/3-1)
				t = [3]float32{ct.values[3*k], ct.values[3*k+1], ct.values[3*k+2]}
			}
			if hasR && cr.comps == 4 {
				k := min(f, len(cr.values)/4-1)
				r = [4]float32{cr.values[4*k], cr.values[4*k+1], cr.values[4*k+2], cr.values[4*k+3]}
			}
			return trsMatrix(t, r, n.Scale)
		}
		for b, j := range s.Joints {
			m := math.ChangeBasis(world(int(j), root, parents, local), math.YUpToZUp())
			sk.Bones[b].Frames[f] = math.TransformFromMat34(m)
		}
	}
	return nil
}

// ExtractMeshFromScene rebuilds a mesh from the surface nodes under root.
// Nodes written by CreateMeshObjects keep their surface and LOD layout;
// any other node with geometry becomes a surface of LOD 0 below a
// synthesized model_root.
func (h *Host) ExtractMeshFromScene(o scene.Handle) (*formats.Mesh, error) {
	if _, err := h.node(o); err != nil {
		return nil, err
	}
	root := int(o)
	nodes := h.descendants(root)

	jointBone := map[int]int{}
	boneCount := 0
	if s, err := h.skeletonSkin(root); err == nil {
		boneCount = len(s.Joints)
		for b, j := range s.Joints {
			jointBone[int(j)] = b
		}
	}

	type tagged struct {
		node int
		ex   surfaceExtras
	}
	var surfNodes []tagged
	for _, i := range nodes {
		var ex surfaceExtras
		if readExtras(h.doc.Nodes[i].Extras, &ex) && ex.Surface != nil {
			surfNodes = append(surfNodes, tagged{i, ex})
		}
	}

	var (
		m   *formats.Mesh
		err error
	)
	if len(surfNodes) > 0 {
		m = &formats.Mesh{BoneCount: boneCount}
		numSurf, numLOD := 0, 0
		for _, t := range surfNodes {
			numSurf = max(numSurf, *t.ex.Surface+1)
			numLOD = max(numLOD, t.ex.LOD+1)
		}
		m.Surfaces = make([]formats.Surface, numSurf)
		for s := range m.Surfaces {
			m.Surfaces[s].Parent = -1
		}
		m.LODs = make([]formats.LOD, numLOD)
		for l := range m.LODs {
			m.LODs[l].Surfaces = make([]formats.SurfaceData, numSurf)
		}

		parents := h.parents()
		surfOf := make(map[int]int, len(surfNodes))
		for _, t := range surfNodes {
			surfOf[t.node] = *t.ex.Surface
		}
		for _, t := range surfNodes {
			s, l := *t.ex.Surface, t.ex.LOD
			if s < 0 || l < 0 {
				return nil, fmt.Errorf("%w: node %d has surface %d lod %d", ErrBadHandle, t.node, s, l)
			}
			sd, shader, err := h.surfaceGeometry(h.doc.Nodes[t.node], jointBone)
			if err != nil {
				return nil, fmt.Errorf("surface %s lod %d: %w", t.ex.Name, l, err)
			}
			m.LODs[l].Surfaces[s] = sd
			if l == 0 || m.Surfaces[s].Name == "" {
				surf := &m.Surfaces[s]
				surf.Name = t.ex.Name
				surf.Flags = t.ex.Flags
				surf.ShaderIndex = t.ex.ShaderIndex
				if shader != "" {
					surf.Shader = shader
				}
				if p, ok := parents[t.node]; ok {
					if ps, ok := surfOf[p]; ok {
						surf.Parent = ps
					}
				}
			}
		}
	} else {
		m, err = h.foreignMesh(nodes, jointBone, boneCount)
		if err != nil {
			return nil, err
		}
	}

	h.log.Debug("extracted surfaces",
		zap.Int("lods", len(m.LODs)),
		zap.Int("surfaces", len(m.Surfaces)))
	return m, nil
}

func (h *Host) foreignMesh(nodes []int, jointBone map[int]int, boneCount int) (*formats.Mesh, error) {
	m := &formats.Mesh{
		BoneCount: boneCount,
		Surfaces:  []formats.Surface{{Name: "model_root", Parent: -1}},
		LODs:      []formats.LOD{{Surfaces: []formats.SurfaceData{{}}}},
	}
	parents := h.parents()
	surfOf := map[int]int{}
	for _, i := range nodes {
		n := h.doc.Nodes[i]
		if n.Mesh == nil {
			continue
		}
		sd, shader, err := h.surfaceGeometry(n, jointBone)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		if boneCount == 0 {
			for v := range sd.Vertices {
				sd.Vertices[v].Weights = []formats.BoneWeight{{Bone: 0, Weight: 1}}
			}
		}
		parent := 0
		for p, ok := parents[i]; ok; p, ok = parents[p] {
			if ps, found := surfOf[p]; found {
				parent = ps
				break
			}
		}
		name := n.Name
		if name == "" {
			name = fmt.Sprintf("surface_%d", len(m.Surfaces))
		}
		surfOf[i] = len(m.Surfaces)
		m.Surfaces = append(m.Surfaces, formats.Surface{Name: name, Shader: shader, Parent: parent})
		m.LODs[0].Surfaces = append(m.LODs[0].Surfaces, sd)
	}
	if len(m.Surfaces) == 1 {
		return nil, ErrNoSurfaces
	}
	return m, nil
}

// surfaceGeometry merges the primitives of the node's mesh.
func (h *Host) surfaceGeometry(n *gltf.Node, jointBone map[int]int) (formats.SurfaceData, string, error) {
	var sd formats.SurfaceData
	if n.Mesh == nil {
		return sd, "", nil
	}
	if int(*n.Mesh) >= len(h.doc.Meshes) {
		return sd, "", fmt.Errorf("%w: mesh %d", ErrBadHandle, *n.Mesh)
	}

	// Joint indices address the node's own skin.
	var joints []uint32
	if n.Skin != nil && int(*n.Skin) < len(h.doc.Skins) {
		joints = h.doc.Skins[*n.Skin].Joints
	}
	boneFor := func(j uint32) int {
		if joints == nil {
			return int(j)
		}
		if int(j) < len(joints) {
			if b, ok := jointBone[int(joints[j])]; ok {
				return b
			}
		}
		return -1
	}

	shader := ""
	for _, prim := range h.doc.Meshes[*n.Mesh].Primitives {
		if shader == "" && prim.Material != nil && int(*prim.Material) < len(h.doc.Materials) {
			shader = h.doc.Materials[*prim.Material].Name
		}
		base := len(sd.Vertices)
		verts, err := h.primitiveVertices(prim, boneFor)
		if err != nil {
			return sd, "", err
		}
		sd.Vertices = append(sd.Vertices, verts...)

		if prim.Mode != gltf.PrimitiveTriangles {
			continue
		}
		var idx []uint32
		if prim.Indices != nil {
			if idx, _, err = h.readUints(*prim.Indices); err != nil {
				return sd, "", fmt.Errorf("indices: %w", err)
			}
		} else {
			idx = make([]uint32, len(verts))
			for i := range idx {
				idx[i] = uint32(i)
			}
		}
		for t := 0; t+2 < len(idx); t += 3 {
			sd.Triangles = append(sd.Triangles, formats.Triangle{
				base + int(idx[t]), base + int(idx[t+1]), base + int(idx[t+2]),
			})
		}
	}
	return sd, shader, nil
}

func (h *Host) primitiveVertices(prim *gltf.Primitive, boneFor func(uint32) int) ([]formats.Vertex, error) {
	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return nil, fmt.Errorf("%w: primitive without POSITION", ErrBadAccessor)
	}
	pos, comps, err := h.readFloats(posIdx)
	if err != nil {
		return nil, fmt.Errorf("POSITION: %w", err)
	}
	if comps != 3 {
		return nil, fmt.Errorf("%w: POSITION has %d components", ErrBadAccessor, comps)
	}
	verts := make([]formats.Vertex, len(pos)/3)
	for v := range verts {
		verts[v].Position = math.ToZUp(mgl32.Vec3{pos[3*v], pos[3*v+1], pos[3*v+2]})
	}

	if i, ok := prim.Attributes["NORMAL"]; ok {
		nrm, comps, err := h.readFloats(i)
		if err != nil {
			return nil, fmt.Errorf("NORMAL: %w", err)
		}
		for v := range verts {
			if comps == 3 && 3*v+2 < len(nrm) {
				verts[v].Normal = math.ToZUp(mgl32.Vec3{nrm[3*v], nrm[3*v+1], nrm[3*v+2]})
			}
		}
	}
	if i, ok := prim.Attributes["TEXCOORD_0"]; ok {
		uv, comps, err := h.readFloats(i)
		if err != nil {
			return nil, fmt.Errorf("TEXCOORD_0: %w", err)
		}
		for v := range verts {
			if comps == 2 && 2*v+1 < len(uv) {
				verts[v].TexCoord = mgl32.Vec2{uv[2*v], uv[2*v+1]}
			}
		}
	}

	ji, hasJ := prim.Attributes["JOINTS_0"]
	wi, hasW := prim.Attributes["WEIGHTS_0"]
	if !hasJ || !hasW {
		return verts, nil
	}
	js, jc, err := h.readUints(ji)
	if err != nil {
		return nil, fmt.Errorf("JOINTS_0: %w", err)
	}
	ws, wc, err := h.readFloats(wi)
	if err != nil {
		return nil, fmt.Errorf("WEIGHTS_0: %w", err)
	}
	if jc != 4 || wc != 4 || len(js) < 4*len(verts) || len(ws) < 4*len(verts) {
		return nil, fmt.Errorf("%w: JOINTS_0/WEIGHTS_0 do not match POSITION", ErrBadAccessor)
	}
	for v := range verts {
		for k := 0; k < 4; k++ {
			w := ws[4*v+k]
			if w <= 0 {
				continue
			}
			verts[v].Weights = append(verts[v].Weights, formats.BoneWeight{
				Bone:   boneFor(js[4*v+k]),
				Weight: w,
			})
		}
	}
	return verts, nil
}
