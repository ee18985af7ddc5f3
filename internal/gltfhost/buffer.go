package gltfhost

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"

	"github.com/Faultbox/g2tools/pkg/binio"
)

// addView appends data to the embedded buffer, 4-byte aligned.
func (h *Host) addView(data []byte, target gltf.Target) uint32 {
	buf := h.doc.Buffers[0]
	for len(buf.Data)%4 != 0 {
		buf.Data = append(buf.Data, 0)
	}
	view := &gltf.BufferView{
		Buffer:     0,
		ByteOffset: uint32(len(buf.Data)),
		ByteLength: uint32(len(data)),
		Target:     target,
	}
	buf.Data = append(buf.Data, data...)
	buf.ByteLength = uint32(len(buf.Data))
	h.doc.BufferViews = append(h.doc.BufferViews, view)
	return uint32(len(h.doc.BufferViews) - 1)
}

func (h *Host) addAccessor(acc *gltf.Accessor) uint32 {
	h.doc.Accessors = append(h.doc.Accessors, acc)
	return uint32(len(h.doc.Accessors) - 1)
}

func (h *Host) vec3Accessor(vs []mgl32.Vec3, bounds bool) uint32 {
	w := binio.NewWriter(len(vs) * 12)
	for _, v := range vs {
		w.WriteFloat32(v[0])
		w.WriteFloat32(v[1])
		w.WriteFloat32(v[2])
	}
	acc := &gltf.Accessor{
		BufferView:    index(int(h.addView(w.Bytes(), gltf.TargetArrayBuffer))),
		ComponentType: gltf.ComponentFloat,
		Type:          gltf.AccessorVec3,
		Count:         uint32(len(vs)),
	}
	if bounds && len(vs) > 0 {
		lo, hi := vs[0], vs[0]
		for _, v := range vs[1:] {
			for k := 0; k < 3; k++ {
				lo[k] = math32.Min(lo[k], v[k])
				hi[k] = math32.Max(hi[k], v[k])
			}
		}
		acc.Min = []float32{lo[0], lo[1], lo[2]}
		acc.Max = []float32{hi[0], hi[1], hi[2]}
	}
	return h.addAccessor(acc)
}

func (h *Host) floatAccessor(data []float32, typ gltf.AccessorType, target gltf.Target) uint32 {
	w := binio.NewWriter(len(data) * 4)
	for _, f := range data {
		w.WriteFloat32(f)
	}
	comps := components(typ)
	return h.addAccessor(&gltf.Accessor{
		BufferView:    index(int(h.addView(w.Bytes(), target))),
		ComponentType: gltf.ComponentFloat,
		Type:          typ,
		Count:         uint32(len(data) / comps),
	})
}

// timeAccessor stores key times with the bounds animation inputs require.
func (h *Host) timeAccessor(times []float32) uint32 {
	i := h.floatAccessor(times, gltf.AccessorScalar, 0)
	if len(times) > 0 {
		acc := h.doc.Accessors[i]
		acc.Min = []float32{times[0]}
		acc.Max = []float32{times[len(times)-1]}
	}
	return i
}

func (h *Host) jointsAccessor(joints [][4]uint16) uint32 {
	w := binio.NewWriter(len(joints) * 8)
	for _, j := range joints {
		for _, v := range j {
			w.WriteUint16(v)
		}
	}
	return h.addAccessor(&gltf.Accessor{
		BufferView:    index(int(h.addView(w.Bytes(), gltf.TargetArrayBuffer))),
		ComponentType: gltf.ComponentUshort,
		Type:          gltf.AccessorVec4,
		Count:         uint32(len(joints)),
	})
}

func (h *Host) indexAccessor(idx []uint32) uint32 {
	w := binio.NewWriter(len(idx) * 4)
	for _, v := range idx {
		w.WriteUint32(v)
	}
	return h.addAccessor(&gltf.Accessor{
		BufferView:    index(int(h.addView(w.Bytes(), gltf.TargetElementArrayBuffer))),
		ComponentType: gltf.ComponentUint,
		Type:          gltf.AccessorScalar,
		Count:         uint32(len(idx)),
	})
}

func components(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4:
		return 4
	case gltf.AccessorMat4:
		return 16
	}
	return 1
}

func componentSize(c gltf.ComponentType) int {
	switch c {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	}
	return 4
}

// accessorReader locates accessor i and returns a reader over its buffer
// along with the offset of element 0 and the element stride.
func (h *Host) accessorReader(i uint32) (*gltf.Accessor, *binio.Cursor, int, int, error) {
	if int(i) >= len(h.doc.Accessors) {
		return nil, nil, 0, 0, fmt.Errorf("%w: accessor %d of %d", ErrBadAccessor, i, len(h.doc.Accessors))
	}
	acc := h.doc.Accessors[i]
	if acc.BufferView == nil || int(*acc.BufferView) >= len(h.doc.BufferViews) {
		return nil, nil, 0, 0, fmt.Errorf("%w: accessor %d has no buffer view", ErrBadAccessor, i)
	}
	view := h.doc.BufferViews[*acc.BufferView]
	if int(view.Buffer) >= len(h.doc.Buffers) {
		return nil, nil, 0, 0, fmt.Errorf("%w: view %d buffer %d", ErrBadAccessor, *acc.BufferView, view.Buffer)
	}
	data := h.doc.Buffers[view.Buffer].Data

	elem := components(acc.Type) * componentSize(acc.ComponentType)
	stride := int(view.ByteStride)
	if stride == 0 {
		stride = elem
	}
	start := int(view.ByteOffset) + int(acc.ByteOffset)
	if acc.Count > 0 {
		end := start + (int(acc.Count)-1)*stride + elem
		if end > int(view.ByteOffset)+int(view.ByteLength) || end > len(data) {
			return nil, nil, 0, 0, fmt.Errorf("%w: accessor %d overruns its buffer", ErrBadAccessor, i)
		}
	}
	return acc, binio.NewReader(data), start, stride, nil
}

// readFloats returns accessor i flattened, converting normalized integer
// components to [0, 1].
func (h *Host) readFloats(i uint32) ([]float32, int, error) {
	acc, r, start, stride, err := h.accessorReader(i)
	if err != nil {
		return nil, 0, err
	}
	comps := components(acc.Type)
	size := componentSize(acc.ComponentType)
	out := make([]float32, 0, int(acc.Count)*comps)
	for k := 0; k < int(acc.Count); k++ {
		for c := 0; c < comps; c++ {
			if err := r.Seek(start + k*stride + c*size); err != nil {
				return nil, 0, err
			}
			var v float32
			switch acc.ComponentType {
			case gltf.ComponentFloat:
				v, err = r.ReadFloat32()
			case gltf.ComponentUbyte:
				var b uint8
				b, err = r.ReadUint8()
				v = float32(b) / 255
			case gltf.ComponentUshort:
				var s uint16
				s, err = r.ReadUint16()
				v = float32(s) / 65535
			default:
				return nil, 0, fmt.Errorf("%w: accessor %d has unsupported float component type", ErrBadAccessor, i)
			}
			if err != nil {
				return nil, 0, err
			}
			out = append(out, v)
		}
	}
	return out, comps, nil
}

// readUints returns accessor i flattened.
func (h *Host) readUints(i uint32) ([]uint32, int, error) {
	acc, r, start, stride, err := h.accessorReader(i)
	if err != nil {
		return nil, 0, err
	}
	comps := components(acc.Type)
	size := componentSize(acc.ComponentType)
	out := make([]uint32, 0, int(acc.Count)*comps)
	for k := 0; k < int(acc.Count); k++ {
		for c := 0; c < comps; c++ {
			if err := r.Seek(start + k*stride + c*size); err != nil {
				return nil, 0, err
			}
			var v uint32
			switch acc.ComponentType {
			case gltf.ComponentUbyte:
				var b uint8
				b, err = r.ReadUint8()
				v = uint32(b)
			case gltf.ComponentUshort:
				var s uint16
				s, err = r.ReadUint16()
				v = uint32(s)
			case gltf.ComponentUint:
				v, err = r.ReadUint32()
			default:
				return nil, 0, fmt.Errorf("%w: accessor %d has unsupported index component type", ErrBadAccessor, i)
			}
			if err != nil {
				return nil, 0, err
			}
			out = append(out, v)
		}
	}
	return out, comps, nil
}
