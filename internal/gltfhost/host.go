// Package gltfhost stores Ghoul2 models in a glTF 2.0 document so they can
// be edited in any glTF tool and read back.
package gltfhost

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/qmuntal/gltf"
	"go.uber.org/zap"

	"github.com/Faultbox/g2tools/internal/scene"
)

// Host errors.
var (
	ErrNoArmature  = errors.New("no armature under scene root")
	ErrNoSurfaces  = errors.New("no surfaces under scene root")
	ErrBadAccessor = errors.New("invalid accessor")
	ErrBadHandle   = errors.New("invalid object handle")
)

const generator = "g2tool"

var identityMatrix = [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// Host is a scene.Host backed by a glTF document. Handles are node indices.
type Host struct {
	doc *gltf.Document
	log *zap.Logger

	root      int
	hasRoot   bool
	joints    []uint32 // bone node per skeleton bone
	skin      *uint32
	materials map[string]uint32
}

var _ scene.Host = (*Host)(nil)

// New returns a host over an empty document.
func New(log *zap.Logger) *Host {
	doc := &gltf.Document{}
	doc.Asset.Version = "2.0"
	doc.Asset.Generator = generator
	return wrap(doc, log)
}

// Open loads a .gltf or .glb file.
func Open(path string, log *zap.Logger) (*Host, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return wrap(doc, log), nil
}

// Decode reads a glTF or GLB document from r. External buffers are not
// resolved.
func Decode(r io.Reader, log *zap.Logger) (*Host, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(r).Decode(doc); err != nil {
		return nil, fmt.Errorf("decoding glTF: %w", err)
	}
	return wrap(doc, log), nil
}

func wrap(doc *gltf.Document, log *zap.Logger) *Host {
	if log == nil {
		log = zap.NewNop()
	}
	if len(doc.Scenes) == 0 {
		doc.Scenes = append(doc.Scenes, &gltf.Scene{})
	}
	if doc.Scene == nil {
		doc.Scene = index(0)
	}
	if len(doc.Buffers) == 0 {
		doc.Buffers = append(doc.Buffers, &gltf.Buffer{})
	}
	// Everything is written back as a single embedded buffer.
	doc.Buffers[0].URI = ""

	h := &Host{doc: doc, log: log, materials: make(map[string]uint32)}
	for i, m := range doc.Materials {
		if _, ok := h.materials[m.Name]; !ok {
			h.materials[m.Name] = uint32(i)
		}
	}
	if root, ok := h.FindRootObject(); ok {
		h.root, h.hasRoot = int(root), true
	}
	return h
}

// Document returns the underlying glTF document.
func (h *Host) Document() *gltf.Document { return h.doc }

// Bytes encodes the document as GLB.
func (h *Host) Bytes() ([]byte, error) {
	doc := *h.doc
	if len(doc.Buffers) == 1 && len(doc.Buffers[0].Data) == 0 {
		doc.Buffers = nil
	}
	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encoding GLB: %w", err)
	}
	return buf.Bytes(), nil
}

// FindRootObject returns the first node named scene.RootName.
func (h *Host) FindRootObject() (scene.Handle, bool) {
	for i, n := range h.doc.Nodes {
		if n.Name == scene.RootName {
			return scene.Handle(i), true
		}
	}
	return 0, false
}

// CreateOrGetRootObject returns the scene root, adding an identity node
// when the document has none.
func (h *Host) CreateOrGetRootObject() (scene.Handle, bool, error) {
	if root, ok := h.FindRootObject(); ok {
		h.root, h.hasRoot = int(root), true
		return root, false, nil
	}
	h.root = h.addNode(newNode(scene.RootName))
	h.hasRoot = true
	h.log.Debug("created scene root", zap.Int("node", h.root))
	return scene.Handle(h.root), true, nil
}

// LinkObjectIntoScene adds the node to the default scene's root nodes.
func (h *Host) LinkObjectIntoScene(o scene.Handle) error {
	if _, err := h.node(o); err != nil {
		return err
	}
	sc := h.doc.Scenes[*h.doc.Scene]
	for _, n := range sc.Nodes {
		if n == uint32(o) {
			return nil
		}
	}
	sc.Nodes = append(sc.Nodes, uint32(o))
	return nil
}

// ApplyUniformScale sets the node's scale on all three axes.
func (h *Host) ApplyUniformScale(o scene.Handle, s float32) error {
	n, err := h.node(o)
	if err != nil {
		return err
	}
	n.Scale = [3]float32{s, s, s}
	return nil
}

func (h *Host) node(o scene.Handle) (*gltf.Node, error) {
	if o < 0 || int(o) >= len(h.doc.Nodes) {
		return nil, fmt.Errorf("%w: %d", ErrBadHandle, o)
	}
	return h.doc.Nodes[o], nil
}

func (h *Host) rootNode() (int, error) {
	if h.hasRoot {
		return h.root, nil
	}
	root, ok := h.FindRootObject()
	if !ok {
		return 0, scene.ErrNoRoot
	}
	h.root, h.hasRoot = int(root), true
	return h.root, nil
}

func (h *Host) addNode(n *gltf.Node) int {
	h.doc.Nodes = append(h.doc.Nodes, n)
	return len(h.doc.Nodes) - 1
}

func (h *Host) addChild(parent, child int) {
	p := h.doc.Nodes[parent]
	p.Children = append(p.Children, uint32(child))
}

// parents maps every child node to its parent.
func (h *Host) parents() map[int]int {
	out := make(map[int]int, len(h.doc.Nodes))
	for i, n := range h.doc.Nodes {
		for _, c := range n.Children {
			out[int(c)] = i
		}
	}
	return out
}

// descendants lists the nodes below root depth-first, children in order.
func (h *Host) descendants(root int) []int {
	var out []int
	seen := map[int]bool{root: true}
	var walk func(int)
	walk = func(i int) {
		for _, c := range h.doc.Nodes[i].Children {
			ci := int(c)
			if ci >= len(h.doc.Nodes) || seen[ci] {
				continue
			}
			seen[ci] = true
			out = append(out, ci)
			walk(ci)
		}
	}
	walk(root)
	return out
}

func newNode(name string) *gltf.Node {
	return &gltf.Node{
		Name:     name,
		Matrix:   identityMatrix,
		Rotation: [4]float32{0, 0, 0, 1},
		Scale:    [3]float32{1, 1, 1},
	}
}

func index(i int) *uint32 {
	v := uint32(i)
	return &v
}

// readExtras decodes an extras value into out. Extras built in memory are
// structs; decoded ones are generic JSON.
func readExtras(v interface{}, out interface{}) bool {
	if v == nil {
		return false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
