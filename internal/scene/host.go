package scene

import (
	"github.com/Faultbox/g2tools/pkg/formats"
	"github.com/Faultbox/g2tools/pkg/skin"
)

// RootName is the name of the object every imported model hangs under.
const RootName = "scene_root"

// Handle identifies an object inside a host scene.
type Handle int

// Host is a scene graph the models are pushed into and pulled out of.
type Host interface {
	// CreateOrGetRootObject returns the scene root, creating it if needed.
	CreateOrGetRootObject() (root Handle, created bool, err error)
	// LinkObjectIntoScene makes h part of the active scene.
	LinkObjectIntoScene(h Handle) error
	ApplyUniformScale(h Handle, scale float32) error
	// CreateBoneObjects builds one object per bone and returns them by name.
	CreateBoneObjects(sk *formats.Skeleton) (map[string]Handle, error)
	// CreateMeshObjects builds the surface objects of every LOD.
	CreateMeshObjects(m *formats.Mesh, b *skin.Binding) ([]Handle, error)
	ExtractSkeletonFromScene(root Handle) (*formats.Skeleton, error)
	ExtractMeshFromScene(root Handle) (*formats.Mesh, error)
	FindRootObject() (Handle, bool)
}

// Resolver turns game-relative paths into host paths.
type Resolver interface {
	// FindFile returns the path of an existing file for rel, trying each
	// extension in exts.
	FindFile(rel, base string, exts []string) (string, bool)
	AbsPath(rel, base string) string
}

// ByteIO reads and writes whole files.
type ByteIO interface {
	ReadAllBytes(path string) ([]byte, error)
	// WriteAllBytes must never leave a partial file behind.
	WriteAllBytes(path string, data []byte) error
}
