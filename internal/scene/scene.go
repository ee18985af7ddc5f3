// Package scene loads Ghoul2 models from files or a host scene and saves
// them back to either.
package scene

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/g2tools/internal/fsys"
	"github.com/Faultbox/g2tools/pkg/formats"
	"github.com/Faultbox/g2tools/pkg/skin"
)

// Scene errors.
var (
	ErrNotFound   = fsys.ErrNotFound
	ErrNoRoot     = errors.New("no " + RootName + " object found")
	ErrNoMesh     = errors.New("no mesh loaded")
	ErrNoSkeleton = errors.New("no skeleton loaded")
	ErrNoHost     = errors.New("no host scene")
)

// File extensions.
const (
	ExtGLM = "glm"
	ExtGLA = "gla"
)

// Deps are the capabilities a Scene works through.
type Deps struct {
	Host     Host
	Resolver Resolver
	IO       ByteIO
	Logger   *zap.Logger
	Limits   formats.Limits
}

// Scene holds at most one mesh and one skeleton.
type Scene struct {
	Scale    float32
	BasePath string
	Mesh     *formats.Mesh
	Skeleton *formats.Skeleton

	host     Host
	resolver Resolver
	io       ByteIO
	log      *zap.Logger
	limits   formats.Limits
}

// New returns an empty scene. Missing Logger and Limits default to a no-op
// logger and formats.DefaultLimits.
func New(basePath string, d Deps) *Scene {
	s := &Scene{
		Scale:    1,
		BasePath: basePath,
		host:     d.Host,
		resolver: d.Resolver,
		io:       d.IO,
		log:      d.Logger,
		limits:   d.Limits,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.limits == (formats.Limits{}) {
		s.limits = formats.DefaultLimits()
	}
	return s
}

// load finds and reads a game file.
func (s *Scene) load(rel, ext string) (string, []byte, error) {
	abs, ok := s.resolver.FindFile(rel, s.BasePath, []string{ext})
	if !ok {
		s.log.Warn("file not found", zap.String("path", rel), zap.String("base", s.BasePath), zap.String("ext", ext))
		return "", nil, fmt.Errorf("%w: %s.%s under %s", ErrNotFound, rel, ext, s.BasePath)
	}
	data, err := s.io.ReadAllBytes(abs)
	if err != nil {
		return abs, nil, err
	}
	return abs, data, nil
}

// LoadFromGLM fills the mesh from a GLM file.
func (s *Scene) LoadFromGLM(rel string) error {
	abs, data, err := s.load(rel, ExtGLM)
	if err != nil {
		return err
	}
	m, err := formats.DecodeMeshWithLimits(data, s.limits)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", abs, err)
	}
	s.Mesh = m
	s.log.Info("loaded model",
		zap.String("path", abs),
		zap.Int("surfaces", len(m.Surfaces)),
		zap.Int("lods", m.LODCount()),
		zap.String("gla", m.RequestedGLA()))
	return nil
}

// LoadFromGLA fills the skeleton from a GLA file, or with the default
// skeleton for formats.DefaultSkeletonName. Without loadAnimations only
// the bind pose is kept.
func (s *Scene) LoadFromGLA(rel string, loadAnimations bool) error {
	if rel == formats.DefaultSkeletonName {
		s.Skeleton = formats.DefaultSkeleton()
		s.log.Debug("using default skeleton")
		return nil
	}
	abs, data, err := s.load(rel, ExtGLA)
	if err != nil {
		return err
	}
	sk, err := formats.DecodeSkeletonWithLimits(data, s.limits)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", abs, err)
	}
	if !loadAnimations {
		sk.StripAnimation()
	}
	s.Skeleton = sk
	s.log.Info("loaded skeleton",
		zap.String("path", abs),
		zap.Int("bones", sk.BoneCount()),
		zap.Int("frames", sk.FrameCount()))
	return nil
}

// rootObject returns the existing scene root of the host.
func (s *Scene) rootObject() (Handle, error) {
	if s.host == nil {
		return 0, ErrNoHost
	}
	root, ok := s.host.FindRootObject()
	if !ok {
		return 0, ErrNoRoot
	}
	return root, nil
}

// LoadModelFromHost extracts the mesh under the host's scene root. The
// model is named glmRel and requests glaRel.
func (s *Scene) LoadModelFromHost(glmRel, glaRel string) error {
	root, err := s.rootObject()
	if err != nil {
		return err
	}
	m, err := s.host.ExtractMeshFromScene(root)
	if err != nil {
		return fmt.Errorf("extracting model: %w", err)
	}
	m.Name = glmRel
	m.AnimName = glaRel
	if m.BoneCount == 0 && s.Skeleton != nil && !s.Skeleton.IsDefault {
		m.BoneCount = s.Skeleton.BoneCount()
	}
	s.Mesh = m
	s.log.Info("extracted model", zap.String("name", glmRel), zap.Int("surfaces", len(m.Surfaces)))
	return nil
}

// LoadSkeletonFromHost extracts skeleton and animation under the host's
// scene root.
func (s *Scene) LoadSkeletonFromHost(glaRel string) error {
	root, err := s.rootObject()
	if err != nil {
		return err
	}
	sk, err := s.host.ExtractSkeletonFromScene(root)
	if err != nil {
		return fmt.Errorf("extracting skeleton: %w", err)
	}
	sk.Name = glaRel
	s.Skeleton = sk
	s.log.Info("extracted skeleton",
		zap.String("name", glaRel),
		zap.Int("bones", sk.BoneCount()),
		zap.Int("frames", sk.FrameCount()))
	return nil
}

// withExt appends .ext unless p already ends with it.
func withExt(p, ext string) string {
	if strings.HasSuffix(strings.ToLower(p), "."+ext) {
		return p
	}
	return p + "." + ext
}

// SaveToGLM writes the mesh to rel with a .glm extension. Nothing is
// written unless encoding succeeds.
func (s *Scene) SaveToGLM(rel string) error {
	if s.Mesh == nil {
		return ErrNoMesh
	}
	data, err := formats.EncodeMesh(s.Mesh)
	if err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	abs := withExt(s.resolver.AbsPath(rel, s.BasePath), ExtGLM)
	if err := s.io.WriteAllBytes(abs, data); err != nil {
		return err
	}
	s.log.Info("saved model", zap.String("path", abs), zap.Int("bytes", len(data)))
	return nil
}

// SaveToGLA writes the skeleton to rel with a .gla extension.
func (s *Scene) SaveToGLA(rel string) error {
	if s.Skeleton == nil {
		return ErrNoSkeleton
	}
	data, err := formats.EncodeSkeleton(s.Skeleton)
	if err != nil {
		return fmt.Errorf("encoding skeleton: %w", err)
	}
	abs := withExt(s.resolver.AbsPath(rel, s.BasePath), ExtGLA)
	if err := s.io.WriteAllBytes(abs, data); err != nil {
		return err
	}
	s.log.Info("saved skeleton", zap.String("path", abs), zap.Int("bytes", len(data)))
	return nil
}

// SaveToHost pushes the skeleton, and the mesh if one is loaded, into the
// host under its scene root. A root created here gets the uniform scale;
// an existing root keeps its own.
func (s *Scene) SaveToHost(scale float32) error {
	if s.host == nil {
		return ErrNoHost
	}
	if s.Skeleton == nil {
		return ErrNoSkeleton
	}

	var binding *skin.Binding
	if s.Mesh != nil {
		b, err := s.Bind()
		if err != nil {
			return err
		}
		binding = b
	}

	root, created, err := s.host.CreateOrGetRootObject()
	if err != nil {
		return fmt.Errorf("creating %s: %w", RootName, err)
	}
	if created {
		if err := s.host.ApplyUniformScale(root, scale); err != nil {
			return fmt.Errorf("scaling %s: %w", RootName, err)
		}
		s.Scale = scale
	}
	if err := s.host.LinkObjectIntoScene(root); err != nil {
		return fmt.Errorf("linking %s: %w", RootName, err)
	}

	bones, err := s.host.CreateBoneObjects(s.Skeleton)
	if err != nil {
		return fmt.Errorf("creating bones: %w", err)
	}
	s.log.Debug("created bones", zap.Int("count", len(bones)), zap.Bool("new_root", created))

	if s.Mesh != nil {
		objs, err := s.host.CreateMeshObjects(s.Mesh, binding)
		if err != nil {
			return fmt.Errorf("creating surfaces: %w", err)
		}
		if n := binding.NormalizedCount(); n > 0 {
			s.log.Warn("renormalised vertex weights", zap.Int("vertices", n))
		}
		s.log.Debug("created surfaces", zap.Int("count", len(objs)))
	}
	return nil
}

// RequestedGLA returns the GLA path the loaded mesh asks for, or "".
func (s *Scene) RequestedGLA() string {
	if s.Mesh == nil {
		return ""
	}
	return s.Mesh.RequestedGLA()
}

// Bind validates the loaded mesh against the loaded skeleton.
func (s *Scene) Bind() (*skin.Binding, error) {
	if s.Mesh == nil {
		return nil, ErrNoMesh
	}
	if s.Skeleton == nil {
		return nil, ErrNoSkeleton
	}
	return skin.Bind(s.Mesh, s.Skeleton)
}
