package main

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/g2tools/internal/gltfhost"
	"github.com/Faultbox/g2tools/internal/scene"
	"github.com/Faultbox/g2tools/pkg/formats"
)

var (
	errUnknownFile = errors.New("not a GLM, GLA or GLB file")
	errExists      = errors.New("output exists (use export.overwrite to replace it)")
)

func (e *env) scene(base string, host scene.Host) *scene.Scene {
	return scene.New(base, scene.Deps{
		Host:     host,
		Resolver: e.files,
		IO:       e.files,
		Logger:   e.log,
		Limits:   e.cfg.Limits(),
	})
}

// skeletonFor picks the GLA for a loaded model: explicit argument, then
// config override, then what the model requests.
func (e *env) skeletonFor(s *scene.Scene, args []string) string {
	switch {
	case len(args) > 0 && args[0] != "":
		return args[0]
	case e.cfg.Import.Skeleton != "":
		return e.cfg.Import.Skeleton
	}
	if gla := s.RequestedGLA(); gla != "" {
		return gla
	}
	return formats.DefaultSkeletonName
}

// target resolves an output path and refuses to replace files unless
// configured to.
func (e *env) target(rel, base, ext string) (string, error) {
	p := rel
	if !strings.HasSuffix(strings.ToLower(p), "."+ext) {
		p += "." + ext
	}
	p = e.files.AbsPath(p, base)
	if !e.cfg.Export.Overwrite && e.files.Exists(p) {
		return "", fmt.Errorf("%w: %s", errExists, p)
	}
	return p, nil
}

func (e *env) outputDir(fallback string) string {
	if e.cfg.Paths.OutputDir != "" {
		return e.cfg.Paths.OutputDir
	}
	return fallback
}

func cmdInfo(e *env, args []string) error {
	data, err := e.files.ReadAllBytes(args[0])
	if err != nil {
		return err
	}

	switch sniff(data) {
	case glmType.Extension:
		m, err := formats.DecodeMeshWithLimits(data, e.cfg.Limits())
		if err != nil {
			return err
		}
		printMesh(args[0], len(data), m)
	case glaType.Extension:
		sk, err := formats.DecodeSkeletonWithLimits(data, e.cfg.Limits())
		if err != nil {
			return err
		}
		printSkeleton(args[0], len(data), sk)
	case glbType.Extension:
		h, err := gltfhost.Decode(bytes.NewReader(data), e.log)
		if err != nil {
			return err
		}
		printGLB(args[0], len(data), h)
	default:
		return fmt.Errorf("%w: %s", errUnknownFile, args[0])
	}
	return nil
}

func printMesh(name string, size int, m *formats.Mesh) {
	fmt.Printf("File:      %s (%d bytes)\n", name, size)
	fmt.Printf("Model:     %s\n", m.Name)
	fmt.Printf("Skeleton:  %s\n", m.RequestedGLA())
	fmt.Printf("Bones:     %d\n", m.BoneCount)
	fmt.Printf("LODs:      %d\n", m.LODCount())
	fmt.Printf("Surfaces:  %d\n", len(m.Surfaces))
	fmt.Println()

	for l := range m.LODs {
		fmt.Printf("LOD %d: %d vertices, %d triangles\n", l, m.VertexCount(l), m.TriangleCount(l))
	}
	fmt.Println()

	fmt.Println("Surfaces:")
	for i, s := range m.Surfaces {
		var tags []string
		if s.IsTag() {
			tags = append(tags, "tag")
		}
		if s.IsOff() {
			tags = append(tags, "off")
		}
		verts := 0
		if len(m.LODs) > 0 && i < len(m.LODs[0].Surfaces) {
			verts = len(m.LODs[0].Surfaces[i].Vertices)
		}
		fmt.Printf("  %3d %-24s parent %3d %5d verts  %-8s %s\n",
			i, s.Name, s.Parent, verts, strings.Join(tags, ","), s.Shader)
	}
}

func printSkeleton(name string, size int, sk *formats.Skeleton) {
	fmt.Printf("File:       %s (%d bytes)\n", name, size)
	fmt.Printf("Skeleton:   %s\n", sk.Name)
	fmt.Printf("Bones:      %d\n", sk.BoneCount())
	fmt.Printf("Frames:     %d\n", sk.FrameCount())
	fmt.Printf("Frame rate: %g\n", sk.FrameRate)
	fmt.Printf("Anim scale: %g\n", sk.AnimScale)
	fmt.Println()

	fmt.Println("Bones:")
	var walk func(i, depth int)
	walk = func(i, depth int) {
		fmt.Printf("  %3d %s%s\n", i, strings.Repeat("  ", depth), sk.Bones[i].Name)
		for _, c := range sk.Children(i) {
			walk(c, depth+1)
		}
	}
	for _, r := range sk.Roots() {
		walk(r, 0)
	}
}

func printGLB(name string, size int, h *gltfhost.Host) {
	doc := h.Document()
	fmt.Printf("File:       %s (%d bytes)\n", name, size)
	fmt.Printf("Nodes:      %d\n", len(doc.Nodes))
	fmt.Printf("Meshes:     %d\n", len(doc.Meshes))
	fmt.Printf("Skins:      %d\n", len(doc.Skins))
	fmt.Printf("Animations: %d\n", len(doc.Animations))

	root, ok := h.FindRootObject()
	if !ok {
		fmt.Printf("No %s node; import will fail.\n", scene.RootName)
		return
	}
	fmt.Println()
	if m, err := h.ExtractMeshFromScene(root); err == nil {
		fmt.Printf("Model:      %d surfaces, %d LODs, %d vertices in LOD 0\n",
			len(m.Surfaces), m.LODCount(), m.VertexCount(0))
	}
	if sk, err := h.ExtractSkeletonFromScene(root); err == nil {
		fmt.Printf("Skeleton:   %s, %d bones, %d frames\n", sk.Name, sk.BoneCount(), sk.FrameCount())
	}
}

func cmdValidate(e *env, args []string) error {
	s := e.scene(e.cfg.Paths.BasePath, nil)
	if err := s.LoadFromGLM(args[0]); err != nil {
		return err
	}
	if err := s.Mesh.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	gla := e.skeletonFor(s, args[1:])
	if err := s.LoadFromGLA(gla, e.cfg.Import.Animations); err != nil {
		return err
	}
	if err := s.Skeleton.Validate(); err != nil {
		return fmt.Errorf("skeleton: %w", err)
	}
	b, err := s.Bind()
	if err != nil {
		return err
	}

	fmt.Printf("OK: %s binds to %s (%d bones, %d frames)\n",
		args[0], gla, s.Skeleton.BoneCount(), s.Skeleton.FrameCount())
	if n := b.NormalizedCount(); n > 0 {
		fmt.Printf("    %d vertices have weights that do not sum to 1\n", n)
	}
	return nil
}

func cmdRoundTrip(e *env, args []string) error {
	data, err := e.files.ReadAllBytes(args[0])
	if err != nil {
		return err
	}

	var (
		out         []byte
		first, next interface{}
	)
	switch sniff(data) {
	case glmType.Extension:
		m, err := formats.DecodeMeshWithLimits(data, e.cfg.Limits())
		if err != nil {
			return err
		}
		if out, err = formats.EncodeMesh(m); err != nil {
			return err
		}
		again, err := formats.DecodeMesh(out)
		if err != nil {
			return fmt.Errorf("decoding re-encoded model: %w", err)
		}
		first, next = m, again
	case glaType.Extension:
		sk, err := formats.DecodeSkeletonWithLimits(data, e.cfg.Limits())
		if err != nil {
			return err
		}
		if out, err = formats.EncodeSkeleton(sk); err != nil {
			return err
		}
		again, err := formats.DecodeSkeleton(out)
		if err != nil {
			return fmt.Errorf("decoding re-encoded skeleton: %w", err)
		}
		first, next = sk, again
	default:
		return fmt.Errorf("%w: %s", errUnknownFile, args[0])
	}

	if !reflect.DeepEqual(first, next) {
		return fmt.Errorf("%s: re-encoded data decodes differently", args[0])
	}
	if bytes.Equal(data, out) {
		fmt.Printf("Identical: %s (%d bytes)\n", args[0], len(data))
		return nil
	}
	at := 0
	for at < len(data) && at < len(out) && data[at] == out[at] {
		at++
	}
	fmt.Printf("Equivalent: %s decodes the same, layout differs at offset %d (%d -> %d bytes)\n",
		args[0], at, len(data), len(out))
	return nil
}

func cmdExport(e *env, args []string) error {
	host := gltfhost.New(e.log.Named("gltf"))
	s := e.scene(e.cfg.Paths.BasePath, host)
	if err := s.LoadFromGLM(args[0]); err != nil {
		return err
	}
	if err := s.LoadFromGLA(e.skeletonFor(s, nil), e.cfg.Import.Animations); err != nil {
		return err
	}
	if err := s.SaveToHost(e.cfg.Import.Scale); err != nil {
		return err
	}

	data, err := host.Bytes()
	if err != nil {
		return err
	}
	rel := strings.TrimSuffix(path.Base(filepath.ToSlash(args[0])), "."+scene.ExtGLM)
	if len(args) > 1 {
		rel = args[1]
	}
	out, err := e.target(rel, e.outputDir("."), glbType.Extension)
	if err != nil {
		return err
	}
	if err := e.files.WriteAllBytes(out, data); err != nil {
		return err
	}
	fmt.Printf("Exported: %s (%d bytes)\n", out, len(data))
	return nil
}

// defaultSkeletonPath names a skeleton after the model's directory, the
// layout used by stock player models.
func defaultSkeletonPath(glmRel string) string {
	dir := path.Dir(strings.ReplaceAll(glmRel, "\\", "/"))
	return path.Join(dir, path.Base(dir))
}

func cmdImport(e *env, args []string) error {
	host, err := gltfhost.Open(args[0], e.log.Named("gltf"))
	if err != nil {
		return err
	}
	glmRel := args[1]
	glaRel := e.cfg.Export.GLAName
	if len(args) > 2 {
		glaRel = args[2]
	}
	if glaRel == "" {
		glaRel = defaultSkeletonPath(glmRel)
	}

	base := e.outputDir(e.cfg.Paths.BasePath)
	s := e.scene(base, host)
	switch err := s.LoadSkeletonFromHost(glaRel); {
	case errors.Is(err, gltfhost.ErrNoArmature):
		e.log.Info("no armature, using the default skeleton")
		glaRel = formats.DefaultSkeletonName
		if err := s.LoadFromGLA(glaRel, false); err != nil {
			return err
		}
	case err != nil:
		return err
	}
	if err := s.LoadModelFromHost(glmRel, glaRel); err != nil {
		return err
	}
	if _, err := s.Bind(); err != nil {
		return err
	}

	glmOut, err := e.target(glmRel, base, scene.ExtGLM)
	if err != nil {
		return err
	}
	writeGLA := e.cfg.Export.Skeleton && !s.Skeleton.IsDefault
	if writeGLA {
		if _, err := e.target(glaRel, base, scene.ExtGLA); err != nil {
			return err
		}
	}

	if err := s.SaveToGLM(glmRel); err != nil {
		return err
	}
	fmt.Printf("Imported: %s\n", glmOut)
	if writeGLA {
		if err := s.SaveToGLA(glaRel); err != nil {
			return err
		}
		fmt.Printf("Imported: %s\n", e.files.AbsPath(glaRel+"."+scene.ExtGLA, base))
	}
	return nil
}

func cmdScale(e *env, args []string) error {
	f, err := strconv.ParseFloat(args[1], 32)
	if err != nil || f <= 0 {
		return fmt.Errorf("invalid scale factor %q", args[1])
	}
	data, err := e.files.ReadAllBytes(args[0])
	if err != nil {
		return err
	}

	var (
		out []byte
		ext string
	)
	switch ext = sniff(data); ext {
	case glmType.Extension:
		m, err := formats.DecodeMeshWithLimits(data, e.cfg.Limits())
		if err != nil {
			return err
		}
		m.Scale(float32(f))
		out, err = formats.EncodeMesh(m)
		if err != nil {
			return err
		}
	case glaType.Extension:
		sk, err := formats.DecodeSkeletonWithLimits(data, e.cfg.Limits())
		if err != nil {
			return err
		}
		sk.Scale(float32(f))
		out, err = formats.EncodeSkeleton(sk)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s", errUnknownFile, args[0])
	}

	var dst string
	switch {
	case len(args) > 2:
		dst, err = e.target(args[2], ".", ext)
	case e.cfg.Paths.OutputDir != "":
		dst, err = e.target(filepath.Base(args[0]), e.cfg.Paths.OutputDir, ext)
	default:
		dst, err = e.target(args[0], ".", ext)
	}
	if err != nil {
		return err
	}
	if err := e.files.WriteAllBytes(dst, out); err != nil {
		return err
	}
	e.log.Debug("scaled", zap.String("input", args[0]), zap.Float64("factor", f))
	fmt.Printf("Scaled: %s -> %s (x%g)\n", args[0], dst, f)
	return nil
}
