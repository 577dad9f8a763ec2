package asset

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/Faultbox/gltfcache/internal/gpu"
	"github.com/Faultbox/gltfcache/internal/logger"
	"github.com/Faultbox/gltfcache/internal/resource"
	"github.com/Faultbox/gltfcache/pkg/math"
)

// DefaultLayout stores each attribute in its own stream.
var DefaultLayout = resource.NewLayoutKey(
	resource.LayoutElement{Stride: 12, Role: resource.RolePosition},
	resource.LayoutElement{Stride: 12, Role: resource.RoleNormal},
	resource.LayoutElement{Stride: 8, Role: resource.RoleTexCoord0},
	resource.LayoutElement{Stride: 8, Role: resource.RoleTexCoord1},
	resource.LayoutElement{Stride: 16, Role: resource.RoleColor0},
	resource.LayoutElement{Stride: 16, Role: resource.RoleJoints0},
	resource.LayoutElement{Stride: 16, Role: resource.RoleWeights0},
)

// LoadOptions controls how a Source becomes a Model.
type LoadOptions struct {
	// ComputeBounds recomputes primitive bounds from vertex positions instead
	// of trusting the decoder's accessor bounds.
	ComputeBounds bool
	Layout        resource.LayoutKey // zero value means DefaultLayout
	TextureFormat gpu.Format         // FormatUnknown means RGBA8
	TextureMips   int                // cap on mip levels per texture, default 1
}

// Load validates src, uploads its geometry and images through mgr and returns
// the immutable model. It is atomic: on error every region acquired so far is
// released and no model is returned.
func Load(src *Source, mgr *resource.Manager, opts LoadOptions) (*Model, error) {
	start := time.Now()
	log := logger.Named("asset").With(zap.String("model", src.Name))

	if opts.Layout.Len() == 0 {
		opts.Layout = DefaultLayout
	}
	if opts.TextureFormat == gpu.FormatUnknown {
		opts.TextureFormat = gpu.FormatRGBA8Unorm
	}
	if opts.TextureMips <= 0 {
		opts.TextureMips = 1
	}

	m, err := buildModel(src)
	if err != nil {
		return nil, err
	}

	l := &loader{src: src, mgr: mgr, opts: opts, model: m}
	if err := l.upload(); err != nil {
		if rerr := mgr.Release(l.set); rerr != nil {
			log.Error("rollback failed", zap.Error(rerr))
		}
		return nil, err
	}
	m.Allocations = l.set

	log.Info("loaded",
		zap.Int("nodes", len(m.Nodes)),
		zap.Int("meshes", len(m.Meshes)),
		zap.Int("textures", len(m.Textures)),
		zap.Int("animations", len(m.Animations)),
		zap.Duration("took", time.Since(start)))
	return m, nil
}

// buildModel copies and validates everything that does not touch the GPU.
func buildModel(src *Source) (*Model, error) {
	m := &Model{
		Name:       src.Name,
		Nodes:      make([]Node, len(src.Nodes)),
		Materials:  append([]Material(nil), src.Materials...),
		Skins:      make([]Skin, len(src.Skins)),
		Animations: make([]Animation, len(src.Animations)),
		Cameras:    append([]Camera(nil), src.Cameras...),
	}
	for i, n := range src.Nodes {
		n.Children = append([]int(nil), n.Children...)
		n.Weights = append([]float32(nil), n.Weights...)
		m.Nodes[i] = n
	}
	if err := linkParents(m.Nodes); err != nil {
		return nil, err
	}
	for i, n := range m.Nodes {
		if n.Mesh >= len(src.Meshes) || n.Skin >= len(src.Skins) || n.Camera >= len(src.Cameras) {
			return nil, fmt.Errorf("node %d references a missing mesh, skin or camera: %w", i, ErrInvalidHierarchy)
		}
	}

	for i, s := range src.Skins {
		s.Joints = append([]int(nil), s.Joints...)
		for _, j := range s.Joints {
			if j < 0 || j >= len(m.Nodes) {
				return nil, fmt.Errorf("skin %d: joint %d out of range: %w", i, j, ErrInvalidHierarchy)
			}
		}
		ibm := make([]math.Mat4, len(s.Joints))
		for j := range ibm {
			if j < len(s.InverseBind) {
				ibm[j] = s.InverseBind[j]
			} else {
				ibm[j] = math.Identity()
			}
		}
		s.InverseBind = ibm
		m.Skins[i] = s
	}

	for i, a := range src.Animations {
		a.Channels = append([]Channel(nil), a.Channels...)
		for c := range a.Channels {
			ch := &a.Channels[c]
			if ch.Node < 0 || ch.Node >= len(m.Nodes) {
				return nil, fmt.Errorf("animation %d: channel targets node %d: %w", i, ch.Node, ErrInvalidHierarchy)
			}
			if err := ch.validate(); err != nil {
				return nil, fmt.Errorf("animation %d: %w", i, err)
			}
		}
		a.computeEnd()
		m.Animations[i] = a
	}

	scenes := src.Scenes
	if len(scenes) == 0 {
		// Files without scenes show every top-level node.
		var roots []int
		for i, n := range m.Nodes {
			if n.Parent == -1 {
				roots = append(roots, i)
			}
		}
		scenes = []SceneSource{{Name: "default", Roots: roots}}
	}
	for _, ss := range scenes {
		s, err := buildScene(m.Nodes, m.Cameras, ss)
		if err != nil {
			return nil, err
		}
		m.Scenes = append(m.Scenes, s)
	}
	m.DefaultScene = src.DefaultScene
	if m.DefaultScene < 0 || m.DefaultScene >= len(m.Scenes) {
		m.DefaultScene = 0
	}
	return m, nil
}

type loader struct {
	src   *Source
	mgr   *resource.Manager
	opts  LoadOptions
	model *Model
	set   resource.AllocationSet
}

func (l *loader) upload() error {
	if err := l.uploadGeometry(); err != nil {
		return err
	}
	return l.uploadTextures()
}

func (l *loader) uploadGeometry() error {
	var vertices, indices int
	l.model.Meshes = make([]Mesh, len(l.src.Meshes))
	for i, ms := range l.src.Meshes {
		mesh := Mesh{Name: ms.Name, Weights: append([]float32(nil), ms.Weights...)}
		for j, ps := range ms.Primitives {
			if err := checkPrimitive(&ps); err != nil {
				return fmt.Errorf("mesh %d primitive %d: %w", i, j, err)
			}
			p := Primitive{
				BaseVertex:  vertices,
				VertexCount: len(ps.Positions),
				FirstIndex:  indices,
				IndexCount:  len(ps.Indices),
				Material:    ps.Material,
				Skinned:     len(ps.Joints) > 0,
				HasColors:   len(ps.Colors) > 0,
			}
			if ps.HasBounds && !l.opts.ComputeBounds {
				p.Bounds = ps.Bounds
			} else {
				p.Bounds = math.EmptyBox()
				for _, v := range ps.Positions {
					p.Bounds = p.Bounds.Extend(v)
				}
			}
			vertices += p.VertexCount
			indices += p.IndexCount
			mesh.Primitives = append(mesh.Primitives, p)
		}
		l.model.Meshes[i] = mesh
	}

	if vertices > 0 {
		layout := l.opts.Layout
		counts := make([]int, layout.Len())
		for i := range counts {
			counts[i] = vertices
		}
		regions, err := l.mgr.AcquireVertexRegions(layout, counts)
		if err != nil {
			return fmt.Errorf("vertex regions: %w", err)
		}
		l.set.Layout = layout
		l.set.Vertex = regions
		for i, r := range regions {
			data, err := l.encodeStream(layout.Element(i), vertices)
			if err != nil {
				return err
			}
			if err := l.mgr.WriteVertex(r, data); err != nil {
				return fmt.Errorf("upload %s: %w", layout.Element(i).Role, err)
			}
		}
	}

	if indices > 0 {
		r, err := l.mgr.AcquireIndexRegion(indices, gpu.IndexUint32)
		if err != nil {
			return fmt.Errorf("index region: %w", err)
		}
		l.set.Index, l.set.HasIndex = r, true
		data := make([]byte, 0, indices*4)
		for _, ms := range l.src.Meshes {
			for _, ps := range ms.Primitives {
				for _, ix := range ps.Indices {
					data = binary.LittleEndian.AppendUint32(data, ix)
				}
			}
		}
		if err := l.mgr.WriteIndex(r, data); err != nil {
			return fmt.Errorf("upload indices: %w", err)
		}
	}
	return nil
}

func checkPrimitive(ps *PrimitiveSource) error {
	n := len(ps.Positions)
	if n == 0 {
		return fmt.Errorf("primitive has no positions")
	}
	for name, l := range map[string]int{
		"normals":   len(ps.Normals),
		"texcoord0": len(ps.TexCoord0),
		"texcoord1": len(ps.TexCoord1),
		"colors":    len(ps.Colors),
		"joints":    len(ps.Joints),
		"weights":   len(ps.Weights),
	} {
		if l != 0 && l != n {
			return fmt.Errorf("%d %s for %d positions", l, name, n)
		}
	}
	for _, ix := range ps.Indices {
		if int(ix) >= n {
			return fmt.Errorf("index %d out of range for %d vertices", ix, n)
		}
	}
	return nil
}

// encodeStream packs one attribute of every primitive into little-endian floats.
func (l *loader) encodeStream(e resource.LayoutElement, vertices int) ([]byte, error) {
	out := make([]byte, 0, vertices*e.Stride)
	put := func(vs ...float32) {
		for _, v := range vs {
			out = binary.LittleEndian.AppendUint32(out, math32.Float32bits(v))
		}
	}
	for _, ms := range l.src.Meshes {
		for _, ps := range ms.Primitives {
			for i := range ps.Positions {
				switch e.Role {
				case resource.RolePosition:
					p := ps.Positions[i]
					put(p.X, p.Y, p.Z)
				case resource.RoleNormal:
					if len(ps.Normals) > 0 {
						n := ps.Normals[i]
						put(n.X, n.Y, n.Z)
					} else {
						put(0, 0, 1)
					}
				case resource.RoleTexCoord0:
					put(pick2(ps.TexCoord0, i)...)
				case resource.RoleTexCoord1:
					put(pick2(ps.TexCoord1, i)...)
				case resource.RoleColor0:
					if len(ps.Colors) > 0 {
						put(ps.Colors[i][:]...)
					} else {
						put(1, 1, 1, 1)
					}
				case resource.RoleJoints0:
					if len(ps.Joints) > 0 {
						j := ps.Joints[i]
						put(float32(j[0]), float32(j[1]), float32(j[2]), float32(j[3]))
					} else {
						put(0, 0, 0, 0)
					}
				case resource.RoleWeights0:
					if len(ps.Weights) > 0 {
						put(ps.Weights[i][:]...)
					} else {
						put(0, 0, 0, 0)
					}
				case resource.RoleTangent:
					put(0, 0, 0, 0)
				default:
					return nil, fmt.Errorf("layout role %q has no vertex source: %w", e.Role, resource.ErrUnsupportedLayout)
				}
			}
		}
	}
	if len(out) != vertices*e.Stride {
		return nil, fmt.Errorf("role %s encodes %d bytes per vertex, layout stride is %d: %w",
			e.Role, len(out)/vertices, e.Stride, resource.ErrUnsupportedLayout)
	}
	return out, nil
}

func pick2(uv [][2]float32, i int) []float32 {
	if len(uv) == 0 {
		return []float32{0, 0}
	}
	return uv[i][:]
}

func (l *loader) uploadTextures() error {
	l.model.Textures = make([]Texture, len(l.src.Images))
	resident := make([]bool, len(l.src.Images))
	for i, img := range l.src.Images {
		tex := Texture{Name: img.Name}
		if img.Image == nil {
			l.model.Textures[i] = tex
			continue
		}
		b := img.Image.Bounds()
		mips := min(fullMipCount(b.Dx(), b.Dy()), l.opts.TextureMips, l.mgr.AtlasMipLevels(l.opts.TextureFormat))
		r, err := l.mgr.AcquireAtlasRegion(l.opts.TextureFormat, b.Dx(), b.Dy(), mips)
		if err != nil {
			return fmt.Errorf("texture %d (%s): %w", i, img.Name, err)
		}
		l.set.Textures = append(l.set.Textures, r)
		if err := l.mgr.CopyImage(r, img.Image); err != nil {
			return fmt.Errorf("texture %d (%s): %w", i, img.Name, err)
		}
		if tex.UV, err = l.mgr.AtlasUV(r); err != nil {
			return err
		}
		tex.Region = r
		l.model.Textures[i] = tex
		resident[i] = true
	}

	// Materials only reference textures that made it into an atlas.
	ref := func(t int) int {
		if t >= 0 && t < len(resident) && resident[t] {
			return t
		}
		return -1
	}
	for i := range l.model.Materials {
		mat := &l.model.Materials[i]
		mat.BaseColorTexture = ref(mat.BaseColorTexture)
		mat.NormalTexture = ref(mat.NormalTexture)
		mat.EmissiveTexture = ref(mat.EmissiveTexture)
	}
	return nil
}

func fullMipCount(w, h int) int {
	n := 1
	for m := max(w, h); m > 1; m >>= 1 {
		n++
	}
	return n
}
