// Package gltf decodes glTF 2.0 files (JSON or GLB) into asset sources.
package gltf

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chewxy/math32"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/Faultbox/gltfcache/internal/asset"
	"github.com/Faultbox/gltfcache/internal/logger"
	"github.com/Faultbox/gltfcache/pkg/math"
)

// Decoding errors.
var (
	ErrInvalidGLB      = errors.New("gltf: invalid GLB container")
	ErrUnsupported     = errors.New("gltf: unsupported feature")
	ErrInvalidAccessor = errors.New("gltf: invalid accessor")
	ErrInvalidDocument = errors.New("gltf: invalid document")
)

// supportedExtensions may appear in extensionsRequired.
var supportedExtensions = []string{"EXT_texture_webp"}

// Open decodes the file at path, resolving external buffers and images
// relative to its directory.
func Open(filename string) (*asset.Source, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("gltf: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return Decode(data, os.DirFS(filepath.Dir(filename)), name)
}

// Decode parses a .gltf or .glb file held in data. External URIs are read
// from fsys, which may be nil for self-contained files.
func Decode(data []byte, fsys fs.FS, name string) (*asset.Source, error) {
	jsonChunk, bin := data, []byte(nil)
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == glbMagic {
		var err error
		if jsonChunk, bin, err = splitGLB(data); err != nil {
			return nil, err
		}
	}

	var doc document
	if err := json.Unmarshal(jsonChunk, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if !strings.HasPrefix(doc.Asset.Version, "2.") {
		return nil, fmt.Errorf("%w: asset version %q", ErrUnsupported, doc.Asset.Version)
	}
	for _, ext := range doc.ExtensionsRequired {
		if !slices.Contains(supportedExtensions, ext) {
			return nil, fmt.Errorf("%w: required extension %s", ErrUnsupported, ext)
		}
	}

	d := &decoder{
		doc:  &doc,
		fsys: fsys,
		log:  logger.Named("gltf").With(zap.String("file", name)),
	}
	if err := d.loadBuffers(bin); err != nil {
		return nil, err
	}
	return d.source(name)
}

// splitGLB returns the JSON and BIN chunks of a GLB container.
func splitGLB(data []byte) ([]byte, []byte, error) {
	if len(data) < 20 {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrInvalidGLB, len(data))
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != glbVersion {
		return nil, nil, fmt.Errorf("%w: version %d", ErrInvalidGLB, v)
	}
	total := int(binary.LittleEndian.Uint32(data[8:]))
	if total > len(data) {
		return nil, nil, fmt.Errorf("%w: length %d exceeds %d bytes", ErrInvalidGLB, total, len(data))
	}

	var jsonChunk, bin []byte
	for off := 12; off+8 <= total; {
		n := int(binary.LittleEndian.Uint32(data[off:]))
		typ := binary.LittleEndian.Uint32(data[off+4:])
		off += 8
		if off+n > total {
			return nil, nil, fmt.Errorf("%w: chunk overruns file", ErrInvalidGLB)
		}
		switch typ {
		case glbChunkJSON:
			if jsonChunk == nil {
				jsonChunk = data[off : off+n]
			}
		case glbChunkBIN:
			if bin == nil {
				bin = data[off : off+n]
			}
		}
		off += n
	}
	if jsonChunk == nil {
		return nil, nil, fmt.Errorf("%w: no JSON chunk", ErrInvalidGLB)
	}
	return jsonChunk, bin, nil
}

type decoder struct {
	doc     *document
	fsys    fs.FS
	buffers [][]byte
	log     *zap.Logger
}

func (d *decoder) loadBuffers(bin []byte) error {
	d.buffers = make([][]byte, len(d.doc.Buffers))
	for i, b := range d.doc.Buffers {
		var data []byte
		switch {
		case b.URI == "" && i == 0 && bin != nil:
			data = bin
		case b.URI == "":
			return fmt.Errorf("%w: buffer %d has no data", ErrInvalidDocument, i)
		default:
			var err error
			if data, err = d.readURI(b.URI); err != nil {
				return fmt.Errorf("gltf: buffer %d: %w", i, err)
			}
		}
		if len(data) < b.ByteLength {
			return fmt.Errorf("%w: buffer %d holds %d of %d bytes", ErrInvalidDocument, i, len(data), b.ByteLength)
		}
		d.buffers[i] = data[:b.ByteLength]
	}
	return nil
}

// readURI resolves a data: URI or a path relative to the file.
func (d *decoder) readURI(uri string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(uri, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, fmt.Errorf("malformed data URI")
		}
		if strings.HasSuffix(meta, ";base64") {
			return base64.StdEncoding.DecodeString(payload)
		}
		s, err := url.PathUnescape(payload)
		return []byte(s), err
	}
	if d.fsys == nil {
		return nil, fmt.Errorf("external resource %q without a file system", uri)
	}
	p, err := url.PathUnescape(uri)
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(d.fsys, path.Clean(p))
}

func (d *decoder) view(i int) ([]byte, int, error) {
	if i < 0 || i >= len(d.doc.BufferViews) {
		return nil, 0, fmt.Errorf("%w: buffer view %d", ErrInvalidDocument, i)
	}
	v := d.doc.BufferViews[i]
	if v.Buffer < 0 || v.Buffer >= len(d.buffers) || v.ByteOffset+v.ByteLength > len(d.buffers[v.Buffer]) {
		return nil, 0, fmt.Errorf("%w: buffer view %d out of range", ErrInvalidDocument, i)
	}
	stride := 0
	if v.ByteStride != nil {
		stride = *v.ByteStride
	}
	return d.buffers[v.Buffer][v.ByteOffset : v.ByteOffset+v.ByteLength], stride, nil
}

// each calls fn with the bytes of every component of every element of
// accessor i.
func (d *decoder) each(i int, fn func(elem, comp int, b []byte)) (*accessor, error) {
	if i < 0 || i >= len(d.doc.Accessors) {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidAccessor, i)
	}
	a := &d.doc.Accessors[i]
	if a.Sparse != nil {
		return nil, fmt.Errorf("%w: sparse accessor %d", ErrUnsupported, i)
	}
	cs, comps := componentSize(a.ComponentType), typeComponents(a.Type)
	if cs == 0 || comps == 0 {
		return nil, fmt.Errorf("%w: %d has component type %d and type %q", ErrInvalidAccessor, i, a.ComponentType, a.Type)
	}
	if a.BufferView == nil {
		// No data: every component is zero.
		zero := make([]byte, cs)
		for e := 0; e < a.Count; e++ {
			for c := 0; c < comps; c++ {
				fn(e, c, zero)
			}
		}
		return a, nil
	}
	data, stride, err := d.view(*a.BufferView)
	if err != nil {
		return nil, err
	}
	elemSize := cs * comps
	if stride == 0 {
		stride = elemSize
	}
	if a.Count > 0 && a.ByteOffset+stride*(a.Count-1)+elemSize > len(data) {
		return nil, fmt.Errorf("%w: %d overruns its buffer view", ErrInvalidAccessor, i)
	}
	for e := 0; e < a.Count; e++ {
		base := a.ByteOffset + e*stride
		for c := 0; c < comps; c++ {
			fn(e, c, data[base+c*cs:base+(c+1)*cs])
		}
	}
	return a, nil
}

// floats reads accessor i as float32s, normalizing integer data when the
// accessor says so.
func (d *decoder) floats(i int) ([]float32, *accessor, error) {
	var out []float32
	a, err := d.each(i, func(_, _ int, b []byte) {
		out = append(out, component(&d.doc.Accessors[i], b))
	})
	if err != nil {
		return nil, nil, err
	}
	return out, a, nil
}

func component(a *accessor, b []byte) float32 {
	switch a.ComponentType {
	case componentFloat:
		return math32.Float32frombits(binary.LittleEndian.Uint32(b))
	case componentUnsignedByte:
		if a.Normalized {
			return float32(b[0]) / 255
		}
		return float32(b[0])
	case componentByte:
		if a.Normalized {
			return max(float32(int8(b[0]))/127, -1)
		}
		return float32(int8(b[0]))
	case componentUnsignedShort:
		v := binary.LittleEndian.Uint16(b)
		if a.Normalized {
			return float32(v) / 65535
		}
		return float32(v)
	case componentShort:
		v := int16(binary.LittleEndian.Uint16(b))
		if a.Normalized {
			return max(float32(v)/32767, -1)
		}
		return float32(v)
	case componentUnsignedInt:
		return float32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

// uints reads an unsigned integer accessor, as used for indices and joints.
func (d *decoder) uints(i int) ([]uint32, *accessor, error) {
	var out []uint32
	a, err := d.each(i, func(_, _ int, b []byte) {
		switch len(b) {
		case 1:
			out = append(out, uint32(b[0]))
		case 2:
			out = append(out, uint32(binary.LittleEndian.Uint16(b)))
		default:
			out = append(out, binary.LittleEndian.Uint32(b))
		}
	})
	if err != nil {
		return nil, nil, err
	}
	switch a.ComponentType {
	case componentUnsignedByte, componentUnsignedShort, componentUnsignedInt:
		return out, a, nil
	}
	return nil, nil, fmt.Errorf("%w: %d must be unsigned integers", ErrInvalidAccessor, i)
}

func (d *decoder) source(name string) (*asset.Source, error) {
	doc := d.doc
	src := &asset.Source{Name: name}

	for _, n := range doc.Nodes {
		src.Nodes = append(src.Nodes, convertNode(n))
	}
	for _, s := range doc.Scenes {
		src.Scenes = append(src.Scenes, asset.SceneSource{Name: s.Name, Roots: s.Nodes})
	}
	if doc.Scene != nil {
		src.DefaultScene = *doc.Scene
	}

	for i, m := range doc.Meshes {
		ms, err := d.mesh(i, m)
		if err != nil {
			return nil, err
		}
		src.Meshes = append(src.Meshes, ms)
	}
	for _, m := range doc.Materials {
		src.Materials = append(src.Materials, d.material(m))
	}
	for i, img := range doc.Images {
		src.Images = append(src.Images, d.image(i, img))
	}
	for i, s := range doc.Skins {
		sk, err := d.skin(i, s)
		if err != nil {
			return nil, err
		}
		src.Skins = append(src.Skins, sk)
	}
	for i, a := range doc.Animations {
		an, err := d.animation(i, a)
		if err != nil {
			return nil, err
		}
		src.Animations = append(src.Animations, an)
	}
	for _, c := range doc.Cameras {
		src.Cameras = append(src.Cameras, convertCamera(c))
	}
	return src, nil
}

func convertNode(n node) asset.Node {
	out := asset.NewNode(n.Name)
	out.Children = n.Children
	out.Weights = n.Weights
	if n.Mesh != nil {
		out.Mesh = *n.Mesh
	}
	if n.Skin != nil {
		out.Skin = *n.Skin
	}
	if n.Camera != nil {
		out.Camera = *n.Camera
	}
	if n.Translation != nil {
		out.Translation = math.V3(*n.Translation)
	}
	if n.Rotation != nil {
		out.Rotation = math.Q(*n.Rotation)
	}
	if n.Scale != nil {
		out.Scale = math.V3(*n.Scale)
	}
	if n.Matrix != nil {
		out.Matrix = math.Mat4(*n.Matrix)
		out.HasMatrix = true
	}
	return out
}

func (d *decoder) mesh(i int, m mesh) (asset.MeshSource, error) {
	out := asset.MeshSource{Name: m.Name, Weights: m.Weights}
	for j, p := range m.Primitives {
		if p.Mode != nil && *p.Mode != modeTriangles {
			d.log.Warn("skipping non-triangle primitive", zap.Int("mesh", i), zap.Int("primitive", j), zap.Int("mode", *p.Mode))
			continue
		}
		ps, err := d.primitive(p)
		if err != nil {
			return out, fmt.Errorf("gltf: mesh %d primitive %d: %w", i, j, err)
		}
		out.Primitives = append(out.Primitives, ps)
	}
	return out, nil
}

func (d *decoder) primitive(p primitive) (asset.PrimitiveSource, error) {
	ps := asset.PrimitiveSource{Material: -1}
	if p.Material != nil {
		ps.Material = *p.Material
	}
	pos, ok := p.Attributes["POSITION"]
	if !ok {
		return ps, fmt.Errorf("%w: primitive without POSITION", ErrInvalidDocument)
	}
	v, a, err := d.vec(pos, 3)
	if err != nil {
		return ps, err
	}
	for k := 0; k < len(v); k += 3 {
		ps.Positions = append(ps.Positions, math.Vec3{X: v[k], Y: v[k+1], Z: v[k+2]})
	}
	if len(a.Min) == 3 && len(a.Max) == 3 {
		ps.Bounds = math.Box{Min: math.V3([3]float32(a.Min)), Max: math.V3([3]float32(a.Max))}
		ps.HasBounds = true
	}

	if i, ok := p.Attributes["NORMAL"]; ok {
		v, _, err := d.vec(i, 3)
		if err != nil {
			return ps, err
		}
		for k := 0; k < len(v); k += 3 {
			ps.Normals = append(ps.Normals, math.Vec3{X: v[k], Y: v[k+1], Z: v[k+2]})
		}
	}
	for attr, dst := range map[string]*[][2]float32{"TEXCOORD_0": &ps.TexCoord0, "TEXCOORD_1": &ps.TexCoord1} {
		i, ok := p.Attributes[attr]
		if !ok {
			continue
		}
		v, _, err := d.vec(i, 2)
		if err != nil {
			return ps, err
		}
		for k := 0; k < len(v); k += 2 {
			*dst = append(*dst, [2]float32{v[k], v[k+1]})
		}
	}
	if i, ok := p.Attributes["COLOR_0"]; ok {
		v, a, err := d.floats(i)
		if err != nil {
			return ps, err
		}
		comps := typeComponents(a.Type)
		if comps != 3 && comps != 4 {
			return ps, fmt.Errorf("%w: COLOR_0 of type %s", ErrInvalidAccessor, a.Type)
		}
		for k := 0; k < len(v); k += comps {
			c := [4]float32{v[k], v[k+1], v[k+2], 1}
			if comps == 4 {
				c[3] = v[k+3]
			}
			ps.Colors = append(ps.Colors, c)
		}
	}
	if i, ok := p.Attributes["JOINTS_0"]; ok {
		v, _, err := d.uints(i)
		if err != nil {
			return ps, err
		}
		for k := 0; k+3 < len(v); k += 4 {
			ps.Joints = append(ps.Joints, [4]uint16{uint16(v[k]), uint16(v[k+1]), uint16(v[k+2]), uint16(v[k+3])})
		}
	}
	if i, ok := p.Attributes["WEIGHTS_0"]; ok {
		v, _, err := d.vec(i, 4)
		if err != nil {
			return ps, err
		}
		for k := 0; k < len(v); k += 4 {
			ps.Weights = append(ps.Weights, [4]float32{v[k], v[k+1], v[k+2], v[k+3]})
		}
	}
	if p.Indices != nil {
		if ps.Indices, _, err = d.uints(*p.Indices); err != nil {
			return ps, err
		}
	}
	return ps, nil
}

// vec reads accessor i, which must have comps components per element.
func (d *decoder) vec(i, comps int) ([]float32, *accessor, error) {
	v, a, err := d.floats(i)
	if err != nil {
		return nil, nil, err
	}
	if typeComponents(a.Type) != comps {
		return nil, nil, fmt.Errorf("%w: %d is %s, want %d components", ErrInvalidAccessor, i, a.Type, comps)
	}
	return v, a, nil
}

// textureImage maps a texture reference to the index of its image.
func (d *decoder) textureImage(ti *textureInfo) int {
	if ti == nil || ti.Index < 0 || ti.Index >= len(d.doc.Textures) {
		return -1
	}
	t := d.doc.Textures[ti.Index]
	if w := t.Extensions.WebP; w != nil && w.Source >= 0 && w.Source < len(d.doc.Images) {
		return w.Source
	}
	if s := t.Source; s != nil && *s >= 0 && *s < len(d.doc.Images) {
		return *s
	}
	return -1
}

func (d *decoder) material(m material) asset.Material {
	out := asset.Material{
		Name:            m.Name,
		BaseColorFactor: [4]float32{1, 1, 1, 1},
		MetallicFactor:  1,
		RoughnessFactor: 1,
		AlphaCutoff:     0.5,
		DoubleSided:     m.DoubleSided,
		NormalTexture:   d.textureImage(m.NormalTexture),
		EmissiveTexture: d.textureImage(m.EmissiveTexture),
	}
	out.BaseColorTexture = -1
	if pbr := m.PbrMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			out.BaseColorFactor = *pbr.BaseColorFactor
		}
		if pbr.MetallicFactor != nil {
			out.MetallicFactor = *pbr.MetallicFactor
		}
		if pbr.RoughnessFactor != nil {
			out.RoughnessFactor = *pbr.RoughnessFactor
		}
		out.BaseColorTexture = d.textureImage(pbr.BaseColorTexture)
		if pbr.BaseColorTexture != nil {
			out.TexCoordSet = pbr.BaseColorTexture.TexCoord
		}
	}
	if m.EmissiveFactor != nil {
		out.EmissiveFactor = math.V3(*m.EmissiveFactor)
	}
	if m.AlphaCutoff != nil {
		out.AlphaCutoff = *m.AlphaCutoff
	}
	switch m.AlphaMode {
	case "MASK":
		out.AlphaMode = asset.AlphaMask
	case "BLEND":
		out.AlphaMode = asset.AlphaBlend
	}
	return out
}

// image decodes image i. Failures leave Image nil so the texture is skipped
// rather than failing the whole file.
func (d *decoder) image(i int, img imageDef) asset.ImageSource {
	out := asset.ImageSource{Name: img.Name}
	if out.Name == "" && img.URI != "" && !strings.HasPrefix(img.URI, "data:") {
		out.Name = path.Base(img.URI)
	}
	var data []byte
	var err error
	switch {
	case img.BufferView != nil:
		data, _, err = d.view(*img.BufferView)
	case img.URI != "":
		data, err = d.readURI(img.URI)
	default:
		err = fmt.Errorf("no image data")
	}
	if err == nil {
		out.Image, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		d.log.Warn("image not decoded", zap.Int("image", i), zap.String("name", out.Name), zap.Error(err))
	}
	return out
}

func (d *decoder) skin(i int, s skin) (asset.Skin, error) {
	out := asset.Skin{Name: s.Name, Joints: s.Joints, Skeleton: -1}
	if s.Skeleton != nil {
		out.Skeleton = *s.Skeleton
	}
	if s.InverseBindMatrices != nil {
		v, _, err := d.vec(*s.InverseBindMatrices, 16)
		if err != nil {
			return out, fmt.Errorf("gltf: skin %d: %w", i, err)
		}
		for k := 0; k+16 <= len(v); k += 16 {
			out.InverseBind = append(out.InverseBind, math.Mat4([16]float32(v[k:k+16])))
		}
	}
	return out, nil
}

func (d *decoder) animation(i int, a animation) (asset.Animation, error) {
	out := asset.Animation{Name: a.Name}
	for j, ch := range a.Channels {
		if ch.Target.Node == nil {
			continue
		}
		if ch.Sampler < 0 || ch.Sampler >= len(a.Samplers) {
			return out, fmt.Errorf("%w: animation %d channel %d sampler %d", ErrInvalidDocument, i, j, ch.Sampler)
		}
		s := a.Samplers[ch.Sampler]
		c := asset.Channel{Node: *ch.Target.Node}
		switch ch.Target.Path {
		case "translation":
			c.Path = asset.PathTranslation
		case "rotation":
			c.Path = asset.PathRotation
		case "scale":
			c.Path = asset.PathScale
		case "weights":
			c.Path = asset.PathWeights
		default:
			d.log.Warn("skipping animation channel", zap.Int("animation", i), zap.String("path", ch.Target.Path))
			continue
		}
		switch s.Interpolation {
		case "", "LINEAR":
			c.Interpolation = asset.InterpLinear
		case "STEP":
			c.Interpolation = asset.InterpStep
		case "CUBICSPLINE":
			c.Interpolation = asset.InterpCubicSpline
		default:
			return out, fmt.Errorf("%w: interpolation %q", ErrUnsupported, s.Interpolation)
		}
		var err error
		if c.Times, _, err = d.vec(s.Input, 1); err != nil {
			return out, fmt.Errorf("gltf: animation %d input: %w", i, err)
		}
		if c.Values, _, err = d.floats(s.Output); err != nil {
			return out, fmt.Errorf("gltf: animation %d output: %w", i, err)
		}
		out.Channels = append(out.Channels, c)
	}
	return out, nil
}

func convertCamera(c camera) asset.Camera {
	out := asset.Camera{Name: c.Name}
	switch {
	case c.Type == "perspective" && c.Perspective != nil:
		p := c.Perspective
		out.Projection = asset.Perspective
		out.YFov, out.ZNear = p.YFov, p.ZNear
		if p.AspectRatio != nil {
			out.Aspect = *p.AspectRatio
		}
		out.ZFar = math32.Inf(1)
		if p.ZFar != nil {
			out.ZFar = *p.ZFar
		}
	case c.Orthographic != nil:
		o := c.Orthographic
		out.Projection = asset.Orthographic
		out.XMag, out.YMag, out.ZNear, out.ZFar = o.XMag, o.YMag, o.ZNear, o.ZFar
	}
	return out
}
