// Package renderer draws loaded models with OpenGL from their binding sets.
package renderer

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/gltfcache/internal/asset"
	"github.com/Faultbox/gltfcache/internal/binding"
	"github.com/Faultbox/gltfcache/internal/engine/debug"
	"github.com/Faultbox/gltfcache/internal/engine/shader"
	"github.com/Faultbox/gltfcache/internal/logger"
	"github.com/Faultbox/gltfcache/internal/resource"
	"github.com/Faultbox/gltfcache/pkg/math"
)

// Config holds renderer configuration.
type Config struct {
	Width      int
	Height     int
	Background [4]float32
	// LightDir is the direction the light travels.
	LightDir math.Vec3
}

// attribute is a vertex stream's shader input.
type attribute struct {
	role       resource.Role
	location   uint32
	components int32
	fallback   [4]float32 // used when the stream is not bound
}

var attributes = []attribute{
	{resource.RolePosition, 0, 3, [4]float32{0, 0, 0, 1}},
	{resource.RoleNormal, 1, 3, [4]float32{0, 0, 1, 0}},
	{resource.RoleTexCoord0, 2, 2, [4]float32{}},
	{resource.RoleTexCoord1, 3, 2, [4]float32{}},
	{resource.RoleColor0, 4, 4, [4]float32{1, 1, 1, 1}},
	{resource.RoleJoints0, 5, 4, [4]float32{}},
	{resource.RoleWeights0, 6, 4, [4]float32{}},
}

type program struct {
	id       uint32
	uniforms map[string]int32
}

func (p *program) loc(name string) int32 {
	l, ok := p.uniforms[name]
	if !ok {
		l = shader.GetUniform(p.id, name)
		p.uniforms[name] = l
	}
	return l
}

// Renderer handles all OpenGL rendering. It needs a current context and a
// loaded GL, see glgpu.New.
type Renderer struct {
	config Config
	log    *zap.Logger

	programs map[binding.Flags]*program
	lines    *program
	vao      uint32

	cubeVAO uint32
	cubeVBO uint32
}

// New creates a new renderer.
func New(cfg Config) (*Renderer, error) {
	r := &Renderer{
		config:   cfg,
		log:      logger.Named("renderer"),
		programs: make(map[binding.Flags]*program),
	}

	gl.Enable(gl.DEPTH_TEST)
	gl.DepthFunc(gl.LESS)
	bg := cfg.Background
	gl.ClearColor(bg[0], bg[1], bg[2], bg[3])
	gl.Viewport(0, 0, int32(cfg.Width), int32(cfg.Height))

	id, err := shader.CompileProgram(lineVertexShader, lineFragmentShader)
	if err != nil {
		return nil, fmt.Errorf("line program: %w", err)
	}
	r.lines = &program{id: id, uniforms: make(map[string]int32)}

	gl.GenVertexArrays(1, &r.vao)
	r.createCube()
	return r, nil
}

// Close cleans up renderer resources.
func (r *Renderer) Close() {
	r.log.Info("closing renderer")
	for _, p := range r.programs {
		gl.DeleteProgram(p.id)
	}
	if r.lines != nil {
		gl.DeleteProgram(r.lines.id)
	}
	gl.DeleteVertexArrays(1, &r.vao)
	gl.DeleteVertexArrays(1, &r.cubeVAO)
	gl.DeleteBuffers(1, &r.cubeVBO)
}

// Resize handles window resize.
func (r *Renderer) Resize(width, height int) {
	r.config.Width = width
	r.config.Height = height
	gl.Viewport(0, 0, int32(width), int32(height))
	r.log.Debug("renderer resized", zap.Int("width", width), zap.Int("height", height))
}

// Aspect returns the viewport aspect ratio.
func (r *Renderer) Aspect() float32 {
	if r.config.Height == 0 {
		return 1
	}
	return float32(r.config.Width) / float32(r.config.Height)
}

// Begin starts a new frame.
func (r *Renderer) Begin() {
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)
}

// program returns the shader variant for flags, compiling it on first use.
func (r *Renderer) program(flags binding.Flags) (*program, error) {
	if p, ok := r.programs[flags]; ok {
		return p, nil
	}
	var defines []string
	if flags.Has(binding.FlagTextureAtlas) {
		defines = append(defines, "USE_ATLAS")
	}
	if flags.Has(binding.FlagVertexColors) {
		defines = append(defines, "USE_COLOR")
	}
	if flags.Has(binding.FlagJoints) {
		defines = append(defines, "USE_SKIN")
	}
	id, err := shader.CompileVariant(meshVertexShader, meshFragmentShader, defines)
	if err != nil {
		return nil, fmt.Errorf("mesh program %s: %w", flags, err)
	}
	p := &program{id: id, uniforms: make(map[string]int32)}
	r.programs[flags] = p
	r.log.Debug("shader variant compiled", zap.Stringer("flags", flags), zap.Uint32("program", id))
	return p, nil
}

// Draw is one model draw.
type Draw struct {
	Model      *asset.Model
	Bindings   *binding.BindingSet
	Transforms *asset.Transforms
	Scene      int
	ViewProj   math.Mat4
}

// DrawModel draws every primitive of d.Scene. Opaque and masked materials
// go first, blended ones after with depth writes off.
func (r *Renderer) DrawModel(d Draw) error {
	set := d.Bindings
	p, err := r.program(set.Pipeline.Flags)
	if err != nil {
		return err
	}
	gl.UseProgram(p.id)
	gl.UniformMatrix4fv(p.loc("uViewProj"), 1, false, d.ViewProj.Ptr())
	l := r.config.LightDir
	gl.Uniform3f(p.loc("uLightDir"), l.X, l.Y, l.Z)
	gl.Uniform1i(p.loc("uAtlas"), 0)

	gl.BindVertexArray(r.vao)
	for _, a := range attributes {
		s, ok := set.Stream(a.role)
		if !ok {
			gl.DisableVertexAttribArray(a.location)
			gl.VertexAttrib4f(a.location, a.fallback[0], a.fallback[1], a.fallback[2], a.fallback[3])
			continue
		}
		gl.BindBuffer(gl.ARRAY_BUFFER, uint32(s.Buffer))
		gl.VertexAttribPointer(a.location, a.components, gl.FLOAT, false, int32(s.Stride), gl.PtrOffset(s.Offset))
		gl.EnableVertexAttribArray(a.location)
	}
	if set.HasIndex {
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, uint32(set.Index.Buffer))
	}

	for _, blended := range []bool{false, true} {
		if blended {
			gl.Enable(gl.BLEND)
			gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)
			gl.DepthMask(false)
		}
		r.drawPass(p, d, blended)
	}
	gl.Disable(gl.BLEND)
	gl.DepthMask(true)
	gl.BindVertexArray(0)
	return nil
}

func (r *Renderer) drawPass(p *program, d Draw, blended bool) {
	m := d.Model
	set := d.Bindings
	for _, n := range m.Scenes[d.Scene].Linear {
		node := &m.Nodes[n]
		if node.Mesh < 0 {
			continue
		}
		model := d.Transforms.NodeGlobal[n]
		gl.UniformMatrix4fv(p.loc("uModel"), 1, false, model.Ptr())

		skinned := false
		if node.Skin >= 0 && set.Pipeline.Flags.Has(binding.FlagJoints) {
			joints := d.Transforms.JointMatrices[node.Skin]
			if len(joints) > 0 && len(joints) <= maxJoints {
				gl.UniformMatrix4fv(p.loc("uJoints"), int32(len(joints)), false, joints[0].Ptr())
				skinned = true
			}
		}

		for _, prim := range m.Meshes[node.Mesh].Primitives {
			mat := material(m, prim.Material)
			if (mat.AlphaMode == asset.AlphaBlend) != blended {
				continue
			}
			gl.Uniform1i(p.loc("uSkinned"), boolInt(skinned && prim.Skinned))
			r.bindMaterial(p, m, set, mat)
			if mat.DoubleSided {
				gl.Disable(gl.CULL_FACE)
			} else {
				gl.Enable(gl.CULL_FACE)
			}
			if prim.IndexCount > 0 && set.HasIndex {
				offset := set.Index.Offset + prim.FirstIndex*4
				gl.DrawElementsBaseVertex(gl.TRIANGLES, int32(prim.IndexCount), gl.UNSIGNED_INT,
					gl.PtrOffset(offset), int32(prim.BaseVertex))
			} else {
				gl.DrawArrays(gl.TRIANGLES, int32(prim.BaseVertex), int32(prim.VertexCount))
			}
		}
	}
}

func material(m *asset.Model, i int) asset.Material {
	if i >= 0 && i < len(m.Materials) {
		return m.Materials[i]
	}
	return asset.Material{
		BaseColorFactor:  [4]float32{1, 1, 1, 1},
		BaseColorTexture: -1,
		NormalTexture:    -1,
		EmissiveTexture:  -1,
	}
}

func (r *Renderer) bindMaterial(p *program, m *asset.Model, set *binding.BindingSet, mat asset.Material) {
	c := mat.BaseColorFactor
	gl.Uniform4f(p.loc("uBaseColor"), c[0], c[1], c[2], c[3])
	cutoff := float32(0)
	if mat.AlphaMode == asset.AlphaMask {
		cutoff = mat.AlphaCutoff
	}
	gl.Uniform1f(p.loc("uAlphaCutoff"), cutoff)

	textured := false
	uv := [4]float32{1, 1, 0, 0}
	if t := mat.BaseColorTexture; t >= 0 && t < len(m.Textures) {
		tex := m.Textures[t]
		for _, b := range set.Textures {
			if b.Atlas == tex.Region.Atlas {
				gl.ActiveTexture(gl.TEXTURE0)
				gl.BindTexture(gl.TEXTURE_2D_ARRAY, uint32(b.Texture))
				gl.Uniform1f(p.loc("uLayer"), float32(tex.Region.Slice))
				uv = tex.UV
				textured = true
				break
			}
		}
	}
	gl.Uniform1i(p.loc("uTextured"), boolInt(textured))
	gl.Uniform4f(p.loc("uUVTransform"), uv[0], uv[1], uv[2], uv[3])
}

// DrawBox draws the unit cube wireframe through mvp.
func (r *Renderer) DrawBox(mvp math.Mat4, color [4]float32) {
	gl.UseProgram(r.lines.id)
	gl.UniformMatrix4fv(r.lines.loc("uMVP"), 1, false, mvp.Ptr())
	gl.Uniform4f(r.lines.loc("uColor"), color[0], color[1], color[2], color[3])
	gl.BindVertexArray(r.cubeVAO)
	gl.DrawArrays(gl.LINES, 0, debug.BBoxWireframeVertexCount)
	gl.BindVertexArray(0)
}

func (r *Renderer) createCube() {
	vertices := debug.UnitCubeWireframe()

	gl.GenVertexArrays(1, &r.cubeVAO)
	gl.BindVertexArray(r.cubeVAO)

	gl.GenBuffers(1, &r.cubeVBO)
	gl.BindBuffer(gl.ARRAY_BUFFER, r.cubeVBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(vertices)*4, unsafe.Pointer(&vertices[0]), gl.STATIC_DRAW)

	gl.VertexAttribPointer(0, 3, gl.FLOAT, false, 3*4, nil)
	gl.EnableVertexAttribArray(0)

	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	gl.BindVertexArray(0)
}

// ReadPixels returns the back buffer as bottom-up RGBA rows.
func (r *Renderer) ReadPixels() ([]byte, int, int) {
	w, h := r.config.Width, r.config.Height
	pixels := make([]byte, w*h*4)
	if len(pixels) > 0 {
		gl.ReadPixels(0, 0, int32(w), int32(h), gl.RGBA, gl.UNSIGNED_BYTE, unsafe.Pointer(&pixels[0]))
	}
	return pixels, w, h
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
