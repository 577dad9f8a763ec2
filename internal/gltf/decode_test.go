package gltf

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"testing/fstest"

	"github.com/chewxy/math32"

	"github.com/Faultbox/gltfcache/internal/asset"
	"github.com/Faultbox/gltfcache/internal/gpu/memgpu"
	"github.com/Faultbox/gltfcache/internal/resource"
	"github.com/Faultbox/gltfcache/pkg/math"
)

// triangleBin lays out: 3 float positions (36 bytes), 3 ushort indices padded
// to 8 bytes, 2 float key times and 2 vec3 translations.
func triangleBin() []byte {
	var b []byte
	f := func(vs ...float32) {
		for _, v := range vs {
			b = binary.LittleEndian.AppendUint32(b, math32.Float32bits(v))
		}
	}
	f(0, 0, 0, 1, 0, 0, 0, 2, 0)
	for _, i := range []uint16{0, 1, 2, 0} {
		b = binary.LittleEndian.AppendUint16(b, i)
	}
	f(0, 1)
	f(0, 0, 0, 0, 3, 0)
	return b
}

func pngDataURI(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.Set(x, 0, color.NRGBA{G: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// testDocument returns the JSON of a two-node scene; bufferURI "" means the GLB
// binary chunk.
func testDocument(t *testing.T, bufferURI string) []byte {
	t.Helper()
	bin := triangleBin()
	buf := map[string]any{"byteLength": len(bin)}
	if bufferURI != "" {
		buf["uri"] = bufferURI
	}
	doc := map[string]any{
		"asset":  map[string]any{"version": "2.0"},
		"scene":  0,
		"scenes": []any{map[string]any{"name": "main", "nodes": []int{0}}},
		"nodes": []any{
			map[string]any{"name": "root", "children": []int{1}, "camera": 0},
			map[string]any{"name": "tri", "mesh": 0, "translation": []float32{1, 0, 0}},
		},
		"meshes": []any{map[string]any{
			"name": "tri",
			"primitives": []any{
				map[string]any{"attributes": map[string]int{"POSITION": 0}, "indices": 1, "material": 0},
				map[string]any{"attributes": map[string]int{"POSITION": 0}, "mode": 1},
			},
		}},
		"materials": []any{map[string]any{
			"name":                 "green",
			"alphaMode":            "MASK",
			"pbrMetallicRoughness": map[string]any{"baseColorTexture": map[string]int{"index": 0}, "metallicFactor": 0},
		}},
		"textures": []any{map[string]int{"source": 0}},
		"images":   []any{map[string]string{"uri": pngDataURI(t)}},
		"cameras": []any{map[string]any{
			"type":        "perspective",
			"perspective": map[string]float32{"yfov": 0.8, "znear": 0.1, "zfar": 100},
		}},
		"accessors": []any{
			map[string]any{"bufferView": 0, "componentType": componentFloat, "count": 3, "type": "VEC3", "min": []float32{0, 0, 0}, "max": []float32{1, 2, 0}},
			map[string]any{"bufferView": 1, "componentType": componentUnsignedShort, "count": 3, "type": "SCALAR"},
			map[string]any{"bufferView": 2, "componentType": componentFloat, "count": 2, "type": "SCALAR"},
			map[string]any{"bufferView": 3, "componentType": componentFloat, "count": 2, "type": "VEC3"},
		},
		"bufferViews": []any{
			map[string]int{"buffer": 0, "byteOffset": 0, "byteLength": 36},
			map[string]int{"buffer": 0, "byteOffset": 36, "byteLength": 6},
			map[string]int{"buffer": 0, "byteOffset": 44, "byteLength": 8},
			map[string]int{"buffer": 0, "byteOffset": 52, "byteLength": 24},
		},
		"buffers": []any{buf},
		"animations": []any{map[string]any{
			"name":     "move",
			"channels": []any{map[string]any{"sampler": 0, "target": map[string]any{"node": 0, "path": "translation"}}},
			"samplers": []any{map[string]any{"input": 2, "output": 3, "interpolation": "STEP"}},
		}},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func glb(jsonChunk, bin []byte) []byte {
	pad := func(b []byte, c byte) []byte {
		for len(b)%4 != 0 {
			b = append(b, c)
		}
		return b
	}
	jsonChunk, bin = pad(jsonChunk, ' '), pad(bin, 0)
	var out []byte
	out = binary.LittleEndian.AppendUint32(out, glbMagic)
	out = binary.LittleEndian.AppendUint32(out, glbVersion)
	out = binary.LittleEndian.AppendUint32(out, uint32(12+8+len(jsonChunk)+8+len(bin)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(jsonChunk)))
	out = binary.LittleEndian.AppendUint32(out, glbChunkJSON)
	out = append(out, jsonChunk...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(bin)))
	out = binary.LittleEndian.AppendUint32(out, glbChunkBIN)
	return append(out, bin...)
}

func checkSource(t *testing.T, src *asset.Source) {
	t.Helper()
	if len(src.Nodes) != 2 || src.Nodes[0].Children[0] != 1 || src.Nodes[1].Mesh != 0 {
		t.Fatalf("nodes: %+v", src.Nodes)
	}
	if src.Nodes[1].Translation != (math.Vec3{X: 1}) || src.Nodes[0].Camera != 0 {
		t.Errorf("node fields: %+v", src.Nodes)
	}
	if len(src.Meshes) != 1 || len(src.Meshes[0].Primitives) != 1 {
		t.Fatalf("line primitive should be skipped: %+v", src.Meshes)
	}
	p := src.Meshes[0].Primitives[0]
	if len(p.Positions) != 3 || p.Positions[2] != (math.Vec3{Y: 2}) {
		t.Errorf("positions: %v", p.Positions)
	}
	if len(p.Indices) != 3 || p.Indices[1] != 1 {
		t.Errorf("indices: %v", p.Indices)
	}
	if !p.HasBounds || p.Bounds.Max != (math.Vec3{X: 1, Y: 2}) {
		t.Errorf("bounds: %+v", p.Bounds)
	}
	m := src.Materials[0]
	if m.BaseColorTexture != 0 || m.MetallicFactor != 0 || m.RoughnessFactor != 1 || m.AlphaMode != asset.AlphaMask || m.NormalTexture != -1 {
		t.Errorf("material: %+v", m)
	}
	if len(src.Images) != 1 || src.Images[0].Image == nil || src.Images[0].Image.Bounds().Dx() != 4 {
		t.Errorf("image: %+v", src.Images)
	}
	if len(src.Cameras) != 1 || src.Cameras[0].Projection != asset.Perspective || src.Cameras[0].ZFar != 100 {
		t.Errorf("cameras: %+v", src.Cameras)
	}
	if len(src.Animations) != 1 {
		t.Fatalf("animations: %+v", src.Animations)
	}
	ch := src.Animations[0].Channels[0]
	if ch.Interpolation != asset.InterpStep || len(ch.Times) != 2 || ch.Values[4] != 3 {
		t.Errorf("channel: %+v", ch)
	}
}

func TestDecodeEmbedded(t *testing.T) {
	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(triangleBin())
	src, err := Decode(testDocument(t, uri), nil, "embedded")
	if err != nil {
		t.Fatal(err)
	}
	checkSource(t, src)
}

func TestDecodeExternalBuffer(t *testing.T) {
	fsys := fstest.MapFS{"data/tri bin.bin": {Data: triangleBin()}}
	src, err := Decode(testDocument(t, "data/tri%20bin.bin"), fsys, "external")
	if err != nil {
		t.Fatal(err)
	}
	checkSource(t, src)

	if _, err := Decode(testDocument(t, "missing.bin"), fsys, "missing"); err == nil {
		t.Error("missing external buffer should fail")
	}
}

func TestDecodeGLB(t *testing.T) {
	src, err := Decode(glb(testDocument(t, ""), triangleBin()), nil, "binary")
	if err != nil {
		t.Fatal(err)
	}
	checkSource(t, src)
}

func TestDecodedSourceLoads(t *testing.T) {
	src, err := Decode(glb(testDocument(t, ""), triangleBin()), nil, "binary")
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := resource.NewManager(memgpu.New(), resource.PrivateConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()
	m, err := asset.Load(src, mgr, asset.LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Scenes[0].Cameras) != 1 || m.Animations[0].End != 1 {
		t.Errorf("model: cameras %v end %v", m.Scenes[0].Cameras, m.Animations[0].End)
	}
	tr, err := m.ComputeTransforms(0, math.Identity(), &asset.AnimationSample{Index: 0, Time: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := tr.NodeGlobal[1].Translation(); got != (math.Vec3{X: 1, Y: 3}) {
		t.Errorf("animated child: got %v", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	good := glb(testDocument(t, ""), triangleBin())
	badVersion := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(badVersion[4:], 1)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not json", []byte("{"), ErrInvalidDocument},
		{"version 1", []byte(`{"asset":{"version":"1.0"}}`), ErrUnsupported},
		{"required extension", []byte(`{"asset":{"version":"2.0"},"extensionsRequired":["KHR_draco_mesh_compression"]}`), ErrUnsupported},
		{"short glb", good[:16], ErrInvalidGLB},
		{"glb version", badVersion, ErrInvalidGLB},
		{"accessor out of view", []byte(`{"asset":{"version":"2.0"},
			"buffers":[{"uri":"data:application/octet-stream;base64,AAAAAA==","byteLength":4}],
			"bufferViews":[{"buffer":0,"byteLength":4}],
			"accessors":[{"bufferView":0,"componentType":5126,"count":3,"type":"VEC3"}],
			"meshes":[{"primitives":[{"attributes":{"POSITION":0}}]}]}`), ErrInvalidAccessor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data, nil, tt.name); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNormalizedComponents(t *testing.T) {
	tests := []struct {
		a    accessor
		b    []byte
		want float32
	}{
		{accessor{ComponentType: componentUnsignedByte, Normalized: true}, []byte{255}, 1},
		{accessor{ComponentType: componentByte, Normalized: true}, []byte{0x80}, -1},
		{accessor{ComponentType: componentUnsignedShort, Normalized: true}, []byte{0xff, 0xff}, 1},
		{accessor{ComponentType: componentShort}, []byte{0xfe, 0xff}, -2},
		{accessor{ComponentType: componentUnsignedByte}, []byte{7}, 7},
	}
	for _, tt := range tests {
		if got := component(&tt.a, tt.b); got != tt.want {
			t.Errorf("component(%d, %v): got %v, want %v", tt.a.ComponentType, tt.b, got, tt.want)
		}
	}
}

func TestWebPTextureSource(t *testing.T) {
	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(triangleBin())
	var doc map[string]any
	if err := json.Unmarshal(testDocument(t, uri), &doc); err != nil {
		t.Fatal(err)
	}
	// Image 1 stands in for the WebP copy; decoders without the extension
	// would pick image 0.
	img := pngDataURI(t)
	doc["images"] = []any{map[string]string{"uri": img}, map[string]string{"uri": img, "name": "webp"}}
	doc["textures"] = []any{map[string]any{
		"source":     0,
		"extensions": map[string]any{"EXT_texture_webp": map[string]int{"source": 1}},
	}}
	doc["extensionsUsed"] = []string{"EXT_texture_webp"}
	doc["extensionsRequired"] = []string{"EXT_texture_webp"}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}

	src, err := Decode(data, nil, "webp")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := src.Materials[0].BaseColorTexture; got != 1 {
		t.Errorf("base color texture: got image %d, want 1", got)
	}
	if src.Images[1].Image == nil {
		t.Error("image 1 not decoded")
	}
}
