package resource

import (
	"errors"
	"image"
	"testing"

	"github.com/Faultbox/gltfcache/internal/alloc"
	"github.com/Faultbox/gltfcache/internal/gpu"
	"github.com/Faultbox/gltfcache/internal/gpu/memgpu"
)

var posNormal = NewLayoutKey(
	LayoutElement{Stride: 12, Role: RolePosition},
	LayoutElement{Stride: 12, Role: RoleNormal},
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultPoolCapacity = 100
	cfg.IndexBufferSize = 64
	cfg.DefaultAtlas = AtlasSpec{Format: gpu.FormatRGBA8Unorm, Width: 64, Height: 64, MipLevels: 3, Slices: 1, MaxSlices: 2}
	cfg.Atlases = []AtlasSpec{cfg.DefaultAtlas}
	return cfg
}

func TestLayoutKey(t *testing.T) {
	a := NewLayoutKey(LayoutElement{12, RolePosition}, LayoutElement{8, RoleTexCoord0})
	b, err := ParseLayoutKey("12:position, 8:texcoord0")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) || a.String() != "12:position,8:texcoord0" {
		t.Errorf("parsed key %q does not equal %q", b, a)
	}
	if a.Equal(NewLayoutKey(LayoutElement{8, RoleTexCoord0}, LayoutElement{12, RolePosition})) {
		t.Error("element order must matter")
	}
	if a.Index(RoleTexCoord0) != 1 || a.Index(RoleJoints0) != -1 {
		t.Error("Index lookup wrong")
	}

	for _, bad := range []string{"", "12", "x:position", "0:position"} {
		if _, err := ParseLayoutKey(bad); err == nil {
			t.Errorf("ParseLayoutKey(%q) should fail", bad)
		}
	}
}

func TestAcquireCreatesPoolsOnDemand(t *testing.T) {
	m, err := NewManager(memgpu.New(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	regions, err := m.AcquireVertexRegions(posNormal, []int{10, 10})
	if err != nil {
		t.Fatalf("AcquireVertexRegions: %v", err)
	}
	if len(regions) != 2 || regions[0].Pool == regions[1].Pool {
		t.Fatalf("want one region per stream in distinct pools, got %+v", regions)
	}
	_, off, stride, err := m.ResolveVertex(regions[1])
	if err != nil || off != 0 || stride != 12 {
		t.Errorf("ResolveVertex: off %d stride %d err %v", off, stride, err)
	}
	if err := m.ReleaseVertexRegions(regions); err != nil {
		t.Errorf("release: %v", err)
	}
	if err := m.ReleaseVertexRegions(regions); !errors.Is(err, alloc.ErrInvalidRegion) {
		t.Errorf("double release: got %v", err)
	}
}

func TestUnsupportedLayout(t *testing.T) {
	cfg := testConfig()
	cfg.CreatePools = false
	cfg.Pools = []PoolSpec{{Layout: "12:position", Capacity: 50}}
	m, err := NewManager(memgpu.New(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if _, err := m.AcquireVertexRegions(posNormal, []int{1, 1}); !errors.Is(err, ErrUnsupportedLayout) {
		t.Errorf("unknown layout: got %v, want ErrUnsupportedLayout", err)
	}
	pos, _ := ParseLayoutKey("12:position")
	if _, err := m.AcquireVertexRegions(pos, []int{50}); err != nil {
		t.Errorf("predefined pool: %v", err)
	}
}

func TestOutOfSpaceWhenGrowthDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.GrowPools = false
	cfg.MaxPools = 1
	m, err := NewManager(memgpu.New(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	first, err := m.AcquireVertexRegions(posNormal, []int{60, 60})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AcquireVertexRegions(posNormal, []int{50, 50}); !errors.Is(err, alloc.ErrOutOfSpace) {
		t.Fatalf("got %v, want ErrOutOfSpace", err)
	}
	if err := m.ReleaseVertexRegions(first); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AcquireVertexRegions(posNormal, []int{50, 50}); err != nil {
		t.Errorf("after release: %v", err)
	}
}

func TestSecondPoolSetBeforeMax(t *testing.T) {
	cfg := testConfig()
	cfg.GrowPools = false
	cfg.MaxPools = 2
	m, err := NewManager(memgpu.New(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	a, _ := m.AcquireVertexRegions(posNormal, []int{80, 80})
	b, err := m.AcquireVertexRegions(posNormal, []int{80, 80})
	if err != nil {
		t.Fatalf("second pool set: %v", err)
	}
	if a[0].Pool == b[0].Pool {
		t.Error("second acquisition should land in a new pool set")
	}
	if _, err := m.AcquireVertexRegions(posNormal, []int{80, 80}); !errors.Is(err, alloc.ErrOutOfSpace) {
		t.Errorf("past MaxPools: got %v", err)
	}
	if got := len(m.Stats().Pools); got != 4 {
		t.Errorf("pools: got %d, want 4", got)
	}
}

func TestPartialAcquireRollsBack(t *testing.T) {
	cfg := testConfig()
	cfg.GrowPools = false
	cfg.MaxPools = 1
	cfg.CreatePools = false
	cfg.Pools = []PoolSpec{{Layout: posNormal.String(), Capacity: 100}}
	m, err := NewManager(memgpu.New(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	// Stream 0 fits, stream 1 does not; stream 0 must be returned.
	if _, err := m.AcquireVertexRegions(posNormal, []int{10, 101}); !errors.Is(err, alloc.ErrOutOfSpace) {
		t.Fatalf("got %v", err)
	}
	for _, p := range m.Stats().Pools {
		if p.Used != 0 {
			t.Errorf("pool %s leaked %d elements", p.Name, p.Used)
		}
	}
}

func TestGrowthNotifiesSubscribers(t *testing.T) {
	m, err := NewManager(memgpu.New(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	var got []ResourceID
	unsubscribe := m.Subscribe(func(id ResourceID) { got = append(got, id) })

	r, err := m.AcquireVertexRegions(posNormal, []int{100, 100})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AcquireVertexRegions(posNormal, []int{1, 1}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != r[0].Pool || got[1] != r[1].Pool {
		t.Errorf("notifications: got %v, want pools %d and %d", got, r[0].Pool, r[1].Pool)
	}
	if m.Version() != 2 {
		t.Errorf("Version: got %d, want 2", m.Version())
	}

	unsubscribe()
	if _, err := m.AcquireIndexRegion(100, gpu.IndexUint32); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("unsubscribed callback still invoked: %v", got)
	}
	if m.Version() != 3 {
		t.Errorf("index growth should bump the version: got %d", m.Version())
	}
}

func TestAtlasRegions(t *testing.T) {
	dev := memgpu.New()
	m, err := NewManager(dev, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	r, err := m.AcquireAtlasRegion(gpu.FormatRGBA8Unorm, 8, 8, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CopyImage(r, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Errorf("CopyImage: %v", err)
	}
	tex, err := m.ResolveAtlas(r)
	if err != nil {
		t.Fatal(err)
	}
	if h, ok := m.AtlasTexture(r.Atlas); !ok || h != tex {
		t.Errorf("AtlasTexture: got %v %v, want %v", h, ok, tex)
	}

	// Formats without a predefined atlas get one from DefaultAtlas.
	r8, err := m.AcquireAtlasRegion(gpu.FormatR8Unorm, 4, 4, 1)
	if err != nil {
		t.Fatalf("on-demand atlas: %v", err)
	}
	if r8.Atlas == r.Atlas {
		t.Error("formats must not share an atlas")
	}
	if err := m.ReleaseAtlasRegion(r); err != nil {
		t.Errorf("ReleaseAtlasRegion: %v", err)
	}

	m.Close()
	if dev.LiveBuffers() != 0 || dev.LiveTextures() != 0 {
		t.Errorf("Close leaked %d buffers, %d textures", dev.LiveBuffers(), dev.LiveTextures())
	}
}

func TestAtlasCreationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.CreateAtlases = false
	m, err := NewManager(memgpu.New(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if _, err := m.AcquireAtlasRegion(gpu.FormatRG8Unorm, 4, 4, 1); !errors.Is(err, ErrUnsupportedLayout) {
		t.Errorf("got %v, want ErrUnsupportedLayout", err)
	}
}

func TestFitAtlas(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"smaller keeps size", 300, 20, 1024, 1024},
		{"exact power of two", 2048, 2048, 2048, 2048},
		{"rounds up", 1500, 3000, 2048, 4096},
		{"one side only", 1024, 1025, 1024, 2048},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := PrivateConfig().FitAtlas(tt.w, tt.h)
			if cfg.DefaultAtlas.Width != tt.wantW || cfg.DefaultAtlas.Height != tt.wantH {
				t.Errorf("atlas: got %dx%d, want %dx%d",
					cfg.DefaultAtlas.Width, cfg.DefaultAtlas.Height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestAtlasMipLevels(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultAtlas.MipLevels = 5
	m, err := NewManager(memgpu.New(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if got := m.AtlasMipLevels(gpu.FormatRGBA8Unorm); got != 3 {
		t.Errorf("existing atlas: got %d, want 3", got)
	}
	if got := m.AtlasMipLevels(gpu.FormatR8Unorm); got != 5 {
		t.Errorf("on-demand atlas: got %d, want 5", got)
	}
}
