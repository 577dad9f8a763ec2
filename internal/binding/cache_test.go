package binding

import (
	"errors"
	"image"
	"testing"

	"github.com/Faultbox/gltfcache/internal/atlas"
	"github.com/Faultbox/gltfcache/internal/gpu"
	"github.com/Faultbox/gltfcache/internal/gpu/memgpu"
	"github.com/Faultbox/gltfcache/internal/resource"
)

var layout = resource.NewLayoutKey(
	resource.LayoutElement{Stride: 12, Role: resource.RolePosition},
	resource.LayoutElement{Stride: 8, Role: resource.RoleTexCoord0},
	resource.LayoutElement{Stride: 16, Role: resource.RoleColor0},
)

func newManager(t *testing.T) *resource.Manager {
	t.Helper()
	cfg := resource.DefaultConfig()
	cfg.DefaultPoolCapacity = 100
	cfg.IndexBufferSize = 64
	cfg.DefaultAtlas = resource.AtlasSpec{Format: gpu.FormatRGBA8Unorm, Width: 32, Height: 32, MipLevels: 1, Slices: 1, MaxSlices: 2}
	cfg.Atlases = []resource.AtlasSpec{cfg.DefaultAtlas}
	m, err := resource.NewManager(memgpu.New(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	return m
}

func acquireSet(t *testing.T, m *resource.Manager, vertices, indices int) resource.AllocationSet {
	t.Helper()
	vr, err := m.AcquireVertexRegions(layout, []int{vertices, vertices, vertices})
	if err != nil {
		t.Fatal(err)
	}
	set := resource.AllocationSet{Layout: layout, Vertex: vr}
	if indices > 0 {
		if set.Index, err = m.AcquireIndexRegion(indices, gpu.IndexUint32); err != nil {
			t.Fatal(err)
		}
		set.HasIndex = true
	}
	return set
}

func TestAcquireHitsAndFilters(t *testing.T) {
	m := newManager(t)
	c, stop := NewForManager(m)
	defer stop()
	set := acquireSet(t, m, 10, 6)

	plain := PipelineKey{Name: "unlit"}
	a, err := c.Acquire(plain, set)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := c.Acquire(plain, set)
	if a != b {
		t.Error("second acquire should hit the cache")
	}
	if len(a.Streams) != 1 || a.Streams[0].Role != resource.RolePosition {
		t.Errorf("plain pipeline streams: %+v", a.Streams)
	}
	if !a.HasIndex || a.Index.Count != 6 || a.Index.Type != gpu.IndexUint32 {
		t.Errorf("index binding: %+v", a.Index)
	}

	colored := PipelineKey{Name: "unlit", Flags: FlagVertexColors | FlagTexCoord0}
	cb, err := c.Acquire(colored, set)
	if err != nil {
		t.Fatal(err)
	}
	if cb == a || len(cb.Streams) != 3 {
		t.Errorf("flags are part of the key: %+v", cb.Streams)
	}
	if s, ok := cb.Stream(resource.RoleColor0); !ok || s.Stride != 16 || s.Offset != 0 {
		t.Errorf("color stream: %+v %v", s, ok)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 2 || st.Entries != 2 {
		t.Errorf("stats: %+v", st)
	}
}

func TestGrowthInvalidatesEntries(t *testing.T) {
	m := newManager(t)
	c, stop := NewForManager(m)
	defer stop()

	first := acquireSet(t, m, 60, 0)
	p := PipelineKey{Name: "lit"}
	before, err := c.Acquire(p, first)
	if err != nil {
		t.Fatal(err)
	}
	other := acquireSet(t, m, 1, 0) // unrelated entry in the same pools
	if _, err := c.Acquire(p, other); err != nil {
		t.Fatal(err)
	}

	// 60 + 50 exceeds the 100-vertex pools, which grow and move.
	acquireSet(t, m, 50, 0)

	after, err := c.Acquire(p, first)
	if err != nil {
		t.Fatal(err)
	}
	if after == before {
		t.Fatal("a set built before growth was returned after it")
	}
	if after.Streams[0].Buffer == before.Streams[0].Buffer {
		t.Errorf("rebuilt set still points at the old buffer %d", before.Streams[0].Buffer)
	}
	if after.Version <= before.Version || after.Version != m.Version() {
		t.Errorf("versions: before %d after %d manager %d", before.Version, after.Version, m.Version())
	}
	if c.Stats().Invalidations == 0 {
		t.Error("growth did not reach the cache")
	}
}

func TestInvalidateLeavesUnrelatedEntries(t *testing.T) {
	m := newManager(t)
	c := New(ManagerBuilder{Resolver: m})
	geometry := acquireSet(t, m, 4, 0)
	indexed := acquireSet(t, m, 4, 3)
	p := PipelineKey{Name: "lit"}
	for _, s := range []resource.AllocationSet{geometry, indexed} {
		if _, err := c.Acquire(p, s); err != nil {
			t.Fatal(err)
		}
	}

	c.Invalidate(indexed.Index.Allocator)
	if got := c.Stats().Entries; got != 1 {
		t.Errorf("entries after index invalidation: got %d, want 1", got)
	}
	c.Forget(geometry)
	if got := c.Stats().Entries; got != 0 {
		t.Errorf("entries after Forget: got %d, want 0", got)
	}

	if _, err := c.Acquire(p, geometry); err != nil {
		t.Fatal(err)
	}
	c.InvalidateAll()
	if got := c.Stats().Entries; got != 0 {
		t.Errorf("entries after InvalidateAll: got %d", got)
	}
}

func TestAtlasTextures(t *testing.T) {
	m := newManager(t)
	c, stop := NewForManager(m)
	defer stop()

	set := acquireSet(t, m, 3, 3)
	r, err := m.AcquireAtlasRegion(gpu.FormatRGBA8Unorm, 8, 8, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CopyImage(r, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	set.Textures = []atlas.Region{r}

	untextured, err := c.Acquire(PipelineKey{Name: "lit"}, set)
	if err != nil {
		t.Fatal(err)
	}
	if len(untextured.Textures) != 0 {
		t.Errorf("pipeline without the atlas flag bound textures: %+v", untextured.Textures)
	}

	textured, err := c.Acquire(PipelineKey{Name: "lit", Flags: FlagTextureAtlas}, set)
	if err != nil {
		t.Fatal(err)
	}
	tb, ok := textured.Texture(gpu.FormatRGBA8Unorm)
	want, _ := m.AtlasTexture(r.Atlas)
	if !ok || tb.Texture != want || tb.Atlas != r.Atlas {
		t.Errorf("texture binding: got %+v, want texture %d", tb, want)
	}
	if _, ok := textured.Stream(resource.RoleTexCoord0); !ok {
		t.Error("atlas pipelines read texcoord0")
	}
}

type failingBuilder struct{ calls int }

var errBuild = errors.New("build failed")

func (f *failingBuilder) Build(PipelineKey, resource.AllocationSet) (*BindingSet, error) {
	f.calls++
	return nil, errBuild
}

func TestBuildErrorsAreNotCached(t *testing.T) {
	b := &failingBuilder{}
	c := New(b)
	for i := 0; i < 2; i++ {
		if _, err := c.Acquire(PipelineKey{Name: "x"}, resource.AllocationSet{}); !errors.Is(err, errBuild) {
			t.Fatalf("got %v", err)
		}
	}
	if b.calls != 2 || c.Stats().Entries != 0 {
		t.Errorf("calls %d entries %d", b.calls, c.Stats().Entries)
	}
}

func TestFlagsString(t *testing.T) {
	tests := []struct {
		f    Flags
		want string
	}{
		{0, "none"},
		{FlagJoints, "joints"},
		{FlagTextureAtlas | FlagNormalMap, "atlas|normalmap"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("%d.String(): got %q, want %q", uint32(tt.f), got, tt.want)
		}
	}
}
