package resource

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/Faultbox/gltfcache/internal/alloc"
	"github.com/Faultbox/gltfcache/internal/atlas"
)

// AllocationSet lists every region an asset holds.
type AllocationSet struct {
	Layout   LayoutKey
	Vertex   []alloc.PoolRegion // one per layout stream
	Index    alloc.IndexRegion
	HasIndex bool
	Textures []atlas.Region
}

// Resources returns the distinct ids of every backing resource, sorted.
func (s AllocationSet) Resources() []ResourceID {
	seen := make(map[ResourceID]bool)
	for _, r := range s.Vertex {
		seen[r.Pool] = true
	}
	if s.HasIndex {
		seen[s.Index.Allocator] = true
	}
	for _, r := range s.Textures {
		seen[r.Atlas] = true
	}
	ids := make([]ResourceID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Key is a canonical string of every region identity, independent of the
// order textures were added in.
func (s AllocationSet) Key() string {
	var parts []string
	for _, r := range s.Vertex {
		parts = append(parts, fmt.Sprintf("v%d@%d+%d", r.Pool, r.Offset, r.Count))
	}
	if s.HasIndex {
		parts = append(parts, fmt.Sprintf("i%d@%d+%d", s.Index.Allocator, s.Index.Offset, s.Index.Size))
	}
	tex := make([]string, 0, len(s.Textures))
	for _, r := range s.Textures {
		tex = append(tex, fmt.Sprintf("t%d/%d@%d,%d+%dx%d", r.Atlas, r.Slice, r.Rect.Min.X, r.Rect.Min.Y, r.Rect.Dx(), r.Rect.Dy()))
	}
	sort.Strings(parts)
	sort.Strings(tex)
	return strings.Join(append(parts, tex...), ";")
}

// Release returns every region of s to m, reporting all failures.
func (m *Manager) Release(s AllocationSet) error {
	var err error
	if len(s.Vertex) > 0 {
		err = multierr.Append(err, m.ReleaseVertexRegions(s.Vertex))
	}
	if s.HasIndex {
		err = multierr.Append(err, m.ReleaseIndexRegion(s.Index))
	}
	for _, r := range s.Textures {
		err = multierr.Append(err, m.ReleaseAtlasRegion(r))
	}
	return err
}
