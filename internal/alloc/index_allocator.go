package alloc

import (
	"fmt"

	"github.com/Faultbox/gltfcache/internal/gpu"
)

// indexAlign keeps every region offset valid for both 16- and 32-bit indices.
const indexAlign = 4

// IndexRegion is a byte range of the shared index buffer.
type IndexRegion struct {
	Allocator ID
	Offset    int // bytes
	Size      int // bytes, rounded up to indexAlign
	Count     int // indices
	Type      gpu.IndexType
}

// IndexConfig configures an IndexAllocator.
type IndexConfig struct {
	Name     string
	Size     int // initial size in bytes
	MaxSize  int // 0 leaves growth unbounded
	Growable bool
}

// IndexAllocator suballocates one index buffer regardless of vertex layout.
type IndexAllocator struct {
	b *backing
}

// NewIndexAllocator creates the index buffer on dev.
func NewIndexAllocator(dev gpu.Device, id ID, cfg IndexConfig) (*IndexAllocator, error) {
	size := alignUp(cfg.Size, indexAlign)
	b, err := newBacking(dev, id, cfg.Name, gpu.UsageIndex, 1, size, cfg.MaxSize, cfg.Growable)
	if err != nil {
		return nil, err
	}
	return &IndexAllocator{b: b}, nil
}

// ID returns the allocator id carried by its regions.
func (a *IndexAllocator) ID() ID { return a.b.id }

// Version counts how often the index buffer has been reallocated.
func (a *IndexAllocator) Version() uint64 { return a.b.version }

// OnGrow registers fn to run after every reallocation of the index buffer.
func (a *IndexAllocator) OnGrow(fn func(ID)) { a.b.onGrow = fn }

// Acquire reserves room for count indices of type t.
func (a *IndexAllocator) Acquire(count int, t gpu.IndexType) (IndexRegion, error) {
	if count <= 0 {
		return IndexRegion{}, fmt.Errorf("%s: acquire %d indices: %w", a.b.name, count, ErrInvalidCount)
	}
	size := alignUp(count*t.Size(), indexAlign)
	off, err := a.b.acquire(size, true)
	if err != nil {
		return IndexRegion{}, err
	}
	return IndexRegion{Allocator: a.b.id, Offset: off, Size: size, Count: count, Type: t}, nil
}

// Release returns r to the allocator.
func (a *IndexAllocator) Release(r IndexRegion) error {
	if r.Allocator != a.b.id {
		return fmt.Errorf("%s: region of allocator %d: %w", a.b.name, r.Allocator, ErrInvalidRegion)
	}
	return a.b.release(r.Offset, r.Size)
}

// Resolve returns the current index buffer and r's byte offset in it.
func (a *IndexAllocator) Resolve(r IndexRegion) (gpu.Handle, int, error) {
	if r.Allocator != a.b.id || !a.b.list.owns(r.Offset, r.Size) {
		return 0, 0, fmt.Errorf("%s: resolve %+v: %w", a.b.name, r, ErrInvalidRegion)
	}
	return a.b.buf, r.Offset, nil
}

// Write uploads Count indices of the region's type.
func (a *IndexAllocator) Write(r IndexRegion, data []byte) error {
	if r.Allocator != a.b.id {
		return fmt.Errorf("%s: write region of allocator %d: %w", a.b.name, r.Allocator, ErrInvalidRegion)
	}
	if want := r.Count * r.Type.Size(); len(data) != want {
		return fmt.Errorf("%s: write %d bytes for %d %s indices", a.b.name, len(data), r.Count, r.Type)
	}
	if !a.b.list.owns(r.Offset, r.Size) {
		return fmt.Errorf("%s: write to %+v: %w", a.b.name, r, ErrInvalidRegion)
	}
	return a.b.dev.WriteBuffer(a.b.buf, r.Offset, data)
}

// Stats reports occupancy in bytes.
func (a *IndexAllocator) Stats() Stats { return a.b.stats() }

// Close destroys the index buffer.
func (a *IndexAllocator) Close() { a.b.close() }

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}
