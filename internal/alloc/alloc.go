// Package alloc suballocates GPU buffers into regions.
//
// A VertexPool serves one attribute stream of one vertex layout and counts in
// elements of a fixed stride; an IndexAllocator serves index data of any width
// and counts in bytes. Both hand out logical regions (allocator id + offset)
// that stay valid when the backing buffer is reallocated by growth; callers
// resolve them to a physical buffer only when binding.
package alloc

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/gltfcache/internal/gpu"
	"github.com/Faultbox/gltfcache/internal/logger"
)

// ID identifies one growable GPU resource (a pool, the index buffer, an atlas).
// The resource manager assigns ids from a single counter, so they are unique
// across resource kinds.
type ID uint32

var (
	// ErrOutOfSpace is returned when no free range fits and growth is disabled or capped.
	ErrOutOfSpace = errors.New("out of space")
	// ErrInvalidRegion is returned for regions this allocator did not hand out,
	// or that were already released.
	ErrInvalidRegion = errors.New("invalid region")
	// ErrInvalidCount is returned for non-positive sizes.
	ErrInvalidCount = errors.New("invalid element count")
)

// Stats describes the occupancy of one allocator.
type Stats struct {
	ID           ID
	Name         string
	Capacity     int // in allocator units (elements or bytes)
	Used         int
	Live         int // live regions
	FreeRanges   int
	LargestFree  int
	Version      uint64
	BufferHandle gpu.Handle
}

// backing is the growable device buffer shared by VertexPool and
// IndexAllocator. Offsets are kept in units of unitSize bytes.
type backing struct {
	id       ID
	name     string
	dev      gpu.Device
	usage    gpu.Usage
	unitSize int
	maxUnits int
	growable bool

	buf     gpu.Handle
	list    *freeList
	version uint64
	onGrow  func(ID)
	log     *zap.Logger
}

func newBacking(dev gpu.Device, id ID, name string, usage gpu.Usage, unitSize, units, maxUnits int, growable bool) (*backing, error) {
	if unitSize <= 0 || units <= 0 {
		return nil, fmt.Errorf("alloc: %s: unit size %d and capacity %d must be positive", name, unitSize, units)
	}
	if maxUnits > 0 && maxUnits < units {
		maxUnits = units
	}
	b := &backing{
		id:       id,
		name:     name,
		dev:      dev,
		usage:    usage | gpu.UsageCopySrc | gpu.UsageCopyDst,
		unitSize: unitSize,
		maxUnits: maxUnits,
		growable: growable,
		list:     newFreeList(units),
		log:      logger.Named("alloc").With(zap.String("resource", name), zap.Uint32("id", uint32(id))),
	}
	buf, err := dev.NewBuffer(gpu.BufferDesc{Name: name, Size: units * unitSize, Usage: b.usage})
	if err != nil {
		return nil, fmt.Errorf("alloc: create %s: %w", name, err)
	}
	b.buf = buf
	return b, nil
}

func (b *backing) acquire(n int, allowGrow bool) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%s: acquire %d: %w", b.name, n, ErrInvalidCount)
	}
	if off, ok := b.list.alloc(n); ok {
		return off, nil
	}
	if !allowGrow {
		return 0, fmt.Errorf("%s: acquire %d of %d without growth: %w", b.name, n, b.list.capacity, ErrOutOfSpace)
	}
	if err := b.grow(n); err != nil {
		return 0, err
	}
	off, ok := b.list.alloc(n)
	if !ok {
		// grow guarantees a tail span of at least n.
		return 0, fmt.Errorf("%s: acquire %d after growth: %w", b.name, n, ErrOutOfSpace)
	}
	return off, nil
}

// grow reallocates the buffer so that a request of n units fits, copies every
// live range to its unchanged offset and notifies the growth handler.
func (b *backing) grow(n int) error {
	target, ok := growTarget(b.list, n, b.maxUnits)
	if !b.growable || !ok {
		b.log.Warn("out of space",
			zap.Int("request", n),
			zap.Int("capacity", b.list.capacity),
			zap.Int("largest_free", b.list.largest()))
		return fmt.Errorf("%s: acquire %d of %d (largest free %d): %w",
			b.name, n, b.list.capacity, b.list.largest(), ErrOutOfSpace)
	}

	nb, err := b.dev.NewBuffer(gpu.BufferDesc{Name: b.name, Size: target * b.unitSize, Usage: b.usage})
	if err != nil {
		return fmt.Errorf("%s: grow to %d: %w", b.name, target, err)
	}
	for _, s := range b.list.liveSpans() {
		off, size := s.off*b.unitSize, s.n*b.unitSize
		if err := b.dev.CopyBuffer(nb, off, b.buf, off, size); err != nil {
			b.dev.DestroyBuffer(nb)
			return fmt.Errorf("%s: copy live range during growth: %w", b.name, err)
		}
	}
	b.dev.DestroyBuffer(b.buf)
	b.buf = nb

	from := b.list.capacity
	b.list.grow(target)
	b.version++
	b.log.Info("grown", zap.Int("from", from), zap.Int("to", target), zap.Uint64("version", b.version))
	if b.onGrow != nil {
		b.onGrow(b.id)
	}
	return nil
}

func (b *backing) release(off, n int) error {
	if err := b.list.release(off, n); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	return nil
}

func (b *backing) write(off, n int, data []byte) error {
	if !b.list.owns(off, n) {
		return fmt.Errorf("%s: write to [%d,%d): %w", b.name, off, off+n, ErrInvalidRegion)
	}
	return b.dev.WriteBuffer(b.buf, off*b.unitSize, data)
}

func (b *backing) stats() Stats {
	return Stats{
		ID:           b.id,
		Name:         b.name,
		Capacity:     b.list.capacity,
		Used:         b.list.used,
		Live:         len(b.list.live),
		FreeRanges:   len(b.list.free),
		LargestFree:  b.list.largest(),
		Version:      b.version,
		BufferHandle: b.buf,
	}
}

func (b *backing) close() {
	if b.buf != 0 {
		b.dev.DestroyBuffer(b.buf)
		b.buf = 0
	}
}
