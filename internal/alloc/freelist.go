package alloc

import (
	"fmt"
	"sort"
)

// span is a half-open range [off, off+n) in allocator units.
type span struct {
	off, n int
}

func (s span) end() int { return s.off + s.n }

// freeList is a first-fit range allocator. Free spans are kept ordered by
// offset and never adjacent to each other: release always coalesces.
type freeList struct {
	capacity int
	free     []span
	live     map[int]int // offset -> size of every live range
	used     int
}

func newFreeList(capacity int) *freeList {
	f := &freeList{capacity: capacity, live: make(map[int]int)}
	if capacity > 0 {
		f.free = []span{{0, capacity}}
	}
	return f
}

// alloc takes the first free span that fits n units and returns its offset.
func (f *freeList) alloc(n int) (int, bool) {
	for i, s := range f.free {
		if s.n < n {
			continue
		}
		if s.n == n {
			f.free = append(f.free[:i], f.free[i+1:]...)
		} else {
			f.free[i] = span{s.off + n, s.n - n}
		}
		f.live[s.off] = n
		f.used += n
		return s.off, true
	}
	return 0, false
}

// release returns a live range and merges it with free neighbours.
func (f *freeList) release(off, n int) error {
	size, ok := f.live[off]
	if !ok || size != n {
		return fmt.Errorf("range [%d,%d) is not live: %w", off, off+n, ErrInvalidRegion)
	}
	delete(f.live, off)
	f.used -= n

	i := sort.Search(len(f.free), func(i int) bool { return f.free[i].off > off })
	s := span{off, n}
	mergePrev := i > 0 && f.free[i-1].end() == s.off
	mergeNext := i < len(f.free) && s.end() == f.free[i].off

	switch {
	case mergePrev && mergeNext:
		f.free[i-1].n += s.n + f.free[i].n
		f.free = append(f.free[:i], f.free[i+1:]...)
	case mergePrev:
		f.free[i-1].n += s.n
	case mergeNext:
		f.free[i] = span{s.off, s.n + f.free[i].n}
	default:
		f.free = append(f.free, span{})
		copy(f.free[i+1:], f.free[i:])
		f.free[i] = s
	}
	return nil
}

// owns reports whether [off, off+n) is exactly one live range.
func (f *freeList) owns(off, n int) bool {
	size, ok := f.live[off]
	return ok && size == n
}

// tail returns the size of the free span touching the end of the range, if any.
func (f *freeList) tail() int {
	if len(f.free) == 0 {
		return 0
	}
	last := f.free[len(f.free)-1]
	if last.end() == f.capacity {
		return last.n
	}
	return 0
}

// grow extends the range to newCap, appending the new space to the free list.
func (f *freeList) grow(newCap int) {
	if newCap <= f.capacity {
		return
	}
	extra := span{f.capacity, newCap - f.capacity}
	if n := len(f.free); n > 0 && f.free[n-1].end() == f.capacity {
		f.free[n-1].n += extra.n
	} else {
		f.free = append(f.free, extra)
	}
	f.capacity = newCap
}

// largest returns the biggest free span.
func (f *freeList) largest() int {
	m := 0
	for _, s := range f.free {
		if s.n > m {
			m = s.n
		}
	}
	return m
}

// liveSpans returns live ranges ordered by offset.
func (f *freeList) liveSpans() []span {
	out := make([]span, 0, len(f.live))
	for off, n := range f.live {
		out = append(out, span{off, n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].off < out[j].off })
	return out
}

// growTarget picks the capacity after growth: doubling from the current size
// until a request of n fits at the tail, clamped to max (0 means unbounded).
// It returns false when even max cannot hold the request.
func growTarget(f *freeList, n, max int) (int, bool) {
	need := f.capacity + n - f.tail()
	target := f.capacity
	if target == 0 {
		target = n
	}
	for target < need {
		target *= 2
	}
	if max > 0 && target > max {
		target = max
	}
	return target, target >= need && target > f.capacity
}
