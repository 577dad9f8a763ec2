package atlas

import (
	"image"
	"slices"
)

// shelf is one row of a slice. Rectangles are placed left to right.
type shelf struct {
	y, h int
	x    int // next free column
}

type placement struct {
	footprint image.Rectangle // aligned area reserved in the slice
	content   image.Rectangle // area requested by the caller
	mips      int
}

// slicePacker packs rectangles into one array slice with a shelf packer and
// recycles freed rectangles from a free-rect list with guillotine splits.
// Free rectangles sharing a full edge are merged, and free space at the end
// of a shelf goes back to the shelf.
type slicePacker struct {
	w, h    int
	shelves []shelf
	nextY   int
	free    []image.Rectangle
	live    map[image.Point]placement
}

func newSlicePacker(w, h int) *slicePacker {
	return &slicePacker{w: w, h: h, live: make(map[image.Point]placement)}
}

// alloc reserves a fw x fh footprint whose origin is a multiple of align.
func (s *slicePacker) alloc(fw, fh, align int) (image.Rectangle, bool) {
	if r, ok := s.fromFree(fw, fh, align); ok {
		return r, true
	}
	for i := range s.shelves {
		sh := &s.shelves[i]
		x := alignUp(sh.x, align)
		if sh.y%align != 0 || fh > sh.h || x+fw > s.w {
			continue
		}
		sh.x = x + fw
		if fh < sh.h {
			s.free = append(s.free, image.Rect(x, sh.y+fh, x+fw, sh.y+sh.h))
		}
		return image.Rect(x, sh.y, x+fw, sh.y+fh), true
	}
	// Close the current rows and open a new shelf below them.
	y := alignUp(s.nextY, align)
	if y+fh > s.h || fw > s.w {
		return image.Rectangle{}, false
	}
	s.shelves = append(s.shelves, shelf{y: y, h: fh, x: fw})
	s.nextY = y + fh
	return image.Rect(0, y, fw, y+fh), true
}

func (s *slicePacker) fromFree(fw, fh, align int) (image.Rectangle, bool) {
	for i, fr := range s.free {
		x, y := alignUp(fr.Min.X, align), alignUp(fr.Min.Y, align)
		if x+fw > fr.Max.X || y+fh > fr.Max.Y {
			continue
		}
		s.free = append(s.free[:i], s.free[i+1:]...)
		placed := image.Rect(x, y, x+fw, y+fh)
		// Split the remainder into the strips right of, below, left of and above placed.
		for _, piece := range [...]image.Rectangle{
			image.Rect(placed.Max.X, fr.Min.Y, fr.Max.X, fr.Max.Y),
			image.Rect(fr.Min.X, placed.Max.Y, placed.Max.X, fr.Max.Y),
			image.Rect(fr.Min.X, fr.Min.Y, placed.Min.X, placed.Max.Y),
			image.Rect(placed.Min.X, fr.Min.Y, placed.Max.X, placed.Min.Y),
		} {
			if !piece.Empty() {
				s.free = append(s.free, piece)
			}
		}
		return placed, true
	}
	return image.Rectangle{}, false
}

// release frees the placement starting at origin. It resets the slice when
// nothing remains live.
func (s *slicePacker) release(origin image.Point) (placement, bool) {
	p, ok := s.live[origin]
	if !ok {
		return placement{}, false
	}
	delete(s.live, origin)
	if len(s.live) == 0 {
		s.shelves, s.free, s.nextY = nil, nil, 0
		return p, true
	}
	s.free = append(s.free, p.footprint)
	for s.merge() || s.reclaim() {
	}
	return p, true
}

// merge joins one pair of free rectangles that share a full edge.
func (s *slicePacker) merge() bool {
	for i := range s.free {
		for j := i + 1; j < len(s.free); j++ {
			if u, ok := adjoin(s.free[i], s.free[j]); ok {
				s.free[i] = u
				s.free = slices.Delete(s.free, j, j+1)
				return true
			}
		}
	}
	return false
}

// reclaim returns a free rectangle covering the tail of a shelf to that
// shelf. An emptied last shelf is dropped.
func (s *slicePacker) reclaim() bool {
	for i, fr := range s.free {
		for k := range s.shelves {
			sh := &s.shelves[k]
			if fr.Min.Y != sh.y || fr.Max.Y != sh.y+sh.h || fr.Max.X != sh.x {
				continue
			}
			sh.x = fr.Min.X
			s.free = slices.Delete(s.free, i, i+1)
			if last := len(s.shelves) - 1; k == last && sh.x == 0 {
				s.nextY = sh.y
				s.shelves = s.shelves[:last]
			}
			return true
		}
	}
	return false
}

func adjoin(a, b image.Rectangle) (image.Rectangle, bool) {
	rows := a.Min.Y == b.Min.Y && a.Max.Y == b.Max.Y
	cols := a.Min.X == b.Min.X && a.Max.X == b.Max.X
	if rows && (a.Max.X == b.Min.X || b.Max.X == a.Min.X) ||
		cols && (a.Max.Y == b.Min.Y || b.Max.Y == a.Min.Y) {
		return a.Union(b), true
	}
	return image.Rectangle{}, false
}

func (s *slicePacker) area() int {
	a := 0
	for _, p := range s.live {
		a += p.footprint.Dx() * p.footprint.Dy()
	}
	return a
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}
