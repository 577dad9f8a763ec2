package atlas

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/Faultbox/gltfcache/internal/gpu"
)

// CopyImage normalizes img to RGBA8, builds the region's mip chain and uploads it.
// Single and dual channel atlases keep the leading channels of each texel.
func (a *Atlas) CopyImage(r Region, img image.Image) error {
	if _, err := a.lookup(r); err != nil {
		return err
	}
	levels, err := MipChain(img, r.Rect.Dx(), r.Rect.Dy(), r.MipCount, a.cfg.Format)
	if err != nil {
		return fmt.Errorf("atlas %s: %w", a.cfg.Name, err)
	}
	return a.CopyIn(r, levels)
}

// MipChain scales img to w x h and box-filters it down to the requested
// number of levels. Each level is returned tightly packed in format.
func MipChain(img image.Image, w, h, levels int, format gpu.Format) ([][]byte, error) {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("mip chain: unsupported format %v", format)
	}
	if levels <= 0 || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("mip chain: %dx%d with %d levels: %w", w, h, levels, ErrInvalidSize)
	}

	base := image.NewRGBA(image.Rect(0, 0, w, h))
	if img.Bounds().Size() == base.Bounds().Size() {
		draw.Draw(base, base.Bounds(), img, img.Bounds().Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(base, base.Bounds(), img, img.Bounds(), draw.Src, nil)
	}

	out := make([][]byte, 0, levels)
	prev := base
	for k := 0; k < levels; k++ {
		if k > 0 {
			next := image.NewRGBA(image.Rect(0, 0, mipDim(w, k), mipDim(h, k)))
			draw.BiLinear.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)
			prev = next
		}
		out = append(out, pack(prev, bpp))
	}
	return out, nil
}

// pack strips the stride and any channels beyond bpp.
func pack(img *image.RGBA, bpp int) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*bpp)
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		if bpp == 4 {
			out = append(out, row...)
			continue
		}
		for x := 0; x < len(row); x += 4 {
			out = append(out, row[x:x+bpp]...)
		}
	}
	return out
}
