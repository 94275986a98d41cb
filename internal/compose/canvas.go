package compose

import (
	"fmt"
	"image"
	"image/draw"
)

// Canvas is the pixel buffer layers are folded onto. Its size is taken from the
// base image when it is created and never changes.
type Canvas struct {
	img *image.RGBA
}

// NewCanvas copies base into a fresh RGBA buffer anchored at the origin. The
// base image itself is never written to.
func NewCanvas(base image.Image) *Canvas {
	b := base.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), base, b.Min, draw.Src)
	return &Canvas{img: dst}
}

func (c *Canvas) Width() int  { return c.img.Rect.Dx() }
func (c *Canvas) Height() int { return c.img.Rect.Dy() }

// Image exposes the current canvas pixels. Callers must not keep it across
// further Accumulate calls.
func (c *Canvas) Image() *image.RGBA { return c.img }

// Accumulate draws layer over the canvas at the origin using source-over
// compositing. The layer must already have the canvas size; mismatches are a
// pipeline bug and are rejected rather than resized here.
func (c *Canvas) Accumulate(layer image.Image) error {
	lb := layer.Bounds()
	if lb.Dx() != c.Width() || lb.Dy() != c.Height() {
		return newError(KindInvalidSize, fmt.Errorf(
			"layer is %dx%d, canvas is %dx%d", lb.Dx(), lb.Dy(), c.Width(), c.Height(),
		))
	}
	draw.Draw(c.img, c.img.Bounds(), layer, lb.Min, draw.Over)
	return nil
}
