package compose

import (
	"image"

	"github.com/disintegration/imaging"
)

// Normalize forces img to exactly width x height with nearest-neighbour
// sampling. Aspect ratio is not preserved and nothing is letterboxed. An image
// that already has the target size and a zero origin is returned as is.
func Normalize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Min == (image.Point{}) && b.Dx() == width && b.Dy() == height {
		return img
	}
	return imaging.Resize(img, width, height, imaging.NearestNeighbor)
}
