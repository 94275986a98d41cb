package compose

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

var (
	opaqueRed   = color.RGBA{R: 255, A: 255}
	opaqueGreen = color.RGBA{G: 255, A: 255}
	opaqueBlue  = color.RGBA{B: 255, A: 255}
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(tb testing.TB, img image.Image) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func solidPNG(tb testing.TB, w, h int, c color.Color) []byte {
	tb.Helper()
	return encodePNG(tb, solidImage(w, h, c))
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode jpeg output: %v", err)
	}
	return img
}

// assertNear compares RGB channels with a tolerance for lossy codecs.
func assertNear(t *testing.T, got color.Color, want color.RGBA, tol int, where string) {
	t.Helper()

	r, g, b, _ := got.RGBA()
	gr, gg, gb := int(r>>8), int(g>>8), int(b>>8)
	if absDiff(gr, int(want.R)) > tol || absDiff(gg, int(want.G)) > tol || absDiff(gb, int(want.B)) > tol {
		t.Fatalf("%s: expected ~%v, got (%d,%d,%d)", where, want, gr, gg, gb)
	}
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %q (%v)", kind, got, err)
	}
	e, _ := err.(*Error)
	return e
}
