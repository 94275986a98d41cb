package compose

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// VectorMode selects how an SVG layer is sized before normalization.
type VectorMode string

const (
	// VectorModeDirect renders straight into a canvas sized target.
	VectorModeDirect VectorMode = "direct"
	// VectorModeFit renders into an aspect-preserving target that fits inside
	// the canvas, with the same canvas-sized transform, and leaves the final
	// stretch to Normalize. Content outside the fit target is clipped.
	VectorModeFit VectorMode = "fit"
)

// maxInflatedSVG caps how far a gzip-compressed document may expand.
const maxInflatedSVG = 64 << 20

var (
	gzipMagic       = []byte{0x1f, 0x8b}
	errSVGZTooLarge = errors.New("compressed svg expands beyond the size cap")
)

// inflateSVG returns data unchanged unless it is gzip-compressed (.svgz), in
// which case it returns the decompressed document. A leading byte order mark
// is dropped either way.
func inflateSVG(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open svgz: %w", err)
		}
		defer zr.Close()

		inflated, err := io.ReadAll(io.LimitReader(zr, maxInflatedSVG+1))
		if err != nil {
			return nil, fmt.Errorf("inflate svgz: %w", err)
		}
		if len(inflated) > maxInflatedSVG {
			return nil, errSVGZTooLarge
		}
		data = inflated
	}
	return bytes.TrimPrefix(data, utf8BOM), nil
}

// ParseVectorMode maps a config value to a VectorMode, defaulting to direct.
func ParseVectorMode(v string) (VectorMode, error) {
	switch VectorMode(v) {
	case "", VectorModeDirect:
		return VectorModeDirect, nil
	case VectorModeFit:
		return VectorModeFit, nil
	default:
		return "", fmt.Errorf("unknown vector mode %q", v)
	}
}

// Rasterizer turns SVG documents into RGBA buffers sized for a canvas.
// It is safe for concurrent use.
type Rasterizer struct {
	fonts *FontStore
	mode  VectorMode
}

func NewRasterizer(fonts *FontStore, mode VectorMode) *Rasterizer {
	if fonts == nil {
		fonts = DefaultFontStore()
	}
	if mode == "" {
		mode = VectorModeDirect
	}
	return &Rasterizer{fonts: fonts, mode: mode}
}

// Rasterize parses data, plain or gzip-compressed, and renders it for a
// canvasW x canvasH canvas. The viewBox is placed inside the intrinsic size
// box per preserveAspectRatio, and that box is scaled non-uniformly to cover
// the canvas.
// The result may be smaller than the canvas in fit mode; Normalize is always
// expected to run afterwards.
func (r *Rasterizer) Rasterize(data []byte, canvasW, canvasH int) (out image.Image, err error) {
	stage := KindSvgParserFailure
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = newError(stage, fmt.Errorf("svg panic: %v", p))
		}
	}()

	data, err = inflateSVG(data)
	if err != nil {
		return nil, newError(KindSvgParserFailure, err)
	}
	doc, err := parseVectorDocument(data)
	if err != nil {
		return nil, err
	}

	w0, h0 := doc.size()
	if canvasW <= 0 || canvasH <= 0 || w0 <= 0 || h0 <= 0 {
		return nil, newError(KindInvalidSize, fmt.Errorf(
			"document %gx%g, canvas %dx%d", w0, h0, canvasW, canvasH,
		))
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, newError(KindSvgParserFailure, err)
	}
	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		return nil, newError(KindInvalidSize, fmt.Errorf(
			"viewBox %gx%g", icon.ViewBox.W, icon.ViewBox.H,
		))
	}

	targetW, targetH := canvasW, canvasH
	if r.mode == VectorModeFit {
		targetW, targetH = FitSize(w0, h0, canvasW, canvasH)
	}
	if targetW <= 0 || targetH <= 0 {
		return nil, newError(KindInvalidSize, fmt.Errorf("render target %dx%d", targetW, targetH))
	}

	stage = KindRenderFailure
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	// SetTarget translates before scaling, leaving a viewBox origin unscaled.
	t := doc.placement(canvasW, canvasH)
	icon.Transform = rasterx.Identity.Translate(t.tx, t.ty).Scale(t.sx, t.sy).Translate(-t.ox, -t.oy)
	scanner := rasterx.NewScannerGV(targetW, targetH, dst, dst.Bounds())
	icon.Draw(rasterx.NewDasher(targetW, targetH, scanner), 1.0)

	drawText(dst, doc.texts, t, r.fonts)

	return dst, nil
}

// FitSize scales (w0, h0) uniformly so it fits inside (w, h), touching at
// least one side. Fractions round up and each side is at least one pixel.
func FitSize(w0, h0 float64, w, h int) (int, int) {
	if w0 <= 0 || h0 <= 0 || w <= 0 || h <= 0 {
		return 0, 0
	}
	rw := int(math.Ceil(float64(h) * w0 / h0))
	if rw >= w {
		rh := int(math.Ceil(float64(w) * h0 / w0))
		return w, max(1, min(rh, h))
	}
	return max(1, rw), h
}
