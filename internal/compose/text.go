package compose

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"

	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

var namedColors = map[string]string{
	"black":   "#000000",
	"white":   "#ffffff",
	"red":     "#ff0000",
	"green":   "#008000",
	"lime":    "#00ff00",
	"blue":    "#0000ff",
	"yellow":  "#ffff00",
	"cyan":    "#00ffff",
	"aqua":    "#00ffff",
	"magenta": "#ff00ff",
	"fuchsia": "#ff00ff",
	"gray":    "#808080",
	"grey":    "#808080",
	"silver":  "#c0c0c0",
	"maroon":  "#800000",
	"olive":   "#808000",
	"navy":    "#000080",
	"purple":  "#800080",
	"teal":    "#008080",
	"orange":  "#ffa500",
}

// userTransform maps SVG user coordinates to target pixels: shift by the
// viewBox origin, scale, then offset by the alignment.
type userTransform struct {
	sx, sy float64
	ox, oy float64
	tx, ty float64
}

func (t userTransform) apply(x, y float64) (float64, float64) {
	return (x-t.ox)*t.sx + t.tx, (y-t.oy)*t.sy + t.ty
}

// drawText renders text runs on top of dst. Glyphs are scaled by the vertical
// factor only; a non-uniform transform stretches glyph positions, not glyph
// shapes.
func drawText(dst draw.Image, runs []textRun, t userTransform, fonts *FontStore) {
	for _, run := range runs {
		col, ok := parseFill(run.style.fill, run.style.opacity)
		if !ok {
			continue
		}
		size := run.style.fontSize * t.sy
		if size < 1 {
			continue
		}

		face := truetype.NewFace(fonts.Font(run.style.family), &truetype.Options{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingNone,
		})

		x, y := t.apply(run.x, run.y)
		advance := float64(font.MeasureString(face, run.text)) / 64
		switch run.style.anchor {
		case "middle":
			x -= advance / 2
		case "end":
			x -= advance
		}

		drawer := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(col),
			Face: face,
			Dot: fixed.Point26_6{
				X: fixed.Int26_6(math.Round(x * 64)),
				Y: fixed.Int26_6(math.Round(y * 64)),
			},
		}
		drawer.DrawString(run.text)
		_ = face.Close()
	}
}

// parseFill turns an SVG paint value into a colour. ok is false for paints
// that draw nothing.
func parseFill(v string, opacity float64) (color.NRGBA, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	alpha := uint8(math.Round(clampUnit(opacity) * 255))
	if v == "none" || v == "transparent" || alpha == 0 {
		return color.NRGBA{}, false
	}

	if strings.HasPrefix(v, "rgb(") && strings.HasSuffix(v, ")") {
		parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(v, "rgb("), ")"), ",")
		if len(parts) == 3 {
			var rgb [3]uint8
			for i, p := range parts {
				rgb[i] = parseColorComponent(p)
			}
			return color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: alpha}, true
		}
	}

	hex := v
	if named, ok := namedColors[v]; ok {
		hex = named
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		// currentColor, gradients and anything unknown paint black
		c = colorful.Color{}
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: alpha}, true
}

func parseColorComponent(v string) uint8 {
	v = strings.TrimSpace(v)
	scale := 1.0
	if strings.HasSuffix(v, "%") {
		v = strings.TrimSuffix(v, "%")
		scale = 255.0 / 100.0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return uint8(math.Round(math.Max(0, math.Min(255, f*scale))))
}
