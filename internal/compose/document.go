package compose

import (
	"bytes"
	"errors"
	"html"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/xml"
)

var (
	errNoSVGRoot      = errors.New("document has no <svg> root element")
	errUnexpectedRoot = errors.New("root element is not <svg>")
	errTextBeforeRoot = errors.New("character data before the <svg> root element")
	errBadViewBox     = errors.New("viewBox needs four numbers")
)

var utf8BOM = []byte("\xef\xbb\xbf")

type viewBox struct {
	X, Y, W, H float64
}

// vectorDocument is what the rasterizer needs to know about an SVG besides
// its shapes: the root geometry and the text runs, which the shape renderer
// does not draw.
type vectorDocument struct {
	width, height float64
	viewBox       viewBox
	aspect        aspectRatio
	texts         []textRun
}

// aspectRatio is a parsed preserveAspectRatio value. Align is one of the nine
// xMinYMin..xMaxYMax keywords or "none".
type aspectRatio struct {
	align string
	slice bool
}

var defaultAspectRatio = aspectRatio{align: "xMidYMid"}

var aspectAligns = map[string]bool{
	"none":     true,
	"xMinYMin": true, "xMidYMin": true, "xMaxYMin": true,
	"xMinYMid": true, "xMidYMid": true, "xMaxYMid": true,
	"xMinYMax": true, "xMidYMax": true, "xMaxYMax": true,
}

// parseAspectRatio reads a preserveAspectRatio attribute. Unknown values fall
// back to xMidYMid meet.
func parseAspectRatio(v string) aspectRatio {
	fields := strings.Fields(v)
	if len(fields) > 0 && fields[0] == "defer" {
		fields = fields[1:]
	}
	if len(fields) == 0 || !aspectAligns[fields[0]] {
		return defaultAspectRatio
	}
	ar := aspectRatio{align: fields[0]}
	if len(fields) > 1 {
		switch fields[1] {
		case "slice":
			ar.slice = true
		case "meet":
		default:
			return defaultAspectRatio
		}
	}
	return ar
}

// size is the intrinsic document size: explicit width/height on the root,
// otherwise the viewBox extent.
func (d *vectorDocument) size() (float64, float64) {
	w, h := d.width, d.height
	if w <= 0 {
		w = d.viewBox.W
	}
	if h <= 0 {
		h = d.viewBox.H
	}
	return w, h
}

// userBox is the user coordinate rectangle that gets mapped onto the canvas.
func (d *vectorDocument) userBox() viewBox {
	if d.viewBox.W > 0 && d.viewBox.H > 0 {
		return d.viewBox
	}
	w, h := d.size()
	return viewBox{W: w, H: h}
}

// placement maps user coordinates onto a canvasW x canvasH target. The
// viewBox is first aligned inside the intrinsic size box following
// preserveAspectRatio, then the size box is stretched onto the canvas with
// independent horizontal and vertical factors.
func (d *vectorDocument) placement(canvasW, canvasH int) userTransform {
	w0, h0 := d.size()
	box := d.userBox()
	sx, sy := w0/box.W, h0/box.H

	var tx, ty float64
	if d.viewBox.W > 0 && d.viewBox.H > 0 && d.aspect.align != "none" {
		s := math.Min(sx, sy)
		if d.aspect.slice {
			s = math.Max(sx, sy)
		}
		sx, sy = s, s
		extraX, extraY := w0-box.W*s, h0-box.H*s
		switch d.aspect.align[:4] {
		case "xMid":
			tx = extraX / 2
		case "xMax":
			tx = extraX
		}
		switch d.aspect.align[4:] {
		case "YMid":
			ty = extraY / 2
		case "YMax":
			ty = extraY
		}
	}

	kx, ky := float64(canvasW)/w0, float64(canvasH)/h0
	return userTransform{
		sx: sx * kx,
		sy: sy * ky,
		ox: box.X,
		oy: box.Y,
		tx: tx * kx,
		ty: ty * ky,
	}
}

type textStyle struct {
	fontSize float64
	family   string
	fill     string
	opacity  float64
	anchor   string
}

var defaultTextStyle = textStyle{
	fontSize: 16,
	family:   "sans-serif",
	fill:     "black",
	opacity:  1,
	anchor:   "start",
}

type textRun struct {
	x, y  float64
	text  string
	style textStyle
}

// parseVectorDocument scans data with a lenient XML lexer. Anything that does
// not open with an <svg> root element is rejected as KindSvgParserFailure.
func parseVectorDocument(data []byte) (*vectorDocument, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	l := xml.NewLexer(parse.NewInputBytes(data))
	doc := &vectorDocument{aspect: defaultAspectRatio}

	var (
		rootSeen  bool
		styles    = []textStyle{defaultTextStyle}
		textDepth int
		run       *textRun
		content   strings.Builder
	)

	flush := func() {
		if run == nil {
			return
		}
		run.text = strings.Join(strings.Fields(content.String()), " ")
		if run.text != "" {
			doc.texts = append(doc.texts, *run)
		}
		run = nil
		content.Reset()
	}

	for {
		tt, data := l.Next()
		switch tt {
		case xml.ErrorToken:
			if err := l.Err(); err != io.EOF {
				return nil, newError(KindSvgParserFailure, err)
			}
			if !rootSeen {
				return nil, newError(KindSvgParserFailure, errNoSVGRoot)
			}
			flush()
			return doc, nil

		case xml.StartTagToken:
			tag := localName(string(data[1:]))
			attrs := map[string]string{}
			for {
				tt, _ = l.Next()
				if tt != xml.AttributeToken {
					break
				}
				attrs[localName(string(l.Text()))] = attrValue(l.AttrVal())
			}

			if !rootSeen {
				if tag != "svg" {
					return nil, newError(KindSvgParserFailure, errUnexpectedRoot)
				}
				rootSeen = true
				if err := doc.readRoot(attrs); err != nil {
					return nil, newError(KindSvgParserFailure, err)
				}
			}

			style := styles[len(styles)-1].apply(attrs)
			switch tag {
			case "text":
				flush()
				textDepth++
				run = &textRun{x: firstLength(attrs["x"]), y: firstLength(attrs["y"]), style: style}
			case "tspan":
				if textDepth > 0 && run != nil {
					_, hasX := attrs["x"]
					_, hasY := attrs["y"]
					if hasX || hasY {
						x, y := run.x, run.y
						if hasX {
							x = firstLength(attrs["x"])
						}
						if hasY {
							y = firstLength(attrs["y"])
						}
						flush()
						run = &textRun{x: x, y: y, style: style}
					}
				}
			}

			if tt == xml.StartTagCloseVoidToken {
				if tag == "text" {
					textDepth--
					flush()
				}
				continue
			}
			styles = append(styles, style)

		case xml.EndTagToken:
			tag := localName(strings.TrimSuffix(strings.TrimPrefix(string(data), "</"), ">"))
			if len(styles) > 1 {
				styles = styles[:len(styles)-1]
			}
			if tag == "text" && textDepth > 0 {
				textDepth--
				flush()
			}

		case xml.TextToken:
			if !rootSeen {
				if strings.TrimSpace(string(data)) != "" {
					return nil, newError(KindSvgParserFailure, errTextBeforeRoot)
				}
				continue
			}
			if run != nil {
				content.WriteString(" ")
				content.WriteString(html.UnescapeString(string(data)))
			}

		case xml.CDATAToken:
			if run != nil {
				text := strings.TrimSuffix(strings.TrimPrefix(string(data), "<![CDATA["), "]]>")
				content.WriteString(" ")
				content.WriteString(text)
			}
		}
	}
}

func (d *vectorDocument) readRoot(attrs map[string]string) error {
	d.width = parseLength(attrs["width"], 0)
	d.height = parseLength(attrs["height"], 0)
	if v, ok := attrs["preserveAspectRatio"]; ok {
		d.aspect = parseAspectRatio(v)
	}

	raw, ok := attrs["viewBox"]
	if !ok {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) != 4 {
		return errBadViewBox
	}
	var vals [4]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return errBadViewBox
		}
		vals[i] = v
	}
	d.viewBox = viewBox{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
	return nil
}

func (s textStyle) apply(attrs map[string]string) textStyle {
	props := make(map[string]string, len(attrs))
	for k, v := range attrs {
		props[k] = v
	}
	// inline style wins over presentation attributes
	for _, item := range strings.Split(attrs["style"], ";") {
		if kv := strings.SplitN(item, ":", 2); len(kv) == 2 {
			props[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}

	if v, ok := props["font-size"]; ok {
		s.fontSize = parseLength(v, s.fontSize)
	}
	if v, ok := props["font-family"]; ok && strings.TrimSpace(v) != "" {
		s.family = v
	}
	if v, ok := props["fill"]; ok && strings.TrimSpace(v) != "" {
		s.fill = v
	}
	if v, ok := props["text-anchor"]; ok {
		s.anchor = strings.TrimSpace(v)
	}
	for _, key := range []string{"opacity", "fill-opacity"} {
		if v, ok := props[key]; ok {
			if o, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				s.opacity *= clampUnit(o)
			}
		}
	}
	return s
}

// parseLength reads an SVG length in user units (px). Relative units it
// cannot resolve return fallback.
func parseLength(v string, fallback float64) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}

	scale := 1.0
	for _, unit := range []struct {
		suffix string
		px     float64
	}{
		{"px", 1},
		{"pt", 96.0 / 72.0},
		{"pc", 16},
		{"mm", 96.0 / 25.4},
		{"cm", 96.0 / 2.54},
		{"in", 96},
	} {
		if strings.HasSuffix(v, unit.suffix) {
			v = strings.TrimSpace(strings.TrimSuffix(v, unit.suffix))
			scale = unit.px
			break
		}
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f * scale
}

// firstLength handles coordinate lists ("10 20 30") by taking the first entry.
func firstLength(v string) float64 {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return 0
	}
	return parseLength(fields[0], 0)
}

func attrValue(raw []byte) string {
	if n := len(raw); n >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[n-1] == raw[0] {
		raw = raw[1 : n-1]
	}
	return html.UnescapeString(string(raw))
}

func localName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
