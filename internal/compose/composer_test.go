package compose

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"
)

func newTestComposer(t testing.TB, cfg Config) *Composer {
	t.Helper()

	if cfg.Fonts == nil {
		cfg.Fonts = NewFontStore([]string{t.TempDir()})
	}
	c, err := NewComposer(cfg)
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	return c
}

func pngPayload(t testing.TB, w, h int, c color.Color) Payload {
	t.Helper()
	return Payload{Data: solidPNG(t, w, h, c), MimeType: "image/png"}
}

func TestComposeWithoutLayersReencodesBase(t *testing.T) {
	c := newTestComposer(t, Config{})
	res, err := c.Compose(context.Background(), Request{Base: pngPayload(t, 64, 32, opaqueRed)})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if res.Width != 64 || res.Height != 32 || res.Layers != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	img := decodeJPEG(t, res.JPEG)
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Fatalf("expected 64x32 output, got %dx%d", b.Dx(), b.Dy())
	}
	assertNear(t, img.At(32, 16), opaqueRed, 24, "center")
}

func TestComposeStretchesSmallerLayer(t *testing.T) {
	c := newTestComposer(t, Config{})
	res, err := c.Compose(context.Background(), Request{
		Base:   pngPayload(t, 100, 100, opaqueRed),
		Layers: []Payload{pngPayload(t, 50, 50, opaqueBlue)},
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	img := decodeJPEG(t, res.JPEG)
	for _, p := range [][2]int{{2, 2}, {50, 50}, {97, 97}, {2, 97}} {
		assertNear(t, img.At(p[0], p[1]), opaqueBlue, 24, "stretched layer")
	}
	if res.Pixels() != 100*100*2 {
		t.Fatalf("unexpected pixel count %d", res.Pixels())
	}
}

func TestComposeLayerOrderMatters(t *testing.T) {
	c := newTestComposer(t, Config{})
	base := pngPayload(t, 16, 16, color.White)
	red := pngPayload(t, 8, 8, opaqueRed)
	green := pngPayload(t, 4, 4, opaqueGreen)

	redTop, err := c.Compose(context.Background(), Request{Base: base, Layers: []Payload{green, red}})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	greenTop, err := c.Compose(context.Background(), Request{Base: base, Layers: []Payload{red, green}})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	assertNear(t, decodeJPEG(t, redTop.JPEG).At(8, 8), opaqueRed, 24, "red on top")
	assertNear(t, decodeJPEG(t, greenTop.JPEG).At(8, 8), opaqueGreen, 24, "green on top")
}

func TestComposeMixedVectorAndRaster(t *testing.T) {
	c := newTestComposer(t, Config{})
	res, err := c.Compose(context.Background(), Request{
		Base: pngPayload(t, 100, 100, opaqueBlue),
		Layers: []Payload{
			{Data: []byte(bottomHalfSVG), MimeType: MimeTypeSVG},
		},
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if res.VectorLayers != 1 {
		t.Fatalf("expected 1 vector layer, got %d", res.VectorLayers)
	}

	img := decodeJPEG(t, res.JPEG)
	assertNear(t, img.At(50, 20), opaqueBlue, 24, "uncovered top")
	assertNear(t, img.At(50, 80), opaqueGreen, 24, "svg bottom half")
}

func TestComposeIsDeterministic(t *testing.T) {
	c := newTestComposer(t, Config{JPEGQuality: 90})
	req := Request{
		Base:   pngPayload(t, 40, 30, opaqueRed),
		Layers: []Payload{{Data: []byte(redSquareSVG), MimeType: MimeTypeSVG}, pngPayload(t, 7, 3, color.NRGBA{B: 255, A: 100})},
	}

	first, err := c.Compose(context.Background(), req)
	if err != nil {
		t.Fatalf("first compose: %v", err)
	}
	second, err := c.Compose(context.Background(), req)
	if err != nil {
		t.Fatalf("second compose: %v", err)
	}
	if !bytes.Equal(first.JPEG, second.JPEG) {
		t.Fatal("expected byte-identical output for identical requests")
	}
}

func TestComposeBaseErrors(t *testing.T) {
	c := newTestComposer(t, Config{})

	_, err := c.Compose(context.Background(), Request{Base: Payload{Data: solidPNG(t, 2, 2, opaqueRed)}})
	e := requireKind(t, err, KindMissingMimeType)
	if e.Part != "image" {
		t.Fatalf("expected base part, got %q", e.Part)
	}

	_, err = c.Compose(context.Background(), Request{Base: Payload{Data: []byte(redSquareSVG), MimeType: MimeTypeSVG}})
	requireKind(t, err, KindInvalidMimeType)

	_, err = c.Compose(context.Background(), Request{Base: Payload{Data: []byte("garbage"), MimeType: "image/png"}})
	requireKind(t, err, KindDecodingFailure)
}

func TestComposeStopsAtFirstFailingLayer(t *testing.T) {
	c := newTestComposer(t, Config{DecodeConcurrency: 4})
	base := pngPayload(t, 10, 10, opaqueRed)

	_, err := c.Compose(context.Background(), Request{
		Base: base,
		Layers: []Payload{
			pngPayload(t, 10, 10, opaqueBlue),
			{Data: solidPNG(t, 10, 10, opaqueGreen)},
			{Data: []byte("corrupt"), MimeType: "image/png"},
		},
	})
	e := requireKind(t, err, KindMissingMimeType)
	if e.Part != "layers[1]" {
		t.Fatalf("expected layers[1], got %q", e.Part)
	}

	_, err = c.Compose(context.Background(), Request{
		Base: base,
		Layers: []Payload{
			{Data: []byte("corrupt"), MimeType: "image/png"},
			{Data: []byte("<svg"), MimeType: "text/html"},
		},
	})
	e = requireKind(t, err, KindDecodingFailure)
	if e.Part != "layers[0]" {
		t.Fatalf("expected layers[0], got %q", e.Part)
	}
}

func TestComposeSvgLayerFailures(t *testing.T) {
	c := newTestComposer(t, Config{})
	base := pngPayload(t, 10, 10, opaqueRed)

	_, err := c.Compose(context.Background(), Request{
		Base:   base,
		Layers: []Payload{{Data: solidPNG(t, 3, 3, opaqueBlue), MimeType: MimeTypeSVG}},
	})
	requireKind(t, err, KindSvgParserFailure)

	_, err = c.Compose(context.Background(), Request{
		Base:   base,
		Layers: []Payload{{Data: []byte(`<svg width="0" height="0"/>`), MimeType: MimeTypeSVG}},
	})
	requireKind(t, err, KindInvalidSize)
}

func TestComposeLimits(t *testing.T) {
	base := pngPayload(t, 20, 20, opaqueRed)
	layer := pngPayload(t, 5, 5, opaqueBlue)

	c := newTestComposer(t, Config{Limits: Limits{MaxLayers: 1}})
	_, err := c.Compose(context.Background(), Request{Base: base, Layers: []Payload{layer, layer}})
	requireKind(t, err, KindLimitExceeded)

	c = newTestComposer(t, Config{Limits: Limits{MaxPixels: 399}})
	_, err = c.Compose(context.Background(), Request{Base: base})
	e := requireKind(t, err, KindLimitExceeded)
	if e.Part != "image" {
		t.Fatalf("expected base part, got %q", e.Part)
	}

	c = newTestComposer(t, Config{Limits: Limits{MaxPixels: 400}})
	if _, err := c.Compose(context.Background(), Request{Base: base, Layers: []Payload{layer}}); err != nil {
		t.Fatalf("expected request at the pixel limit to pass: %v", err)
	}

	c = newTestComposer(t, Config{Limits: Limits{MaxInputBytes: int64(len(base.Data))}})
	_, err = c.Compose(context.Background(), Request{Base: base, Layers: []Payload{layer}})
	requireKind(t, err, KindLimitExceeded)
}

// gatedBackend blocks decoding of one payload until release is closed and
// counts every decode that starts.
type gatedBackend struct {
	stdlibBackend
	gate    []byte
	release chan struct{}
	started atomic.Int32
}

func (b *gatedBackend) Decode(data []byte, codec Codec) (image.Image, error) {
	b.started.Add(1)
	if bytes.Equal(data, b.gate) {
		<-b.release
	}
	return b.stdlibBackend.Decode(data, codec)
}

func TestComposeKeepsAtMostOneWindowOfLayers(t *testing.T) {
	const window = 2
	layers := []Payload{pngPayload(t, 1, 1, opaqueBlue)}
	for i := 0; i < 9; i++ {
		layers = append(layers, pngPayload(t, 1, 1, color.NRGBA{G: uint8(i + 1), A: 255}))
	}
	gated := &gatedBackend{gate: layers[0].Data, release: make(chan struct{})}

	c := newTestComposer(t, Config{DecodeConcurrency: window})
	c.backend = gated

	req := Request{Base: pngPayload(t, 64, 64, opaqueRed), Layers: layers}
	done := make(chan error, 1)
	go func() {
		_, err := c.Compose(context.Background(), req)
		done <- err
	}()

	// base plus the first window
	deadline := time.Now().Add(5 * time.Second)
	for gated.started.Load() < 1+window {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d decodes to start, got %d", 1+window, gated.started.Load())
		}
		time.Sleep(time.Millisecond)
	}
	// layer 1 finishes while layer 0 is held; nothing beyond the window may start
	time.Sleep(50 * time.Millisecond)
	if got := gated.started.Load(); got != 1+window {
		t.Fatalf("expected %d decodes while layer 0 is pending, got %d", 1+window, got)
	}

	close(gated.release)
	if err := <-done; err != nil {
		t.Fatalf("compose: %v", err)
	}
	if got := gated.started.Load(); got != int32(1+len(layers)) {
		t.Fatalf("expected %d decodes, got %d", 1+len(layers), got)
	}
}

func TestComposeHonoursCancellation(t *testing.T) {
	c := newTestComposer(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Compose(ctx, Request{
		Base:   pngPayload(t, 10, 10, opaqueRed),
		Layers: []Payload{pngPayload(t, 10, 10, opaqueBlue)},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func BenchmarkComposeRasterLayers(b *testing.B) {
	c := newTestComposer(b, Config{})
	req := Request{Base: pngPayload(b, 512, 512, opaqueRed)}
	for i := 0; i < 8; i++ {
		req.Layers = append(req.Layers, pngPayload(b, 128, 128, color.NRGBA{B: 255, A: 40}))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Compose(context.Background(), req); err != nil {
			b.Fatalf("compose: %v", err)
		}
	}
}
