package compose

import "testing"

func TestResolveRasterTypes(t *testing.T) {
	cases := map[string]Codec{
		"image/png":  CodecPNG,
		"image/jpeg": CodecJPEG,
		"image/gif":  CodecGIF,
		"image/bmp":  CodecBMP,
		"image/webp": CodecWebP,
		"image/tiff": CodecTIFF,
	}
	for mimeType, want := range cases {
		strategy, err := Resolve(mimeType)
		if err != nil {
			t.Fatalf("resolve %s: %v", mimeType, err)
		}
		raster, ok := strategy.(Raster)
		if !ok {
			t.Fatalf("resolve %s: expected Raster, got %T", mimeType, strategy)
		}
		if raster.Codec != want {
			t.Fatalf("resolve %s: expected codec %s, got %s", mimeType, want, raster.Codec)
		}
	}
}

func TestResolveVectorIsExactMatch(t *testing.T) {
	strategy, err := Resolve("image/svg+xml")
	if err != nil {
		t.Fatalf("resolve svg: %v", err)
	}
	if _, ok := strategy.(Vector); !ok {
		t.Fatalf("expected Vector, got %T", strategy)
	}

	for _, near := range []string{"image/SVG+xml", "image/svg+xml; charset=utf-8", " image/svg+xml"} {
		_, err := Resolve(near)
		e := requireKind(t, err, KindInvalidMimeType)
		if e.MimeType != near {
			t.Fatalf("expected offending value %q, got %q", near, e.MimeType)
		}
	}
}

func TestResolveMissingAndUnknown(t *testing.T) {
	_, err := Resolve("")
	requireKind(t, err, KindMissingMimeType)

	_, err = Resolve("application/pdf")
	e := requireKind(t, err, KindInvalidMimeType)
	if e.MimeType != "application/pdf" {
		t.Fatalf("expected mime type to be carried, got %q", e.MimeType)
	}
}

func TestResolveRasterRejectsVectorBase(t *testing.T) {
	_, err := resolveRaster(MimeTypeSVG)
	requireKind(t, err, KindInvalidMimeType)

	codec, err := resolveRaster("image/png")
	if err != nil {
		t.Fatalf("expected png to resolve, got %v", err)
	}
	if codec != CodecPNG {
		t.Fatalf("expected png codec, got %s", codec)
	}
}

func TestSupportedMimeTypes(t *testing.T) {
	got := SupportedMimeTypes()
	if len(got) != 7 {
		t.Fatalf("expected 7 supported types, got %d: %v", len(got), got)
	}
	for _, mt := range got {
		if _, err := Resolve(mt); err != nil {
			t.Fatalf("listed type %s does not resolve: %v", mt, err)
		}
	}
}
