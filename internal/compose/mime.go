package compose

import "sort"

// MimeTypeSVG is the only declared type routed to the vector path. It is
// matched exactly: no case folding, no parameter stripping.
const MimeTypeSVG = "image/svg+xml"

// Codec names a raster format the decoder can read.
type Codec string

const (
	CodecPNG  Codec = "png"
	CodecJPEG Codec = "jpeg"
	CodecGIF  Codec = "gif"
	CodecBMP  Codec = "bmp"
	CodecWebP Codec = "webp"
	CodecTIFF Codec = "tiff"
)

var rasterMimeTypes = map[string]Codec{
	"image/png":  CodecPNG,
	"image/jpeg": CodecJPEG,
	"image/gif":  CodecGIF,
	"image/bmp":  CodecBMP,
	"image/webp": CodecWebP,
	"image/tiff": CodecTIFF,
}

// Strategy is how a payload gets turned into pixels. The only implementations
// are Vector and Raster.
type Strategy interface {
	strategy()
}

// Vector routes a payload to the SVG rasterizer.
type Vector struct{}

// Raster routes a payload to the raster decoder for Codec.
type Raster struct {
	Codec Codec
}

func (Vector) strategy() {}
func (Raster) strategy() {}

// Resolve classifies a declared content type. The decision is made from the
// string alone; payload bytes are never sniffed.
func Resolve(declared string) (Strategy, error) {
	if declared == "" {
		return nil, &Error{Kind: KindMissingMimeType}
	}
	if declared == MimeTypeSVG {
		return Vector{}, nil
	}
	codec, ok := rasterMimeTypes[declared]
	if !ok {
		return nil, &Error{Kind: KindInvalidMimeType, MimeType: declared}
	}
	return Raster{Codec: codec}, nil
}

// resolveRaster is Resolve for payloads that must be raster, such as the base
// image. A vector declaration is reported as an invalid mime type.
func resolveRaster(declared string) (Codec, error) {
	strategy, err := Resolve(declared)
	if err != nil {
		return "", err
	}
	raster, ok := strategy.(Raster)
	if !ok {
		return "", &Error{Kind: KindInvalidMimeType, MimeType: declared}
	}
	return raster.Codec, nil
}

// SupportedMimeTypes lists every declared type Resolve accepts, sorted.
func SupportedMimeTypes() []string {
	out := make([]string, 0, len(rasterMimeTypes)+1)
	out = append(out, MimeTypeSVG)
	for mt := range rasterMimeTypes {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}
