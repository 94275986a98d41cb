//go:build govips && cgo

package compose

import (
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
)

var vipsImageTypes = map[Codec]vips.ImageType{
	CodecPNG:  vips.ImageTypePNG,
	CodecJPEG: vips.ImageTypeJPEG,
	CodecGIF:  vips.ImageTypeGIF,
	CodecBMP:  vips.ImageTypeBMP,
	CodecWebP: vips.ImageTypeWEBP,
	CodecTIFF: vips.ImageTypeTIFF,
}

// govipsBackend decodes through libvips, which copes with more codec variants
// (CMYK JPEG, animated WebP, BigTIFF) than the Go decoders. Header reads and
// JPEG encoding stay on the Go side so output bytes are identical across
// backends.
type govipsBackend struct {
	stdlibBackend
}

func (govipsBackend) Name() string { return "govips" }

func (govipsBackend) Decode(data []byte, codec Codec) (image.Image, error) {
	want, ok := vipsImageTypes[codec]
	if !ok {
		return nil, newError(KindDecodingFailure, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec))
	}
	// libvips picks its loader from the content, so enforce the declared codec
	// here.
	if got := vips.DetermineImageType(data); got != want {
		return nil, newError(KindDecodingFailure, fmt.Errorf("payload is not %s", codec))
	}

	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, newError(KindDecodingFailure, fmt.Errorf("decode %s: %w", codec, err))
	}
	defer ref.Close()

	img, err := ref.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, newError(KindDecodingFailure, fmt.Errorf("convert %s: %w", codec, err))
	}
	return img, nil
}
