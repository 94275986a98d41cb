package compose

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// DefaultJPEGQuality matches the quality most JPEG encoders pick when none is
// given.
const DefaultJPEGQuality = 75

var ErrUnsupportedCodec = errors.New("unsupported raster codec")

var rasterDecoders = map[Codec]func(io.Reader) (image.Image, error){
	CodecPNG:  png.Decode,
	CodecJPEG: jpeg.Decode,
	CodecGIF:  gif.Decode,
	CodecBMP:  bmp.Decode,
	CodecWebP: webp.Decode,
	CodecTIFF: tiff.Decode,
}

var rasterConfigDecoders = map[Codec]func(io.Reader) (image.Config, error){
	CodecPNG:  png.DecodeConfig,
	CodecJPEG: jpeg.DecodeConfig,
	CodecGIF:  gif.DecodeConfig,
	CodecBMP:  bmp.DecodeConfig,
	CodecWebP: webp.DecodeConfig,
	CodecTIFF: tiff.DecodeConfig,
}

// DecodeRaster decodes data with the decoder for codec. Bytes that are not
// valid for the declared codec fail with KindDecodingFailure; the content is
// never sniffed for a better match. The decoded image keeps its own size.
func DecodeRaster(data []byte, codec Codec) (img image.Image, err error) {
	decode, ok := rasterDecoders[codec]
	if !ok {
		return nil, newError(KindDecodingFailure, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec))
	}

	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = newError(KindDecodingFailure, fmt.Errorf("%s decoder panic: %v", codec, r))
		}
	}()

	img, err = decode(bytes.NewReader(data))
	if err != nil {
		return nil, newError(KindDecodingFailure, fmt.Errorf("decode %s: %w", codec, err))
	}
	return img, nil
}

// DecodeRasterConfig reads only the header of data to report its dimensions.
func DecodeRasterConfig(data []byte, codec Codec) (cfg image.Config, err error) {
	decode, ok := rasterConfigDecoders[codec]
	if !ok {
		return image.Config{}, newError(KindDecodingFailure, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec))
	}

	defer func() {
		if r := recover(); r != nil {
			cfg = image.Config{}
			err = newError(KindDecodingFailure, fmt.Errorf("%s header panic: %v", codec, r))
		}
	}()

	cfg, err = decode(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, newError(KindDecodingFailure, fmt.Errorf("decode %s header: %w", codec, err))
	}
	return cfg, nil
}

// EncodeJPEG serializes img as baseline JPEG. Quality outside 1..100 falls
// back to DefaultJPEGQuality. Alpha is dropped; transparent canvas pixels come
// out as their premultiplied colour.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, newError(KindEncodingFailure, errors.New("image has no pixels"))
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, newError(KindEncodingFailure, fmt.Errorf("encode jpeg: %w", err))
	}
	return buf.Bytes(), nil
}
