package compose

import "image"

// backend does the codec work of the pipeline. The pure Go implementation is
// always available; building with the govips tag swaps in libvips decoding.
type backend interface {
	Name() string
	Decode(data []byte, codec Codec) (image.Image, error)
	DecodeConfig(data []byte, codec Codec) (image.Config, error)
	EncodeJPEG(img image.Image, quality int) ([]byte, error)
}

type stdlibBackend struct{}

func (stdlibBackend) Name() string { return "stdlib" }

func (stdlibBackend) Decode(data []byte, codec Codec) (image.Image, error) {
	return DecodeRaster(data, codec)
}

func (stdlibBackend) DecodeConfig(data []byte, codec Codec) (image.Config, error) {
	return DecodeRasterConfig(data, codec)
}

func (stdlibBackend) EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	return EncodeJPEG(img, quality)
}
