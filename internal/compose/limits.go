package compose

import "fmt"

// Limits bound the work a single request may cause. A zero field disables
// that bound.
type Limits struct {
	MaxLayers     int
	MaxPixels     int64
	MaxInputBytes int64
}

func (l Limits) checkRequest(req Request) error {
	if l.MaxLayers > 0 && len(req.Layers) > l.MaxLayers {
		return newError(KindLimitExceeded, fmt.Errorf("%d layers, limit is %d", len(req.Layers), l.MaxLayers))
	}
	if l.MaxInputBytes > 0 {
		if total := req.InputBytes(); total > l.MaxInputBytes {
			return newError(KindLimitExceeded, fmt.Errorf("%d input bytes, limit is %d", total, l.MaxInputBytes))
		}
	}
	return nil
}

func (l Limits) checkPixels(width, height int) error {
	if l.MaxPixels <= 0 {
		return nil
	}
	if pixels := int64(width) * int64(height); pixels > l.MaxPixels {
		return newError(KindLimitExceeded, fmt.Errorf("%dx%d is %d pixels, limit is %d", width, height, pixels, l.MaxPixels))
	}
	return nil
}
