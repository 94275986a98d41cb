package domain

import "time"

// UsageLog accounts for one successful compose. Image bytes are never kept.
type UsageLog struct {
	RequestID       string
	Subject         string
	Layers          int
	VectorLayers    int
	PixelsProcessed int64
	InputBytes      int64
	OutputBytes     int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
