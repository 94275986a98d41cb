package store

import (
	"context"
	"time"

	"github.com/dunamismax/layerflow/internal/domain"
)

// UsageStore records accounting for successful composes.
type UsageStore interface {
	Record(ctx context.Context, entry domain.UsageLog) error
	Totals(ctx context.Context, subject string, since time.Time) (UsageTotals, error)
	Close() error
}

// UsageTotals aggregates a subject's usage. An empty subject covers everyone.
type UsageTotals struct {
	Subject         string `json:"subject,omitempty"`
	Requests        int64  `json:"requests"`
	Layers          int64  `json:"layers"`
	PixelsProcessed int64  `json:"pixels_processed"`
	InputBytes      int64  `json:"input_bytes"`
	OutputBytes     int64  `json:"output_bytes"`
	ComputeTimeMS   int64  `json:"compute_time_ms"`
}

func (t *UsageTotals) add(entry domain.UsageLog) {
	t.Requests++
	t.Layers += int64(entry.Layers)
	t.PixelsProcessed += entry.PixelsProcessed
	t.InputBytes += entry.InputBytes
	t.OutputBytes += entry.OutputBytes
	t.ComputeTimeMS += entry.ComputeTimeMS
}
