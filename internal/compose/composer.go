package compose

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const basePart = "image"

// Payload is one uploaded image. An empty MimeType means the caller declared
// none.
type Payload struct {
	Data     []byte
	MimeType string
}

// Request is a base image plus overlay layers in z-order, bottom first.
type Request struct {
	Base   Payload
	Layers []Payload
}

// InputBytes is the combined size of every payload in the request.
func (r Request) InputBytes() int64 {
	total := int64(len(r.Base.Data))
	for _, layer := range r.Layers {
		total += int64(len(layer.Data))
	}
	return total
}

// Result is the encoded composite plus accounting figures.
type Result struct {
	JPEG         []byte
	Width        int
	Height       int
	Layers       int
	VectorLayers int
	InputBytes   int64
	Duration     time.Duration
}

// Pixels is the canvas area times the number of images folded into it.
func (r Result) Pixels() int64 {
	return int64(r.Width) * int64(r.Height) * int64(r.Layers+1)
}

type Config struct {
	JPEGQuality       int
	VectorMode        VectorMode
	DecodeConcurrency int
	Limits            Limits
	Fonts             *FontStore
}

// Composer runs the compositing pipeline. It holds no per-request state and
// is safe for concurrent use.
type Composer struct {
	backend     backend
	rasterizer  *Rasterizer
	quality     int
	concurrency int
	limits      Limits
	tracer      trace.Tracer
}

func NewComposer(cfg Config) (*Composer, error) {
	b, err := newBackend()
	if err != nil {
		return nil, fmt.Errorf("build codec backend: %w", err)
	}

	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	concurrency := cfg.DecodeConcurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	return &Composer{
		backend:     b,
		rasterizer:  NewRasterizer(cfg.Fonts, cfg.VectorMode),
		quality:     quality,
		concurrency: concurrency,
		limits:      cfg.Limits,
		tracer:      otel.Tracer("layerflow/compose"),
	}, nil
}

// Backend names the codec implementation in use.
func (c *Composer) Backend() string {
	return c.backend.Name()
}

// Compose decodes the base, folds every layer onto it in request order and
// encodes the result as JPEG. Layers are prepared concurrently but the first
// failing layer in request order decides the error, and nothing after it is
// composited. No partial image is ever returned.
func (c *Composer) Compose(ctx context.Context, req Request) (Result, error) {
	startedAt := time.Now()
	ctx, span := c.tracer.Start(ctx, "compose")
	span.SetAttributes(
		attribute.Int("compose.layers", len(req.Layers)),
		attribute.String("compose.backend", c.backend.Name()),
	)
	defer span.End()

	res, err := c.compose(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return Result{}, err
	}
	res.Duration = time.Since(startedAt)
	span.SetAttributes(
		attribute.Int("compose.width", res.Width),
		attribute.Int("compose.height", res.Height),
		attribute.Int("compose.output_bytes", len(res.JPEG)),
	)
	span.SetStatus(codes.Ok, "composed")
	return res, nil
}

func (c *Composer) compose(ctx context.Context, req Request) (Result, error) {
	if err := c.limits.checkRequest(req); err != nil {
		return Result{}, err
	}

	base, err := c.decodeBase(ctx, req.Base)
	if err != nil {
		return Result{}, withPart(err, basePart)
	}
	canvas := NewCanvas(base)

	vectors, err := c.foldLayers(ctx, canvas, req.Layers)
	if err != nil {
		return Result{}, err
	}

	_, span := c.tracer.Start(ctx, "compose.encode")
	data, err := c.backend.EncodeJPEG(canvas.Image(), c.quality)
	span.End()
	if err != nil {
		return Result{}, err
	}

	return Result{
		JPEG:         data,
		Width:        canvas.Width(),
		Height:       canvas.Height(),
		Layers:       len(req.Layers),
		VectorLayers: vectors,
		InputBytes:   req.InputBytes(),
	}, nil
}

func (c *Composer) decodeBase(ctx context.Context, p Payload) (image.Image, error) {
	_, span := c.tracer.Start(ctx, "compose.decode_base")
	defer span.End()

	codec, err := resolveRaster(p.MimeType)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("compose.codec", string(codec)))
	return c.decodeRaster(p.Data, codec)
}

func (c *Composer) decodeRaster(data []byte, codec Codec) (image.Image, error) {
	if c.limits.MaxPixels > 0 {
		cfg, err := c.backend.DecodeConfig(data, codec)
		if err != nil {
			return nil, err
		}
		if err := c.limits.checkPixels(cfg.Width, cfg.Height); err != nil {
			return nil, err
		}
	}
	return c.backend.Decode(data, codec)
}

type preparedLayer struct {
	img    image.Image
	vector bool
	err    error
}

// foldLayers prepares layers on a sliding window of at most c.concurrency
// goroutines and accumulates each one onto canvas as soon as every layer
// below it is in. At most one window of normalized layers is alive at a
// time. The first failing layer in request order decides the error and
// nothing above it is composited.
func (c *Composer) foldLayers(ctx context.Context, canvas *Canvas, payloads []Payload) (int, error) {
	if len(payloads) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	defer func() { _ = g.Wait() }()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	width, height := canvas.Width(), canvas.Height()
	results := make([]chan preparedLayer, len(payloads))
	for i := range results {
		results[i] = make(chan preparedLayer, 1)
	}
	launch := func(i int) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] <- preparedLayer{err: err}
				return nil
			}
			img, isVector, err := c.prepareLayer(ctx, i, payloads[i], width, height)
			results[i] <- preparedLayer{img: img, vector: isVector, err: err}
			return nil
		})
	}

	vectors, next := 0, 0
	for i := range payloads {
		for next < len(payloads) && next < i+c.concurrency {
			launch(next)
			next++
		}

		layer := <-results[i]
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if layer.err != nil {
			return 0, withPart(layer.err, layerPart(i))
		}
		if err := canvas.Accumulate(layer.img); err != nil {
			return 0, withPart(err, layerPart(i))
		}
		if layer.vector {
			vectors++
		}
	}
	return vectors, nil
}

func (c *Composer) prepareLayer(ctx context.Context, index int, p Payload, width, height int) (image.Image, bool, error) {
	_, span := c.tracer.Start(ctx, "compose.layer")
	span.SetAttributes(attribute.Int("compose.layer_index", index))
	defer span.End()

	strategy, err := Resolve(p.MimeType)
	if err != nil {
		return nil, false, err
	}

	var (
		img      image.Image
		isVector bool
	)
	switch s := strategy.(type) {
	case Vector:
		span.SetAttributes(attribute.String("compose.strategy", "vector"))
		isVector = true
		img, err = c.rasterizer.Rasterize(p.Data, width, height)
	case Raster:
		span.SetAttributes(attribute.String("compose.strategy", "raster"), attribute.String("compose.codec", string(s.Codec)))
		img, err = c.decodeRaster(p.Data, s.Codec)
	default:
		err = newError(KindInvalidMimeType, fmt.Errorf("unhandled strategy %T", strategy))
	}
	if err != nil {
		span.RecordError(err)
		return nil, isVector, err
	}
	return Normalize(img, width, height), isVector, nil
}

func layerPart(i int) string {
	return fmt.Sprintf("layers[%d]", i)
}
