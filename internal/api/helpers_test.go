package api

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/layerflow/internal/compose"
	"github.com/dunamismax/layerflow/internal/ratelimit"
	"github.com/dunamismax/layerflow/internal/storage"
	"github.com/dunamismax/layerflow/internal/store"
)

type formPart struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, parts ...formPart) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="part%d"`, p.name, i))
		if p.contentType != "" {
			header.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := w.Write(p.data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestComposer(t *testing.T, limits compose.Limits) *compose.Composer {
	t.Helper()

	c, err := compose.NewComposer(compose.Config{
		Limits: limits,
		Fonts:  compose.NewFontStore([]string{t.TempDir()}),
	})
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	return c
}

type testServer struct {
	*Server
	usage *store.MemoryUsageStore
}

func newTestServer(t *testing.T, mutate func(*Options)) testServer {
	t.Helper()

	usage := store.NewMemoryUsageStore(100)
	opts := Options{
		Logger:   log.New(io.Discard, "", 0),
		Composer: newTestComposer(t, compose.Limits{}),
		Usage:    usage,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return testServer{Server: NewServer(opts), usage: usage}
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]storage.Object
	fetched []string
	putErr  error
}

func (f *fakeStorage) Fetch(_ context.Context, objectKey string, maxBytes int64) (storage.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, objectKey)

	obj, ok := f.objects[objectKey]
	if !ok {
		return storage.Object{}, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, objectKey)
	}
	if maxBytes > 0 && int64(len(obj.Data)) > maxBytes {
		return storage.Object{}, storage.ErrObjectTooLarge
	}
	return obj, nil
}

func (f *fakeStorage) PresignedPutURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	return "https://storage.test/inputs/" + objectKey + "?sig=abc", nil
}

type fakeLimiter struct {
	mu       sync.Mutex
	subjects []string
	costs    []int64
	decision ratelimit.Decision
	err      error
	// maxCost, when set, rejects any single charge above it.
	maxCost int64
}

func (f *fakeLimiter) Allow(_ context.Context, subject string, cost int64) (ratelimit.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.costs = append(f.costs, cost)
	if f.maxCost > 0 {
		return ratelimit.Decision{
			Allowed:    cost <= f.maxCost,
			Limit:      f.maxCost,
			Cost:       cost,
			RetryAfter: time.Second,
		}, f.err
	}
	return f.decision, f.err
}

type fakeComposer struct {
	err error
}

func (f fakeComposer) Compose(context.Context, compose.Request) (compose.Result, error) {
	return compose.Result{}, f.err
}
