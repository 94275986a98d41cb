package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/layerflow/internal/compose"
	"github.com/dunamismax/layerflow/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	usageWriteTimeout = 2 * time.Second
	manifestFetchers  = 4
)

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	if s.maxInputBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxInputBytes+multipartOverhead)
	}

	req, err := readComposeForm(r)
	if err != nil {
		if isBodyTooLarge(err) {
			writeProblem(w, http.StatusRequestEntityTooLarge, problem{
				Title:   titleLimit,
				Details: "Request body exceeds " + strconv.FormatInt(s.maxInputBytes, 10) + " bytes",
			})
			return
		}
		writeProblem(w, http.StatusBadRequest, problem{Title: titleRequest, Details: err.Error()})
		return
	}

	s.compose(w, r, req)
}

func (s *Server) handleComposeManifest(w http.ResponseWriter, r *http.Request) {
	var manifest domain.ComposeManifest
	if err := decodeJSON(r, &manifest); err != nil {
		writeProblem(w, http.StatusBadRequest, problem{Title: titleRequest, Details: err.Error()})
		return
	}
	if err := manifest.Validate(); err != nil {
		writeProblem(w, http.StatusBadRequest, problem{Title: titleRequest, Details: err.Error()})
		return
	}

	req, part, err := s.fetchManifest(r.Context(), manifest)
	if err != nil {
		status, p := storageProblem(part, err)
		if status >= http.StatusInternalServerError {
			s.logger.Printf("manifest fetch failed request_id=%s part=%s err=%v", requestIDFrom(r.Context()), part, err)
		}
		writeProblem(w, status, p)
		return
	}

	s.compose(w, r, req)
}

// fetchManifest downloads every referenced object. Fetches do not cancel each
// other, so the reported failure is always the lowest-indexed one.
func (s *Server) fetchManifest(ctx context.Context, manifest domain.ComposeManifest) (compose.Request, string, error) {
	refs := append([]domain.ObjectRef{manifest.Image}, manifest.Layers...)
	payloads := make([]compose.Payload, len(refs))
	errs := make([]error, len(refs))

	var g errgroup.Group
	g.SetLimit(manifestFetchers)
	for i, ref := range refs {
		g.Go(func() error {
			obj, err := s.storage.Fetch(ctx, ref.ObjectKey, s.maxInputBytes)
			if err != nil {
				errs[i] = err
				return nil
			}
			mimeType := ref.MimeType
			if mimeType == "" {
				mimeType = obj.ContentType
			}
			payloads[i] = compose.Payload{Data: obj.Data, MimeType: mimeType}
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			return compose.Request{}, manifestPart(i), err
		}
	}
	return compose.Request{Base: payloads[0], Layers: payloads[1:]}, "", nil
}

func manifestPart(i int) string {
	if i == 0 {
		return fieldImage
	}
	return "layers[" + strconv.Itoa(i-1) + "]"
}

func (s *Server) compose(w http.ResponseWriter, r *http.Request, req compose.Request) {
	if !s.chargeCompose(w, r, req) {
		return
	}

	ctx := r.Context()
	requestID := requestIDFrom(ctx)

	startedAt := time.Now()
	res, err := s.composer.Compose(ctx, req)
	if err != nil {
		s.metrics.observeComposeFailure(err, time.Since(startedAt))
		status, p := composeProblem(err)
		s.logger.Printf("compose failed request_id=%s status=%d kind=%s layers=%d err=%v", requestID, status, compose.KindOf(err), len(req.Layers), err)
		writeProblem(w, status, p)
		return
	}
	s.metrics.observeCompose(res)

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.JPEG)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.JPEG); err != nil {
		s.logger.Printf("write response failed request_id=%s err=%v", requestID, err)
	}

	s.logger.Printf(
		"compose ok request_id=%s size=%dx%d layers=%d vector_layers=%d in_bytes=%d out_bytes=%d duration=%s",
		requestID, res.Width, res.Height, res.Layers, res.VectorLayers, res.InputBytes, len(res.JPEG), res.Duration,
	)
	s.recordUsage(ctx, requestID, s.subject(r), res)
}

// recordUsage never fails the request; the response is already written.
func (s *Server) recordUsage(ctx context.Context, requestID, subject string, res compose.Result) {
	if s.usage == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageWriteTimeout)
	defer cancel()

	entry := domain.UsageLog{
		RequestID:       requestID,
		Subject:         subject,
		Layers:          res.Layers,
		VectorLayers:    res.VectorLayers,
		PixelsProcessed: res.Pixels(),
		InputBytes:      res.InputBytes,
		OutputBytes:     int64(len(res.JPEG)),
		ComputeTimeMS:   res.Duration.Milliseconds(),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usage.Record(ctx, entry); err != nil {
		s.logger.Printf("usage record failed request_id=%s err=%v", requestID, err)
	}
}
