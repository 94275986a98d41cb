package api

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dunamismax/layerflow/internal/compose"
	"github.com/dunamismax/layerflow/internal/domain"
	"github.com/dunamismax/layerflow/internal/id"
)

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUploadRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, problem{Title: titleRequest, Details: err.Error()})
			return
		}
	}
	if req.ContentType != "" && !slices.Contains(compose.SupportedMimeTypes(), req.ContentType) {
		writeProblem(w, http.StatusBadRequest, problem{
			Title:   titleMimeType,
			Details: "Unsupported content type (" + req.ContentType + ")",
		})
		return
	}

	objectKey := "uploads/" + id.New()
	url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
	if err != nil {
		if errors.Is(err, errStorageUnavailable) {
			status, p := storageProblem(objectKey, err)
			writeProblem(w, status, p)
			return
		}
		s.logger.Printf("presign upload failed request_id=%s object_key=%s err=%v", requestIDFrom(r.Context()), objectKey, err)
		writeProblem(w, http.StatusBadGateway, problem{Title: titleStorage, Details: "Failed to generate upload URL"})
		return
	}

	writeJSON(w, http.StatusCreated, domain.Upload{
		ObjectKey:       objectKey,
		PresignedPutURL: url,
		ExpiresAt:       time.Now().UTC().Add(s.presignTTL),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeProblem(w, http.StatusServiceUnavailable, problem{Title: titleInternal, Details: "Usage accounting is disabled"})
		return
	}

	query := r.URL.Query()
	subject := strings.TrimSpace(query.Get("subject"))

	var since time.Time
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil || window <= 0 {
			writeProblem(w, http.StatusBadRequest, problem{Title: titleRequest, Details: "since must be a positive duration such as 24h"})
			return
		}
		since = time.Now().UTC().Add(-window)
	}

	totals, err := s.usage.Totals(r.Context(), subject, since)
	if err != nil {
		s.logger.Printf("usage totals failed request_id=%s subject=%s err=%v", requestIDFrom(r.Context()), subject, err)
		writeProblem(w, http.StatusInternalServerError, problem{Title: titleInternal, Details: "Failed to load usage"})
		return
	}
	writeJSON(w, http.StatusOK, totals)
}
