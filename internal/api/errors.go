package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dunamismax/layerflow/internal/compose"
	"github.com/dunamismax/layerflow/internal/storage"
)

const (
	titleDecoding  = "Decoding-Error"
	titleMimeType  = "MimeType-Error"
	titleEncoding  = "Encoding-Error"
	titleSvg       = "Svg-Error"
	titleTransform = "Transform-Error"
	titleLimit     = "Limit-Error"
	titleRequest   = "Request-Error"
	titleStorage   = "Storage-Error"
	titleSource    = "Source-Error"
	titleInternal  = "Internal-Error"
	titleRateLimit = "RateLimit-Error"
)

// problem is the error body every route returns.
type problem struct {
	Title   string `json:"title"`
	Details string `json:"details"`
	Part    string `json:"part,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, p problem) {
	writeJSON(w, status, p)
}

// composeProblem maps a pipeline failure to a status and body.
func composeProblem(err error) (int, problem) {
	var ce *compose.Error
	if !errors.As(err, &ce) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return http.StatusServiceUnavailable, problem{Title: titleRequest, Details: "The request was cancelled before it completed"}
		}
		return http.StatusInternalServerError, problem{Title: titleInternal, Details: "Unexpected failure while composing"}
	}

	subject := "one of the overlays"
	if ce.Part == "image" {
		subject = "the base image"
	} else if ce.Part != "" {
		subject = ce.Part
	}

	p := problem{Part: ce.Part}
	status := http.StatusInternalServerError
	switch ce.Kind {
	case compose.KindDecodingFailure:
		p.Title, p.Details = titleDecoding, "Failed to decode "+subject
	case compose.KindMissingMimeType:
		status = http.StatusBadRequest
		p.Title, p.Details = titleMimeType, "Missing mime type for "+subject
	case compose.KindInvalidMimeType:
		status = http.StatusBadRequest
		p.Title, p.Details = titleMimeType, fmt.Sprintf("Invalid mime type (%s) for %s", ce.MimeType, subject)
	case compose.KindEncodingFailure:
		p.Title, p.Details = titleEncoding, "Failed to encode the image"
	case compose.KindSvgParserFailure, compose.KindRenderFailure:
		p.Title, p.Details = titleSvg, "Failed to parse "+svgSubject(ce.Part)
	case compose.KindInvalidSize:
		status = http.StatusBadRequest
		p.Title, p.Details = titleTransform, "The image or overlay has an invalid size"
	case compose.KindLimitExceeded:
		status = http.StatusRequestEntityTooLarge
		p.Title, p.Details = titleLimit, ce.Error()
	default:
		p.Title, p.Details = titleInternal, "Unexpected failure while composing"
	}
	return status, p
}

func svgSubject(part string) string {
	if part == "" {
		return "one of the svg-overlays"
	}
	return "the svg-overlay " + part
}

// storageProblem maps a failure to fetch a manifest input.
func storageProblem(part string, err error) (int, problem) {
	switch {
	case errors.Is(err, errStorageUnavailable):
		return http.StatusServiceUnavailable, problem{Title: titleStorage, Details: "Object storage is not configured"}
	case errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound, problem{Title: titleSource, Details: "Object not found for " + part, Part: part}
	case errors.Is(err, storage.ErrObjectTooLarge):
		return http.StatusRequestEntityTooLarge, problem{Title: titleLimit, Details: "Object too large for " + part, Part: part}
	default:
		return http.StatusBadGateway, problem{Title: titleStorage, Details: "Failed to read " + part + " from object storage", Part: part}
	}
}
