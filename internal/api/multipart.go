package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dunamismax/layerflow/internal/compose"
)

const (
	fieldImage  = "image"
	fieldLayers = "layers"

	// multipartOverhead is allowed on top of the payload limit for boundaries
	// and part headers.
	multipartOverhead = 1 << 20
)

var (
	errMissingImage   = errors.New("multipart form has no image part")
	errDuplicateImage = errors.New("multipart form has more than one image part")
)

// readComposeForm streams a multipart body into a compose request. Each part
// keeps the Content-Type it was sent with; an absent header is an absent mime
// type. Parts with other names are skipped.
func readComposeForm(r *http.Request) (compose.Request, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return compose.Request{}, fmt.Errorf("read multipart body: %w", err)
	}

	var (
		req      compose.Request
		hasImage bool
	)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return compose.Request{}, fmt.Errorf("next multipart part: %w", err)
		}

		name := part.FormName()
		if name != fieldImage && name != fieldLayers {
			_ = part.Close()
			continue
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return compose.Request{}, fmt.Errorf("read part %s: %w", name, err)
		}
		payload := compose.Payload{Data: data, MimeType: part.Header.Get("Content-Type")}

		if name == fieldImage {
			if hasImage {
				return compose.Request{}, errDuplicateImage
			}
			req.Base = payload
			hasImage = true
			continue
		}
		req.Layers = append(req.Layers, payload)
	}

	if !hasImage {
		return compose.Request{}, errMissingImage
	}
	return req, nil
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
