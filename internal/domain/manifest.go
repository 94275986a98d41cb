package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ObjectRef points at an input already uploaded to object storage. An empty
// MimeType falls back to the content type the object was stored with.
type ObjectRef struct {
	ObjectKey string `json:"object_key"`
	MimeType  string `json:"mime_type,omitempty"`
}

// ComposeManifest is the JSON form of a compose request whose payloads live in
// object storage.
type ComposeManifest struct {
	Image  ObjectRef   `json:"image"`
	Layers []ObjectRef `json:"layers"`
}

func (m ComposeManifest) Validate() error {
	if err := m.Image.validate(); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	for i, layer := range m.Layers {
		if err := layer.validate(); err != nil {
			return fmt.Errorf("layers[%d]: %w", i, err)
		}
	}
	return nil
}

func (r ObjectRef) validate() error {
	key := strings.TrimSpace(r.ObjectKey)
	if key == "" {
		return errors.New("object_key is required")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("object_key must be relative: %s", r.ObjectKey)
	}
	return nil
}

// CreateUploadRequest asks for a presigned URL to stage one input.
type CreateUploadRequest struct {
	ContentType string `json:"content_type,omitempty"`
}

type Upload struct {
	ObjectKey       string    `json:"object_key"`
	PresignedPutURL string    `json:"presigned_put_url"`
	ExpiresAt       time.Time `json:"expires_at"`
}
