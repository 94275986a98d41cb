package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := withPart(&Error{Kind: KindInvalidMimeType, MimeType: "text/plain"}, "layers[2]")
	got := err.Error()
	if !strings.HasPrefix(got, "layers[2]: ") || !strings.Contains(got, `"text/plain"`) {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestWithPartKeepsFirstPart(t *testing.T) {
	err := withPart(withPart(newError(KindDecodingFailure, nil), "layers[0]"), "image")
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Part != "layers[0]" {
		t.Fatalf("expected first part to stick, got %q", e.Part)
	}
}

func TestWithPartLeavesForeignErrors(t *testing.T) {
	err := withPart(context.Canceled, "layers[0]")
	if err != context.Canceled {
		t.Fatalf("expected context error unchanged, got %v", err)
	}
	if KindOf(err) != "" {
		t.Fatalf("expected no kind, got %q", KindOf(err))
	}
}

func TestKindOfWrapped(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("handler: %w", newError(KindRenderFailure, cause))
	if !IsKind(err, KindRenderFailure) {
		t.Fatalf("expected wrapped kind to be found, got %q", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to stay in the chain")
	}
}
