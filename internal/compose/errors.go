package compose

import (
	"errors"
	"fmt"
)

// Kind is a stable category for a compose failure. The HTTP layer branches on
// Kind, never on the message.
type Kind string

const (
	KindMissingMimeType  Kind = "MissingMimeType"
	KindInvalidMimeType  Kind = "InvalidMimeType"
	KindDecodingFailure  Kind = "DecodingFailure"
	KindEncodingFailure  Kind = "EncodingFailure"
	KindSvgParserFailure Kind = "SvgParserFailure"
	KindInvalidSize      Kind = "InvalidSize"
	KindRenderFailure    Kind = "RenderFailure"
	KindLimitExceeded    Kind = "LimitExceeded"
)

// Error is the structured failure returned by every stage of the pipeline.
//
// Part names the payload that failed ("image", "layers[2]") and is empty for
// failures that are not tied to one payload, such as the final encode.
// MimeType carries the offending declared value for KindInvalidMimeType.
type Error struct {
	Kind     Kind
	Part     string
	MimeType string
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := string(e.Kind)
	if e.Kind == KindInvalidMimeType {
		msg = fmt.Sprintf("%s %q", msg, e.MimeType)
	}
	if e.Part != "" {
		msg = e.Part + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// withPart tags err with the payload it belongs to. Errors that already carry a
// part, and errors that are not *Error, are returned unchanged.
func withPart(err error, part string) error {
	var e *Error
	if !errors.As(err, &e) || e.Part != "" {
		return err
	}
	tagged := *e
	tagged.Part = part
	return &tagged
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the Kind of a structured error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
