// Package relayerr defines the error kinds the relay reports to its callers.
package relayerr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	UnexpectedError Kind = iota
	MissingInput
	InvalidFormat
	UnsupportedMediaType
	PayloadTooLarge
	UploadFailed
	ModelCallFailed
)

var kindNames = map[Kind]string{
	UnexpectedError:      "unexpected_error",
	MissingInput:         "missing_input",
	InvalidFormat:        "invalid_format",
	UnsupportedMediaType: "unsupported_media_type",
	PayloadTooLarge:      "payload_too_large",
	UploadFailed:         "upload_failed",
	ModelCallFailed:      "model_call_failed",
}

// String returns the snake_case code used in error responses.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[UnexpectedError]
}

// IsClientError reports whether the kind is caused by bad caller input.
func (k Kind) IsClientError() bool {
	switch k {
	case MissingInput, InvalidFormat, UnsupportedMediaType, PayloadTooLarge:
		return true
	}
	return false
}

// HTTPStatus maps the kind to a response status.
func (k Kind) HTTPStatus() int {
	if k.IsClientError() {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Error is a classified failure. Message is safe to show to clients; Err is
// the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates a classified error without an underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or
// UnexpectedError when there is none.
func KindOf(err error) Kind {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Kind
	}
	return UnexpectedError
}

// PublicMessage returns the message that may be sent to the client. Server-side
// failures never leak their cause.
func PublicMessage(err error) string {
	var relayErr *Error
	if errors.As(err, &relayErr) && relayErr.Kind.IsClientError() {
		return relayErr.Message
	}
	switch KindOf(err) {
	case UploadFailed:
		return "failed to upload image"
	case ModelCallFailed:
		return "prediction failed"
	}
	return "internal server error"
}
